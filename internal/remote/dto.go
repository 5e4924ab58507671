package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"linksync/internal/linksync"
)

// wireTime is the timestamp layout the remote service exchanges.
const wireTime = "2006-01-02 15:04:05"

// AuthRequest is the body of the auth call.
type AuthRequest struct {
	Client string `json:"client"`
	APIKey string `json:"api_key"`
}

// AuthResponse carries the access token.
type AuthResponse struct {
	Access  string `json:"access"`
	Message string `json:"message"`
}

// WirePost is one content item as the ingest endpoint expects it.
type WirePost struct {
	PostID     int64           `json:"_postId"`
	Category   string          `json:"category"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	PostType   string          `json:"postType"`
	PostStatus string          `json:"postStatus"`
	CreatedAt  string          `json:"createdAt"`
	UpdatedAt  string          `json:"updatedAt"`
	URL        string          `json:"url"`
	Builder    string          `json:"builder"`
	Meta       json.RawMessage `json:"meta"`
}

// IngestRequest is the body of the sync call.
type IngestRequest struct {
	Posts []WirePost `json:"posts"`
	Force bool       `json:"force,omitempty"`
}

// CategoriesRequest is the body of the options call.
type CategoriesRequest struct {
	Categories []linksync.CategoryPayload `json:"categories"`
}

// errorBody is the common shape of non-2xx responses.
type errorBody struct {
	Message string `json:"message"`
	Remain  int    `json:"remain"`
	Notify  bool   `json:"notify"`
}

// UpdatesResponse is the body of the write-back feed.
type UpdatesResponse struct {
	Posts []WireUpdate `json:"posts"`
}

// WireUpdate is one remotely edited item.
type WireUpdate struct {
	PostID    flexID          `json:"_postId"`
	Content   string          `json:"content"`
	UpdatedAt string          `json:"updatedAt"`
	Builder   string          `json:"builder"`
	Meta      json.RawMessage `json:"meta"`
	PostType  string          `json:"postType"`
}

// AckRequest is the body of the write-back acknowledgement.
type AckRequest struct {
	Posts []AckItem `json:"posts"`
}

type AckItem struct {
	PostID int64 `json:"post_id"`
}

// flexID decodes an id sent either as a number or as a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid post id %s: %w", b, err)
	}
	*f = flexID(n)
	return nil
}

// toWirePost converts a normalized item to its wire form.
func toWirePost(nc linksync.NormalizedContent) (WirePost, error) {
	ids := nc.CategoryIDs
	if ids == nil {
		ids = []int64{}
	}
	category, err := json.Marshal(ids)
	if err != nil {
		return WirePost{}, fmt.Errorf("encoding categories of %d: %w", nc.ItemID, err)
	}
	return WirePost{
		PostID:     nc.ItemID,
		Category:   string(category),
		Title:      nc.Title,
		Content:    nc.RenderedContent,
		PostType:   nc.WireContentType(),
		PostStatus: nc.Status,
		CreatedAt:  formatTime(nc.CreatedAt),
		UpdatedAt:  formatTime(nc.UpdatedAt),
		URL:        nc.URL,
		Builder:    string(nc.Builder),
		Meta:       nc.Meta,
	}, nil
}

func (u WireUpdate) toRemoteUpdate() linksync.RemoteUpdate {
	var meta []byte
	if len(u.Meta) > 0 {
		meta = u.Meta
	}
	return linksync.RemoteUpdate{
		ItemID:      int64(u.PostID),
		Content:     u.Content,
		UpdatedAt:   parseTime(u.UpdatedAt),
		Builder:     linksync.BuilderKind(u.Builder),
		Meta:        meta,
		ContentType: u.PostType,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(wireTime)
}

// parseTime accepts the wire layout and RFC 3339. Anything else is zero.
func parseTime(s string) time.Time {
	for _, layout := range []string{wireTime, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
