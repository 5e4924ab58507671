package linksync

import (
	"context"
	"time"
)

// InitRequest is the body of the sync/init call.
type InitRequest struct {
	Posts    int    `json:"posts"`
	Pages    int    `json:"pages"`
	Category int    `json:"category"`
	Status   string `json:"status"`
}

// Init status values.
const (
	InitComplete = "complete"
	InitPartial  = "partial"
)

// CategoryPayload is one entry of the categories request.
type CategoryPayload struct {
	CategoryID int64  `json:"categoryId"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
}

// MessageResponse is the common success body of the remote service.
type MessageResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

// FinishResponse is the body of sync/fin.
type FinishResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Remain     int    `json:"remain"`
	Notify     bool   `json:"notify"`
}

// RemoteUpdate is one item of the write-back feed.
type RemoteUpdate struct {
	ItemID      int64
	Content     string
	UpdatedAt   time.Time
	Builder     BuilderKind
	Meta        []byte
	ContentType string
}

// RemoteClient is the authenticated client of the remote service. Methods
// return *AuthError on 401, *RemoteRejection on other non-2xx responses and
// *TransportError when no usable response was received.
type RemoteClient interface {
	// Authenticate derives a fresh access token from the stored API key.
	Authenticate(ctx context.Context) error

	Init(ctx context.Context, req InitRequest) (*MessageResponse, error)
	Ingest(ctx context.Context, posts []NormalizedContent, force bool) (*MessageResponse, error)
	SendCategories(ctx context.Context, categories []CategoryPayload) (*MessageResponse, error)

	// Finish calls sync/fin. A non-2xx response is returned as a FinishResponse
	// together with a *RemoteRejection.
	Finish(ctx context.Context) (*FinishResponse, error)

	FetchUpdates(ctx context.Context) ([]RemoteUpdate, error)
	AcknowledgeUpdates(ctx context.Context, itemIDs []int64) error
}
