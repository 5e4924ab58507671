package linksync

import (
	"encoding/json"
	"time"
)

// ItemKind distinguishes queue rows that track a content item from rows that
// track a derived meta record.
type ItemKind string

const (
	KindContent ItemKind = "content"
	KindMeta    ItemKind = "meta"
)

// ContentStatus is the lifecycle state of the underlying content item.
type ContentStatus string

const (
	StatusPublished ContentStatus = "publish"
	StatusTrashed   ContentStatus = "trash"
)

// SentStatus is the sync progress of a queue row.
type SentStatus string

const (
	SentPending SentStatus = "pending"
	SentSynced  SentStatus = "synced"
	SentFailed  SentStatus = "failed"
	// SentIgnored is terminal until the queue is reset.
	SentIgnored SentStatus = "ignored"
)

// Well-known content types.
const (
	TypePost    = "post"
	TypePage    = "page"
	TypeProduct = "product"
)

// Taxonomies used for category selection.
const (
	TaxonomyCategory        = "category"
	TaxonomyProductCategory = "product_cat"
)

// QueueItem is one row of the batch queue.
type QueueItem struct {
	ItemID          int64
	Kind            ItemKind
	ContentType     string
	ContentStatus   ContentStatus
	ContentByteSize int64
	SentStatus      SentStatus
	SyncedAt        *time.Time
}

// DiscoveredItem is the input to the queue store's insert-if-absent upsert.
type DiscoveredItem struct {
	ItemID          int64
	Kind            ItemKind
	ContentType     string
	ContentStatus   ContentStatus
	ContentByteSize int64
}

// Batch is an ordered, non-empty list of item IDs sent in one ingest request.
type Batch []int64

// BudgetMode selects how batches are bounded.
type BudgetMode string

const (
	// BudgetCount bounds each batch by number of items.
	BudgetCount BudgetMode = "count"
	// BudgetBytes bounds each batch by cumulative content size in bytes.
	BudgetBytes BudgetMode = "bytes"
)

// Budget bounds the size of a single batch.
type Budget struct {
	Mode  BudgetMode `json:"mode"`
	Limit int64      `json:"limit"`
}

// DefaultSyncSpeed is the default number of items per batch.
const DefaultSyncSpeed = 10

// DefaultBudget returns the count-mode budget used when nothing is configured.
func DefaultBudget() Budget {
	return Budget{Mode: BudgetCount, Limit: DefaultSyncSpeed}
}

// SourceFilter restricts which content items discovery considers.
type SourceFilter struct {
	PostSources []string `json:"post_sources"`
	Categories  []int64  `json:"categories,omitempty"`
	// SyncBy is "urls" when batches come from URLList instead of the queue.
	SyncBy  string `json:"sync_by,omitempty"`
	URLList string `json:"url_list,omitempty"`
}

// SyncByURLs is the SourceFilter.SyncBy value for URL-list mode.
const SyncByURLs = "urls"

// ByURLs reports whether the filter is in URL-list mode with a non-empty list.
func (f SourceFilter) ByURLs() bool {
	return f.SyncBy == SyncByURLs && f.URLList != ""
}

// Sources returns the configured content types, defaulting to posts and pages.
func (f SourceFilter) Sources() []string {
	if len(f.PostSources) == 0 {
		return []string{TypePost, TypePage}
	}
	return f.PostSources
}

// SyncSettings are the persisted scalar settings of a site.
type SyncSettings struct {
	Budget Budget       `json:"budget"`
	Source SourceFilter `json:"source"`
}

// Candidate is a content item reported by discovery.
type Candidate struct {
	ID       int64
	Type     string
	Status   ContentStatus
	ByteSize int64
}

// ContentItem is a content item as owned by the content repository.
type ContentItem struct {
	ID        int64
	Type      string
	Status    string
	Title     string
	Body      string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OverlayField is a supplementary named field attached to a content item.
type OverlayField struct {
	Name    string
	Type    string
	Content string
}

// Term is a taxonomy term (a category or product category).
type Term struct {
	ID          int64
	Taxonomy    string
	Name        string
	Slug        string
	Description string
	URL         string
}

// BuilderKind identifies the authoring system that produced an item's body.
type BuilderKind string

const (
	BuilderClassic     BuilderKind = "classic"
	BuilderBlockEditor BuilderKind = "gutenberg"
	BuilderElementor   BuilderKind = "elementor"
	BuilderBricks      BuilderKind = "bricks"
	BuilderOxygen      BuilderKind = "oxygen"
	BuilderDivi        BuilderKind = "divi"
	BuilderThrive      BuilderKind = "thrive"
	BuilderBeaver      BuilderKind = "beaver"
)

// NormalizedContent is the canonical projection of a content item for one send.
// Overlay is set when overlay fields were woven in; it is only ever combined
// with BuilderClassic or BuilderElementor.
type NormalizedContent struct {
	ItemID          int64
	Title           string
	RenderedContent string
	Builder         BuilderKind
	Overlay         bool
	Meta            json.RawMessage
	CategoryIDs     []int64
	ContentType     string
	Status          string
	URL             string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WireContentType returns the content type reported to the remote service.
// Overlay variants are tagged so the service can tell them apart.
func (n *NormalizedContent) WireContentType() string {
	if n.Overlay {
		switch n.Builder {
		case BuilderClassic:
			return "acf-classic"
		case BuilderElementor:
			return "acf-elementor"
		}
	}
	return n.ContentType
}

// QueueCounts summarizes the queue for reports and init.
type QueueCounts struct {
	Total       int
	Pending     int
	Synced      int
	Failed      int
	Ignored     int
	ContentSize int64
}
