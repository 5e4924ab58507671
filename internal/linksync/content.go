package linksync

import (
	"context"
	"time"
)

// ProbeReader exposes named side-channel attributes of a content item, such as
// page-builder metadata.
type ProbeReader interface {
	// GetBuilderProbe returns the probe value and whether it is present.
	GetBuilderProbe(ctx context.Context, itemID int64, probe string) (string, bool, error)
}

// TaxonomyReader resolves category membership and terms.
type TaxonomyReader interface {
	// CategoryIDs returns the term IDs of itemID in taxonomy, in ascending order.
	CategoryIDs(ctx context.Context, itemID int64, taxonomy string) ([]int64, error)
	// ListTerms returns all terms of taxonomy ordered by name.
	ListTerms(ctx context.Context, taxonomy string) ([]Term, error)
}

// OverlayReader returns the overlay fields attached to a content item.
type OverlayReader interface {
	OverlayFields(ctx context.Context, itemID int64) ([]OverlayField, error)
}

// ContentSource is everything the normalizer needs from the repository.
type ContentSource interface {
	ProbeReader
	TaxonomyReader
	OverlayReader
}

// ContentRepository is the site's content store. The sync engine only reads
// and rewrites content through it.
type ContentRepository interface {
	ContentSource

	// ListCandidates returns published items of the given types, optionally
	// restricted to categories.
	ListCandidates(ctx context.Context, filter SourceFilter) ([]Candidate, error)

	// GetByID returns the item, or nil if it does not exist.
	GetByID(ctx context.Context, id int64) (*ContentItem, error)

	// GetManyByIDs returns the items that exist, in the order of ids.
	GetManyByIDs(ctx context.Context, ids []int64) ([]ContentItem, error)

	// UpdateBody replaces the item's body and modification time.
	UpdateBody(ctx context.Context, id int64, body string, modifiedAt time.Time) error

	// SetBuilderProbe writes a named side-channel attribute.
	SetBuilderProbe(ctx context.Context, id int64, probe, value string) error

	// CountByType returns the number of published items of contentType.
	CountByType(ctx context.Context, contentType string) (int, error)

	// ResolveURL maps a public URL to a content item ID, or 0 if nothing matches.
	ResolveURL(ctx context.Context, url string) (int64, error)
}
