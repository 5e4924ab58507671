package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"linksync/internal/linksync"
)

// OverlayOptions configure the field overlay feature.
type OverlayOptions struct {
	Enabled bool
	// FieldTypes are the field types woven in. Empty means wysiwyg only.
	FieldTypes []string
}

// Normalizer projects content items into the exchange format. It runs the
// detectors in order and the first positive match fixes the builder kind.
type Normalizer struct {
	source    linksync.ContentSource
	marker    linksync.IgnoreMarker
	detectors []BuilderDetector
	overlay   OverlayOptions
	logger    linksync.Logger
}

// NewNormalizer creates a Normalizer. A nil detector list uses DefaultDetectors.
func NewNormalizer(source linksync.ContentSource, marker linksync.IgnoreMarker, detectors []BuilderDetector, overlay OverlayOptions, logger linksync.Logger) *Normalizer {
	if detectors == nil {
		detectors = DefaultDetectors()
	}
	if logger == nil {
		logger = linksync.NewNopLogger()
	}
	return &Normalizer{
		source:    source,
		marker:    marker,
		detectors: detectors,
		overlay:   overlay,
		logger:    logger,
	}
}

// Normalize returns the projection of item, or nil when the item is excluded.
// Excluded items are marked ignored in the queue.
func (n *Normalizer) Normalize(ctx context.Context, item linksync.ContentItem) (*linksync.NormalizedContent, error) {
	det, matched, err := n.detect(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("detecting builder: %w", err)
	}

	if det.Exclude {
		n.logger.Warn("excluding item with legacy builder data", "item", item.ID, "builder", det.Kind)
		if err := n.marker.MarkIgnored(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("marking item %d ignored: %w", item.ID, err)
		}
		return nil, nil
	}

	nc := &linksync.NormalizedContent{
		ItemID:          item.ID,
		Title:           item.Title,
		RenderedContent: det.Body,
		Builder:         det.Kind,
		Meta:            det.Meta,
		ContentType:     item.Type,
		Status:          item.Status,
		URL:             item.URL,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}

	if n.overlay.Enabled {
		if err := n.applyOverlay(ctx, nc, matched); err != nil {
			return nil, err
		}
	}

	nc.CategoryIDs, err = n.categories(ctx, item)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

func (n *Normalizer) detect(ctx context.Context, item linksync.ContentItem) (Detection, bool, error) {
	for _, d := range n.detectors {
		det, ok, err := d.Detect(ctx, item, n.source)
		if err != nil {
			return Detection{}, false, fmt.Errorf("%s: %w", d.Name(), err)
		}
		if ok {
			return det, true, nil
		}
	}
	return Detection{Kind: linksync.BuilderBlockEditor, Body: item.Body}, false, nil
}

// applyOverlay weaves overlay fields into classic and default block-editor
// content, or merges them into the Elementor tree. Other builders keep
// their content as is.
func (n *Normalizer) applyOverlay(ctx context.Context, nc *linksync.NormalizedContent, matched bool) error {
	weave := nc.Builder == linksync.BuilderClassic || !matched
	if !weave && nc.Builder != linksync.BuilderElementor {
		return nil
	}

	all, err := n.source.OverlayFields(ctx, nc.ItemID)
	if err != nil {
		return fmt.Errorf("reading overlay fields: %w", err)
	}
	fields := filterFields(all, n.overlay.FieldTypes)
	if len(fields) == 0 {
		return nil
	}

	if weave {
		body, err := overlayHTML(nc.RenderedContent, fields)
		if err != nil {
			return err
		}
		nc.RenderedContent = body
		nc.Builder = linksync.BuilderClassic
		nc.Overlay = true
		nc.Meta = nil
		return nil
	}

	var tree string
	if err := json.Unmarshal(nc.Meta, &tree); err != nil {
		return fmt.Errorf("reading elementor data: %w", err)
	}
	meta, err := mergeElementorTree(tree, fields)
	if err != nil {
		return err
	}
	items, err := overlayHTML("", fields)
	if err != nil {
		return err
	}
	nc.RenderedContent = apostrophes.Replace(nc.RenderedContent + items)
	nc.Meta = meta
	nc.Overlay = true
	return nil
}

// categories resolves category ids by content type: product categories for
// products, standard categories for everything else. Lookup failures on
// types other than posts yield no categories.
func (n *Normalizer) categories(ctx context.Context, item linksync.ContentItem) ([]int64, error) {
	taxonomy := linksync.TaxonomyCategory
	if item.Type == linksync.TypeProduct {
		taxonomy = linksync.TaxonomyProductCategory
	}

	ids, err := n.source.CategoryIDs(ctx, item.ID, taxonomy)
	if err != nil {
		if item.Type == linksync.TypePost {
			return nil, fmt.Errorf("reading categories: %w", err)
		}
		n.logger.Debug("no categories for item", "item", item.ID, "taxonomy", taxonomy, "error", err)
		return []int64{}, nil
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

var apostrophes = strings.NewReplacer("&#039;", "'", "&#39;", "'")

var _ linksync.Normalizer = (*Normalizer)(nil)
