package builder

import (
	"context"
	"encoding/json"
	"strings"

	"linksync/internal/linksync"
)

// ClassicDetector matches items the classic editor remembers as its own.
type ClassicDetector struct{}

func (ClassicDetector) Name() string { return "classic" }

func (ClassicDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	v, err := probe(ctx, probes, item.ID, "classic-editor-remember")
	if err != nil || v != "classic-editor" {
		return Detection{}, false, err
	}
	return Detection{Kind: linksync.BuilderClassic, Body: item.Body}, true, nil
}

// ElementorDetector requires an edit mode flag and a non-empty element tree.
type ElementorDetector struct{}

func (ElementorDetector) Name() string { return "elementor" }

func (ElementorDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	_, ok, err := probes.GetBuilderProbe(ctx, item.ID, "_elementor_edit_mode")
	if err != nil || !ok {
		return Detection{}, false, err
	}

	data, err := probe(ctx, probes, item.ID, "_elementor_data")
	if err != nil {
		return Detection{}, false, err
	}
	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == "[]" {
		return Detection{}, false, nil
	}
	var tree []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &tree); err != nil || len(tree) == 0 {
		return Detection{}, false, nil
	}

	body, err := CleanElementorHTML(item.Body)
	if err != nil {
		return Detection{}, false, err
	}
	return Detection{Kind: linksync.BuilderElementor, Body: body, Meta: stringMeta(data)}, true, nil
}

// DiviDetector matches items with the Divi builder switched on.
type DiviDetector struct{}

func (DiviDetector) Name() string { return "divi" }

func (DiviDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	v, err := probe(ctx, probes, item.ID, "_et_pb_use_builder")
	if err != nil || v != "on" {
		return Detection{}, false, err
	}
	return Detection{Kind: linksync.BuilderDivi, Body: item.Body}, true, nil
}

// BricksDetector matches items with Bricks page content. A layout that only
// embeds the post content is block-editor content in a Bricks frame.
type BricksDetector struct{}

func (BricksDetector) Name() string { return "bricks" }

func (BricksDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	data, err := probe(ctx, probes, item.ID, "_bricks_page_content_2")
	if err != nil || data == "" {
		return Detection{}, false, err
	}
	if containsPostContent(data) {
		return Detection{Kind: linksync.BuilderBlockEditor, Body: item.Body}, true, nil
	}
	return Detection{Kind: linksync.BuilderBricks, Body: item.Body, Meta: stringMeta(data)}, true, nil
}

// containsPostContent reports whether any value of the Bricks structure is
// "post-content". The structure is either JSON or PHP-serialized.
func containsPostContent(data string) bool {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err == nil {
		return walkForPostContent(v)
	}
	return strings.Contains(data, `"post-content"`)
}

func walkForPostContent(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "post-content"
	case []any:
		for _, e := range t {
			if walkForPostContent(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if walkForPostContent(e) {
				return true
			}
		}
	}
	return false
}

// OxygenDetector matches items with Oxygen builder JSON. Legacy serialized
// data cannot be processed and excludes the item.
type OxygenDetector struct{}

func (OxygenDetector) Name() string { return "oxygen" }

func (OxygenDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	data, err := probe(ctx, probes, item.ID, "ct_builder_json")
	if err != nil {
		return Detection{}, false, err
	}
	if data == "" {
		if data, err = probe(ctx, probes, item.ID, "_ct_builder_json"); err != nil {
			return Detection{}, false, err
		}
	}
	if data == "" {
		return Detection{}, false, nil
	}
	if IsSerialized(data) {
		return Detection{Kind: linksync.BuilderOxygen, Exclude: true}, true, nil
	}
	return Detection{Kind: linksync.BuilderOxygen, Body: item.Body, Meta: stringMeta(data)}, true, nil
}

// ThriveDetector matches items edited with Thrive Architect and sends the
// content Thrive stores for the item or its landing page template.
type ThriveDetector struct{}

func (ThriveDetector) Name() string { return "thrive" }

func (ThriveDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	enabled, err := probe(ctx, probes, item.ID, "tcb_editor_enabled")
	if err != nil || enabled == "" {
		return Detection{}, false, err
	}

	key := "tve_updated_post"
	tpl, err := probe(ctx, probes, item.ID, "tve_landing_page")
	if err != nil {
		return Detection{}, false, err
	}
	if tpl != "" {
		key += "_" + tpl
	}

	content, err := probe(ctx, probes, item.ID, key)
	if err != nil {
		return Detection{}, false, err
	}
	if content == "" {
		content = item.Body
	}
	if content == "" {
		return Detection{}, false, nil
	}
	return Detection{Kind: linksync.BuilderThrive, Body: content}, true, nil
}

// BeaverDetector matches items with Beaver Builder enabled.
type BeaverDetector struct{}

func (BeaverDetector) Name() string { return "beaver" }

func (BeaverDetector) Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error) {
	v, err := probe(ctx, probes, item.ID, "_fl_builder_enabled")
	if err != nil || v != "1" {
		return Detection{}, false, err
	}
	data, err := probe(ctx, probes, item.ID, "_fl_builder_data")
	if err != nil {
		return Detection{}, false, err
	}
	d := Detection{Kind: linksync.BuilderBeaver, Body: item.Body}
	if data != "" {
		d.Meta = stringMeta(data)
	}
	return d, true, nil
}

var (
	_ BuilderDetector = ClassicDetector{}
	_ BuilderDetector = ElementorDetector{}
	_ BuilderDetector = DiviDetector{}
	_ BuilderDetector = BricksDetector{}
	_ BuilderDetector = OxygenDetector{}
	_ BuilderDetector = ThriveDetector{}
	_ BuilderDetector = BeaverDetector{}
)
