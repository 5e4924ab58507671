package builder

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"slices"
	"strings"

	"linksync/internal/linksync"
)

// FieldWysiwyg is the overlay field type passed through as rich HTML.
const FieldWysiwyg = "wysiwyg"

// filterFields keeps fields whose type is in types, preserving order.
func filterFields(fields []linksync.OverlayField, types []string) []linksync.OverlayField {
	if len(types) == 0 {
		types = []string{FieldWysiwyg}
	}
	var out []linksync.OverlayField
	for _, f := range fields {
		if slices.Contains(types, f.Type) {
			out = append(out, f)
		}
	}
	return out
}

// overlayHTML renders the classic overlay wrapper. The body div is omitted
// when body is empty and the items div when there are no fields.
func overlayHTML(body string, fields []linksync.OverlayField) (string, error) {
	var b strings.Builder
	b.WriteString(`<div class="acf-classic-builder-content">`)

	if body != "" {
		b.WriteString(`<div class="classic-post-content">`)
		b.WriteString(body)
		b.WriteString(`</div>`)
	}

	if len(fields) > 0 {
		b.WriteString(`<div class="acf-builder-items">`)
		for _, f := range fields {
			fmt.Fprintf(&b, `<div class="acf-builder-item" data-type="%s" data-custom-field-name="%s">`,
				html.EscapeString(f.Type), html.EscapeString(f.Name))

			if f.Type == FieldWysiwyg {
				content, err := stripScripts(f.Content)
				if err != nil {
					return "", fmt.Errorf("sanitizing field %s: %w", f.Name, err)
				}
				b.WriteString(content)
			} else {
				b.WriteString(`<p class="custom-field-content">`)
				b.WriteString(html.EscapeString(f.Content))
				b.WriteString(`</p>`)
			}

			b.WriteString(`</div>`)
		}
		b.WriteString(`</div>`)
	}

	b.WriteString(`</div>`)
	return b.String(), nil
}

// elementorNode is a synthetic text-editor widget carrying one overlay field.
// Field order is fixed so the encoding is deterministic.
type elementorNode struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	ElType          string            `json:"elType"`
	Elements        []json.RawMessage `json:"elements"`
	Settings        elementorSettings `json:"settings"`
	WidgetType      string            `json:"widgetType"`
	CustomFieldName string            `json:"custom_field_name"`
}

type elementorSettings struct {
	Editor string `json:"editor"`
}

// nodeID derives a stable widget id from the field name.
func nodeID(name string) string {
	sum := md5.Sum([]byte(name))
	return "acf" + hex.EncodeToString(sum[:])[:5]
}

// mergeElementorTree prepends one widget per field to the Elementor element
// tree and returns the merged tree as JSON.
func mergeElementorTree(tree string, fields []linksync.OverlayField) (json.RawMessage, error) {
	var existing []json.RawMessage
	if strings.TrimSpace(tree) != "" {
		if err := json.Unmarshal([]byte(tree), &existing); err != nil {
			return nil, fmt.Errorf("decoding elementor data: %w", err)
		}
	}

	merged := make([]any, 0, len(fields)+len(existing))
	for _, f := range fields {
		merged = append(merged, elementorNode{
			ID:              nodeID(f.Name),
			Type:            f.Type,
			ElType:          "widget",
			Elements:        []json.RawMessage{},
			Settings:        elementorSettings{Editor: f.Content},
			WidgetType:      "text-editor",
			CustomFieldName: f.Name,
		})
	}
	for _, e := range existing {
		merged = append(merged, e)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(merged); err != nil {
		return nil, fmt.Errorf("encoding elementor data: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
