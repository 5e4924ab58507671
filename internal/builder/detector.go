package builder

import (
	"context"
	"encoding/json"
	"fmt"

	"linksync/internal/linksync"
)

// Detection is the outcome of a positive builder match.
type Detection struct {
	Kind linksync.BuilderKind
	// Body is the rendered content to send.
	Body string
	// Meta is the builder's native structure, or nil.
	Meta json.RawMessage
	// Exclude marks the item as not syncable. The normalizer records it as
	// ignored and produces no result.
	Exclude bool
}

// BuilderDetector recognizes one authoring system from an item's probes.
type BuilderDetector interface {
	Name() string
	// Detect reports whether the item was authored with this builder.
	Detect(ctx context.Context, item linksync.ContentItem, probes linksync.ProbeReader) (Detection, bool, error)
}

// DefaultOrder is the detector priority used when none is configured.
var DefaultOrder = []string{"classic", "elementor", "divi", "bricks", "oxygen", "thrive", "beaver"}

// DefaultDetectors returns the detectors in DefaultOrder.
func DefaultDetectors() []BuilderDetector {
	d, _ := DetectorsByName(DefaultOrder)
	return d
}

// DetectorsByName builds a detector list in the given order. An empty list
// yields the default order.
func DetectorsByName(names []string) ([]BuilderDetector, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}

	seen := make(map[string]bool, len(names))
	detectors := make([]BuilderDetector, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("duplicate builder %q", name)
		}
		seen[name] = true

		var d BuilderDetector
		switch name {
		case "classic":
			d = ClassicDetector{}
		case "elementor":
			d = ElementorDetector{}
		case "divi":
			d = DiviDetector{}
		case "bricks":
			d = BricksDetector{}
		case "oxygen":
			d = OxygenDetector{}
		case "thrive":
			d = ThriveDetector{}
		case "beaver":
			d = BeaverDetector{}
		default:
			return nil, fmt.Errorf("unknown builder: %s", name)
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}

// probe reads a probe value, treating absence as the empty string.
func probe(ctx context.Context, probes linksync.ProbeReader, id int64, name string) (string, error) {
	v, _, err := probes.GetBuilderProbe(ctx, id, name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return v, nil
}

// stringMeta encodes raw builder data as a JSON string.
func stringMeta(raw string) json.RawMessage {
	b, _ := json.Marshal(raw)
	return b
}
