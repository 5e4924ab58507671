package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"linksync/internal/linksync"
)

// Export is the on-disk form of a site export.
type Export struct {
	SiteURL string                     `yaml:"site_url"`
	Items   []ExportItem               `yaml:"items"`
	Terms   map[string][]linksync.Term `yaml:"terms,omitempty"`
}

// ExportItem is one content item with its side-channel data.
type ExportItem struct {
	ID         int64                   `yaml:"id"`
	Type       string                  `yaml:"type"`
	Status     string                  `yaml:"status"`
	Title      string                  `yaml:"title"`
	Body       string                  `yaml:"body"`
	URL        string                  `yaml:"url,omitempty"`
	CreatedAt  time.Time               `yaml:"created_at"`
	UpdatedAt  time.Time               `yaml:"updated_at"`
	Probes     map[string]string       `yaml:"probes,omitempty"`
	Categories map[string][]int64      `yaml:"categories,omitempty"`
	Overlay    []linksync.OverlayField `yaml:"overlay,omitempty"`
}

// YAMLRepository serves content from an export file and writes changes back
// to it.
type YAMLRepository struct {
	path string

	mu     sync.Mutex
	export Export
	byID   map[int64]int
}

var _ linksync.ContentRepository = (*YAMLRepository)(nil)

// OpenYAML loads the export at path.
func OpenYAML(path string) (*YAMLRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	var export Export
	if err := yaml.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing export %s: %w", path, err)
	}
	return newYAMLRepository(path, export)
}

func newYAMLRepository(path string, export Export) (*YAMLRepository, error) {
	r := &YAMLRepository{path: path, export: export, byID: make(map[int64]int, len(export.Items))}
	for i, item := range export.Items {
		if _, dup := r.byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item id %d in export", item.ID)
		}
		r.byID[item.ID] = i
	}
	return r, nil
}

func (r *YAMLRepository) Close() error { return nil }

// save rewrites the export file. Callers hold mu.
func (r *YAMLRepository) save() error {
	data, err := yaml.Marshal(&r.export)
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".export-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}

func (r *YAMLRepository) item(id int64) (*ExportItem, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return &r.export.Items[i], true
}

func (r *YAMLRepository) toContentItem(it *ExportItem) linksync.ContentItem {
	url := it.URL
	if url == "" {
		url = fmt.Sprintf("%s/?p=%d", strings.TrimRight(r.export.SiteURL, "/"), it.ID)
	}
	return linksync.ContentItem{
		ID:        it.ID,
		Type:      it.Type,
		Status:    it.Status,
		Title:     it.Title,
		Body:      it.Body,
		URL:       url,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func (r *YAMLRepository) ListCandidates(_ context.Context, filter linksync.SourceFilter) ([]linksync.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := filter.Sources()
	var out []linksync.Candidate
	for i := range r.export.Items {
		it := &r.export.Items[i]
		if it.Status != string(linksync.StatusPublished) || !contains(sources, it.Type) {
			continue
		}
		if len(filter.Categories) > 0 && !inCategories(it, filter.Categories) {
			continue
		}
		out = append(out, linksync.Candidate{
			ID:       it.ID,
			Type:     it.Type,
			Status:   linksync.StatusPublished,
			ByteSize: int64(len(it.Body)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func inCategories(it *ExportItem, want []int64) bool {
	for _, taxonomy := range []string{linksync.TaxonomyCategory, linksync.TaxonomyProductCategory} {
		for _, id := range it.Categories[taxonomy] {
			for _, w := range want {
				if id == w {
					return true
				}
			}
		}
	}
	return false
}

func (r *YAMLRepository) GetByID(_ context.Context, id int64) (*linksync.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(id)
	if !ok {
		return nil, nil
	}
	ci := r.toContentItem(it)
	return &ci, nil
}

func (r *YAMLRepository) GetManyByIDs(_ context.Context, ids []int64) ([]linksync.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]linksync.ContentItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.item(id); ok {
			out = append(out, r.toContentItem(it))
		}
	}
	return out, nil
}

func (r *YAMLRepository) UpdateBody(_ context.Context, id int64, body string, modifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(id)
	if !ok {
		return fmt.Errorf("item %d not found", id)
	}
	it.Body = body
	it.UpdatedAt = modifiedAt.UTC()
	return r.save()
}

func (r *YAMLRepository) GetBuilderProbe(_ context.Context, itemID int64, probe string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(itemID)
	if !ok {
		return "", false, nil
	}
	v, ok := it.Probes[probe]
	return v, ok, nil
}

func (r *YAMLRepository) SetBuilderProbe(_ context.Context, id int64, probe, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(id)
	if !ok {
		return fmt.Errorf("item %d not found", id)
	}
	if it.Probes == nil {
		it.Probes = make(map[string]string)
	}
	it.Probes[probe] = value
	return r.save()
}

func (r *YAMLRepository) CategoryIDs(_ context.Context, itemID int64, taxonomy string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(itemID)
	if !ok {
		return nil, nil
	}
	ids := append([]int64(nil), it.Categories[taxonomy]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *YAMLRepository) ListTerms(_ context.Context, taxonomy string) ([]linksync.Term, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terms := append([]linksync.Term(nil), r.export.Terms[taxonomy]...)
	for i := range terms {
		terms[i].Taxonomy = taxonomy
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Name < terms[j].Name })
	return terms, nil
}

func (r *YAMLRepository) OverlayFields(_ context.Context, itemID int64) ([]linksync.OverlayField, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.item(itemID)
	if !ok {
		return nil, nil
	}
	return append([]linksync.OverlayField(nil), it.Overlay...), nil
}

func (r *YAMLRepository) CountByType(_ context.Context, contentType string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, it := range r.export.Items {
		if it.Type == contentType && it.Status == string(linksync.StatusPublished) {
			n++
		}
	}
	return n, nil
}

// ResolveURL matches url against the items' links, ignoring a trailing slash.
func (r *YAMLRepository) ResolveURL(_ context.Context, url string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := normalizeURL(url)
	if want == "" {
		return 0, nil
	}
	for i := range r.export.Items {
		it := &r.export.Items[i]
		if it.Status != string(linksync.StatusPublished) {
			continue
		}
		if normalizeURL(r.toContentItem(it).URL) == want {
			return it.ID, nil
		}
	}
	return 0, nil
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
