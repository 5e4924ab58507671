package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"linksync/internal/config"
	"linksync/internal/linksync"
)

const sampleExport = `site_url: https://shop.test/
items:
  - id: 3
    type: post
    status: publish
    title: Boots guide
    body: <p>boots</p>
    url: https://shop.test/boots-guide/
    created_at: 2024-01-02T03:04:05Z
    updated_at: 2024-01-03T00:00:00Z
    categories:
      category: [7, 2]
    probes:
      _elementor_edit_mode: builder
    overlay:
      - name: intro
        type: wysiwyg
        content: <p>Intro</p>
  - id: 1
    type: page
    status: publish
    title: About
    body: about
  - id: 8
    type: product
    status: publish
    title: Boot
    body: boot
    categories:
      product_cat: [9]
  - id: 5
    type: post
    status: draft
    title: Draft
    body: wip
terms:
  category:
    - id: 7
      name: Travel
      slug: travel
    - id: 2
      name: Gear
      slug: gear
`

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openSample(t *testing.T) (*YAMLRepository, string) {
	t.Helper()
	path := writeExport(t, sampleExport)
	r, err := OpenYAML(path)
	if err != nil {
		t.Fatalf("OpenYAML() error = %v", err)
	}
	return r, path
}

func TestOpenYAML_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := OpenYAML(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
			t.Error("OpenYAML() expected error for missing file")
		}
	})

	t.Run("duplicate ids", func(t *testing.T) {
		path := writeExport(t, "items:\n  - id: 1\n  - id: 1\n")
		if _, err := OpenYAML(path); err == nil {
			t.Error("OpenYAML() expected error for duplicate ids")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeExport(t, "items: [unterminated")
		if _, err := OpenYAML(path); err == nil {
			t.Error("OpenYAML() expected error for invalid yaml")
		}
	})
}

func TestYAMLRepository_ListCandidates(t *testing.T) {
	r, _ := openSample(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter linksync.SourceFilter
		want   []int64
	}{
		{name: "default sources", want: []int64{1, 3}},
		{name: "category", filter: linksync.SourceFilter{Categories: []int64{2}}, want: []int64{3}},
		{name: "product category", filter: linksync.SourceFilter{PostSources: []string{"product"}, Categories: []int64{9}}, want: []int64{8}},
		{name: "unknown category", filter: linksync.SourceFilter{Categories: []int64{99}}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ListCandidates(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListCandidates() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListCandidates() = %+v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("candidate[%d].ID = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestYAMLRepository_Items(t *testing.T) {
	r, _ := openSample(t)
	ctx := context.Background()

	item, err := r.GetByID(ctx, 3)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if item.Title != "Boots guide" || item.URL != "https://shop.test/boots-guide/" {
		t.Errorf("GetByID() = %+v", item)
	}
	if !item.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", item.CreatedAt)
	}

	page, _ := r.GetByID(ctx, 1)
	if page.URL != "https://shop.test/?p=1" {
		t.Errorf("derived URL = %q", page.URL)
	}

	if missing, err := r.GetByID(ctx, 42); missing != nil || err != nil {
		t.Errorf("GetByID(42) = %v, %v; want nil, nil", missing, err)
	}

	many, _ := r.GetManyByIDs(ctx, []int64{8, 42, 3})
	if len(many) != 2 || many[0].ID != 8 || many[1].ID != 3 {
		t.Errorf("GetManyByIDs() = %+v", many)
	}
}

func TestYAMLRepository_Taxonomy(t *testing.T) {
	r, _ := openSample(t)
	ctx := context.Background()

	ids, _ := r.CategoryIDs(ctx, 3, linksync.TaxonomyCategory)
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 7 {
		t.Errorf("CategoryIDs() = %v, want [2 7]", ids)
	}

	terms, _ := r.ListTerms(ctx, linksync.TaxonomyCategory)
	if len(terms) != 2 || terms[0].Name != "Gear" || terms[0].Taxonomy != linksync.TaxonomyCategory {
		t.Errorf("ListTerms() = %+v", terms)
	}

	fields, _ := r.OverlayFields(ctx, 3)
	if len(fields) != 1 || fields[0] != (linksync.OverlayField{Name: "intro", Type: "wysiwyg", Content: "<p>Intro</p>"}) {
		t.Errorf("OverlayFields() = %+v", fields)
	}

	if n, _ := r.CountByType(ctx, "post"); n != 1 {
		t.Errorf("CountByType(post) = %d, want 1", n)
	}
}

func TestYAMLRepository_ResolveURL(t *testing.T) {
	r, _ := openSample(t)

	tests := []struct {
		url  string
		want int64
	}{
		{url: "https://shop.test/boots-guide", want: 3},
		{url: " https://shop.test/boots-guide/ ", want: 3},
		{url: "https://shop.test/?p=1", want: 1},
		{url: "https://shop.test/?p=5", want: 0},
		{url: "", want: 0},
	}
	for _, tt := range tests {
		got, err := r.ResolveURL(context.Background(), tt.url)
		if err != nil {
			t.Fatalf("ResolveURL(%q) error = %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("ResolveURL(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestYAMLRepository_WritesPersist(t *testing.T) {
	r, path := openSample(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := r.UpdateBody(ctx, 3, "<p>boots <a href=\"/x\">x</a></p>", at); err != nil {
		t.Fatalf("UpdateBody() error = %v", err)
	}
	if err := r.SetBuilderProbe(ctx, 1, "_elementor_data", `[{"id":"a"}]`); err != nil {
		t.Fatalf("SetBuilderProbe() error = %v", err)
	}
	if err := r.UpdateBody(ctx, 42, "x", at); err == nil {
		t.Error("UpdateBody() on a missing item should fail")
	}

	reopened, err := OpenYAML(path)
	if err != nil {
		t.Fatalf("OpenYAML() after write error = %v", err)
	}
	item, _ := reopened.GetByID(ctx, 3)
	if !strings.Contains(item.Body, `<a href="/x">`) || !item.UpdatedAt.Equal(at) {
		t.Errorf("reopened item = %+v", item)
	}
	v, ok, _ := reopened.GetBuilderProbe(ctx, 1, "_elementor_data")
	if !ok || v != `[{"id":"a"}]` {
		t.Errorf("GetBuilderProbe() = %q, %v", v, ok)
	}
}

func TestNewRepositoryFromConfig(t *testing.T) {
	path := writeExport(t, sampleExport)

	tests := []struct {
		name    string
		content config.ContentConfig
		wantErr bool
	}{
		{name: "yaml", content: config.ContentConfig{Type: "yaml", ExportPath: path}},
		{name: "yaml without path", content: config.ContentConfig{Type: "yaml"}, wantErr: true},
		{name: "wordpress without dsn", content: config.ContentConfig{Type: "wordpress"}, wantErr: true},
		{name: "wordpress bad dsn", content: config.ContentConfig{Type: "wordpress", DSN: "not a dsn"}, wantErr: true},
		{name: "unknown", content: config.ContentConfig{Type: "ghost"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig("https://shop.test", t.TempDir())
			cfg.Content = tt.content
			repo, err := NewRepositoryFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRepositoryFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if repo != nil {
				repo.Close()
			}
		})
	}
}
