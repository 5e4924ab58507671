package builder

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"linksync/internal/linksync"
	"linksync/internal/testutil"
)

const classicWrapped = `<div class="acf-classic-builder-content">` +
	`<div class="classic-post-content"><p>Body</p></div>` +
	`<div class="acf-builder-items">` +
	`<div class="acf-builder-item" data-type="wysiwyg" data-custom-field-name="intro"><p>Hi</p></div>` +
	`</div></div>`

func newTestNormalizer(t *testing.T, repo *testutil.MockContentRepository, overlay OverlayOptions) *Normalizer {
	t.Helper()
	return NewNormalizer(repo, testutil.NewTestStore(t), nil, overlay, nil)
}

func TestNormalizer_Normalize(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to block editor", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<!-- wp:paragraph --><p>Body</p>")
		repo.SetCategories(1, linksync.TaxonomyCategory, 7, 3)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Builder != linksync.BuilderBlockEditor {
			t.Errorf("builder = %q, want %q", nc.Builder, linksync.BuilderBlockEditor)
		}
		if nc.RenderedContent != "<!-- wp:paragraph --><p>Body</p>" {
			t.Errorf("content = %q", nc.RenderedContent)
		}
		if nc.Meta != nil {
			t.Errorf("meta = %s, want nil", nc.Meta)
		}
		if !reflect.DeepEqual(nc.CategoryIDs, []int64{3, 7}) {
			t.Errorf("categories = %v, want [3 7]", nc.CategoryIDs)
		}
		if nc.Title != "Item 1" || nc.URL != "https://example.com/?p=1" || nc.ContentType != linksync.TypePost {
			t.Errorf("item fields not carried over: %+v", nc)
		}
	})

	t.Run("first matching detector wins", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetProbe(1, "_et_pb_use_builder", "on")
		repo.SetProbe(1, "_fl_builder_enabled", "1")

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Builder != linksync.BuilderDivi {
			t.Errorf("builder = %q, want %q", nc.Builder, linksync.BuilderDivi)
		}

		detectors, err := DetectorsByName([]string{"beaver", "divi"})
		if err != nil {
			t.Fatalf("DetectorsByName() error = %v", err)
		}
		n := NewNormalizer(repo, testutil.NewTestStore(t), detectors, OverlayOptions{}, nil)
		nc, err = n.Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Builder != linksync.BuilderBeaver {
			t.Errorf("builder = %q, want %q", nc.Builder, linksync.BuilderBeaver)
		}
	})

	t.Run("legacy oxygen data marks the item ignored", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(5, "<p>Body</p>")
		repo.SetProbe(5, "ct_builder_json", `a:1:{s:8:"children";a:0:{}}`)

		store := testutil.NewTestStore(t)
		if _, err := store.UpsertDiscovered(ctx, []linksync.DiscoveredItem{
			{ItemID: 5, ContentType: linksync.TypePost, ContentStatus: linksync.StatusPublished},
		}); err != nil {
			t.Fatalf("UpsertDiscovered() error = %v", err)
		}

		n := NewNormalizer(repo, store, nil, OverlayOptions{}, nil)
		nc, err := n.Normalize(ctx, *repo.Item(5))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc != nil {
			t.Fatalf("Normalize() = %+v, want nil", nc)
		}

		row, err := store.FindItem(ctx, 5)
		if err != nil {
			t.Fatalf("FindItem() error = %v", err)
		}
		if row == nil || row.SentStatus != linksync.SentIgnored {
			t.Errorf("row = %+v, want ignored", row)
		}
	})

	t.Run("bricks frame around post content", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetProbe(1, "_bricks_page_content_2", `[{"name":"post-content"}]`)
		repo.SetOverlay(1, linksync.OverlayField{Name: "intro", Type: FieldWysiwyg, Content: "<p>Hi</p>"})

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Builder != linksync.BuilderBlockEditor {
			t.Errorf("builder = %q, want %q", nc.Builder, linksync.BuilderBlockEditor)
		}
		if nc.Overlay || nc.RenderedContent != "<p>Body</p>" {
			t.Errorf("overlay applied to bricks frame: %+v", nc)
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetProbe(1, "_elementor_edit_mode", "builder")
		repo.SetProbe(1, "_elementor_data", `[{"id":"abc","elType":"section"}]`)
		repo.SetOverlay(1,
			linksync.OverlayField{Name: "intro", Type: FieldWysiwyg, Content: "<p>Hi</p>"},
			linksync.OverlayField{Name: "summary", Type: FieldWysiwyg, Content: "<p>S</p>"},
		)
		n := newTestNormalizer(t, repo, OverlayOptions{Enabled: true})

		first, err := n.Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		second, err := n.Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Normalize() not deterministic:\n%+v\n%+v", first, second)
		}
	})
}

func TestNormalizer_Overlay(t *testing.T) {
	ctx := context.Background()
	intro := linksync.OverlayField{Name: "intro", Type: FieldWysiwyg, Content: "<p>Hi</p>"}

	t.Run("weaves into classic content", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetProbe(1, "classic-editor-remember", "classic-editor")
		repo.SetOverlay(1, intro, linksync.OverlayField{Name: "note", Type: "text", Content: "plain"})

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.RenderedContent != classicWrapped {
			t.Errorf("content =\n%s\nwant\n%s", nc.RenderedContent, classicWrapped)
		}
		if !nc.Overlay || nc.WireContentType() != "acf-classic" {
			t.Errorf("overlay = %v, wire type = %q", nc.Overlay, nc.WireContentType())
		}
	})

	t.Run("weaves into default block editor content as classic", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetOverlay(1, intro)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Builder != linksync.BuilderClassic {
			t.Errorf("builder = %q, want %q", nc.Builder, linksync.BuilderClassic)
		}
		if nc.RenderedContent != classicWrapped {
			t.Errorf("content = %s", nc.RenderedContent)
		}
	})

	t.Run("escapes non rich fields", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "")
		repo.SetOverlay(1, linksync.OverlayField{Name: "note", Type: "text", Content: "a<b"})

		n := newTestNormalizer(t, repo, OverlayOptions{Enabled: true, FieldTypes: []string{FieldWysiwyg, "text"}})
		nc, err := n.Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		want := `<div class="acf-classic-builder-content"><div class="acf-builder-items">` +
			`<div class="acf-builder-item" data-type="text" data-custom-field-name="note">` +
			`<p class="custom-field-content">a&lt;b</p></div></div></div>`
		if nc.RenderedContent != want {
			t.Errorf("content = %s, want %s", nc.RenderedContent, want)
		}
	})

	t.Run("no matching fields leaves content alone", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetOverlay(1, linksync.OverlayField{Name: "note", Type: "text", Content: "plain"})

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Overlay || nc.Builder != linksync.BuilderBlockEditor || nc.RenderedContent != "<p>Body</p>" {
			t.Errorf("Normalize() = %+v, want untouched block editor content", nc)
		}
	})

	t.Run("disabled overlay", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetOverlay(1, intro)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Overlay {
			t.Error("overlay applied while disabled")
		}
	})

	t.Run("merges into elementor tree", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "<p>Body</p>")
		repo.SetProbe(1, "_elementor_edit_mode", "builder")
		repo.SetProbe(1, "_elementor_data", `[{"id":"abc","elType":"section"}]`)
		repo.SetOverlay(1, intro)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}

		wantMeta := `[{"id":"acf0b4b6","type":"wysiwyg","elType":"widget","elements":[],` +
			`"settings":{"editor":"<p>Hi</p>"},"widgetType":"text-editor","custom_field_name":"intro"},` +
			`{"id":"abc","elType":"section"}]`
		if string(nc.Meta) != wantMeta {
			t.Errorf("meta =\n%s\nwant\n%s", nc.Meta, wantMeta)
		}

		wantBody := `<p>Body</p><div class="acf-classic-builder-content"><div class="acf-builder-items">` +
			`<div class="acf-builder-item" data-type="wysiwyg" data-custom-field-name="intro"><p>Hi</p></div>` +
			`</div></div>`
		if nc.RenderedContent != wantBody {
			t.Errorf("content =\n%s\nwant\n%s", nc.RenderedContent, wantBody)
		}
		if nc.Builder != linksync.BuilderElementor || nc.WireContentType() != "acf-elementor" {
			t.Errorf("builder = %q, wire type = %q", nc.Builder, nc.WireContentType())
		}
	})

	t.Run("other builders keep their content", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "[et_pb_section]")
		repo.SetProbe(1, "_et_pb_use_builder", "on")
		repo.SetOverlay(1, intro)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{Enabled: true}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.Overlay || nc.RenderedContent != "[et_pb_section]" {
			t.Errorf("Normalize() = %+v, want untouched divi content", nc)
		}
	})
}

func TestNormalizer_Categories(t *testing.T) {
	ctx := context.Background()

	t.Run("products use product categories", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddItem(linksync.ContentItem{ID: 1, Type: linksync.TypeProduct})
		repo.SetCategories(1, linksync.TaxonomyCategory, 1)
		repo.SetCategories(1, linksync.TaxonomyProductCategory, 9)

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if !reflect.DeepEqual(nc.CategoryIDs, []int64{9}) {
			t.Errorf("categories = %v, want [9]", nc.CategoryIDs)
		}
	})

	t.Run("uncategorized items get an empty list", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddItem(linksync.ContentItem{ID: 1, Type: linksync.TypePage})

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if nc.CategoryIDs == nil || len(nc.CategoryIDs) != 0 {
			t.Errorf("categories = %#v, want empty non-nil", nc.CategoryIDs)
		}
	})

	t.Run("lookup failure on pages is tolerated", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddItem(linksync.ContentItem{ID: 1, Type: linksync.TypePage})
		repo.CategoryErr = errors.New("no taxonomy")

		nc, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if len(nc.CategoryIDs) != 0 {
			t.Errorf("categories = %v, want empty", nc.CategoryIDs)
		}
	})

	t.Run("lookup failure on posts is an error", func(t *testing.T) {
		repo := testutil.NewMockContentRepository()
		repo.AddPost(1, "")
		repo.CategoryErr = errors.New("db gone")

		if _, err := newTestNormalizer(t, repo, OverlayOptions{}).Normalize(ctx, *repo.Item(1)); err == nil {
			t.Error("Normalize() expected error")
		}
	})
}

func TestNodeID(t *testing.T) {
	if got := nodeID("intro"); got != "acf0b4b6" {
		t.Errorf("nodeID(intro) = %q, want acf0b4b6", got)
	}
	if got := nodeID("summary"); got != "acfa80da" {
		t.Errorf("nodeID(summary) = %q, want acfa80da", got)
	}
}
