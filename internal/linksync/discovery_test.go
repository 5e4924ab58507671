package linksync_test

import (
	"context"
	"reflect"
	"testing"

	"linksync/internal/linksync"
)

func TestSyncService_DiscoverPending(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts untracked items only", func(t *testing.T) {
		h := newHarness(t, linksync.Options{})
		h.repo.AddPost(1, "<p>one</p>")
		h.repo.AddItem(linksync.ContentItem{ID: 2, Type: linksync.TypePage, Body: "<p>two</p>"})
		h.repo.AddItem(linksync.ContentItem{ID: 3, Status: "draft"})

		n, err := h.svc.DiscoverPending(ctx)
		if err != nil {
			t.Fatalf("DiscoverPending() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DiscoverPending() = %d, want 2", n)
		}

		if err := h.store.MarkSynced(ctx, []int64{1}, h.clock.Now()); err != nil {
			t.Fatalf("MarkSynced() error = %v", err)
		}
		h.repo.AddPost(4, "")

		n, err = h.svc.DiscoverPending(ctx)
		if err != nil {
			t.Fatalf("DiscoverPending() error = %v", err)
		}
		if n != 1 {
			t.Errorf("second DiscoverPending() = %d, want 1", n)
		}
		if got := h.sentStatus(t, 1); got != linksync.SentSynced {
			t.Errorf("synced row changed to %q", got)
		}
		row, err := h.store.FindItem(ctx, 2)
		if err != nil {
			t.Fatalf("FindItem() error = %v", err)
		}
		if row.ContentType != linksync.TypePage || row.ContentByteSize != int64(len("<p>two</p>")) {
			t.Errorf("row = %+v", row)
		}
	})

	t.Run("honors the configured sources", func(t *testing.T) {
		h := newHarness(t, linksync.Options{})
		if err := h.store.SaveSettings(ctx, linksync.SyncSettings{
			Budget: linksync.DefaultBudget(),
			Source: linksync.SourceFilter{PostSources: []string{linksync.TypePage}},
		}); err != nil {
			t.Fatalf("SaveSettings() error = %v", err)
		}
		h.repo.AddPost(1, "")
		h.repo.AddItem(linksync.ContentItem{ID: 2, Type: linksync.TypePage})

		if _, err := h.svc.DiscoverPending(ctx); err != nil {
			t.Fatalf("DiscoverPending() error = %v", err)
		}
		if h.sentStatus(t, 1) != "" || h.sentStatus(t, 2) != linksync.SentPending {
			t.Error("discovery ignored the source filter")
		}
	})
}

func TestParseURLList(t *testing.T) {
	text := "https://example.com/a\nnot a url\n  https://example.com/b  https://example.com/a\n"

	got := linksync.ParseURLList(text)
	want := []string{"https://example.com/a", "https://example.com/b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseURLList() = %v, want %v", got, want)
	}

	if got := linksync.ParseURLList("nothing here"); len(got) != 0 {
		t.Errorf("ParseURLList() = %v, want empty", got)
	}
}

func TestSyncService_InitByURLs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, linksync.Options{})
	h.seed(t, 1, 2, 3)
	if err := h.store.MarkSynced(ctx, []int64{1, 2, 3}, h.clock.Now()); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	h.repo.MapURL("https://example.com/third/", 3)

	if err := h.store.SaveSettings(ctx, linksync.SyncSettings{
		Budget: linksync.Budget{Mode: linksync.BudgetCount, Limit: 1},
		Source: linksync.SourceFilter{
			SyncBy:  linksync.SyncByURLs,
			URLList: "https://example.com/third/\nhttps://example.com/missing\nhttps://example.com/?p=2\nhttps://example.com/?p=3",
		},
	}); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	sc := h.initSession(t, false)

	if !reflect.DeepEqual(sc.Remaining, []linksync.Batch{{3}, {2}}) {
		t.Errorf("remaining = %v, want [[3] [2]]", sc.Remaining)
	}
	if h.sentStatus(t, 2) != linksync.SentPending || h.sentStatus(t, 3) != linksync.SentPending {
		t.Error("listed items not requeued")
	}
	if h.sentStatus(t, 1) != linksync.SentSynced {
		t.Error("unlisted item requeued")
	}
}
