package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"linksync/internal/config"
	"linksync/internal/linksync"
	"linksync/internal/testutil"
)

const siteExport = `site_url: https://blog.test
items:
  - id: 1
    type: page
    status: publish
    title: About
    body: <p>about us</p>
  - id: 2
    type: post
    status: publish
    title: First post
    body: <p>hello</p>
    categories:
      category: [5]
  - id: 3
    type: post
    status: draft
    title: Draft
    body: wip
terms:
  category:
    - id: 5
      name: News
      slug: news
`

// linkService is an httptest stand-in for the remote service. Handlers are
// keyed by "METHOD /path".
type linkService struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []serviceRequest
}

type serviceRequest struct {
	key  string
	body string
}

func newLinkService(t *testing.T) *linkService {
	t.Helper()
	s := &linkService{handlers: map[string]http.HandlerFunc{}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.requests = append(s.requests, serviceRequest{key: key, body: string(body)})
		h, ok := s.handlers[key]
		s.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.server.Close)

	s.handle("POST /api/v2/auth/", respond(http.StatusOK, `{"access":"token-1"}`))
	s.handle("POST /api/v2/wp/sync/init", respond(http.StatusOK, `{"message":"init ok"}`))
	s.handle("POST /api/v2/wp/sync", respond(http.StatusOK, `{"message":"Posts synced"}`))
	s.handle("POST /api/v2/wp/options", respond(http.StatusOK, `{"message":"categories stored"}`))
	s.handle("POST /api/v2/wp/sync/fin", respond(http.StatusOK, `{"message":"done"}`))
	return s
}

func (s *linkService) handle(key string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
}

func (s *linkService) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.key == key {
			n++
		}
	}
	return n
}

func (s *linkService) bodies(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		if r.key == key {
			out = append(out, r.body)
		}
	}
	return out
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func testConfig(t *testing.T, rootURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	exportPath := filepath.Join(dir, "site.yaml")
	if err := os.WriteFile(exportPath, []byte(siteExport), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewConfig("https://blog.test", dir)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Credentials = config.CredentialsConfig{Type: "memory"}
	cfg.Content = config.ContentConfig{Type: "yaml", ExportPath: exportPath}
	cfg.Remote.RootURL = rootURL
	cfg.Remote.Timeout = 5
	cfg.APIKey = "env-key"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(cfg, logger, testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewApp(t *testing.T) {
	t.Run("wires from config", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")

		a, err := NewApp(cfg, false)
		if err != nil {
			t.Fatalf("NewApp() error = %v", err)
		}
		if err := a.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.LogDir, logFileName)); err != nil {
			t.Errorf("log file not created: %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Content = config.ContentConfig{Type: "wordpress"}

		if _, err := NewApp(cfg, false); err == nil {
			t.Error("NewApp() expected error for wordpress content without dsn")
		}
	})

	t.Run("unknown builder", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Features.Builders = []string{"frontpage"}

		if _, err := NewApp(cfg, false); err == nil {
			t.Error("NewApp() expected error for unknown builder")
		}
	})
}

func TestDefaultSettings(t *testing.T) {
	tests := []struct {
		name   string
		sync   config.SyncConfig
		budget linksync.Budget
	}{
		{name: "count", sync: config.SyncConfig{Mode: "count", Speed: 25}, budget: linksync.Budget{Mode: linksync.BudgetCount, Limit: 25}},
		{name: "bytes", sync: config.SyncConfig{Mode: "bytes", ByteBudgetKB: 2}, budget: linksync.Budget{Mode: linksync.BudgetBytes, Limit: 2048}},
		{name: "zero speed", sync: config.SyncConfig{Mode: "count"}, budget: linksync.DefaultBudget()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig("https://blog.test", t.TempDir())
			cfg.Sync = tt.sync
			cfg.Source.Categories = []int64{4}

			got := DefaultSettings(cfg)
			if got.Budget != tt.budget {
				t.Errorf("Budget = %+v, want %+v", got.Budget, tt.budget)
			}
			if len(got.Source.Categories) != 1 || got.Source.Categories[0] != 4 {
				t.Errorf("Source.Categories = %v, want [4]", got.Source.Categories)
			}
		})
	}
}

func TestApp_SyncRun(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	res, err := a.SyncRun(ctx, false)
	if err != nil {
		t.Fatalf("SyncRun() error = %v", err)
	}
	if res.Status != linksync.ResultSuccess {
		t.Fatalf("SyncRun() = %v, want success", res)
	}

	for _, key := range []string{"POST /api/v2/wp/sync/init", "POST /api/v2/wp/sync", "POST /api/v2/wp/options", "POST /api/v2/wp/sync/fin"} {
		if n := svc.count(key); n != 1 {
			t.Errorf("%s called %d times, want 1", key, n)
		}
	}
	ingest := svc.bodies("POST /api/v2/wp/sync")
	if len(ingest) == 1 && (!strings.Contains(ingest[0], `"_postId":1`) || !strings.Contains(ingest[0], `"_postId":2`)) {
		t.Errorf("ingest body = %s, want items 1 and 2", ingest[0])
	}

	report, err := a.Report(ctx)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.SyncDone != 2 || report.OnQueue != 0 {
		t.Errorf("Report() = %+v, want 2 synced and none queued", report)
	}

	runs, err := a.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(runs) != 2 || runs[0].Operation != "sync" || runs[1].Operation != "discover" {
		t.Fatalf("History() = %+v, want sync then discover", runs)
	}
	if runs[0].Status != RunSuccess || runs[0].FinishedAt == nil {
		t.Errorf("sync run = %+v, want finished success", runs[0])
	}

	t.Run("nothing left", func(t *testing.T) {
		res, err := a.SyncRun(ctx, false)
		if err != nil {
			t.Fatalf("SyncRun() error = %v", err)
		}
		if res.OK() {
			t.Errorf("SyncRun() = %v, want error result", res)
		}
		runs, _ := a.History(ctx, 1)
		if len(runs) != 1 || runs[0].Status != RunError {
			t.Errorf("History(1) = %+v, want an error run", runs)
		}
	})
}

func TestApp_StepwiseSession(t *testing.T) {
	svc := newLinkService(t)
	cfg := testConfig(t, svc.server.URL)
	cfg.Sync.Speed = 1
	a := newTestApp(t, cfg)
	ctx := context.Background()

	if _, err := a.Discover(ctx); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	res, err := a.InitSession(ctx, false)
	if err != nil || !res.OK() {
		t.Fatalf("InitSession() = %v, %v", res, err)
	}

	out, err := a.NextBatch(ctx)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(out.SentBatch) != 1 || out.SentBatch[0] != 1 || !out.HasBatch {
		t.Errorf("first NextBatch() = %+v, want batch [1] with more to come", out)
	}

	out, err = a.NextBatch(ctx)
	if err != nil {
		t.Fatalf("NextBatch() error = %v", err)
	}
	if len(out.SentBatch) != 1 || out.SentBatch[0] != 2 || out.HasBatch {
		t.Errorf("second NextBatch() = %+v, want last batch [2]", out)
	}

	t.Run("writeback blocked during session", func(t *testing.T) {
		res, err := a.WriteBack(ctx)
		if err != nil {
			t.Fatalf("WriteBack() error = %v", err)
		}
		if res.OK() {
			t.Errorf("WriteBack() = %v, want blocked", res)
		}
	})

	res, err = a.FinishSession(ctx)
	if err != nil || res.Status != linksync.ResultSuccess {
		t.Fatalf("FinishSession() = %v, %v", res, err)
	}

	if _, err := a.NextBatch(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("NextBatch() after finish error = %v, want ErrNoSession", err)
	}
}

func TestApp_ContentEvents(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	res, err := a.ContentSaved(ctx, 2, false)
	if err != nil || res.Status != linksync.ResultSuccess {
		t.Fatalf("ContentSaved(2) = %v, %v", res, err)
	}
	if bodies := svc.bodies("POST /api/v2/wp/sync"); len(bodies) != 1 || !strings.Contains(bodies[0], `"_postId":2`) {
		t.Errorf("ingest bodies = %v, want item 2 sent", bodies)
	}

	res, err = a.ContentSaved(ctx, 3, false)
	if err != nil || res.Title != "Skipped" {
		t.Errorf("ContentSaved(draft) = %v, %v; want skipped", res, err)
	}

	res, err = a.ContentTrashed(ctx, 1)
	if err != nil || !res.OK() {
		t.Fatalf("ContentTrashed(1) = %v, %v", res, err)
	}
	row, err := a.store.FindItem(ctx, 1)
	if err != nil {
		t.Fatalf("FindItem() error = %v", err)
	}
	if row != nil {
		t.Errorf("trashed row = %+v, want deleted after sync", row)
	}
}

func TestApp_WriteBack(t *testing.T) {
	svc := newLinkService(t)
	svc.handle("GET /api/v2/wp/sync", respond(http.StatusOK,
		`{"posts":[{"_postId":2,"content":"<p>hello <a href=\"https://blog.test/about\">about</a></p>","updatedAt":"2024-06-01 12:00:00"}]}`))
	svc.handle("PATCH /api/v2/wp/sync", respond(http.StatusOK, `{}`))
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	res, err := a.WriteBack(ctx)
	if err != nil || res.Status != linksync.ResultSuccess {
		t.Fatalf("WriteBack() = %v, %v", res, err)
	}

	item, err := a.content.GetByID(ctx, 2)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !strings.Contains(item.Body, `<a href="https://blog.test/about">`) {
		t.Errorf("body = %q, want the remote link", item.Body)
	}
	if !item.UpdatedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", item.UpdatedAt)
	}
	if acks := svc.bodies("PATCH /api/v2/wp/sync"); len(acks) != 1 || !strings.Contains(acks[0], `"post_id":2`) {
		t.Errorf("ack bodies = %v", acks)
	}
}

func TestApp_UpdateSettings(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	if n, err := a.Discover(ctx); err != nil || n != 2 {
		t.Fatalf("Discover() = %d, %v; want 2", n, err)
	}

	current, err := a.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}

	t.Run("budget change keeps queue", func(t *testing.T) {
		next := current
		next.Budget = linksync.Budget{Mode: linksync.BudgetBytes, Limit: 4096}

		cleared, err := a.UpdateSettings(ctx, next)
		if err != nil {
			t.Fatalf("UpdateSettings() error = %v", err)
		}
		if cleared {
			t.Error("UpdateSettings() cleared the queue for a budget change")
		}
		got, _ := a.Settings(ctx)
		if got.Budget != next.Budget {
			t.Errorf("Settings().Budget = %+v, want %+v", got.Budget, next.Budget)
		}
		report, _ := a.Report(ctx)
		if report.TotalQueue != 2 {
			t.Errorf("TotalQueue = %d, want 2", report.TotalQueue)
		}
	})

	t.Run("source change clears queue", func(t *testing.T) {
		next := current
		next.Source = linksync.SourceFilter{PostSources: []string{"post"}}

		cleared, err := a.UpdateSettings(ctx, next)
		if err != nil {
			t.Fatalf("UpdateSettings() error = %v", err)
		}
		if !cleared {
			t.Error("UpdateSettings() kept the queue after a source change")
		}
		report, _ := a.Report(ctx)
		if report.TotalQueue != 0 {
			t.Errorf("TotalQueue = %d, want 0", report.TotalQueue)
		}
	})

	t.Run("invalid budget", func(t *testing.T) {
		for _, b := range []linksync.Budget{{Mode: linksync.BudgetCount}, {Mode: "pages", Limit: 3}} {
			next := current
			next.Budget = b
			if _, err := a.UpdateSettings(ctx, next); err == nil {
				t.Errorf("UpdateSettings(%+v) expected error", b)
			}
		}
	})
}

func TestApp_UpdateSettings_ComparesLatestSource(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	if _, err := a.Discover(ctx); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	current, err := a.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	next := current
	next.Source = linksync.SourceFilter{PostSources: []string{"post"}}

	// Another operation holds the app lock and saves the new source first.
	a.mu.Lock()
	type outcome struct {
		cleared bool
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		cleared, err := a.UpdateSettings(ctx, next)
		done <- outcome{cleared, err}
	}()
	if err := a.store.SaveSettings(ctx, next); err != nil {
		a.mu.Unlock()
		t.Fatalf("SaveSettings() error = %v", err)
	}
	a.mu.Unlock()

	got := <-done
	if got.err != nil {
		t.Fatalf("UpdateSettings() error = %v", got.err)
	}
	if got.cleared {
		t.Error("UpdateSettings() cleared the queue although the source was already saved")
	}
}

func TestApp_Login(t *testing.T) {
	t.Run("stores key and token", func(t *testing.T) {
		svc := newLinkService(t)
		cfg := testConfig(t, svc.server.URL)
		cfg.APIKey = ""
		a := newTestApp(t, cfg)
		ctx := context.Background()

		if _, err := a.RefreshToken(ctx); !errors.Is(err, linksync.ErrNoCredentials) {
			t.Errorf("RefreshToken() without key error = %v, want ErrNoCredentials", err)
		}

		res, err := a.Login(ctx, "secret-key")
		if err != nil || res.Status != linksync.ResultSuccess {
			t.Fatalf("Login() = %v, %v", res, err)
		}
		if auth := svc.bodies("POST /api/v2/auth/"); len(auth) != 1 || !strings.Contains(auth[0], "secret-key") {
			t.Errorf("auth bodies = %v", auth)
		}
		if token, _ := a.creds.AccessToken(); token != "token-1" {
			t.Errorf("AccessToken() = %q, want token-1", token)
		}
	})

	t.Run("empty key", func(t *testing.T) {
		a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))
		if _, err := a.Login(context.Background(), ""); err == nil {
			t.Error("Login(\"\") expected error")
		}
	})

	t.Run("rejected key", func(t *testing.T) {
		svc := newLinkService(t)
		svc.handle("POST /api/v2/auth/", respond(http.StatusUnauthorized, `{"message":"bad key"}`))
		a := newTestApp(t, testConfig(t, svc.server.URL))

		res, err := a.Login(context.Background(), "wrong")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if res.OK() {
			t.Errorf("Login() = %v, want error result", res)
		}
	})
}

func TestApp_Reset(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	ctx := context.Background()

	if _, err := a.Discover(ctx); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if res, err := a.InitSession(ctx, false); err != nil || !res.OK() {
		t.Fatalf("InitSession() = %v, %v", res, err)
	}

	if _, err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	report, _ := a.Report(ctx)
	if report.TotalQueue != 0 {
		t.Errorf("TotalQueue = %d after reset, want 0", report.TotalQueue)
	}
	if _, err := a.NextBatch(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("NextBatch() after reset error = %v, want ErrNoSession", err)
	}
}

func TestJobs_Sync(t *testing.T) {
	svc := newLinkService(t)
	a := newTestApp(t, testConfig(t, svc.server.URL))
	j := &jobs{app: a}
	ctx := context.Background()

	if err := j.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := j.Sync(ctx); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if n := svc.count("POST /api/v2/wp/sync/init"); n != 1 {
		t.Errorf("sync/init called %d times, want 1 (second run has nothing pending)", n)
	}
}

func TestJobs_WriteBackFailure(t *testing.T) {
	svc := newLinkService(t)
	svc.handle("GET /api/v2/wp/sync", respond(http.StatusInternalServerError, `{"message":"boom"}`))
	a := newTestApp(t, testConfig(t, svc.server.URL))
	j := &jobs{app: a}

	if err := j.WriteBack(context.Background()); err == nil {
		t.Error("WriteBack() expected error for a rejected fetch")
	}
}

func TestApp_Serve(t *testing.T) {
	svc := newLinkService(t)
	cfg := testConfig(t, svc.server.URL)
	cfg.Schedule = config.ScheduleConfig{Discovery: "@every 1s", Timezone: "UTC"}
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	var discovered bool
	for time.Now().Before(deadline) && !discovered {
		runs, err := a.History(context.Background(), 1)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		discovered = len(runs) == 1 && runs[0].Operation == "discover"
		time.Sleep(50 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if !discovered {
		t.Error("scheduled discovery did not run")
	}
}
