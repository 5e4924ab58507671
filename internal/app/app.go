package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"linksync/internal/builder"
	"linksync/internal/config"
	"linksync/internal/content"
	"linksync/internal/credentials"
	"linksync/internal/database"
	"linksync/internal/linksync"
	"linksync/internal/remote"
)

// ErrNoSession is returned by NextBatch when no session plan is persisted.
var ErrNoSession = errors.New("no sync session in progress, run 'linksync sync init' first")

// App is the application layer between the CLI and SyncService.
// It constructs all dependencies from config, records every mutating
// operation in the run history, and closes the stores on Close.
type App struct {
	cfg     *config.Config
	store   *database.SQLiteStore
	content content.Repository
	creds   credentials.Store
	remote  *remote.Client
	service *linksync.SyncService
	clock   linksync.Clock
	logger  *slog.Logger
	logFile *os.File

	// mu serializes operations within one process.
	mu sync.Mutex
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(cfg *config.Config, verbose bool) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID, verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := newApp(cfg, logger, linksync.RealClock{}, linksync.UUIDGenerator{})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(cfg *config.Config, logger *slog.Logger, clock linksync.Clock, idgen linksync.IDGenerator) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	repo, err := content.NewRepositoryFromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating content repository: %w", err)
	}

	keys, err := credentials.NewStoreFromConfig(cfg.Credentials)
	if err != nil {
		repo.Close()
		store.Close()
		return nil, fmt.Errorf("creating credentials store: %w", err)
	}
	creds := credentials.WithAPIKey(keys, cfg.APIKey)

	detectors, err := builder.DetectorsByName(cfg.Features.Builders)
	if err != nil {
		repo.Close()
		store.Close()
		return nil, fmt.Errorf("configuring builders: %w", err)
	}

	client := remote.NewClientFromConfig(cfg, creds)
	normalizer := builder.NewNormalizer(repo, store, detectors, builder.OverlayOptions{
		Enabled:    cfg.Features.OverlayEnabled,
		FieldTypes: cfg.Features.OverlayFieldTypes,
	}, logger)

	svc := linksync.NewSyncService(store, store, repo, normalizer, client, logger, clock, idgen, linksync.Options{
		CommerceEnabled: cfg.Features.CommerceEnabled,
		DefaultSettings: DefaultSettings(cfg),
	})

	return &App{
		cfg:     cfg,
		store:   store,
		content: repo,
		creds:   creds,
		remote:  client,
		service: svc,
		clock:   clock,
		logger:  logger,
	}, nil
}

// DefaultSettings are the sync settings seeded by the config file. They apply
// until `linksync settings set` persists its own.
func DefaultSettings(cfg *config.Config) linksync.SyncSettings {
	budget := linksync.Budget{Mode: linksync.BudgetCount, Limit: int64(cfg.Sync.Speed)}
	if cfg.Sync.Mode == string(linksync.BudgetBytes) {
		budget = linksync.Budget{Mode: linksync.BudgetBytes, Limit: int64(cfg.Sync.ByteBudgetKB) * 1024}
	}
	if budget.Limit <= 0 {
		budget = linksync.DefaultBudget()
	}

	return linksync.SyncSettings{
		Budget: budget,
		Source: linksync.SourceFilter{
			PostSources: slices.Clone(cfg.Source.PostSources),
			Categories:  slices.Clone(cfg.Source.Categories),
			SyncBy:      cfg.Source.SyncBy,
			URLList:     cfg.Source.URLList,
		},
	}
}

// track runs fn under the app mutex and records it in the run history.
func (a *App) track(ctx context.Context, operation string, fn func() (linksync.Result, error)) (linksync.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	run := NewRun(operation)
	id, err := a.store.StartRun(ctx, run.Operation, a.clock.Now())
	if err != nil {
		return linksync.Result{}, fmt.Errorf("starting %s run: %w", operation, err)
	}
	run.ID = id

	res, err := fn()
	run.Record(res, err)

	// The history row is closed even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if ferr := a.store.FinishRun(finishCtx, run.ID, run.Status, run.Message, a.clock.Now()); ferr != nil {
		a.logger.Error("Failed to finish run", "run", run.ID, "operation", operation, "error", ferr)
		if err == nil {
			err = fmt.Errorf("finishing %s run: %w", operation, ferr)
		}
	}
	return res, err
}

// Discover queues content items that are not tracked yet. Returns the number
// of items added.
func (a *App) Discover(ctx context.Context) (int, error) {
	var added int
	_, err := a.track(ctx, "discover", func() (linksync.Result, error) {
		n, err := a.service.DiscoverPending(ctx)
		if err != nil {
			return linksync.Result{}, err
		}
		added = n
		return linksync.Result{Status: linksync.ResultSuccess, Title: "Discovered", Message: fmt.Sprintf("%d new item(s) queued", n)}, nil
	})
	return added, err
}

// SyncRun discovers new content and pushes everything pending in one session.
func (a *App) SyncRun(ctx context.Context, force bool) (linksync.Result, error) {
	if _, err := a.Discover(ctx); err != nil {
		return linksync.Result{}, err
	}
	return a.track(ctx, "sync", func() (linksync.Result, error) {
		return a.service.RunFullSession(ctx, force)
	})
}

// InitSession starts a stepwise session: it reports the site totals and
// persists the batch plan for NextBatch.
func (a *App) InitSession(ctx context.Context, force bool) (linksync.Result, error) {
	return a.track(ctx, "sync-init", func() (linksync.Result, error) {
		sc := a.service.NewSession(force)
		counts, err := a.service.CountSite(ctx)
		if err != nil {
			return linksync.Result{}, err
		}
		return a.service.Init(ctx, sc, counts)
	})
}

// NextBatch sends the head batch of the persisted session plan.
func (a *App) NextBatch(ctx context.Context) (linksync.BatchOutcome, error) {
	var out linksync.BatchOutcome
	_, err := a.track(ctx, "sync-next", func() (linksync.Result, error) {
		sc, err := a.service.ResumeSession(ctx)
		if err != nil {
			return linksync.Result{}, err
		}
		if sc == nil {
			return linksync.Result{}, ErrNoSession
		}
		out, err = a.service.SendNextBatch(ctx, sc)
		return out.Result, err
	})
	return out, err
}

// FinishSession sends the taxonomy terms and closes the session. It works
// without a persisted plan, which lets a failed session be closed manually.
func (a *App) FinishSession(ctx context.Context) (linksync.Result, error) {
	return a.track(ctx, "sync-finish", func() (linksync.Result, error) {
		sc, err := a.service.ResumeSession(ctx)
		if err != nil {
			return linksync.Result{}, err
		}
		if sc == nil {
			sc = a.service.NewSession(false)
		}
		return a.service.Finish(ctx, sc)
	})
}

// WriteBack applies the remote service's link updates to the content.
func (a *App) WriteBack(ctx context.Context) (linksync.Result, error) {
	return a.track(ctx, "writeback", func() (linksync.Result, error) {
		return a.service.WriteBackSweep(ctx)
	})
}

// ContentSaved requeues a saved item and sends it right away. fromBuilder marks
// events raised by a page builder's own save hook.
func (a *App) ContentSaved(ctx context.Context, itemID int64, fromBuilder bool) (linksync.Result, error) {
	return a.track(ctx, "saved", func() (linksync.Result, error) {
		sc := a.service.NewSession(false)
		return a.service.OnContentSaved(ctx, sc, itemID, linksync.SaveOptions{FromBuilderHook: fromBuilder})
	})
}

// ContentTrashed sends the trashed state of an item to the remote service.
func (a *App) ContentTrashed(ctx context.Context, itemID int64) (linksync.Result, error) {
	return a.track(ctx, "trashed", func() (linksync.Result, error) {
		sc := a.service.NewSession(false)
		return a.service.OnContentTrashed(ctx, sc, itemID)
	})
}

// Reset drops the queue and any session in progress. The next discovery
// starts from scratch.
func (a *App) Reset(ctx context.Context) (linksync.Result, error) {
	return a.track(ctx, "reset", func() (linksync.Result, error) {
		if err := a.resetQueue(ctx); err != nil {
			return linksync.Result{}, err
		}
		return linksync.Result{Status: linksync.ResultSuccess, Title: "Reset", Message: "Sync queue cleared."}, nil
	})
}

func (a *App) resetQueue(ctx context.Context) error {
	if err := a.store.ClearAllAndRecreate(ctx); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	if err := a.store.ClearSessionPlan(ctx); err != nil {
		return fmt.Errorf("clearing session plan: %w", err)
	}
	return nil
}

// Report returns the site and queue summary.
func (a *App) Report(ctx context.Context) (*linksync.Report, error) {
	return a.service.Report(ctx)
}

// Settings returns the effective sync settings.
func (a *App) Settings(ctx context.Context) (linksync.SyncSettings, error) {
	return a.service.Settings(ctx)
}

// UpdateSettings persists settings. A changed source filter invalidates the
// queue, which is then cleared. Returns whether the queue was cleared.
func (a *App) UpdateSettings(ctx context.Context, settings linksync.SyncSettings) (bool, error) {
	if settings.Budget.Limit <= 0 {
		return false, fmt.Errorf("budget limit must be positive, got %d", settings.Budget.Limit)
	}
	switch settings.Budget.Mode {
	case linksync.BudgetCount, linksync.BudgetBytes:
	default:
		return false, fmt.Errorf("unknown budget mode: %q", settings.Budget.Mode)
	}

	var cleared bool
	_, err := a.track(ctx, "settings", func() (linksync.Result, error) {
		current, err := a.service.Settings(ctx)
		if err != nil {
			return linksync.Result{}, err
		}
		if err := a.store.SaveSettings(ctx, settings); err != nil {
			return linksync.Result{}, fmt.Errorf("saving settings: %w", err)
		}
		if sameSource(current.Source, settings.Source) {
			return linksync.Result{Status: linksync.ResultSuccess, Title: "Settings saved"}, nil
		}
		if err := a.resetQueue(ctx); err != nil {
			return linksync.Result{}, err
		}
		cleared = true
		a.logger.Info("Source filter changed, queue cleared")
		return linksync.Result{Status: linksync.ResultSuccess, Title: "Settings saved", Message: "Source filter changed, queue cleared."}, nil
	})
	return cleared, err
}

func sameSource(a, b linksync.SourceFilter) bool {
	return slices.Equal(a.Sources(), b.Sources()) &&
		slices.Equal(a.Categories, b.Categories) &&
		a.SyncBy == b.SyncBy &&
		a.URLList == b.URLList
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]linksync.RunRecord, error) {
	return a.store.ListRuns(ctx, limit)
}

// Login stores the API key and exchanges it for an access token.
func (a *App) Login(ctx context.Context, apiKey string) (linksync.Result, error) {
	if apiKey == "" {
		return linksync.Result{}, fmt.Errorf("API key must not be empty")
	}
	if !a.creds.IsConfigured() {
		return linksync.Result{}, fmt.Errorf("credentials store not set up, run 'linksync config init' first")
	}
	if a.cfg.APIKey != "" {
		a.logger.Warn("LINKSYNC_API_KEY is set and takes precedence over the stored key")
	}

	return a.track(ctx, "login", func() (linksync.Result, error) {
		if err := a.creds.SetAPIKey(apiKey); err != nil {
			return linksync.Result{}, fmt.Errorf("storing API key: %w", err)
		}
		return a.authenticate(ctx)
	})
}

// RefreshToken derives a fresh access token from the stored API key.
func (a *App) RefreshToken(ctx context.Context) (linksync.Result, error) {
	return a.track(ctx, "token-refresh", func() (linksync.Result, error) {
		return a.authenticate(ctx)
	})
}

func (a *App) authenticate(ctx context.Context) (linksync.Result, error) {
	if err := a.remote.Authenticate(ctx); err != nil {
		if errors.Is(err, linksync.ErrNoCredentials) {
			return linksync.Result{}, err
		}
		a.logger.Error("Authentication failed", "error", err)
		return linksync.Result{Status: linksync.ResultError, Title: "Authentication failed!", Message: err.Error()}, nil
	}
	return linksync.Result{Status: linksync.ResultSuccess, Title: "Authenticated", Message: "Access token stored."}, nil
}

// Close closes the content repository, the database and the log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.content.Close(); err != nil {
		firstErr = fmt.Errorf("closing content repository: %w", err)
	}

	if err := a.store.Close(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
