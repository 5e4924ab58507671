package app

import (
	"context"
	"errors"
	"fmt"

	"linksync/internal/linksync"
	"linksync/internal/scheduler"
)

// Serve runs the background passes on the configured schedule until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	s, err := scheduler.New(ctx, a.cfg.Schedule, &jobs{app: a}, a.logger.With("component", "scheduler"))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	a.logger.Info("Scheduler started", "jobs", len(s.Entries()))

	<-ctx.Done()

	a.logger.Info("Stopping scheduler")
	s.Stop()
	return nil
}

// jobs adapts App to scheduler.Runner. An error Result is reported as a job
// failure so it shows up in the scheduler log.
type jobs struct {
	app *App
}

var _ scheduler.Runner = (*jobs)(nil)

func (j *jobs) Discover(ctx context.Context) error {
	_, err := j.app.Discover(ctx)
	return err
}

// Sync runs discovery and then a non-forced session, but only when there is
// something to send and no stepwise session is in progress.
func (j *jobs) Sync(ctx context.Context) error {
	if _, err := j.app.Discover(ctx); err != nil {
		return err
	}

	ready, err := j.app.readyToSync(ctx)
	if err != nil {
		return err
	}
	if !ready {
		j.app.logger.DebugContext(ctx, "Nothing to sync")
		return nil
	}

	res, err := j.app.track(ctx, "sync", func() (linksync.Result, error) {
		return j.app.service.RunFullSession(ctx, false)
	})
	return resultErr(res, err)
}

func (j *jobs) WriteBack(ctx context.Context) error {
	return resultErr(j.app.WriteBack(ctx))
}

func (j *jobs) RefreshToken(ctx context.Context) error {
	return resultErr(j.app.RefreshToken(ctx))
}

// readyToSync reports whether a scheduled session has work to do.
func (a *App) readyToSync(ctx context.Context) (bool, error) {
	plan, err := a.store.LoadSessionPlan(ctx)
	if err != nil {
		return false, fmt.Errorf("loading session plan: %w", err)
	}
	if plan != nil {
		a.logger.InfoContext(ctx, "Session in progress, skipping scheduled sync", "session", plan.SessionID)
		return false, nil
	}

	settings, err := a.service.Settings(ctx)
	if err != nil {
		return false, err
	}
	if settings.Source.ByURLs() {
		return true, nil
	}

	counts, err := a.store.Counts(ctx)
	if err != nil {
		return false, fmt.Errorf("counting queue: %w", err)
	}
	return counts.Pending > 0, nil
}

func resultErr(res linksync.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.OK() {
		return errors.New(res.String())
	}
	return nil
}
