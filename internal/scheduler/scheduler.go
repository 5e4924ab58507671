package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"linksync/internal/config"
)

const (
	discoveryTimeout    = 10 * time.Minute
	syncTimeout         = 2 * time.Hour
	writeBackTimeout    = 15 * time.Minute
	tokenRefreshTimeout = time.Minute
)

// Runner performs the scheduled operations.
type Runner interface {
	Discover(ctx context.Context) error
	Sync(ctx context.Context) error
	WriteBack(ctx context.Context) error
	RefreshToken(ctx context.Context) error
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(context.Context) error
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	runner Runner
	jobs   []job
	log    *slog.Logger
}

// New creates a scheduler for the jobs in cfg. A job with an empty spec is
// not scheduled. Runs of the same job never overlap.
func New(ctx context.Context, cfg config.ScheduleConfig, runner Runner, log *slog.Logger) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(jobChain(log).Then),
	)

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		runner: runner,
		log:    log,
		jobs: []job{
			{name: "discovery", spec: cfg.Discovery, timeout: discoveryTimeout, run: runner.Discover},
			{name: "sync", spec: cfg.Sync, timeout: syncTimeout, run: runner.Sync},
			{name: "writeback", spec: cfg.WriteBack, timeout: writeBackTimeout, run: runner.WriteBack},
			{name: "token-refresh", spec: cfg.TokenRefresh, timeout: tokenRefreshTimeout, run: runner.RefreshToken},
		},
	}, nil
}

// jobChain recovers job panics and skips a run while the previous one is
// still going. Both are logged.
func jobChain(log *slog.Logger) cron.Chain {
	l := cronLogger{log: log}
	return cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l))
}

// cronLogger routes cron's internal messages to slog. Info messages are
// logged at debug level, cron emits one per tick.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	for _, j := range s.jobs {
		if j.spec == "" {
			s.log.Info("Job disabled", "job", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(j) }); err != nil {
			return fmt.Errorf("scheduling %s (%q): %w", j.name, j.spec, err)
		}
		s.log.Info("Job scheduled", "job", j.name, "spec", j.spec)
	}

	s.cron.Start()

	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries returns the scheduled jobs.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) runJob(j job) {
	ctx, cancel := context.WithTimeout(s.ctx, j.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"job", j.name,
			"error", ctx.Err())
		return
	default:
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.log.ErrorContext(ctx, "Scheduled job failed",
			"job", j.name,
			"error", err,
			"elapsed", time.Since(start))
		return
	}
	s.log.InfoContext(ctx, "Scheduled job finished",
		"job", j.name,
		"elapsed", time.Since(start))
}
