package linksync

import (
	"context"
	"errors"
	"fmt"
)

// Normalizer projects a content item into the exchange format. It returns
// nil without an error when the item is excluded from sync.
type Normalizer interface {
	Normalize(ctx context.Context, item ContentItem) (*NormalizedContent, error)
}

// Options are site-level switches of the sync service.
type Options struct {
	// CommerceEnabled adds product categories to init counts and finish.
	CommerceEnabled bool
	// DefaultSettings are used until settings are persisted.
	DefaultSettings SyncSettings
}

// SyncService drives the init → transfer → finish protocol and reconciles
// the queue with the outcome of each step.
type SyncService struct {
	queue      QueueStore
	state      StateStore
	content    ContentRepository
	normalizer Normalizer
	remote     RemoteClient
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	opts       Options
}

// NewSyncService creates a SyncService with the provided dependencies.
// A nil logger, clock or idgen falls back to NopLogger, RealClock and UUIDGenerator.
func NewSyncService(queue QueueStore, state StateStore, content ContentRepository, normalizer Normalizer, remote RemoteClient, logger Logger, clock Clock, idgen IDGenerator, opts Options) *SyncService {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &SyncService{
		queue:      queue,
		state:      state,
		content:    content,
		normalizer: normalizer,
		remote:     remote,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		opts:       opts,
	}
}

// InitCounts are the site totals reported to sync/init.
type InitCounts struct {
	Posts      int
	Pages      int
	Categories int
	// Pending is the number of queue rows waiting to be sent.
	Pending int
}

// NewSession creates a session context with a fresh ID.
func (s *SyncService) NewSession(force bool) *SessionContext {
	return NewSessionContext(s.idgen.New(), force)
}

// Settings returns the persisted settings, or the defaults when none are saved.
func (s *SyncService) Settings(ctx context.Context) (SyncSettings, error) {
	saved, err := s.state.LoadSettings(ctx)
	if err != nil {
		return SyncSettings{}, storageErr("loading settings", err)
	}
	if saved == nil {
		return s.opts.DefaultSettings, nil
	}
	return *saved, nil
}

// CountSite gathers the totals for sync/init from the repository and queue.
func (s *SyncService) CountSite(ctx context.Context) (InitCounts, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return InitCounts{}, err
	}

	var counts InitCounts
	for _, source := range settings.Source.Sources() {
		n, err := s.content.CountByType(ctx, source)
		if err != nil {
			return InitCounts{}, fmt.Errorf("counting %s items: %w", source, err)
		}
		if source == TypePage {
			counts.Pages += n
		} else {
			counts.Posts += n
		}
	}

	terms, err := s.categoryTerms(ctx)
	if err != nil {
		return InitCounts{}, err
	}
	counts.Categories = len(terms)

	qc, err := s.queue.Counts(ctx)
	if err != nil {
		return InitCounts{}, storageErr("counting queue", err)
	}
	counts.Pending = qc.Pending
	return counts, nil
}

// Init reports the site totals to the remote service and computes the batch
// plan of the session. Re-invoking Init replaces the plan.
func (s *SyncService) Init(ctx context.Context, sc *SessionContext, counts InitCounts) (Result, error) {
	sc.State = StateInitRequested
	sc.Remaining = nil
	sc.Rejections = nil

	status := InitPartial
	if counts.Pending == 0 || sc.Force {
		status = InitComplete
	}
	posts := counts.Posts
	if s.opts.CommerceEnabled {
		posts += counts.Categories
	}
	req := InitRequest{Posts: posts, Pages: counts.Pages, Category: counts.Categories, Status: status}

	resp, err := withAuthRetry(ctx, s, func() (*MessageResponse, error) {
		return s.remote.Init(ctx, req)
	})
	if err != nil {
		sc.State = StateFailed
		s.logger.Error("sync init failed", "session", sc.ID, "error", err)
		return errorResult(err), nil
	}

	plan, err := s.plan(ctx, sc.Force)
	if err != nil {
		return Result{}, err
	}
	if len(plan) == 0 {
		sc.State = StateDone
		if err := s.state.ClearSessionPlan(ctx); err != nil {
			return Result{}, storageErr("clearing session plan", err)
		}
		return Result{Status: ResultError, Title: "Error!", Message: "There is no waiting batch, all data synced already."}, nil
	}

	sc.Remaining = plan
	if err := s.savePlan(ctx, sc); err != nil {
		return Result{}, err
	}

	s.logger.Info("sync initialized", "session", sc.ID, "status", status, "batches", len(plan), "items", len(flatten(plan)))
	return successResult("Sync initialized", resp.Message), nil
}

// ResumeSession loads the persisted plan into a new session context. It
// returns nil when no session is in progress.
func (s *SyncService) ResumeSession(ctx context.Context) (*SessionContext, error) {
	plan, err := s.state.LoadSessionPlan(ctx)
	if err != nil {
		return nil, storageErr("loading session plan", err)
	}
	if plan == nil {
		return nil, nil
	}
	sc := NewSessionContext(plan.SessionID, plan.Force)
	sc.Remaining = plan.Remaining
	sc.State = StateBatchInFlight
	if len(plan.Remaining) == 0 {
		sc.State = StateFinishing
	}
	return sc, nil
}

// SendNextBatch pops the head batch of the session, normalizes and transmits
// it, and reconciles the queue on success.
func (s *SyncService) SendNextBatch(ctx context.Context, sc *SessionContext) (BatchOutcome, error) {
	batch, ok := sc.popBatch()
	if !ok {
		sc.State = StateFinishing
		return BatchOutcome{Result: successResult("Success", "No batch left to sync.")}, nil
	}
	sc.State = StateBatchInFlight

	if err := s.savePlan(ctx, sc); err != nil {
		return BatchOutcome{}, err
	}

	res, err := s.sendBatch(ctx, sc, batch)
	if err != nil {
		return BatchOutcome{}, err
	}

	if !sc.HasMore() && sc.State != StateFailed {
		sc.State = StateFinishing
	}

	next := make([]Batch, len(sc.Remaining))
	copy(next, sc.Remaining)
	return BatchOutcome{
		SentBatch:   batch,
		NextBatches: next,
		HasBatch:    sc.HasMore(),
		Result:      res,
	}, nil
}

// sendBatch transmits one batch. Remote failures are returned as a Result;
// only storage and repository failures are returned as errors.
func (s *SyncService) sendBatch(ctx context.Context, sc *SessionContext, batch Batch) (Result, error) {
	items, err := s.content.GetManyByIDs(ctx, batch)
	if err != nil {
		return Result{}, fmt.Errorf("loading batch items: %w", err)
	}

	posts := make([]NormalizedContent, 0, len(items))
	for _, item := range items {
		nc, err := s.normalizer.Normalize(ctx, item)
		if err != nil {
			return Result{}, fmt.Errorf("normalizing item %d: %w", item.ID, err)
		}
		if nc == nil {
			s.logger.Info("item excluded from sync", "session", sc.ID, "item", item.ID)
			continue
		}
		posts = append(posts, *nc)
	}

	found := make(map[int64]bool, len(items))
	for _, item := range items {
		found[item.ID] = true
	}
	var missing, present []int64
	for _, id := range batch {
		if found[id] {
			present = append(present, id)
		} else {
			missing = append(missing, id)
		}
	}
	// Rows whose content no longer exists cannot be sent and would be
	// replanned forever.
	if len(missing) > 0 {
		if err := s.queue.MarkFailed(ctx, missing, s.clock.Now()); err != nil {
			return Result{}, storageErr("marking missing items failed", err)
		}
		s.logger.Warn("items missing from repository", "session", sc.ID, "items", missing)
	}

	if len(posts) == 0 {
		return successResult("Success", "Posts are up to date."), nil
	}

	resp, err := withAuthRetry(ctx, s, func() (*MessageResponse, error) {
		return s.remote.Ingest(ctx, posts, sc.Force)
	})
	if err != nil {
		var te *TransportError
		switch {
		case IsAuthError(err), errors.As(err, &te):
			sc.State = StateFailed
			s.logger.Error("batch transmission failed", "session", sc.ID, "batch", batch, "error", err)
		default:
			s.logger.Warn("batch rejected", "session", sc.ID, "batch", batch, "error", err)
		}
		res := errorResult(err)
		if sc.State != StateFailed {
			sc.Rejections = append(sc.Rejections, res)
		}
		return res, nil
	}

	if err := s.queue.MarkSynced(ctx, present, s.clock.Now()); err != nil {
		return Result{}, storageErr("marking batch synced", err)
	}

	s.logger.Info("batch synced", "session", sc.ID, "batch", batch, "sent", len(posts))
	return successResult("Success!", resp.Message), nil
}

// Finish sends the taxonomy terms and closes the session on the remote side.
func (s *SyncService) Finish(ctx context.Context, sc *SessionContext) (Result, error) {
	sc.State = StateFinishing

	if s.opts.CommerceEnabled {
		if err := s.sendTermContents(ctx, sc); err != nil {
			var se *StorageError
			if errors.As(err, &se) {
				return Result{}, err
			}
			s.logger.Warn("sending category contents failed", "session", sc.ID, "error", err)
		}
	}

	terms, err := s.categoryTerms(ctx)
	if err != nil {
		return Result{}, err
	}
	categories := make([]CategoryPayload, len(terms))
	for i, t := range terms {
		categories[i] = CategoryPayload{CategoryID: t.ID, Name: t.Name, Slug: t.Slug}
	}

	if _, err := withAuthRetry(ctx, s, func() (*MessageResponse, error) {
		return s.remote.SendCategories(ctx, categories)
	}); err != nil {
		s.logger.Error("sending categories failed", "session", sc.ID, "error", err)
		return errorResult(err), nil
	}

	_, err = withAuthRetry(ctx, s, func() (*FinishResponse, error) {
		return s.remote.Finish(ctx)
	})
	var rej *RemoteRejection
	if err != nil && !errors.As(err, &rej) {
		s.logger.Error("sync finish failed", "session", sc.ID, "error", err)
		return errorResult(err), nil
	}

	if err := s.state.ClearSessionPlan(ctx); err != nil {
		return Result{}, storageErr("clearing session plan", err)
	}
	sc.State = StateDone

	if rej != nil && rej.Notify {
		s.logger.Warn("sync finished with remaining content", "session", sc.ID, "remain", rej.Remain)
		return warningResult(
			fmt.Sprintf("Error - %d", rej.StatusCode),
			fmt.Sprintf("%s. Remaining Contents- %d", rej.Message, rej.Remain),
		), nil
	}

	s.logger.Info("sync finished", "session", sc.ID)
	return successResult("Sync Finished!", "All pending content has been sent."), nil
}

// RunFullSession pushes all pending content in one call: init, every batch,
// then finish. A session that does not reach DONE is abandoned: its plan is
// cleared and unsent rows stay pending for the next run.
func (s *SyncService) RunFullSession(ctx context.Context, force bool) (Result, error) {
	sc := s.NewSession(force)

	counts, err := s.CountSite(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := s.Init(ctx, sc, counts)
	if err != nil || !res.OK() {
		return res, err
	}

	for sc.HasMore() {
		out, err := s.SendNextBatch(ctx, sc)
		if err != nil {
			return Result{}, err
		}
		if sc.State == StateFailed {
			return s.abandon(ctx, sc, out.Result)
		}
	}

	res, err = s.Finish(ctx, sc)
	if err != nil {
		return Result{}, err
	}
	if sc.State != StateDone {
		sc.State = StateFailed
		return s.abandon(ctx, sc, res)
	}
	if res.Status == ResultSuccess && len(sc.Rejections) > 0 {
		return warningResult("Sync finished with errors",
			fmt.Sprintf("%d batch(es) rejected, first: %s", len(sc.Rejections), sc.Rejections[0].Message)), nil
	}
	return res, nil
}

func (s *SyncService) abandon(ctx context.Context, sc *SessionContext, res Result) (Result, error) {
	if err := s.state.ClearSessionPlan(ctx); err != nil {
		return Result{}, storageErr("clearing session plan", err)
	}
	s.logger.Warn("sync session abandoned", "session", sc.ID, "result", res.String())
	return res, nil
}

// plan computes the batches of a new session.
func (s *SyncService) plan(ctx context.Context, force bool) ([]Batch, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}

	if force {
		n, err := s.queue.ResetSynced(ctx)
		if err != nil {
			return nil, storageErr("resetting synced items", err)
		}
		s.logger.Info("force resync reset synced items", "count", n)
	}

	if settings.Source.ByURLs() {
		ids, err := s.resolveURLList(ctx, settings.Source.URLList)
		if err != nil {
			return nil, err
		}
		return PlanIDs(ids, countLimit(settings.Budget)), nil
	}

	pending, err := s.queue.ListPending(ctx, PendingFilter{})
	if err != nil {
		return nil, storageErr("listing pending items", err)
	}
	return PlanBatches(pending, settings.Budget), nil
}

func (s *SyncService) savePlan(ctx context.Context, sc *SessionContext) error {
	plan := &SessionPlan{
		SessionID: sc.ID,
		Force:     sc.Force,
		Remaining: sc.Remaining,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.state.SaveSessionPlan(ctx, plan); err != nil {
		return storageErr("saving session plan", err)
	}
	return nil
}

// categoryTerms returns standard categories, plus product categories when
// commerce is enabled.
func (s *SyncService) categoryTerms(ctx context.Context) ([]Term, error) {
	terms, err := s.content.ListTerms(ctx, TaxonomyCategory)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	if s.opts.CommerceEnabled {
		products, err := s.content.ListTerms(ctx, TaxonomyProductCategory)
		if err != nil {
			return nil, fmt.Errorf("listing product categories: %w", err)
		}
		terms = append(terms, products...)
	}
	return terms, nil
}

// sendTermContents sends category descriptions as archive pages.
func (s *SyncService) sendTermContents(ctx context.Context, sc *SessionContext) error {
	terms, err := s.categoryTerms(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	var posts []NormalizedContent
	for _, t := range terms {
		if t.Description == "" {
			continue
		}
		posts = append(posts, NormalizedContent{
			ItemID:          t.ID,
			Title:           t.Name,
			RenderedContent: t.Description,
			Builder:         BuilderClassic,
			CategoryIDs:     []int64{t.ID},
			ContentType:     "Category Archive",
			Status:          string(StatusPublished),
			URL:             t.URL,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	if len(posts) == 0 {
		return nil
	}

	_, err = withAuthRetry(ctx, s, func() (*MessageResponse, error) {
		return s.remote.Ingest(ctx, posts, sc.Force)
	})
	return err
}

// withAuthRetry runs call and, on an auth failure, refreshes the token and
// retries exactly once.
func withAuthRetry[T any](ctx context.Context, s *SyncService, call func() (T, error)) (T, error) {
	v, err := call()
	if !IsAuthError(err) {
		return v, err
	}

	s.logger.Warn("access token rejected, re-authenticating", "error", err)
	if aerr := s.remote.Authenticate(ctx); aerr != nil {
		var zero T
		if IsAuthError(aerr) {
			return zero, aerr
		}
		return zero, &AuthError{Err: aerr}
	}
	return call()
}

func countLimit(b Budget) int64 {
	if b.Mode == BudgetCount && b.Limit > 0 {
		return b.Limit
	}
	return DefaultSyncSpeed
}
