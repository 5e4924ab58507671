package linksync

import (
	"context"
	"time"
)

// PendingFilter selects queue rows for planning. Zero values mean pending rows
// whose content is published or trashed.
type PendingFilter struct {
	SentStatus      SentStatus
	ContentStatuses []ContentStatus
}

// QueueStore is the durable batch queue. Every method fails only on
// storage-layer errors, which callers treat as fatal.
type QueueStore interface {
	// UpsertDiscovered inserts rows that are not tracked yet and leaves existing
	// rows untouched. Returns the number of rows inserted.
	UpsertDiscovered(ctx context.Context, items []DiscoveredItem) (int, error)

	// Requeue inserts the item or refreshes its content status and size, and
	// forces it back to pending.
	Requeue(ctx context.Context, item DiscoveredItem) error

	// ResetStatusForItem forces an existing row back to pending.
	ResetStatusForItem(ctx context.Context, itemID int64) error

	// ResetSynced moves every synced row back to pending. Returns rows changed.
	ResetSynced(ctx context.Context) (int64, error)

	// ListPending returns matching rows in ascending item ID order.
	ListPending(ctx context.Context, filter PendingFilter) ([]QueueItem, error)

	// FindItem returns the row for itemID, or nil if it is not tracked.
	FindItem(ctx context.Context, itemID int64) (*QueueItem, error)

	// MarkSynced transitions pending rows with published content to synced and
	// deletes rows whose content is trashed. All-or-nothing.
	MarkSynced(ctx context.Context, itemIDs []int64, at time.Time) error

	// MarkFailed transitions the rows to failed regardless of content status.
	MarkFailed(ctx context.Context, itemIDs []int64, at time.Time) error

	// MarkIgnored excludes the row from all future planning.
	MarkIgnored(ctx context.Context, itemID int64) error

	// Counts summarizes the queue.
	Counts(ctx context.Context) (QueueCounts, error)

	// ClearAllAndRecreate drops and recreates the whole queue.
	ClearAllAndRecreate(ctx context.Context) error
}

// SessionPlan is the persisted remaining-batches list of an in-progress session.
type SessionPlan struct {
	SessionID string
	Force     bool
	Remaining []Batch
	UpdatedAt time.Time
}

// RunRecord is one entry of the operation history.
type RunRecord struct {
	ID         int64
	Operation  string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Message    string
}

// StateStore persists the session plan, the site settings and the run history.
type StateStore interface {
	// LoadSessionPlan returns the persisted plan, or nil when no session is in progress.
	LoadSessionPlan(ctx context.Context) (*SessionPlan, error)
	SaveSessionPlan(ctx context.Context, plan *SessionPlan) error
	ClearSessionPlan(ctx context.Context) error

	// LoadSettings returns the persisted settings, or nil when none were saved.
	LoadSettings(ctx context.Context) (*SyncSettings, error)
	SaveSettings(ctx context.Context, settings SyncSettings) error

	StartRun(ctx context.Context, operation string, at time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, status, message string, at time.Time) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// IgnoreMarker records normalization exclusions.
type IgnoreMarker interface {
	MarkIgnored(ctx context.Context, itemID int64) error
}
