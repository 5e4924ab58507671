package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"linksync/internal/linksync"
)

// Settings records. Each is stored as one JSON document.
const (
	settingBudget = "budget"
	settingSource = "source"
)

// Session plan

func (s *SQLiteStore) LoadSessionPlan(ctx context.Context) (*linksync.SessionPlan, error) {
	query, args, err := s.sb.Select("session_id", "force_sync", "remaining", "updated_at").
		From("sync_session").
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	var (
		plan      linksync.SessionPlan
		remaining string
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&plan.SessionID, &plan.Force, &remaining, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No session in progress
		}
		return nil, fmt.Errorf("loading session plan: %w", err)
	}

	if err := json.Unmarshal([]byte(remaining), &plan.Remaining); err != nil {
		return nil, fmt.Errorf("decoding session plan: %w", err)
	}
	return &plan, nil
}

func (s *SQLiteStore) SaveSessionPlan(ctx context.Context, plan *linksync.SessionPlan) error {
	remaining := plan.Remaining
	if remaining == nil {
		remaining = []linksync.Batch{}
	}
	encoded, err := json.Marshal(remaining)
	if err != nil {
		return fmt.Errorf("encoding session plan: %w", err)
	}

	query, args, err := s.sb.Insert("sync_session").
		Columns("id", "session_id", "force_sync", "remaining", "updated_at").
		Values(1, plan.SessionID, plan.Force, string(encoded), plan.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			force_sync = excluded.force_sync,
			remaining = excluded.remaining,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving session plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSessionPlan(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_session"); err != nil {
		return fmt.Errorf("clearing session plan: %w", err)
	}
	return nil
}

// Settings

// LoadSettings returns nil when neither record has been saved. A single
// missing record is filled with its default.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (*linksync.SyncSettings, error) {
	query, args, err := s.sb.Select("name", "value").
		From("sync_settings").
		Where(sq.Eq{"name": []string{settingBudget, settingSource}}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building settings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	settings := linksync.SyncSettings{Budget: linksync.DefaultBudget()}
	found := 0
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}

		var target any
		switch name {
		case settingBudget:
			target = &settings.Budget
		case settingSource:
			target = &settings.Source
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return nil, fmt.Errorf("decoding %s setting: %w", name, err)
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	if found == 0 {
		return nil, nil
	}
	return &settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings linksync.SyncSettings) error {
	budget, err := json.Marshal(settings.Budget)
	if err != nil {
		return fmt.Errorf("encoding budget: %w", err)
	}
	source, err := json.Marshal(settings.Source)
	if err != nil {
		return fmt.Errorf("encoding source filter: %w", err)
	}

	now := time.Now().UTC()
	query, args, err := s.sb.Insert("sync_settings").
		Columns("name", "value", "updated_at").
		Values(settingBudget, string(budget), now).
		Values(settingSource, string(source), now).
		Suffix("ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building settings upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// Run history

func (s *SQLiteStore) StartRun(ctx context.Context, operation string, at time.Time) (int64, error) {
	query, args, err := s.sb.Insert("sync_runs").
		Columns("operation", "started_at", "status").
		Values(operation, at.UTC(), "running").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building run insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("starting run: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id int64, status, message string, at time.Time) error {
	query, args, err := s.sb.Update("sync_runs").
		Set("finished_at", at.UTC()).
		Set("status", status).
		Set("message", message).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building run update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]linksync.RunRecord, error) {
	q := s.sb.Select("id", "operation", "started_at", "finished_at", "status", "message").
		From("sync_runs").
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building runs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []linksync.RunRecord
	for rows.Next() {
		var (
			r        linksync.RunRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.StartedAt, &finished, &r.Status, &r.Message); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
