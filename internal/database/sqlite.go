package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"linksync/internal/database/migrations"
	"linksync/internal/linksync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// insertChunk bounds the rows of one multi-row INSERT.
const insertChunk = 200

var queueColumns = []string{
	"item_id", "item_kind", "content_type", "content_status",
	"content_size", "sent_status", "synced_at",
}

// SQLiteStore implements the queue and state stores on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	sb   sq.StatementBuilderType
}

// NewSQLiteStore opens the database at path. path can be a file path or
// ":memory:". Migrations are not applied; see Migrate and CheckMigrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db, path), nil
}

// NewSQLiteStoreFromDB wraps an existing, configured connection.
func NewSQLiteStoreFromDB(db *sql.DB, path string) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		path: path,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// OpenConnection opens a SQLite connection with the PRAGMAs the store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Queue operations

func (s *SQLiteStore) UpsertDiscovered(ctx context.Context, items []linksync.DiscoveredItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for start := 0; start < len(items); start += insertChunk {
		end := min(start+insertChunk, len(items))

		q := s.sb.Insert("sync_queue").
			Columns(queueColumns...).
			Suffix("ON CONFLICT(item_id) DO NOTHING")
		for _, it := range items[start:end] {
			q = q.Values(it.ItemID, kindOrDefault(it.Kind), it.ContentType, string(it.ContentStatus),
				it.ContentByteSize, string(linksync.SentPending), nil)
		}

		query, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("building insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("inserting discovered items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting inserted items: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) Requeue(ctx context.Context, item linksync.DiscoveredItem) error {
	query, args, err := s.sb.Insert("sync_queue").
		Columns(queueColumns...).
		Values(item.ItemID, kindOrDefault(item.Kind), item.ContentType, string(item.ContentStatus),
			item.ContentByteSize, string(linksync.SentPending), nil).
		Suffix(`ON CONFLICT(item_id) DO UPDATE SET
			content_status = excluded.content_status,
			content_size = excluded.content_size,
			content_type = CASE WHEN excluded.content_type <> '' THEN excluded.content_type ELSE sync_queue.content_type END,
			sent_status = excluded.sent_status,
			synced_at = NULL`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building requeue: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("requeueing item %d: %w", item.ItemID, err)
	}
	return nil
}

func (s *SQLiteStore) ResetStatusForItem(ctx context.Context, itemID int64) error {
	query, args, err := s.sb.Update("sync_queue").
		Set("sent_status", string(linksync.SentPending)).
		Set("synced_at", nil).
		Where(sq.Eq{"item_id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building reset: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("resetting item %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) ResetSynced(ctx context.Context) (int64, error) {
	query, args, err := s.sb.Update("sync_queue").
		Set("sent_status", string(linksync.SentPending)).
		Set("synced_at", nil).
		Where(sq.Eq{"sent_status": string(linksync.SentSynced)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building reset: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resetting synced items: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListPending(ctx context.Context, filter linksync.PendingFilter) ([]linksync.QueueItem, error) {
	sent := filter.SentStatus
	if sent == "" {
		sent = linksync.SentPending
	}
	statuses := filter.ContentStatuses
	if len(statuses) == 0 {
		statuses = []linksync.ContentStatus{linksync.StatusPublished, linksync.StatusTrashed}
	}
	statusArgs := make([]string, len(statuses))
	for i, st := range statuses {
		statusArgs[i] = string(st)
	}

	query, args, err := s.sb.Select(queueColumns...).
		From("sync_queue").
		Where(sq.Eq{"sent_status": string(sent)}).
		Where(sq.Eq{"content_status": statusArgs}).
		OrderBy("item_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building pending query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending items: %w", err)
	}
	defer rows.Close()

	var items []linksync.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) FindItem(ctx context.Context, itemID int64) (*linksync.QueueItem, error) {
	query, args, err := s.sb.Select(queueColumns...).
		From("sync_queue").
		Where(sq.Eq{"item_id": itemID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building find query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding item %d: %w", itemID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("finding item %d: %w", itemID, err)
		}
		return nil, nil // Not found
	}
	return scanQueueItem(rows)
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, itemIDs []int64, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Trashed items leave the queue once the remote side has seen them.
	query, args, err := s.sb.Delete("sync_queue").
		Where(sq.Eq{"item_id": itemIDs}).
		Where(sq.Eq{"content_status": string(linksync.StatusTrashed)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting trashed items: %w", err)
	}

	query, args, err = s.sb.Update("sync_queue").
		Set("sent_status", string(linksync.SentSynced)).
		Set("synced_at", at.UTC()).
		Where(sq.Eq{"item_id": itemIDs}).
		Where(sq.Eq{"sent_status": string(linksync.SentPending)}).
		Where(sq.Eq{"content_status": string(linksync.StatusPublished)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking items synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, itemIDs []int64, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Update("sync_queue").
		Set("sent_status", string(linksync.SentFailed)).
		Set("synced_at", at.UTC()).
		Where(sq.Eq{"item_id": itemIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking items failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkIgnored(ctx context.Context, itemID int64) error {
	query, args, err := s.sb.Update("sync_queue").
		Set("sent_status", string(linksync.SentIgnored)).
		Where(sq.Eq{"item_id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking item %d ignored: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (linksync.QueueCounts, error) {
	query, args, err := s.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN sent_status = 'pending' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN sent_status = 'synced' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN sent_status = 'failed' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN sent_status = 'ignored' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN sent_status IN ('pending', 'synced') THEN content_size ELSE 0 END), 0)",
	).From("sync_queue").ToSql()
	if err != nil {
		return linksync.QueueCounts{}, fmt.Errorf("building counts query: %w", err)
	}

	var c linksync.QueueCounts
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&c.Total, &c.Pending, &c.Synced, &c.Failed, &c.Ignored, &c.ContentSize)
	if err != nil {
		return linksync.QueueCounts{}, fmt.Errorf("counting queue: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ClearAllAndRecreate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migrations.ClearQueue(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanQueueItem(rows *sql.Rows) (*linksync.QueueItem, error) {
	var (
		item     linksync.QueueItem
		kind     string
		status   string
		sent     string
		syncedAt sql.NullTime
	)
	err := rows.Scan(&item.ItemID, &kind, &item.ContentType, &status,
		&item.ContentByteSize, &sent, &syncedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning queue row: %w", err)
	}
	item.Kind = linksync.ItemKind(kind)
	item.ContentStatus = linksync.ContentStatus(status)
	item.SentStatus = linksync.SentStatus(sent)
	if syncedAt.Valid {
		t := syncedAt.Time
		item.SyncedAt = &t
	}
	return &item, nil
}

func kindOrDefault(k linksync.ItemKind) string {
	if k == "" {
		return string(linksync.KindContent)
	}
	return string(k)
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ linksync.QueueStore   = (*SQLiteStore)(nil)
	_ linksync.StateStore   = (*SQLiteStore)(nil)
	_ linksync.IgnoreMarker = (*SQLiteStore)(nil)
)
