package database

import (
	"fmt"
	"os"
	"path/filepath"

	"linksync/internal/config"
)

// dbFileName is the queue database file inside data_dir.
const dbFileName = "linksync.db"

// NewStoreFromConfig opens the store selected by cfg.Type and applies
// pending migrations.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, dbFileName)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return store, nil
}
