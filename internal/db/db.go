package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/eidon/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at dataDir/eidon.db.
// The dataDir parameter allows tests to use t.TempDir() instead of ~/.eidon.
func Init(dataDir string) (*sql.DB, error) {
	// Create data directory with restricted permissions
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	_ = os.Chmod(dataDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(dataDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := Path(dataDir)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// Path returns the database file path under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "eidon.db")
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS archives (
		  id            TEXT PRIMARY KEY,
		  period        TEXT NOT NULL UNIQUE,
		  size_bytes    INTEGER NOT NULL DEFAULT 0,
		  capture_count INTEGER NOT NULL DEFAULT 0,
		  compressed    INTEGER NOT NULL DEFAULT 0,
		  created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
		  id             TEXT PRIMARY KEY,
		  captured_at    INTEGER NOT NULL,
		  app_name       TEXT NOT NULL,
		  window_title   TEXT NOT NULL,
		  url            TEXT NOT NULL DEFAULT '',
		  extracted_text TEXT NOT NULL DEFAULT '',
		  screenshot_ref TEXT NOT NULL,
		  tier           TEXT NOT NULL CHECK (tier IN ('hot', 'cold')),
		  size_bytes     INTEGER NOT NULL,
		  meta_bytes     INTEGER NOT NULL,
		  archive_id     TEXT REFERENCES archives(id),
		  compressed     INTEGER NOT NULL DEFAULT 0,
		  width          INTEGER NOT NULL DEFAULT 0,
		  height         INTEGER NOT NULL DEFAULT 0,
		  fingerprint    INTEGER NOT NULL DEFAULT 0,
		  CHECK ((tier = 'cold') = (archive_id IS NOT NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_entries_captured
		ON entries(captured_at);

		CREATE INDEX IF NOT EXISTS idx_entries_tier_captured
		ON entries(tier, captured_at);

		CREATE INDEX IF NOT EXISTS idx_entries_archive
		ON entries(archive_id, compressed)
		WHERE archive_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_entries_app
		ON entries(app_name, captured_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		  extracted_text, app_name, window_title, url,
		  content='entries', content_rowid='rowid',
		  tokenize='unicode61 remove_diacritics 0'
		);

		CREATE TRIGGER IF NOT EXISTS entries_fts_ai AFTER INSERT ON entries BEGIN
		  INSERT INTO entries_fts(rowid, extracted_text, app_name, window_title, url)
		  VALUES (new.rowid, new.extracted_text, new.app_name, new.window_title, new.url);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_fts_ad AFTER DELETE ON entries BEGIN
		  INSERT INTO entries_fts(entries_fts, rowid, extracted_text, app_name, window_title, url)
		  VALUES ('delete', old.rowid, old.extracted_text, old.app_name, old.window_title, old.url);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_fts_au
		AFTER UPDATE OF extracted_text, app_name, window_title, url ON entries BEGIN
		  INSERT INTO entries_fts(entries_fts, rowid, extracted_text, app_name, window_title, url)
		  VALUES ('delete', old.rowid, old.extracted_text, old.app_name, old.window_title, old.url);
		  INSERT INTO entries_fts(rowid, extracted_text, app_name, window_title, url)
		  VALUES (new.rowid, new.extracted_text, new.app_name, new.window_title, new.url);
		END;

		CREATE TABLE IF NOT EXISTS embeddings (
		  entry_id TEXT PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
		  model    TEXT NOT NULL,
		  dims     INTEGER NOT NULL,
		  vector   BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_embeddings_model
		ON embeddings(model);

		CREATE TABLE IF NOT EXISTS rules (
		  id          TEXT PRIMARY KEY,
		  kind        TEXT NOT NULL,
		  value       TEXT NOT NULL,
		  description TEXT NOT NULL DEFAULT '',
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_kind_value
		ON rules(kind, value);

		CREATE TABLE IF NOT EXISTS storage_usage (
		  id            INTEGER PRIMARY KEY CHECK (id = 1),
		  hot_bytes     INTEGER NOT NULL DEFAULT 0,
		  cold_bytes    INTEGER NOT NULL DEFAULT 0,
		  db_bytes      INTEGER NOT NULL DEFAULT 0,
		  capture_count INTEGER NOT NULL DEFAULT 0
		);

		INSERT OR IGNORE INTO storage_usage (id) VALUES (1);

		CREATE TABLE IF NOT EXISTS meta (
		  key   TEXT PRIMARY KEY,
		  value TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, committing on success and rolling back on error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
