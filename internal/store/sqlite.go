package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added composite index on (is_dummy, ts) for the read path
const currentSchemaVersion = 1

// SQLiteStore is the durable Store backend.
type SQLiteStore struct {
	path string
	opts Options

	mu sync.RWMutex
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns an uninitialized store for the database at path.
func NewSQLiteStore(path string, opts Options) *SQLiteStore {
	return &SQLiteStore{path: path, opts: opts.withDefaults()}
}

// Backend implements Store.
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Init opens the database, applies pragmas and migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode so a returned save is durable
//   - 5-second busy timeout for lock contention
//
// Calling Init on an initialized store is a no-op.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return s.storageErr("init", err)
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return s.storageErr("init", fmt.Errorf("failed to open database: %w", err))
	}

	// Fails here when go-sqlite3 was built without cgo.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return s.storageErr("init", fmt.Errorf("failed to connect to database: %w", err))
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return s.storageErr("init", fmt.Errorf("failed to apply pragmas: %w", err))
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return s.storageErr("init", fmt.Errorf("failed to apply schema: %w", err))
	}

	s.db = db
	s.opts.Logger.Debug("sqlite store ready", "path", s.path)
	return nil
}

// Close closes the database connection. The store can be re-initialized.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// conn returns the open database or a StateError.
func (s *SQLiteStore) conn(op string) (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, &StateError{Op: op, Backend: BackendSQLite}
	}
	return s.db, nil
}

func (s *SQLiteStore) storageErr(op string, err error) error {
	return &StorageError{Op: op, Backend: BackendSQLite, Err: err}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the read-path index. Every query filters on is_dummy
// before ordering by ts.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_events_dummy_ts
		ON events(is_dummy, ts)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	db, err := s.conn("verify pragma")
	if err != nil {
		return err
	}
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
