package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store is the durable record store used by the session and sync engine.
//
// All methods except Init, Backend and Close fail with *StateError until
// Init succeeded.
type Store interface {
	// Init prepares the backend. Idempotent.
	Init(ctx context.Context) error

	// SaveEvent upserts r by id. An empty id is generated and written back
	// into r. The record is durable when SaveEvent returns.
	SaveEvent(ctx context.Context, r *Record) error

	// SaveEvents upserts all records in one atomic write. Empty ids are
	// generated and written back.
	SaveEvents(ctx context.Context, rs []*Record) error

	// MarkAnchored sets status anchored and the asset id of every listed
	// record that still exists with status local, in one atomic write.
	// Records deleted or nuked in the meantime stay deleted. Returns how
	// many records were updated.
	MarkAnchored(ctx context.Context, us []AnchorUpdate) (int, error)

	// LoadEvents returns every non-dummy record, TS descending. Among equal
	// TS the most recently inserted comes first, where insertion means the
	// first save of an id: a later upsert keeps the original position.
	LoadEvents(ctx context.Context) ([]Record, error)

	// DeleteByTimestamp deletes the non-dummy records on the same local
	// calendar day as ts and returns how many were deleted.
	DeleteByTimestamp(ctx context.Context, ts int64) (int, error)

	// Nuke deletes every record, dummies included.
	Nuke(ctx context.Context) error

	// InsertDummy writes one padding record of random noise.
	InsertDummy(ctx context.Context) error

	// Stats counts records by kind.
	Stats(ctx context.Context) (Stats, error)

	// Backend names the implementation: "sqlite" or "file".
	Backend() string

	Close() error
}

// Backend selectors for Options.Backend.
const (
	BackendAuto   = "auto"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

const (
	// SQLiteFileName is the database file created inside Options.Dir.
	SQLiteFileName = "locket.db"

	// EventsFileName is the JSON file used by the file backend.
	EventsFileName = "events.json"
)

// Options configure a store.
type Options struct {
	// Backend is one of BackendAuto (default), BackendSQLite, BackendFile.
	Backend string

	// Dir holds the database or events file. Created if missing.
	Dir string

	// Location defines calendar days for DeleteByTimestamp.
	// Defaults to time.Local.
	Location *time.Location

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock stamps dummy records. Defaults to time.Now.
	Clock func() time.Time

	// NewID generates record ids. Defaults to UUIDv7.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendAuto
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewID == nil {
		o.NewID = newRecordID
	}
	return o
}

// newRecordID returns a UUIDv7; its time prefix keeps ids roughly sortable.
func newRecordID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Open creates and initializes the store selected by opts.Backend.
//
// In auto mode a SQLite initialization failure is logged and the file
// backend is used instead.
func Open(ctx context.Context, opts Options) (Store, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, fmt.Errorf("store: data directory is required")
	}

	switch opts.Backend {
	case BackendSQLite:
		return initStore(ctx, NewSQLiteStore(filepath.Join(opts.Dir, SQLiteFileName), opts))
	case BackendFile:
		return initStore(ctx, NewFileStore(opts.Dir, opts))
	case BackendAuto:
		s, err := initStore(ctx, NewSQLiteStore(filepath.Join(opts.Dir, SQLiteFileName), opts))
		if err == nil {
			return s, nil
		}
		opts.Logger.Warn("sqlite store unavailable, falling back to file store",
			"dir", opts.Dir,
			"error", err,
		)
		return initStore(ctx, NewFileStore(opts.Dir, opts))
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}

func initStore(ctx context.Context, s Store) (Store, error) {
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
