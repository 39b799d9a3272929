package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// lockSuffix names the advisory lock file next to the events file.
	lockSuffix = ".lock"

	lockRetryDelay = 10 * time.Millisecond
	lockTimeout    = 10 * time.Second
)

// FileStore keeps records in a single JSON file.
//
// Every operation takes an advisory lock on a sibling lock file and re-reads
// the events file under it, so several processes can share one directory.
// Reads take a shared lock, mutations an exclusive one. A mutation builds
// the complete new record list, writes it to a temp file, fsyncs and renames
// it over the old file. A crash leaves either the old or the new file, never
// partial JSON.
type FileStore struct {
	dir  string
	path string
	opts Options
	lock *flock.Flock

	mu    sync.Mutex
	ready bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns an uninitialized store rooted at dir.
func NewFileStore(dir string, opts Options) *FileStore {
	path := filepath.Join(dir, EventsFileName)
	return &FileStore{
		dir:  dir,
		path: path,
		opts: opts.withDefaults(),
		lock: flock.New(path + lockSuffix),
	}
}

// Backend implements Store.
func (s *FileStore) Backend() string { return BackendFile }

// Path returns the events file location.
func (s *FileStore) Path() string { return s.path }

// Init implements Store. It loads the events file if present.
//
// A file that cannot be parsed is logged and treated as empty; it is
// replaced on the next mutation. Records missing an id get one, and the
// backfill is persisted once.
func (s *FileStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return s.storageErr("init", err)
	}

	err := s.locked(ctx, "init", true, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		backfilled := 0
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = s.opts.NewID()
				backfilled++
			}
		}
		if backfilled == 0 {
			return nil
		}
		if err := s.writeFile(dedupe(records)); err != nil {
			return err
		}
		s.opts.Logger.Info("backfilled record ids", "path", s.path, "count", backfilled)
		return nil
	})
	if err != nil {
		return err
	}
	s.ready = true
	return nil
}

// Close implements Store. The store can be re-initialized.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	if err := s.lock.Close(); err != nil {
		return s.storageErr("close", err)
	}
	return nil
}

// SaveEvent implements Store.
func (s *FileStore) SaveEvent(ctx context.Context, r *Record) error {
	return s.SaveEvents(ctx, []*Record{r})
}

// SaveEvents implements Store.
func (s *FileStore) SaveEvents(ctx context.Context, rs []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return &StateError{Op: "save events", Backend: BackendFile}
	}
	if len(rs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range rs {
		if err := prepareRecord(r, s.opts.NewID); err != nil {
			return s.storageErr("save events", err)
		}
		if _, err := marshalPayload(r.Payload); err != nil {
			return s.storageErr("save events", fmt.Errorf("record %s: %w", r.ID, err))
		}
	}

	return s.locked(ctx, "save events", true, func() error {
		next, err := s.load()
		if err != nil {
			return err
		}
		pos := indexByID(next)
		for _, r := range rs {
			if i, ok := pos[r.ID]; ok {
				next[i] = r.clone()
				continue
			}
			pos[r.ID] = len(next)
			next = append(next, r.clone())
		}
		return s.writeFile(next)
	})
}

// MarkAnchored implements Store.
func (s *FileStore) MarkAnchored(ctx context.Context, us []AnchorUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, &StateError{Op: "mark anchored", Backend: BackendFile}
	}
	if len(us) == 0 {
		return 0, nil
	}

	updated := 0
	err := s.locked(ctx, "mark anchored", true, func() error {
		next, err := s.load()
		if err != nil {
			return err
		}
		pos := indexByID(next)
		for _, u := range us {
			i, ok := pos[u.ID]
			if !ok || next[i].IsDummy || next[i].Status != StatusLocal {
				continue
			}
			next[i].Status = StatusAnchored
			next[i].AssetID = u.AssetID
			updated++
		}
		if updated == 0 {
			return nil
		}
		return s.writeFile(next)
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// LoadEvents implements Store.
func (s *FileStore) LoadEvents(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, &StateError{Op: "load events", Backend: BackendFile}
	}

	var records []Record
	err := s.locked(ctx, "load events", false, func() error {
		var err error
		records, err = s.load()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(records))
	// Newest insertion first, then a stable sort keeps that order within
	// equal timestamps.
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].IsDummy {
			out = append(out, records[i])
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		return cmp.Compare(b.TS, a.TS)
	})
	return out, nil
}

// DeleteByTimestamp implements Store. Dummies on that day are kept.
func (s *FileStore) DeleteByTimestamp(ctx context.Context, ts int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, &StateError{Op: "delete by timestamp", Backend: BackendFile}
	}

	start, end := dayBounds(ts, s.opts.Location)
	deleted := 0
	err := s.locked(ctx, "delete by timestamp", true, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		next := make([]Record, 0, len(records))
		for _, r := range records {
			if !r.IsDummy && r.TS >= start && r.TS < end {
				continue
			}
			next = append(next, r)
		}
		deleted = len(records) - len(next)
		if deleted == 0 {
			return nil
		}
		return s.writeFile(next)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Nuke implements Store. The events file is removed.
func (s *FileStore) Nuke(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return &StateError{Op: "nuke", Backend: BackendFile}
	}
	return s.locked(ctx, "nuke", true, func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return s.storageErr("nuke", err)
		}
		syncDir(s.dir)
		return nil
	})
}

// InsertDummy implements Store.
func (s *FileStore) InsertDummy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return &StateError{Op: "insert dummy", Backend: BackendFile}
	}
	r, err := newDummyRecord(s.opts.NewID(), s.opts.Clock().UnixMilli())
	if err != nil {
		return s.storageErr("insert dummy", err)
	}
	return s.locked(ctx, "insert dummy", true, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		return s.writeFile(append(records, r))
	})
}

// Stats implements Store.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Stats{}, &StateError{Op: "stats", Backend: BackendFile}
	}

	var st Stats
	err := s.locked(ctx, "stats", false, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		st.Total = len(records)
		for _, r := range records {
			switch {
			case r.IsDummy:
				st.Dummies++
			case r.Status == StatusLocal:
				st.Local++
			case r.Status == StatusAnchored:
				st.Anchored++
			}
		}
		return nil
	})
	return st, err
}

// locked runs fn while holding the directory lock, exclusive for
// mutations. Caller holds s.mu.
func (s *FileStore) locked(ctx context.Context, op string, exclusive bool, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	var ok bool
	var err error
	if exclusive {
		ok, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return s.storageErr(op, fmt.Errorf("lock %s: %w", s.lock.Path(), err))
	}
	if !ok {
		return s.storageErr(op, fmt.Errorf("lock %s: not acquired", s.lock.Path()))
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.opts.Logger.Warn("releasing events lock failed", "path", s.lock.Path(), "error", err)
		}
	}()
	return fn()
}

// load reads the events file and normalizes it. An unparsable file is
// logged and read as empty. Caller holds the directory lock.
func (s *FileStore) load() ([]Record, error) {
	records, err := s.readFile()
	if err != nil {
		var se *StorageError
		if !errors.As(err, &se) || se.Op != "parse" {
			return nil, err
		}
		s.opts.Logger.Warn("events file unreadable, starting empty",
			"path", s.path,
			"error", err,
		)
		return nil, nil
	}
	for i := range records {
		if records[i].Status == "" {
			records[i].Status = StatusLocal
		}
	}
	return dedupe(records), nil
}

func (s *FileStore) readFile() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storageErr("read", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, s.storageErr("parse", err)
	}
	return records, nil
}

// writeFile replaces the events file atomically.
func (s *FileStore) writeFile(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return s.storageErr("write", fmt.Errorf("marshal: %w", err))
	}

	tmp, err := os.CreateTemp(s.dir, EventsFileName+".*.tmp")
	if err != nil {
		return s.storageErr("write", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return s.storageErr("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return s.storageErr("write", fmt.Errorf("fsync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return s.storageErr("write", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return s.storageErr("write", fmt.Errorf("rename: %w", err))
	}
	syncDir(s.dir)
	return nil
}

// syncDir fsyncs a directory so a rename inside it is durable.
// Not every platform supports it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func (s *FileStore) storageErr(op string, err error) error {
	return &StorageError{Op: op, Backend: BackendFile, Err: err}
}

func indexByID(records []Record) map[string]int {
	pos := make(map[string]int, len(records))
	for i, r := range records {
		pos[r.ID] = i
	}
	return pos
}

// dedupe keeps the first position of each id and the last value written
// for it. Records without an id are kept as they are.
func dedupe(records []Record) []Record {
	pos := make(map[string]int, len(records))
	out := records[:0:0]
	for _, r := range records {
		if r.ID == "" {
			out = append(out, r)
			continue
		}
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
