package gateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/roach88/locket/internal/anchor"
)

var (
	assetPrefix = []byte("asset/")
	heightKey   = []byte("meta/height")
)

// LedgerConfig configures the BadgerDB world state.
type LedgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// Clock stamps commits. Defaults to time.Now.
	Clock func() time.Time
}

// Commit describes one ledger transaction.
type Commit struct {
	TxID        string
	BlockHeight int64
	Timestamp   int64
}

// Ledger is the anchoring program: an append-only map from asset id to
// asset. Assets are never updated or deleted.
type Ledger struct {
	db    *badger.DB
	clock func() time.Time
	log   *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenLedger opens or creates the world state.
func OpenLedger(cfg LedgerConfig) (*Ledger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("gateway: ledger path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("gateway: create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("gateway: open ledger: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{db: db, clock: clock, log: log}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CreateAsset anchors one hash. It fails with ErrAssetExists if assetID is
// taken.
func (l *Ledger) CreateAsset(ctx context.Context, assetID, userDID, dataHash string) (anchor.Asset, Commit, error) {
	if err := ctx.Err(); err != nil {
		return anchor.Asset{}, Commit{}, err
	}

	var (
		asset  anchor.Asset
		commit Commit
	)
	err := l.db.Update(func(txn *badger.Txn) error {
		exists, err := assetExists(txn, assetID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("asset %s: %w", assetID, ErrAssetExists)
		}
		commit, err = l.nextCommit(txn)
		if err != nil {
			return err
		}
		asset = anchor.Asset{AssetID: assetID, UserDID: userDID, DataHash: dataHash, Timestamp: commit.Timestamp}
		return putAsset(txn, asset)
	})
	if err != nil {
		return anchor.Asset{}, Commit{}, err
	}
	return asset, commit, nil
}

// CreateAssetBatch anchors every item in one transaction. Items whose
// asset id already exists, including duplicates inside the batch, are
// skipped. The created assets are returned.
func (l *Ledger) CreateAssetBatch(ctx context.Context, items []anchor.BatchItem) ([]anchor.Asset, Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, Commit{}, err
	}

	var (
		created []anchor.Asset
		commit  Commit
	)
	err := l.db.Update(func(txn *badger.Txn) error {
		created = created[:0]
		var err error
		commit, err = l.nextCommit(txn)
		if err != nil {
			return err
		}
		for _, it := range items {
			exists, err := assetExists(txn, it.ID)
			if err != nil {
				return err
			}
			if exists {
				l.log.Warn("asset already exists, skipping", "asset_id", it.ID)
				continue
			}
			asset := anchor.Asset{AssetID: it.ID, UserDID: it.UserDID, DataHash: it.DataHash, Timestamp: commit.Timestamp}
			if err := putAsset(txn, asset); err != nil {
				return err
			}
			created = append(created, asset)
		}
		return nil
	})
	if err != nil {
		return nil, Commit{}, err
	}
	return created, commit, nil
}

// ReadAsset returns the asset or ErrAssetNotFound.
func (l *Ledger) ReadAsset(ctx context.Context, assetID string) (anchor.Asset, error) {
	if err := ctx.Err(); err != nil {
		return anchor.Asset{}, err
	}

	var asset anchor.Asset
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(assetKey(assetID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("asset %s: %w", assetID, ErrAssetNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &asset)
		})
	})
	if err != nil {
		return anchor.Asset{}, err
	}
	return asset, nil
}

// Height returns the number of committed transactions.
func (l *Ledger) Height() (int64, error) {
	var h int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		h, err = readHeight(txn)
		return err
	})
	return h, err
}

// CountAssets returns the number of stored assets.
func (l *Ledger) CountAssets() (int, error) {
	n := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = assetPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// nextCommit bumps the block height inside txn.
func (l *Ledger) nextCommit(txn *badger.Txn) (Commit, error) {
	h, err := readHeight(txn)
	if err != nil {
		return Commit{}, err
	}
	h++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(h))
	if err := txn.Set(heightKey, buf); err != nil {
		return Commit{}, err
	}
	return Commit{
		TxID:        uuid.Must(uuid.NewV7()).String(),
		BlockHeight: h,
		Timestamp:   l.clock().Unix(),
	}, nil
}

func readHeight(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(heightKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var h int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt height value")
		}
		h = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return h, err
}

func assetKey(id string) []byte {
	return append(append([]byte{}, assetPrefix...), id...)
}

func assetExists(txn *badger.Txn, id string) (bool, error) {
	_, err := txn.Get(assetKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func putAsset(txn *badger.Txn, a anchor.Asset) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return txn.Set(assetKey(a.AssetID), raw)
}
