package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/roach88/locket/internal/anchor"
	"github.com/roach88/locket/internal/crypto"
	"github.com/roach88/locket/internal/engine"
	"github.com/roach88/locket/internal/store"
)

// Entry is one value of a batch inscription. A zero TS means now.
type Entry struct {
	Value any
	TS    int64
}

// Inscribe encrypts value, stores it as a signed local record and requests
// an opportunistic sync. A zero ts means now.
func (s *Session) Inscribe(ctx context.Context, value any, ts int64) (store.Record, error) {
	key, err := s.acquire("inscribe")
	if err != nil {
		return store.Record{}, err
	}

	r, err := s.seal(value, ts, key)
	if err != nil {
		return store.Record{}, err
	}
	if err := s.store.SaveEvent(ctx, &r); err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("event inscribed", "id", r.ID, "ts", r.TS)

	s.requestSync()
	return r, nil
}

// BatchInscribe encrypts every entry and stores them in one atomic write,
// then requests an opportunistic sync. Nothing is stored if any entry
// fails to encrypt.
func (s *Session) BatchInscribe(ctx context.Context, entries []Entry) ([]store.Record, error) {
	key, err := s.acquire("batch_inscribe")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	records := make([]store.Record, len(entries))
	ptrs := make([]*store.Record, len(entries))
	for i, e := range entries {
		r, err := s.seal(e.Value, e.TS, key)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records[i] = r
		ptrs[i] = &records[i]
	}
	if err := s.store.SaveEvents(ctx, ptrs); err != nil {
		return nil, err
	}
	s.logger.Debug("batch inscribed", "count", len(records))

	s.requestSync()
	return records, nil
}

// seal encrypts value and builds an unsaved local record.
func (s *Session) seal(value any, ts int64, key *crypto.Key) (store.Record, error) {
	if ts == 0 {
		ts = s.now().UnixMilli()
	}
	pkg, err := crypto.Encrypt(value, key)
	if err != nil {
		return store.Record{}, err
	}
	hash, err := crypto.IntegrityHash(pkg)
	if err != nil {
		return store.Record{}, err
	}
	payload, err := json.Marshal(pkg)
	if err != nil {
		return store.Record{}, fmt.Errorf("marshal package: %w", err)
	}
	return store.Record{
		TS:        ts,
		Payload:   payload,
		Status:    store.StatusLocal,
		Signature: hash,
	}, nil
}

// Events returns every real record, newest first.
func (s *Session) Events(ctx context.Context) ([]store.Record, error) {
	if _, err := s.acquire("events"); err != nil {
		return nil, err
	}
	return s.store.LoadEvents(ctx)
}

// Stats counts stored records, dummies included.
func (s *Session) Stats(ctx context.Context) (store.Stats, error) {
	if _, err := s.acquire("stats"); err != nil {
		return store.Stats{}, err
	}
	return s.store.Stats(ctx)
}

// Decrypt opens the payload of r. Tampering is reported as a crypto error,
// never as empty data.
func (s *Session) Decrypt(r store.Record) (any, error) {
	key, err := s.acquire("decrypt")
	if err != nil {
		return nil, err
	}
	pkg, err := crypto.ParsePackage(r.Payload)
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(pkg, key)
}

// DeleteByTimestamp deletes the local records of the calendar day of ts.
// Hashes already anchored stay on the ledger.
func (s *Session) DeleteByTimestamp(ctx context.Context, ts int64) (int, error) {
	if _, err := s.acquire("delete"); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteByTimestamp(ctx, ts)
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted events for day", "ts", ts, "deleted", n)
	return n, nil
}

// Nuke deletes every local record.
func (s *Session) Nuke(ctx context.Context) error {
	if _, err := s.acquire("nuke"); err != nil {
		return err
	}
	if err := s.store.Nuke(ctx); err != nil {
		return err
	}
	s.verified.Flush()
	s.logger.Warn("ledger nuked")
	return nil
}

// NukeAll deletes every local record and wipes the key. The session
// stays closed until Open is called with a key again.
func (s *Session) NukeAll(ctx context.Context) error {
	if err := s.Nuke(ctx); err != nil {
		return err
	}

	s.shutdown(ctx)
	s.logger.Warn("ledger and key wiped")
	return nil
}

// TriggerSync anchors every pending record now, regardless of the
// threshold, and waits for the result.
func (s *Session) TriggerSync(ctx context.Context) (engine.Report, error) {
	if _, err := s.acquire("sync"); err != nil {
		return engine.Report{}, err
	}
	if s.engine == nil {
		return engine.Report{}, ErrOffline
	}
	return s.engine.ForceSync(ctx)
}

// Verify compares the anchored hash of r with the hash of its current
// payload. Positive lookups are cached for the configured TTL.
func (s *Session) Verify(ctx context.Context, r store.Record) (anchor.Verification, error) {
	if _, err := s.acquire("verify"); err != nil {
		return anchor.Verification{}, err
	}
	if s.remote == nil {
		return anchor.Verification{}, ErrOffline
	}
	if r.AssetID == "" {
		return anchor.Verification{}, fmt.Errorf("session: verify %s: %w", r.ID, ErrNotAnchored)
	}

	pkg, err := crypto.ParsePackage(r.Payload)
	if err != nil {
		return anchor.Verification{}, err
	}
	localHash, err := crypto.IntegrityHash(pkg)
	if err != nil {
		return anchor.Verification{}, err
	}

	cacheKey := r.AssetID + "|" + localHash
	if v, ok := s.verified.Get(cacheKey); ok {
		return v.(anchor.Verification), nil
	}

	v, err := s.remote.Verify(ctx, r.AssetID, localHash)
	if err != nil {
		return anchor.Verification{}, err
	}
	if v.Found {
		s.verified.Set(cacheKey, v, cache.DefaultExpiration)
	}
	if !v.Verified {
		s.logger.Warn("anchored hash mismatch",
			"id", r.ID,
			"asset_id", r.AssetID,
			"found", v.Found,
		)
	}
	return v, nil
}
