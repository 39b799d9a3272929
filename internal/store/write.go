package store

import (
	"context"
	"database/sql"
	"fmt"
)

// upsertSQL inserts a record or updates every mutable column of an existing
// one. seq is only assigned on first insert.
const upsertSQL = `
	INSERT INTO events (id, ts, payload, status, asset_id, signature, is_dummy, seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events))
	ON CONFLICT(id) DO UPDATE SET
		ts = excluded.ts,
		payload = excluded.payload,
		status = excluded.status,
		asset_id = excluded.asset_id,
		signature = excluded.signature,
		is_dummy = excluded.is_dummy
`

// execer is implemented by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveEvent implements Store.
func (s *SQLiteStore) SaveEvent(ctx context.Context, r *Record) error {
	db, err := s.conn("save event")
	if err != nil {
		return err
	}
	if err := prepareRecord(r, s.opts.NewID); err != nil {
		return s.storageErr("save event", err)
	}
	if err := upsert(ctx, db, r); err != nil {
		return s.storageErr("save event", err)
	}
	return nil
}

// SaveEvents implements Store. All records are written in one transaction.
func (s *SQLiteStore) SaveEvents(ctx context.Context, rs []*Record) error {
	db, err := s.conn("save events")
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return nil
	}
	for _, r := range rs {
		if err := prepareRecord(r, s.opts.NewID); err != nil {
			return s.storageErr("save events", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageErr("save events", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	for _, r := range rs {
		if err := upsert(ctx, tx, r); err != nil {
			return s.storageErr("save events", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageErr("save events", fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func upsert(ctx context.Context, ex execer, r *Record) error {
	payload, err := marshalPayload(r.Payload)
	if err != nil {
		return fmt.Errorf("record %s: %w", r.ID, err)
	}
	_, err = ex.ExecContext(ctx, upsertSQL,
		r.ID,
		r.TS,
		payload,
		string(r.Status),
		nullable(r.AssetID),
		nullable(r.Signature),
		boolInt(r.IsDummy),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", r.ID, err)
	}
	return nil
}

// markAnchoredSQL never inserts: a row deleted while its batch was in
// flight stays deleted.
const markAnchoredSQL = `
	UPDATE events SET status = 'anchored', asset_id = ?
	WHERE id = ? AND status = 'local' AND is_dummy = 0
`

// MarkAnchored implements Store. All updates run in one transaction.
func (s *SQLiteStore) MarkAnchored(ctx context.Context, us []AnchorUpdate) (int, error) {
	db, err := s.conn("mark anchored")
	if err != nil {
		return 0, err
	}
	if len(us) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.storageErr("mark anchored", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	updated := 0
	for _, u := range us {
		res, err := tx.ExecContext(ctx, markAnchoredSQL, u.AssetID, u.ID)
		if err != nil {
			return 0, s.storageErr("mark anchored", fmt.Errorf("update %s: %w", u.ID, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, s.storageErr("mark anchored", err)
		}
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, s.storageErr("mark anchored", fmt.Errorf("commit transaction: %w", err))
	}
	return updated, nil
}

// DeleteByTimestamp implements Store. Dummies on that day are kept.
func (s *SQLiteStore) DeleteByTimestamp(ctx context.Context, ts int64) (int, error) {
	db, err := s.conn("delete by timestamp")
	if err != nil {
		return 0, err
	}
	start, end := dayBounds(ts, s.opts.Location)
	res, err := db.ExecContext(ctx, `
		DELETE FROM events
		WHERE is_dummy = 0 AND ts >= ? AND ts < ?
	`, start, end)
	if err != nil {
		return 0, s.storageErr("delete by timestamp", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.storageErr("delete by timestamp", err)
	}
	return int(n), nil
}

// Nuke implements Store. The WAL is truncated afterwards so deleted pages
// do not linger in it.
func (s *SQLiteStore) Nuke(ctx context.Context) error {
	db, err := s.conn("nuke")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return s.storageErr("nuke", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return s.storageErr("nuke", fmt.Errorf("checkpoint: %w", err))
	}
	return nil
}

// InsertDummy implements Store.
func (s *SQLiteStore) InsertDummy(ctx context.Context) error {
	db, err := s.conn("insert dummy")
	if err != nil {
		return err
	}
	r, err := newDummyRecord(s.opts.NewID(), s.opts.Clock().UnixMilli())
	if err != nil {
		return s.storageErr("insert dummy", err)
	}
	if err := upsert(ctx, db, &r); err != nil {
		return s.storageErr("insert dummy", err)
	}
	return nil
}
