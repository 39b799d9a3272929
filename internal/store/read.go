package store

import (
	"context"
	"fmt"
)

// LoadEvents implements Store.
// Ties on ts are broken by seq, so the most recently inserted record wins.
//
// Returns an empty slice (not nil) if no records exist.
func (s *SQLiteStore) LoadEvents(ctx context.Context) ([]Record, error) {
	db, err := s.conn("load events")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, payload, status, asset_id, signature, is_dummy
		FROM events
		WHERE is_dummy = 0
		ORDER BY ts DESC, seq DESC
	`)
	if err != nil {
		return nil, s.storageErr("load events", fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, s.storageErr("load events", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageErr("load events", fmt.Errorf("iterate events: %w", err))
	}
	return records, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	db, err := s.conn("stats")
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_dummy = 0 AND status = 'local' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_dummy = 0 AND status = 'anchored' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_dummy = 1 THEN 1 ELSE 0 END), 0)
		FROM events
	`).Scan(&st.Total, &st.Local, &st.Anchored, &st.Dummies)
	if err != nil {
		return Stats{}, s.storageErr("stats", err)
	}
	return st, nil
}
