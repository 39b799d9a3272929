package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/locket/internal/crypto"
)

// Dummy ciphertext lengths, in bytes. Real events are short JSON documents,
// so noise is drawn from the same range.
const (
	dummyMinBytes = 24
	dummyMaxBytes = 512
)

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads the column list used by every SELECT:
// id, ts, payload, status, asset_id, signature, is_dummy.
func scanRecord(row rowScanner) (Record, error) {
	var (
		r         Record
		payload   string
		status    string
		assetID   sql.NullString
		signature sql.NullString
		isDummy   int
	)
	if err := row.Scan(&r.ID, &r.TS, &payload, &status, &assetID, &signature, &isDummy); err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	r.Payload = json.RawMessage(payload)
	r.Status = Status(status)
	r.AssetID = assetID.String
	r.Signature = signature.String
	r.IsDummy = isDummy != 0
	return r, nil
}

// marshalPayload validates the payload as JSON and returns it as TEXT.
func marshalPayload(p json.RawMessage) (string, error) {
	if len(p) == 0 {
		return "null", nil
	}
	if !json.Valid(p) {
		return "", fmt.Errorf("marshal payload: invalid JSON")
	}
	return string(p), nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// prepareRecord assigns an id and normalizes status before a write.
func prepareRecord(r *Record, newID func() string) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = StatusLocal
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", r.ID, r.Status)
	}
	return nil
}

// newDummyRecord builds a padding record: a noise package shaped like a real
// one and a random signature, so it is indistinguishable at rest.
func newDummyRecord(id string, ts int64) (Record, error) {
	pkg, err := crypto.NoisePackage(dummyMinBytes, dummyMaxBytes)
	if err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(pkg)
	if err != nil {
		return Record{}, fmt.Errorf("marshal dummy: %w", err)
	}
	sig := make([]byte, 32)
	if _, err := rand.Read(sig); err != nil {
		return Record{}, fmt.Errorf("dummy signature: %w", err)
	}
	return Record{
		ID:        id,
		TS:        ts,
		Payload:   payload,
		Status:    StatusLocal,
		Signature: "0x" + hex.EncodeToString(sig),
		IsDummy:   true,
	}, nil
}
