package store

import (
	"encoding/json"
	"slices"
	"time"
)

// Status is the anchoring state of a record.
type Status string

const (
	// StatusLocal records exist only on this device.
	StatusLocal Status = "local"

	// StatusAnchoring marks a record inside an in-flight batch. It is never
	// persisted by this module but is accepted when read back.
	StatusAnchoring Status = "anchoring"

	// StatusAnchored records have a remote asset on the ledger.
	StatusAnchored Status = "anchored"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusLocal, StatusAnchoring, StatusAnchored:
		return true
	}
	return false
}

// Record is one stored event. Payload holds the encrypted package as JSON,
// or random noise for dummies.
type Record struct {
	ID        string          `json:"id"`
	TS        int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	AssetID   string          `json:"assetId,omitempty"`
	Signature string          `json:"signature,omitempty"`
	IsDummy   bool            `json:"isDummy,omitempty"`
}

// Time returns TS as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.TS)
}

// clone returns a copy that shares no memory with r.
func (r Record) clone() Record {
	r.Payload = slices.Clone(r.Payload)
	return r
}

// AnchorUpdate marks one record as anchored under AssetID.
type AnchorUpdate struct {
	ID      string
	AssetID string
}

// Stats summarizes store contents.
type Stats struct {
	Total    int `json:"total"`
	Local    int `json:"local"`
	Anchored int `json:"anchored"`
	Dummies  int `json:"dummies"`
}

// dayBounds returns [start, end) in ms of the calendar day containing ts in
// loc. Days are computed with time.Date so DST transitions are handled.
func dayBounds(ts int64, loc *time.Location) (int64, int64) {
	t := time.UnixMilli(ts).In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UnixMilli(), end.UnixMilli()
}
