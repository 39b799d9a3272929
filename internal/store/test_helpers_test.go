package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// testOptions returns deterministic options: UTC days, a fixed clock and
// sequential ids.
func testOptions() Options {
	var n atomic.Int64
	return Options{
		Location: time.UTC,
		Clock:    func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) },
		NewID:    func() string { return fmt.Sprintf("id-%03d", n.Add(1)) },
	}
}

// createTestSQLiteStore creates an initialized SQLite store in a temp dir.
func createTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), SQLiteFileName), testOptions())
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFileStore creates an initialized file store in a temp dir.
func createTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(t.TempDir(), testOptions())
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachBackend runs fn against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run(BackendSQLite, func(t *testing.T) { fn(t, createTestSQLiteStore(t)) })
	t.Run(BackendFile, func(t *testing.T) { fn(t, createTestFileStore(t)) })
}

// createTestRecord creates a local record with a fake package payload.
func createTestRecord(id string, ts int64) *Record {
	payload, _ := json.Marshal(map[string]string{
		"iv":            "00112233445566778899aabb",
		"encryptedData": fmt.Sprintf("%x", id),
		"authTag":       "0f0e0d0c0b0a09080706050403020100",
	})
	return &Record{
		ID:        id,
		TS:        ts,
		Payload:   payload,
		Status:    StatusLocal,
		Signature: "0x" + fmt.Sprintf("%064x", ts),
	}
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func utcMillis(year int, month time.Month, day, hour, min, sec, ms int) int64 {
	return time.Date(year, month, day, hour, min, sec, ms*int(time.Millisecond), time.UTC).UnixMilli()
}
