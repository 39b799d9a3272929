package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/locket/internal/crypto"
	"github.com/roach88/locket/internal/engine"
	"github.com/roach88/locket/internal/store"
	"github.com/roach88/locket/internal/testutil"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	day0    = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Backend:  store.BackendSQLite,
		Dir:      t.TempDir(),
		Location: time.UTC,
		Logger:   discard,
		NewID:    testutil.NewSequentialIDs("rec").Next,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// forceSync retries TriggerSync until it is not skipped by a
// write-triggered sync running concurrently.
func forceSync(t *testing.T, s *Session) engine.Report {
	t.Helper()
	var rep engine.Report
	require.Eventually(t, func() bool {
		var err error
		rep, err = s.TriggerSync(context.Background())
		return err == nil && !rep.Skipped
	}, 5*time.Second, 10*time.Millisecond)
	return rep
}

func testKeyHex(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

// openSession opens a session over a fresh store and closes it at cleanup.
func openSession(t *testing.T, opts ...Option) (*Session, string) {
	t.Helper()
	keyHex := testKeyHex(t)
	s := New(newTestStore(t), append([]Option{
		WithLogger(discard),
		WithClock(testutil.NewStepClock(day0, time.Second).Now),
	}, opts...)...)
	require.NoError(t, s.Open(context.Background(), keyHex))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, keyHex
}

func weekOfEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Value: map[string]any{"flow": "medium", "day": i},
			TS:    day0.AddDate(0, 0, i).UnixMilli(),
		}
	}
	return entries
}

func TestSession_NotReadyBeforeOpen(t *testing.T) {
	s := New(newTestStore(t), WithLogger(discard), WithRemote(testutil.NewFakeAnchorer()))
	ctx := context.Background()

	calls := map[string]func() error{
		"inscribe": func() error { _, err := s.Inscribe(ctx, "x", 0); return err },
		"batch":    func() error { _, err := s.BatchInscribe(ctx, weekOfEntries(1)); return err },
		"events":   func() error { _, err := s.Events(ctx); return err },
		"stats":    func() error { _, err := s.Stats(ctx); return err },
		"decrypt":  func() error { _, err := s.Decrypt(store.Record{}); return err },
		"delete":   func() error { _, err := s.DeleteByTimestamp(ctx, 1); return err },
		"nuke":     func() error { return s.Nuke(ctx) },
		"sync":     func() error { _, err := s.TriggerSync(ctx); return err },
		"verify":   func() error { _, err := s.Verify(ctx, store.Record{AssetID: "a"}); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, IsNotReady(err))
			assert.ErrorIs(t, err, ErrNotReady)
		})
	}
}

func TestSession_OpenRejectsBadKey(t *testing.T) {
	s := New(newTestStore(t), WithLogger(discard))
	defer s.Close(context.Background())

	err := s.Open(context.Background(), "not-hex")
	require.Error(t, err)
	assert.True(t, crypto.IsBadKey(err))

	_, err = s.Events(context.Background())
	assert.True(t, IsNotReady(err))
}

func TestSession_InscribeAndDecrypt(t *testing.T) {
	s, _ := openSession(t)
	ctx := context.Background()

	value := map[string]any{"mood": "ok", "notes": "café"}
	r, err := s.Inscribe(ctx, value, 0)
	require.NoError(t, err)
	assert.Equal(t, day0.UnixMilli(), r.TS, "zero ts takes the clock")
	assert.Equal(t, store.StatusLocal, r.Status)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, r.Signature)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, r.ID, events[0].ID)

	got, err := s.Decrypt(events[0])
	require.NoError(t, err)
	assert.Equal(t, value, got)

	pkg, err := crypto.ParsePackage(events[0].Payload)
	require.NoError(t, err)
	hash, err := crypto.IntegrityHash(pkg)
	require.NoError(t, err)
	assert.Equal(t, r.Signature, hash)
}

func TestSession_DecryptTampered(t *testing.T) {
	s, _ := openSession(t)
	r, err := s.Inscribe(context.Background(), "secret", 0)
	require.NoError(t, err)

	var pkg map[string]string
	require.NoError(t, json.Unmarshal(r.Payload, &pkg))
	pkg["authTag"] = "00000000000000000000000000000000"
	r.Payload, _ = json.Marshal(pkg)

	_, err = s.Decrypt(r)
	require.Error(t, err)
	assert.True(t, crypto.IsAuthFailed(err))
}

func TestSession_BatchInscribeTriggersSync(t *testing.T) {
	f := testutil.NewFakeAnchorer()
	s, _ := openSession(t, WithRemote(f))

	records, err := s.BatchInscribe(context.Background(), weekOfEntries(engine.Threshold))
	require.NoError(t, err)
	require.Len(t, records, engine.Threshold)

	require.Eventually(t, func() bool {
		events, err := s.Events(context.Background())
		if err != nil {
			return false
		}
		for _, e := range events {
			if e.Status != store.StatusAnchored {
				return false
			}
		}
		return len(events) == engine.Threshold
	}, 5*time.Second, 10*time.Millisecond)

	batches := f.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], engine.Threshold)
	assert.Equal(t, DefaultIdentity, batches[0][0].UserDID)
}

func TestSession_InscribeBelowThresholdStaysLocal(t *testing.T) {
	f := testutil.NewFakeAnchorer()
	s, _ := openSession(t, WithRemote(f))

	settled := make(chan struct{}, 8)
	s.OnStatusChange(func(syncing bool) {
		if !syncing {
			settled <- struct{}{}
		}
	})

	_, err := s.Inscribe(context.Background(), "one", 0)
	require.NoError(t, err)

	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("requested sync never ran")
	}
	assert.Empty(t, f.Batches())
	assert.False(t, s.Syncing())
}

func TestSession_TriggerSync(t *testing.T) {
	f := testutil.NewFakeAnchorer()
	s, _ := openSession(t, WithRemote(f))
	ctx := context.Background()

	_, err := s.BatchInscribe(ctx, weekOfEntries(2))
	require.NoError(t, err)

	rep := forceSync(t, s)
	assert.Equal(t, 2, rep.Anchored)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	for _, e := range events {
		assert.Equal(t, store.StatusAnchored, e.Status)
		assert.Equal(t, engine.AssetIDPrefix+e.ID, e.AssetID)
	}
}

func TestSession_Offline(t *testing.T) {
	s, _ := openSession(t)
	ctx := context.Background()

	_, err := s.Inscribe(ctx, "local only", 0)
	require.NoError(t, err)

	_, err = s.TriggerSync(ctx)
	assert.ErrorIs(t, err, ErrOffline)
	_, err = s.Verify(ctx, store.Record{AssetID: "asset-x"})
	assert.ErrorIs(t, err, ErrOffline)
	assert.False(t, s.Syncing())
}

func TestSession_Verify(t *testing.T) {
	f := testutil.NewFakeAnchorer()
	s, _ := openSession(t, WithRemote(f))
	ctx := context.Background()

	r, err := s.Inscribe(ctx, "proof", 0)
	require.NoError(t, err)

	_, err = s.Verify(ctx, r)
	assert.ErrorIs(t, err, ErrNotAnchored)

	forceSync(t, s)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	anchored := events[0]

	v, err := s.Verify(ctx, anchored)
	require.NoError(t, err)
	assert.True(t, v.Found)
	assert.True(t, v.Verified)
	assert.Equal(t, anchored.Signature, v.RemoteHash)

	// Locally modified payload no longer matches the anchor.
	var pkg map[string]string
	require.NoError(t, json.Unmarshal(anchored.Payload, &pkg))
	pkg["authTag"] = strings.Repeat("ab", 16)
	tampered := anchored
	tampered.Payload, _ = json.Marshal(pkg)

	v, err = s.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.True(t, v.Found)
	assert.False(t, v.Verified)
}

func TestSession_VerifyCache(t *testing.T) {
	f := testutil.NewFakeAnchorer()
	s, _ := openSession(t, WithRemote(f), WithVerifyTTL(time.Hour))
	ctx := context.Background()

	r, err := s.Inscribe(ctx, "cached", 0)
	require.NoError(t, err)
	r.Status = store.StatusAnchored
	r.AssetID = "asset-manual"

	v, err := s.Verify(ctx, r)
	require.NoError(t, err)
	assert.False(t, v.Found, "misses are not cached")

	f.Tamper("asset-manual", r.Signature)
	v, err = s.Verify(ctx, r)
	require.NoError(t, err)
	assert.True(t, v.Verified)

	f.Tamper("asset-manual", "0xother")
	v, err = s.Verify(ctx, r)
	require.NoError(t, err)
	assert.True(t, v.Verified, "hit served from cache")
}

func TestSession_DeleteByTimestamp(t *testing.T) {
	s, _ := openSession(t)
	ctx := context.Background()

	_, err := s.BatchInscribe(ctx, weekOfEntries(7))
	require.NoError(t, err)

	n, err := s.DeleteByTimestamp(ctx, day0.AddDate(0, 0, 3).Add(5*time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 6)
	for _, e := range events {
		assert.NotEqual(t, day0.AddDate(0, 0, 3).UnixMilli(), e.TS)
	}
}

func TestSession_RemovalDuringSyncStaysRemoved(t *testing.T) {
	tests := []struct {
		name   string
		remove func(ctx context.Context, s *Session) error
		left   int
	}{
		{
			name:   "nuke",
			remove: func(ctx context.Context, s *Session) error { return s.Nuke(ctx) },
			left:   0,
		},
		{
			name: "delete one day",
			remove: func(ctx context.Context, s *Session) error {
				_, err := s.DeleteByTimestamp(ctx, day0.AddDate(0, 0, 3).UnixMilli())
				return err
			},
			left: engine.Threshold - 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFakeAnchorer()
			f.Gate = make(chan struct{})
			f.Entered = make(chan struct{}, 1)
			s, _ := openSession(t, WithRemote(f))
			ctx := context.Background()

			completed := make(chan engine.Report, 1)
			s.OnSyncComplete(func(r engine.Report) { completed <- r })

			_, err := s.BatchInscribe(ctx, weekOfEntries(engine.Threshold))
			require.NoError(t, err)

			select {
			case <-f.Entered:
			case <-time.After(5 * time.Second):
				t.Fatal("write-triggered sync never reached the control-plane")
			}
			require.NoError(t, tt.remove(ctx, s))

			events, err := s.Events(ctx)
			require.NoError(t, err)
			require.Len(t, events, tt.left)

			close(f.Gate)
			select {
			case rep := <-completed:
				assert.Equal(t, tt.left, rep.Anchored)
			case <-time.After(5 * time.Second):
				t.Fatal("sync never completed")
			}

			events, err = s.Events(ctx)
			require.NoError(t, err)
			assert.Len(t, events, tt.left)
			for _, e := range events {
				assert.Equal(t, store.StatusAnchored, e.Status)
			}
		})
	}
}

func TestSession_Nuke(t *testing.T) {
	s, _ := openSession(t)
	ctx := context.Background()

	_, err := s.BatchInscribe(ctx, weekOfEntries(3))
	require.NoError(t, err)
	require.NoError(t, s.Nuke(ctx))

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSession_NukeAll(t *testing.T) {
	s, _ := openSession(t, WithRemote(testutil.NewFakeAnchorer()))
	ctx := context.Background()

	_, err := s.Inscribe(ctx, "gone", 0)
	require.NoError(t, err)
	require.NoError(t, s.NukeAll(ctx))

	_, err = s.Inscribe(ctx, "after", 0)
	assert.True(t, IsNotReady(err))

	require.NoError(t, s.Open(ctx, testKeyHex(t)))
	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSession_Identity(t *testing.T) {
	s := New(newTestStore(t), WithIdentity("  did:locket:café "))
	assert.Equal(t, "did:locket:café", s.Identity())

	s = New(newTestStore(t), WithIdentity("   "))
	assert.Equal(t, DefaultIdentity, s.Identity())
}

func TestSession_PaddingIsInvisible(t *testing.T) {
	s, _ := openSession(t, WithPadding(time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	_, err := s.Inscribe(ctx, "real", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := s.Stats(ctx)
		return err == nil && st.Dummies >= 3
	}, 5*time.Second, 5*time.Millisecond)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSession_CloseWipesKey(t *testing.T) {
	keyHex := testKeyHex(t)
	s := New(newTestStore(t), WithLogger(discard), WithRemote(testutil.NewFakeAnchorer()))
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, keyHex))
	require.NoError(t, s.Open(ctx, keyHex), "open is idempotent")

	require.NoError(t, s.Close(ctx))
	_, err := s.Inscribe(ctx, "late", 0)
	assert.True(t, IsNotReady(err))
}
