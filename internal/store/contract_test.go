package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveEventAssignsID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r := createTestRecord("", 1000)

		require.NoError(t, s.SaveEvent(ctx, r))
		assert.NotEmpty(t, r.ID)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, r.ID, events[0].ID)
		assert.JSONEq(t, string(r.Payload), string(events[0].Payload))
		assert.Equal(t, r.Signature, events[0].Signature)
		assert.Equal(t, StatusLocal, events[0].Status)
	})
}

func TestStore_DefaultsStatusToLocal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r := createTestRecord("a", 1)
		r.Status = ""
		require.NoError(t, s.SaveEvent(ctx, r))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusLocal, events[0].Status)
	})
}

func TestStore_LoadOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("old", 100)))
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("tie-first", 200)))
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("newest", 300)))
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("tie-second", 200)))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"newest", "tie-second", "tie-first", "old"}, ids(events))
	})
}

func TestStore_UpsertKeepsInsertionPosition(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := createTestRecord("a", 500)
		b := createTestRecord("b", 500)
		require.NoError(t, s.SaveEvent(ctx, a))
		require.NoError(t, s.SaveEvent(ctx, b))

		a.Status = StatusAnchored
		a.AssetID = "asset-a"
		require.NoError(t, s.SaveEvent(ctx, a))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, []string{"b", "a"}, ids(events))
		assert.Equal(t, StatusAnchored, events[1].Status)
		assert.Equal(t, "asset-a", events[1].AssetID)
	})
}

func TestStore_MarkAnchored(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		done := createTestRecord("done", 3)
		done.Status = StatusAnchored
		done.AssetID = "asset-done-old"
		require.NoError(t, s.SaveEvents(ctx, []*Record{
			createTestRecord("a", 1),
			createTestRecord("b", 2),
			done,
		}))
		require.NoError(t, s.InsertDummy(ctx))

		n, err := s.MarkAnchored(ctx, []AnchorUpdate{
			{ID: "a", AssetID: "asset-a"},
			{ID: "gone", AssetID: "asset-gone"},
			{ID: "done", AssetID: "asset-done-new"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"done", "b", "a"}, ids(events))
		assert.Equal(t, "asset-done-old", events[0].AssetID)
		assert.Equal(t, StatusLocal, events[1].Status)
		assert.Empty(t, events[1].AssetID)
		assert.Equal(t, StatusAnchored, events[2].Status)
		assert.Equal(t, "asset-a", events[2].AssetID)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Total: 4, Local: 1, Anchored: 2, Dummies: 1}, st)
	})
}

func TestStore_MarkAnchoredDoesNotRecreateDeleted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvents(ctx, []*Record{
			createTestRecord("a", utcMillis(2024, 3, 10, 9, 0, 0, 0)),
			createTestRecord("b", utcMillis(2024, 3, 11, 9, 0, 0, 0)),
		}))
		updates := []AnchorUpdate{{ID: "a", AssetID: "asset-a"}, {ID: "b", AssetID: "asset-b"}}

		_, err := s.DeleteByTimestamp(ctx, utcMillis(2024, 3, 10, 12, 0, 0, 0))
		require.NoError(t, err)
		n, err := s.MarkAnchored(ctx, updates)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(events))

		require.NoError(t, s.Nuke(ctx))
		n, err = s.MarkAnchored(ctx, updates)
		require.NoError(t, err)
		assert.Zero(t, n)

		events, err = s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)

		n, err = s.MarkAnchored(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_SaveEventsBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		batch := []*Record{
			createTestRecord("", 10),
			createTestRecord("", 20),
			createTestRecord("keep", 30),
		}
		require.NoError(t, s.SaveEvents(ctx, batch))
		for _, r := range batch {
			assert.NotEmpty(t, r.ID)
		}
		assert.Equal(t, "keep", batch[2].ID)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"keep", batch[1].ID, batch[0].ID}, ids(events))

		require.NoError(t, s.SaveEvents(ctx, nil))
	})
}

func TestStore_SaveEventsIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bad := createTestRecord("bad", 20)
		bad.Payload = json.RawMessage(`{not json`)

		err := s.SaveEvents(ctx, []*Record{createTestRecord("good", 10), bad})
		require.Error(t, err)
		assert.True(t, IsStorageError(err))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestStore_RejectsInvalidStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		r := createTestRecord("x", 1)
		r.Status = "pending"
		err := s.SaveEvent(context.Background(), r)
		require.Error(t, err)
		assert.True(t, IsStorageError(err))
	})
}

func TestStore_DummiesHiddenFromLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("real", 1)))
		for i := 0; i < 3; i++ {
			require.NoError(t, s.InsertDummy(ctx))
		}

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"real"}, ids(events))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Total: 4, Local: 1, Dummies: 3}, st)
	})
}

func TestStore_DeleteByTimestampSameDay(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		records := []*Record{
			createTestRecord("prev-day-end", utcMillis(2024, 3, 9, 23, 59, 59, 999)),
			createTestRecord("day-start", utcMillis(2024, 3, 10, 0, 0, 0, 0)),
			createTestRecord("midday", utcMillis(2024, 3, 10, 13, 30, 0, 0)),
			createTestRecord("day-end", utcMillis(2024, 3, 10, 23, 59, 59, 999)),
			createTestRecord("next-day", utcMillis(2024, 3, 11, 0, 0, 0, 0)),
		}
		require.NoError(t, s.SaveEvents(ctx, records))
		// The fixed test clock stamps this dummy on 2024-03-10.
		require.NoError(t, s.InsertDummy(ctx))

		n, err := s.DeleteByTimestamp(ctx, utcMillis(2024, 3, 10, 8, 0, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"next-day", "prev-day-end"}, ids(events))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Dummies)

		n, err = s.DeleteByTimestamp(ctx, utcMillis(2020, 1, 1, 0, 0, 0, 0))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_DeleteByTimestampUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	ctx := context.Background()

	for _, backend := range []string{BackendSQLite, BackendFile} {
		t.Run(backend, func(t *testing.T) {
			opts := testOptions()
			opts.Backend = backend
			opts.Dir = t.TempDir()
			opts.Location = tokyo
			s, err := Open(ctx, opts)
			require.NoError(t, err)
			defer s.Close()

			// 2024-03-10 20:00 UTC is 2024-03-11 05:00 in UTC+9.
			require.NoError(t, s.SaveEvent(ctx, createTestRecord("late-utc", utcMillis(2024, 3, 10, 20, 0, 0, 0))))
			require.NoError(t, s.SaveEvent(ctx, createTestRecord("early-utc", utcMillis(2024, 3, 10, 10, 0, 0, 0))))

			n, err := s.DeleteByTimestamp(ctx, utcMillis(2024, 3, 11, 1, 0, 0, 0))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			events, err := s.LoadEvents(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"early-utc"}, ids(events))
		})
	}
}

func TestStore_Nuke(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("a", 1)))
		require.NoError(t, s.InsertDummy(ctx))

		require.NoError(t, s.Nuke(ctx))

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Total)

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)

		// Usable after nuke.
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("b", 2)))
		require.NoError(t, s.Nuke(ctx))
		require.NoError(t, s.Nuke(ctx))
	})
}

func TestStore_InitIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("a", 1)))
		require.NoError(t, s.Init(ctx))
		require.NoError(t, s.Init(ctx))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestStore_NotInitialized(t *testing.T) {
	ctx := context.Background()
	stores := []Store{
		NewSQLiteStore(t.TempDir()+"/x.db", testOptions()),
		NewFileStore(t.TempDir(), testOptions()),
	}
	for _, s := range stores {
		t.Run(s.Backend(), func(t *testing.T) {
			err := s.SaveEvent(ctx, createTestRecord("a", 1))
			assert.True(t, IsNotInitialized(err))

			_, err = s.LoadEvents(ctx)
			assert.True(t, IsNotInitialized(err))

			_, err = s.DeleteByTimestamp(ctx, 1)
			assert.True(t, IsNotInitialized(err))

			_, err = s.MarkAnchored(ctx, nil)
			assert.True(t, IsNotInitialized(err))

			assert.True(t, IsNotInitialized(s.Nuke(ctx)))
			assert.True(t, IsNotInitialized(s.InsertDummy(ctx)))
			assert.True(t, IsNotInitialized(s.SaveEvents(ctx, nil)))

			_, err = s.Stats(ctx)
			assert.True(t, IsNotInitialized(err))

			assert.NoError(t, s.Close())
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{BackendSQLite, BackendFile} {
		t.Run(backend, func(t *testing.T) {
			opts := testOptions()
			opts.Backend = backend
			opts.Dir = t.TempDir()

			s, err := Open(ctx, opts)
			require.NoError(t, err)
			require.NoError(t, s.SaveEvent(ctx, createTestRecord("a", 5)))
			require.NoError(t, s.SaveEvent(ctx, createTestRecord("b", 5)))
			require.NoError(t, s.InsertDummy(ctx))
			require.NoError(t, s.Close())

			s, err = Open(ctx, opts)
			require.NoError(t, err)
			defer s.Close()

			events, err := s.LoadEvents(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, ids(events))

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Dummies)
		})
	}
}

func TestStore_LoadReturnsCopies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveEvent(ctx, createTestRecord("a", 1)))

		events, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		events[0].Status = StatusAnchored
		events[0].Payload[0] = 'X'

		again, err := s.LoadEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusLocal, again[0].Status)
		assert.True(t, json.Valid(again[0].Payload))
	})
}
