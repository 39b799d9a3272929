package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/locket/internal/store"
	"github.com/roach88/locket/internal/testutil"
)

func startWorker(t *testing.T, e *Engine, interval time.Duration) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, interval) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestRun_RequestBelowThresholdDoesNothing(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, 3)
	f := testutil.NewFakeAnchorer()
	e := newTestEngine(s, f)

	var transitions []bool
	done := make(chan struct{})
	e.OnStatusChange(func(syncing bool) {
		transitions = append(transitions, syncing)
		if !syncing {
			close(done)
		}
	})

	stop := startWorker(t, e, 0)
	e.Request(false)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no sync ran")
	}
	assert.ErrorIs(t, stop(), context.Canceled)

	assert.Empty(t, f.Batches())
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestRun_ForcedRequestAnchors(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, 2)
	f := testutil.NewFakeAnchorer()
	e := newTestEngine(s, f)

	stop := startWorker(t, e, 0)
	defer stop()

	e.Request(true)
	require.Eventually(t, func() bool {
		return statuses(t, s)[store.StatusAnchored] == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRequest_Coalesces(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, 2)
	f := testutil.NewFakeAnchorer()
	e := newTestEngine(s, f)

	// No worker yet: requests park in the single slot.
	e.Request(false)
	e.Request(false)
	e.Request(true)
	e.Request(false)

	completed := make(chan Report, 4)
	e.OnSyncComplete(func(r Report) { completed <- r })

	stop := startWorker(t, e, 0)
	defer stop()

	select {
	case r := <-completed:
		assert.True(t, r.Forced, "a forced request upgrades the parked one")
	case <-time.After(5 * time.Second):
		t.Fatal("parked request never ran")
	}

	// Give a second (wrongly queued) sync a chance to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.Batches(), 1)
}

func TestRun_TickerFiresThresholdSync(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, Threshold)
	f := testutil.NewFakeAnchorer()
	e := newTestEngine(s, f)

	stop := startWorker(t, e, 10*time.Millisecond)
	defer stop()

	require.Eventually(t, func() bool {
		return statuses(t, s)[store.StatusAnchored] == Threshold
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, f.Batches(), 1)
}

func TestRun_FailureKeepsLoopAlive(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, 1)
	f := testutil.NewFakeAnchorer()
	f.SetErr(errors.New("gateway down"))
	e := newTestEngine(s, f)

	stop := startWorker(t, e, 0)
	defer stop()

	e.Request(true)
	require.Eventually(t, func() bool { return len(f.Batches()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !e.Syncing() }, 5*time.Second, 10*time.Millisecond)

	f.SetErr(nil)
	e.Request(true)
	require.Eventually(t, func() bool {
		return statuses(t, s)[store.StatusAnchored] == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_InFlightBatchSurvivesCancel(t *testing.T) {
	s := setupTestStore(t)
	seed(t, s, 1)
	f := testutil.NewFakeAnchorer()
	f.Gate = make(chan struct{})
	f.Entered = make(chan struct{}, 1)
	e := newTestEngine(s, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 0) }()

	e.Request(true)
	<-f.Entered
	cancel()
	close(f.Gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, statuses(t, s)[store.StatusAnchored])
}
