package engine

import (
	"context"
	"time"
)

// Request asks the Run loop for a sync and returns immediately. Requests
// made while one is already parked coalesce into it; a forced request
// upgrades the parked one.
//
// Thread-safe: may be called from any goroutine. A Request made while no
// Run loop is active waits for the next Run.
func (e *Engine) Request(force bool) {
	if force {
		e.forceWanted.Store(true)
	}
	// Non-blocking: the buffer of 1 coalesces multiple wake-ups.
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the single consumer of Request. It also fires a threshold-gated
// sync every interval; interval <= 0 disables the ticker.
// Blocks until ctx is cancelled.
//
// A batch already in flight when ctx is cancelled runs to completion:
// syncs run on a context detached from ctx and are bounded by the anchor
// client's timeout.
//
// ERROR HANDLING: sync failures are logged and the loop continues. The
// failed batch stays local and is retried by the next sync.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.logger.Info("sync worker starting", "interval", interval.String())

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync worker stopping: context cancelled")
			return ctx.Err()

		case <-e.wake:
			e.runOnce(ctx, e.forceWanted.Swap(false))

		case <-tick:
			e.runOnce(ctx, false)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, force bool) {
	syncCtx := context.WithoutCancel(ctx)
	if _, err := e.sync(syncCtx, force); err != nil {
		// Already logged with detail by sync; keep the loop alive.
		e.logger.Debug("background sync failed", "forced", force, "error", err)
	}
}
