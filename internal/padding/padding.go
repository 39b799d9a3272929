// Package padding writes dummy records at random intervals so an observer
// of the storage layer cannot infer when real events happen.
package padding

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/roach88/locket/internal/metrics"
)

// Default delay bounds.
const (
	DefaultMinDelay = 60 * time.Second
	DefaultMaxDelay = 300 * time.Second
)

// DummyInserter is the subset of store.Store used by Padding.
type DummyInserter interface {
	InsertDummy(ctx context.Context) error
}

// Padding runs a self-rescheduling loop that inserts one dummy record per
// firing. A failed insert is logged and the loop continues.
type Padding struct {
	inserter DummyInserter
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Padding.
type Option func(*Padding)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Padding) { p.logger = l }
}

// WithMetrics records every dummy write.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Padding) { p.metrics = m }
}

// New creates a stopped Padding.
func New(inserter DummyInserter, opts ...Option) *Padding {
	p := &Padding{
		inserter: inserter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the loop with delays drawn uniformly from [min, max].
// Zero or negative bounds take the defaults; max below min is raised to min.
// Calling Start while running does nothing.
func (p *Padding) Start(min, max time.Duration) {
	if min <= 0 {
		min = DefaultMinDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < min {
		max = min
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	p.logger.Info("traffic padding started", "min_delay", min, "max_delay", max)
	go p.loop(ctx, min, max, p.done)
}

// Stop cancels the pending timer and waits for the loop to exit.
// Stop on a stopped Padding does nothing.
func (p *Padding) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("traffic padding stopped")
}

// Running reports whether the loop is active.
func (p *Padding) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Padding) loop(ctx context.Context, min, max time.Duration, done chan<- struct{}) {
	defer close(done)

	for {
		delay, err := RandomDelay(min, max)
		if err != nil {
			p.logger.Error("padding delay", "error", err)
			delay = min
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err = p.inserter.InsertDummy(ctx)
		p.metrics.DummyWritten(err)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dummy insert failed", "error", err)
			continue
		}
		p.logger.Debug("dummy inserted", "next_min", min, "next_max", max)
	}
}

// RandomDelay returns a duration drawn uniformly from [min, max] using
// crypto/rand.
func RandomDelay(min, max time.Duration) (time.Duration, error) {
	if max < min {
		return 0, fmt.Errorf("padding: max %v below min %v", max, min)
	}
	if max == min {
		return min, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)+1))
	if err != nil {
		return 0, fmt.Errorf("padding: random delay: %w", err)
	}
	return min + time.Duration(n.Int64()), nil
}
