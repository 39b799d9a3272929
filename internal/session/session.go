package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/roach88/locket/internal/anchor"
	"github.com/roach88/locket/internal/canon"
	"github.com/roach88/locket/internal/crypto"
	"github.com/roach88/locket/internal/engine"
	"github.com/roach88/locket/internal/metrics"
	"github.com/roach88/locket/internal/padding"
	"github.com/roach88/locket/internal/store"
)

// DefaultIdentity is the user DID used when none is configured.
const DefaultIdentity = "did:locket:testUser1"

// DefaultVerifyTTL is how long a remote verification result is reused.
const DefaultVerifyTTL = 5 * time.Minute

// Remote is the control-plane surface used by a Session. Implemented by
// *anchor.Client.
type Remote interface {
	engine.Anchorer
	Verify(ctx context.Context, assetID, localHash string) (anchor.Verification, error)
}

// Session composes store, crypto, padding and the sync engine.
type Session struct {
	store    store.Store
	remote   Remote
	engine   *engine.Engine
	padding  *padding.Padding
	identity string
	logger   *slog.Logger
	now      func() time.Time
	cfg      options
	verified *cache.Cache

	mu     sync.RWMutex
	key    *crypto.Key
	ready  bool
	cancel context.CancelFunc
	done   chan struct{}
}

type options struct {
	identity     string
	remote       Remote
	logger       *slog.Logger
	metrics      *metrics.Metrics
	clock        func() time.Time
	padding      bool
	paddingMin   time.Duration
	paddingMax   time.Duration
	syncInterval time.Duration
	threshold    int
	verifyTTL    time.Duration
}

// Option configures a Session.
type Option func(*options)

// WithIdentity sets the user DID sent with every anchor. It is NFC
// normalized and trimmed.
func WithIdentity(did string) Option {
	return func(o *options) { o.identity = did }
}

// WithRemote enables anchoring and verification through r. Without a
// remote the session is local-only.
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records padding and sync metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for default event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithPadding enables traffic padding with delays in [min, max].
func WithPadding(min, max time.Duration) Option {
	return func(o *options) {
		o.padding = true
		o.paddingMin = min
		o.paddingMax = max
	}
}

// WithSyncInterval makes the worker attempt a threshold-gated sync every d
// in addition to write-triggered requests.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.syncInterval = d }
}

// WithThreshold overrides engine.Threshold.
func WithThreshold(n int) Option {
	return func(o *options) { o.threshold = n }
}

// WithVerifyTTL sets how long verification results are cached.
func WithVerifyTTL(d time.Duration) Option {
	return func(o *options) { o.verifyTTL = d }
}

// New creates a closed session over st. Call Open before use.
func New(st store.Store, opts ...Option) *Session {
	o := options{
		identity:  DefaultIdentity,
		logger:    slog.Default(),
		clock:     time.Now,
		threshold: engine.Threshold,
		verifyTTL: DefaultVerifyTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	identity := canon.NormalizeIdentity(o.identity)
	if identity == "" {
		identity = DefaultIdentity
	}

	s := &Session{
		store:    st,
		remote:   o.remote,
		identity: identity,
		logger:   o.logger,
		now:      o.clock,
		cfg:      o,
		verified: cache.New(o.verifyTTL, 2*o.verifyTTL),
	}
	if o.remote != nil {
		s.engine = engine.New(st, o.remote, identity,
			engine.WithThreshold(o.threshold),
			engine.WithLogger(o.logger),
			engine.WithMetrics(o.metrics),
		)
	}
	if o.padding {
		s.padding = padding.New(st,
			padding.WithLogger(o.logger),
			padding.WithMetrics(o.metrics),
		)
	}
	return s
}

// Identity returns the normalized user DID.
func (s *Session) Identity() string {
	return s.identity
}

// Backend names the store implementation.
func (s *Session) Backend() string {
	return s.store.Backend()
}

// Open initializes the store, loads the key and starts the background
// workers. Open on an open session does nothing.
func (s *Session) Open(ctx context.Context, keyHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("session: open: %w", err)
	}
	key, err := crypto.ParseKey(keyHex)
	if err != nil {
		return fmt.Errorf("session: open: %w", err)
	}
	s.key = key

	if s.padding != nil {
		s.padding.Start(s.cfg.paddingMin, s.cfg.paddingMax)
	}
	if s.engine != nil {
		workerCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go func(done chan<- struct{}) {
			defer close(done)
			_ = s.engine.Run(workerCtx, s.cfg.syncInterval)
		}(s.done)
	}

	s.ready = true
	s.logger.Info("session opened",
		"backend", s.store.Backend(),
		"identity", s.identity,
		"remote", s.remote != nil,
		"padding", s.padding != nil,
	)
	return nil
}

// Close stops padding and the sync worker, wipes the key and closes the
// store. A sync in flight is allowed to finish unless ctx expires first.
func (s *Session) Close(ctx context.Context) error {
	s.shutdown(ctx)
	s.verified.Flush()
	return s.store.Close()
}

// shutdown returns the session to the not-ready state. The lock is
// released before waiting on the worker so sync callbacks that call back
// into the session cannot deadlock.
func (s *Session) shutdown(ctx context.Context) {
	s.mu.Lock()
	s.ready = false
	key := s.key
	s.key = nil
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if s.padding != nil {
		s.padding.Stop()
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("session closed with sync still in flight")
		}
	}
	if key != nil {
		key.Destroy()
	}
}

// Syncing reports whether the engine is anchoring a batch.
func (s *Session) Syncing() bool {
	return s.engine != nil && s.engine.Syncing()
}

// OnStatusChange forwards engine syncing transitions to fn. It does nothing
// for a local-only session.
func (s *Session) OnStatusChange(fn func(syncing bool)) {
	if s.engine != nil {
		s.engine.OnStatusChange(fn)
	}
}

// OnSyncComplete registers fn for successful write-backs.
func (s *Session) OnSyncComplete(fn func(engine.Report)) {
	if s.engine != nil {
		s.engine.OnSyncComplete(fn)
	}
}

// acquire returns the key if the session is ready.
func (s *Session) acquire(op string) (*crypto.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready || s.key == nil {
		return nil, &NotReadyError{Op: op}
	}
	return s.key, nil
}

// requestSync asks the worker for an opportunistic sync. The caller never
// observes its result.
func (s *Session) requestSync() {
	if s.engine != nil {
		s.engine.Request(false)
	}
}
