package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/locket/internal/anchor"
	"github.com/roach88/locket/internal/metrics"
	"github.com/roach88/locket/internal/store"
)

// Threshold is the pending count at which an opportunistic sync anchors.
// It matches the common seven-day fill so one period costs one transaction.
const Threshold = 7

// AssetIDPrefix prefixes the record id to form the asset id of a batch item.
const AssetIDPrefix = "asset-"

// Records is the store surface the engine needs.
type Records interface {
	LoadEvents(ctx context.Context) ([]store.Record, error)
	MarkAnchored(ctx context.Context, us []store.AnchorUpdate) (int, error)
}

// Anchorer submits one batch to the control-plane. Implemented by
// *anchor.Client.
type Anchorer interface {
	AnchorBatch(ctx context.Context, items []anchor.BatchItem) (anchor.BatchResult, error)
}

// Report describes one sync attempt.
type Report struct {
	// Forced is true for ForceSync and forced requests.
	Forced bool `json:"forced"`

	// Skipped is true when another sync was in flight. Nothing else is set.
	Skipped bool `json:"skipped"`

	// Outcome is one of the metrics.Outcome* values.
	Outcome string `json:"outcome"`

	Pending  int `json:"pending"`
	Orphans  int `json:"orphans"`
	Anchored int `json:"anchored"`

	TxID     string   `json:"txId,omitempty"`
	AssetIDs []string `json:"assetIds,omitempty"`
}

// Engine is the sync state machine.
//
// Thread-safety model:
//   - PerformSync, ForceSync, Request: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - OnStatusChange, OnSyncComplete: safe from any goroutine
type Engine struct {
	records   Records
	anchorer  Anchorer
	identity  string
	threshold int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	syncing atomic.Bool

	mu        sync.Mutex
	listeners []func(bool)
	completed []func(Report)

	wake        chan struct{}
	forceWanted atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides Threshold. Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.threshold = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records sync outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine that anchors records of rs through a on behalf of
// identity.
func New(rs Records, a Anchorer, identity string, opts ...Option) *Engine {
	e := &Engine{
		records:   rs,
		anchorer:  a,
		identity:  identity,
		threshold: Threshold,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Syncing reports whether a sync is in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// OnStatusChange registers fn to be called with true when a sync starts and
// with false when it ends. fn runs on the syncing goroutine.
func (e *Engine) OnStatusChange(fn func(syncing bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// OnSyncComplete registers fn to be called after a batch was anchored and
// written back.
func (e *Engine) OnSyncComplete(fn func(Report)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, fn)
}

// PerformSync anchors the pending records if there are at least Threshold
// of them.
func (e *Engine) PerformSync(ctx context.Context) (Report, error) {
	return e.sync(ctx, false)
}

// ForceSync anchors any non-empty set of pending records.
func (e *Engine) ForceSync(ctx context.Context) (Report, error) {
	return e.sync(ctx, true)
}

func (e *Engine) sync(ctx context.Context, force bool) (Report, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync already in flight, skipping", "forced", force)
		e.metrics.SyncFinished(metrics.OutcomeSkipped, 0, 0)
		return Report{Forced: force, Skipped: true, Outcome: metrics.OutcomeSkipped}, nil
	}
	e.setStatus(true)
	defer func() {
		e.syncing.Store(false)
		e.setStatus(false)
	}()

	report := Report{Forced: force}
	rep, err := e.scanAndAnchor(ctx, report)
	e.metrics.SyncFinished(rep.Outcome, rep.Anchored, rep.Orphans)
	return rep, err
}

func (e *Engine) scanAndAnchor(ctx context.Context, report Report) (Report, error) {
	e.logger.Debug("sync started", "forced", report.Forced)

	records, err := e.records.LoadEvents(ctx)
	if err != nil {
		report.Outcome = metrics.OutcomeFailed
		e.logger.Error("sync failed to load records", "error", err)
		return report, &SyncError{Code: ErrCodeLoad, Err: err}
	}

	parts := Partition(records)
	report.Pending = len(parts.Pending)
	report.Orphans = len(parts.Orphans)

	if len(parts.Orphans) > 0 {
		e.logger.Warn("local records without signature cannot be anchored",
			"orphans", len(parts.Orphans),
		)
	}

	if len(parts.Pending) == 0 {
		e.logger.Debug("no anchorable records")
		report.Outcome = metrics.OutcomeEmpty
		return report, nil
	}

	if !report.Forced && len(parts.Pending) < e.threshold {
		e.logger.Debug("threshold not met, skipping",
			"pending", len(parts.Pending),
			"threshold", e.threshold,
		)
		report.Outcome = metrics.OutcomeBelowThreshold
		return report, nil
	}

	return e.executeAnchorBatch(ctx, parts.Pending, report)
}

// executeAnchorBatch submits pending as one batch and writes the anchored
// status back in one MarkAnchored call. On any failure pending is untouched.
// Records deleted while the batch was in flight are not written back.
func (e *Engine) executeAnchorBatch(ctx context.Context, pending []store.Record, report Report) (Report, error) {
	items := make([]anchor.BatchItem, len(pending))
	for i, r := range pending {
		items[i] = anchor.BatchItem{
			ID:       AssetIDPrefix + r.ID,
			UserDID:  e.identity,
			DataHash: r.Signature,
		}
	}

	e.logger.Info("anchoring batch", "pending", len(items), "forced", report.Forced)

	res, err := e.anchorer.AnchorBatch(ctx, items)
	if err != nil {
		report.Outcome = metrics.OutcomeFailed
		e.logger.Error("batch anchor failed", "pending", len(items), "error", err)
		return report, &SyncError{Code: ErrCodeAnchor, Pending: len(items), Err: err}
	}
	if len(res.AssetIDs) != len(items) {
		report.Outcome = metrics.OutcomeFailed
		err := fmt.Errorf("got %d asset ids for %d items", len(res.AssetIDs), len(items))
		e.logger.Error("batch anchor returned short result", "error", err)
		return report, &SyncError{Code: ErrCodeShortResult, Pending: len(items), Err: err}
	}

	updates := make([]store.AnchorUpdate, len(pending))
	for i, r := range pending {
		updates[i] = store.AnchorUpdate{ID: r.ID, AssetID: res.AssetIDs[i]}
	}

	n, err := e.records.MarkAnchored(ctx, updates)
	if err != nil {
		report.Outcome = metrics.OutcomeFailed
		e.logger.Error("anchored batch write-back failed",
			"tx_id", res.TxID,
			"pending", len(items),
			"error", err,
		)
		return report, &SyncError{Code: ErrCodeWriteBack, Pending: len(items), Err: err}
	}
	if n < len(updates) {
		e.logger.Warn("records removed during sync were not written back",
			"tx_id", res.TxID,
			"anchored", n,
			"missing", len(updates)-n,
		)
	}

	report.Outcome = metrics.OutcomeAnchored
	report.Anchored = n
	report.TxID = res.TxID
	report.AssetIDs = res.AssetIDs

	e.logger.Info("batch anchored", "tx_id", res.TxID, "anchored", report.Anchored)
	e.notifyComplete(report)
	return report, nil
}

func (e *Engine) setStatus(syncing bool) {
	e.metrics.SetSyncing(syncing)
	e.mu.Lock()
	listeners := append([]func(bool){}, e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(syncing)
	}
}

func (e *Engine) notifyComplete(r Report) {
	e.mu.Lock()
	completed := append([]func(Report){}, e.completed...)
	e.mu.Unlock()
	for _, fn := range completed {
		fn(r)
	}
}
