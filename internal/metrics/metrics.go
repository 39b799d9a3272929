// Package metrics defines the Prometheus collectors exported by locket.
//
// Collectors are registered on a caller supplied registry so tests and
// embedders never touch the global default registry. Every recording method
// is safe to call on a nil *Metrics, which disables recording.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "locket"

// Sync outcomes used as the "outcome" label of SyncCycles.
const (
	OutcomeAnchored       = "anchored"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeEmpty          = "empty"
	OutcomeSkipped        = "skipped"
	OutcomeFailed         = "failed"
)

// Metrics holds every collector.
type Metrics struct {
	DummyWrites     *prometheus.CounterVec
	SyncCycles      *prometheus.CounterVec
	RecordsAnchored prometheus.Counter
	OrphansSeen     prometheus.Counter
	Syncing         prometheus.Gauge
	GatewayRequests *prometheus.CounterVec
	GatewayAssets   prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DummyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "padding",
			Name:      "dummy_writes_total",
			Help:      "Padding records written, by result.",
		}, []string{"result"}),
		SyncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync attempts, by outcome.",
		}, []string{"outcome"}),
		RecordsAnchored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_anchored_total",
			Help:      "Records marked anchored after a successful batch.",
		}),
		OrphansSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "orphans_seen_total",
			Help:      "Local records without a signature observed during sync.",
		}),
		Syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "in_progress",
			Help:      "1 while a sync batch is in flight.",
		}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Control-plane HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		GatewayAssets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "assets_created_total",
			Help:      "Assets written to the ledger.",
		}),
	}

	collectors := []prometheus.Collector{
		m.DummyWrites, m.SyncCycles, m.RecordsAnchored, m.OrphansSeen,
		m.Syncing, m.GatewayRequests, m.GatewayAssets,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// DummyWritten records one padding write.
func (m *Metrics) DummyWritten(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DummyWrites.WithLabelValues(result).Inc()
}

// SyncFinished records one sync attempt.
func (m *Metrics) SyncFinished(outcome string, anchored, orphans int) {
	if m == nil {
		return
	}
	m.SyncCycles.WithLabelValues(outcome).Inc()
	m.RecordsAnchored.Add(float64(anchored))
	m.OrphansSeen.Add(float64(orphans))
}

// SetSyncing mirrors the engine's syncing flag.
func (m *Metrics) SetSyncing(syncing bool) {
	if m == nil {
		return
	}
	if syncing {
		m.Syncing.Set(1)
	} else {
		m.Syncing.Set(0)
	}
}

// GatewayRequest records one control-plane request.
func (m *Metrics) GatewayRequest(route string, code int) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// AssetsCreated records ledger writes.
func (m *Metrics) AssetsCreated(n int) {
	if m == nil {
		return
	}
	m.GatewayAssets.Add(float64(n))
}
