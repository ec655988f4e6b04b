// Package metrics exposes engine counters in Prometheus form.
//
// Every Metrics value owns its registry, so several engines in one process
// (tests, the replay command) never collide on registration. All methods
// are safe on a nil *Metrics, which is how the engine runs with metrics
// disabled.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "chronicle"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	Transactions  *prometheus.CounterVec
	Operations    *prometheus.CounterVec
	SyncTimeouts  prometheus.Counter
	LastTxID      prometheus.Gauge
	ApplyDuration prometheus.Histogram
}

// New creates and registers the engine collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions appended to the log, by outcome.",
		}, []string{"outcome"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Index effects applied by committed transactions, by kind.",
		}, []string{"kind"}),
		SyncTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_timeouts_total",
			Help:      "Sync and await calls that timed out.",
		}),
		LastTxID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tx_id",
			Help:      "Id of the last processed transaction.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time to evaluate, log and index one transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.Transactions,
		m.Operations,
		m.SyncTimeouts,
		m.LastTxID,
		m.ApplyDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTransaction records one processed transaction.
func (m *Metrics) ObserveTransaction(outcome string, txID int64, took time.Duration) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(outcome).Inc()
	m.LastTxID.Set(float64(txID))
	m.ApplyDuration.Observe(took.Seconds())
}

// ObserveOperation counts one applied effect.
func (m *Metrics) ObserveOperation(kind string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind).Inc()
}

// SetLastTxID sets the gauge directly, used after recovery.
func (m *Metrics) SetLastTxID(txID int64) {
	if m == nil {
		return
	}
	m.LastTxID.Set(float64(txID))
}

// ObserveSyncTimeout counts one timed-out wait.
func (m *Metrics) ObserveSyncTimeout() {
	if m == nil {
		return
	}
	m.SyncTimeouts.Inc()
}

// WriteText writes every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
