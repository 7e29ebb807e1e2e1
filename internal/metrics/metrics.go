// Package metrics holds the Prometheus collectors anchor exports and the
// small ops HTTP server that serves them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the worker, the topic client and the
// synchronization loop. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ledger submissions by outcome
	PublishLatency *prometheus.HistogramVec

	// Mint and transfer chunks by operation and outcome
	Chunks *prometheus.CounterVec

	// Pool task attempts beyond the first
	TaskRetries prometheus.Counter

	// Pool tasks by final outcome
	Tasks *prometheus.CounterVec

	// Synchronization ticks by outcome: run, skipped, error
	SyncTicks *prometheus.CounterVec

	// Joint-mint transactions by final status
	Transactions *prometheus.CounterVec

	// Requested minus minted units, per token type
	UnderMinted *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry, so several
// instances (one per test) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		PublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anchor_topic_publish_duration_seconds",
			Help:    "Duration of topic publications including blob upload",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}), // outcome: "ok", "error"

		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_mint_chunks_total",
			Help: "Mint and transfer chunks by operation and outcome",
		}, []string{"op", "outcome"}),

		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "anchor_worker_task_retries_total",
			Help: "Retried worker task attempts",
		}),

		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_worker_tasks_total",
			Help: "Worker tasks by final outcome",
		}, []string{"outcome"}),

		SyncTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_sync_ticks_total",
			Help: "Synchronization ticks by outcome",
		}, []string{"outcome"}),

		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_sync_transactions_total",
			Help: "Joint-mint transactions by final status",
		}, []string{"status"}),

		UnderMinted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_mint_underminted_units_total",
			Help: "Units requested but not minted",
		}, []string{"token_type"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePublish records one topic publication.
func (m *Metrics) ObservePublish(d time.Duration, err error) {
	if m != nil {
		m.PublishLatency.WithLabelValues(outcome(err)).Observe(d.Seconds())
	}
}

// IncrementChunk records one chunk of a mint or transfer phase.
func (m *Metrics) IncrementChunk(op string, err error) {
	if m != nil {
		m.Chunks.WithLabelValues(op, outcome(err)).Inc()
	}
}

// IncrementRetry records a retried task attempt.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.TaskRetries.Inc()
	}
}

// IncrementTask records a finished pool task.
func (m *Metrics) IncrementTask(err error) {
	if m != nil {
		m.Tasks.WithLabelValues(outcome(err)).Inc()
	}
}

// IncrementTick records a synchronization tick outcome.
func (m *Metrics) IncrementTick(result string) {
	if m != nil {
		m.SyncTicks.WithLabelValues(result).Inc()
	}
}

// IncrementTransaction records a transaction leaving Pending.
func (m *Metrics) IncrementTransaction(status string) {
	if m != nil {
		m.Transactions.WithLabelValues(status).Inc()
	}
}

// AddUnderMinted records units that were requested but not minted.
func (m *Metrics) AddUnderMinted(tokenType string, units int64) {
	if m != nil && units > 0 {
		m.UnderMinted.WithLabelValues(tokenType).Add(float64(units))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
