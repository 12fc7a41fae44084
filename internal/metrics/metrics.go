// Package metrics exposes Prometheus instrumentation for the generation
// pipeline. Metrics register on the default registry and are served by
// promhttp when the CLI runs with --metrics-addr.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationCalls counts model calls by backend and outcome
	// (success, error, unparseable).
	GenerationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetmatch_generation_calls_total",
			Help: "Model generation calls by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetmatch_generation_duration_seconds",
			Help:    "Duration of a single model generation call",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"backend"},
	)

	// Recommendations counts Recommend outcomes: ok, partial, failed,
	// empty_corpus, empty_prescreen, not_found, cancelled.
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetmatch_recommend_requests_total",
			Help: "Recommend requests by outcome",
		},
		[]string{"outcome"},
	)

	// PrescreenBatches counts pre-screen batch attempts by outcome
	// (ok, retry, failed).
	PrescreenBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetmatch_prescreen_batches_total",
			Help: "Pre-screen scoring batch attempts by outcome",
		},
		[]string{"outcome"},
	)

	SkippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetmatch_corpus_skipped_records_total",
			Help: "Corpus records skipped as malformed during load",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meetmatch_circuit_breaker_state",
			Help: "Model client circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetmatch_circuit_breaker_transitions_total",
			Help: "Model client circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordGeneration records one model call.
func RecordGeneration(backend, outcome string, d time.Duration) {
	GenerationCalls.WithLabelValues(backend, outcome).Inc()
	GenerationDuration.WithLabelValues(backend).Observe(d.Seconds())
}
