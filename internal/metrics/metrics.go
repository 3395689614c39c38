// Package metrics exposes Prometheus collectors for the enrichment service
// and the per-run metrics collected by the orchestrator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	subjectsTotal        *prometheus.CounterVec
	attemptsTotal        *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	rateLimitedTotal     *prometheus.CounterVec
	runDurationSeconds   *prometheus.HistogramVec
	breakerOpen          *prometheus.GaugeVec
	activeWorkers        prometheus.Gauge
	recordsEnrichedTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		subjectsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_subjects_total",
				Help: "Total subjects processed, labeled by source and final status.",
			},
			[]string{"source", "status"},
		)

		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_attempts_total",
				Help: "Total fetch attempts, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_retries_total",
				Help: "Total retry attempts, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_rate_limited_total",
				Help: "Total rate-limited responses observed, labeled by source.",
			},
			[]string{"source"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_run_duration_seconds",
				Help:    "Histogram of collection run durations, labeled by source.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"source"},
		)

		breakerOpen = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collector_breaker_open",
				Help: "Whether the per-source circuit breaker is open (1) or closed (0).",
			},
			[]string{"source"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Number of workers currently processing a subject.",
			},
		)

		recordsEnrichedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_records_total",
				Help: "Total change-feed records processed, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubject increments the per-subject outcome counter.
func ObserveSubject(source, status string) {
	subjectsTotal.WithLabelValues(source, status).Inc()
}

// ObserveAttempt increments the per-attempt outcome counter.
func ObserveAttempt(source, outcome string) {
	attemptsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveRetry increments the retry counter.
func ObserveRetry(source string) {
	retriesTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimited increments the rate-limited counter.
func ObserveRateLimited(source string) {
	rateLimitedTotal.WithLabelValues(source).Inc()
}

// ObserveRunDuration records the duration of one collection run.
func ObserveRunDuration(source string, d time.Duration) {
	runDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// SetBreakerOpen records the breaker state for a source.
func SetBreakerOpen(source string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	breakerOpen.WithLabelValues(source).Set(v)
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveEnrichment increments the enrichment result counter.
func ObserveEnrichment(result string) {
	recordsEnrichedTotal.WithLabelValues(result).Inc()
}
