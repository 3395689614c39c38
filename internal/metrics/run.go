package metrics

import (
	"sync"
	"time"

	"github.com/famewatch/enricher/internal/catalog"
)

// Run accumulates counters and duration for one orchestrator invocation.
// It is discarded after its summary is reported. Safe for concurrent use by
// the worker pool; the Prometheus collectors are updated alongside.
type Run struct {
	source  string
	clock   catalog.Clock
	started time.Time

	mu       sync.Mutex
	counts   map[catalog.FetchStatus]int
	failures map[catalog.FailureKind]int
	retries  int
	outcomes []catalog.SubjectOutcome
}

// NewRun starts a per-run collector for the named source.
func NewRun(source string, clock catalog.Clock) *Run {
	Init()
	return &Run{
		source:   source,
		clock:    clock,
		started:  clock.Now(),
		counts:   make(map[catalog.FetchStatus]int),
		failures: make(map[catalog.FailureKind]int),
	}
}

// RecordOutcome registers a subject's final outcome.
func (r *Run) RecordOutcome(outcome catalog.SubjectOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[outcome.Status]++
	if outcome.Failure != catalog.FailureNone {
		r.failures[outcome.Failure]++
	}
	r.outcomes = append(r.outcomes, outcome)
	ObserveSubject(r.source, string(outcome.Status))
}

// RecordAttempt registers one fetch attempt outcome.
func (r *Run) RecordAttempt(kind catalog.FailureKind) {
	outcome := "success"
	if kind != catalog.FailureNone {
		outcome = string(kind)
	}
	ObserveAttempt(r.source, outcome)
	if kind == catalog.FailureRateLimit {
		ObserveRateLimited(r.source)
	}
}

// RecordRetry registers a retry attempt.
func (r *Run) RecordRetry() {
	r.mu.Lock()
	r.retries++
	r.mu.Unlock()
	ObserveRetry(r.source)
}

// Summary finalizes the run and returns the structured report.
func (r *Run) Summary(credentials map[string]catalog.CredentialStats) catalog.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	duration := r.clock.Now().Sub(r.started)
	ObserveRunDuration(r.source, duration)

	total := 0
	counts := make(map[catalog.FetchStatus]int, len(r.counts))
	for status, n := range r.counts {
		counts[status] = n
		total += n
	}
	outcomes := make([]catalog.SubjectOutcome, len(r.outcomes))
	copy(outcomes, r.outcomes)

	return catalog.RunSummary{
		Source:      r.source,
		Total:       total,
		Counts:      counts,
		Retries:     r.retries,
		Duration:    duration,
		Outcomes:    outcomes,
		Credentials: credentials,
	}
}
