// Package orchestrator drives one collection run for one source: it fans
// subjects out to a bounded worker pool and pushes every fetch through the
// rotation manager, circuit breaker, and retry executor before persisting.
package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/famewatch/enricher/internal/breaker"
	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/metrics"
	"github.com/famewatch/enricher/internal/retry"
	"github.com/famewatch/enricher/internal/rotation"
)

// Config controls one orchestrator run.
type Config struct {
	Workers      int
	SubjectLimit int
	// PaceRPS throttles fetch attempts across the pool; zero disables
	// pacing. Used for the scraped source.
	PaceRPS float64
	// JitterMax adds a random delay before each paced attempt.
	JitterMax time.Duration
	// AllowAnonymous lets a run proceed with an empty credential pool,
	// fetching with a zero credential. The scraped source sets this since
	// proxies are optional there.
	AllowAnonymous bool
	// Topic receives the run summary when a publisher is wired.
	Topic string
}

// Orchestrator coordinates one source's collection run.
type Orchestrator struct {
	cfg       Config
	adapter   catalog.SourceAdapter
	rotation  *rotation.Manager
	breaker   *breaker.Breaker
	fetchRun  *retry.Executor
	storeRun  *retry.Executor
	store     catalog.RecordStore
	subjects  catalog.SubjectSource
	publisher catalog.Publisher
	clock     catalog.Clock
	ids       catalog.IDGenerator
	hasher    catalog.Hasher
	logger    *zap.Logger
	limiter   *rate.Limiter

	mu      sync.Mutex
	seen    map[string]struct{}
	stopped bool
	rng     *rand.Rand
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Adapter   catalog.SourceAdapter
	Rotation  *rotation.Manager
	Breaker   *breaker.Breaker
	Retry     *retry.Executor
	Store     catalog.RecordStore
	Subjects  catalog.SubjectSource
	Publisher catalog.Publisher
	Clock     catalog.Clock
	IDs       catalog.IDGenerator
	Hasher    catalog.Hasher
	Logger    *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	var limiter *rate.Limiter
	if cfg.PaceRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PaceRPS), 1)
	}
	return &Orchestrator{
		cfg:       cfg,
		adapter:   deps.Adapter,
		rotation:  deps.Rotation,
		breaker:   deps.Breaker,
		fetchRun:  deps.Retry,
		storeRun:  deps.Retry,
		store:     deps.Store,
		subjects:  deps.Subjects,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		hasher:    deps.Hasher,
		logger:    deps.Logger,
		limiter:   limiter,
		seen:      make(map[string]struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run collects every subject for this source and returns the run summary.
// The summary is also published when a publisher is configured; a publish
// failure is logged, not returned, since the data is already durable.
func (o *Orchestrator) Run(ctx context.Context) (catalog.RunSummary, error) {
	source := o.adapter.Name()
	subjects, err := o.subjects.ListSubjects(ctx, o.cfg.SubjectLimit)
	if err != nil {
		return catalog.RunSummary{}, err
	}

	run := metrics.NewRun(source, o.clock)
	o.logger.Info("collection run starting",
		zap.String("source", source),
		zap.Int("subjects", len(subjects)),
		zap.Int("workers", o.cfg.Workers),
	)

	jobs := make(chan catalog.Subject)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for subject := range jobs {
				run.RecordOutcome(o.processSubject(ctx, subject, run))
			}
		}()
	}

intake:
	for _, subject := range subjects {
		if ctx.Err() != nil || o.isStopped() {
			break intake
		}
		select {
		case jobs <- subject:
		case <-ctx.Done():
			break intake
		}
	}
	close(jobs)
	wg.Wait()

	summary := run.Summary(o.rotation.Stats())
	o.logger.Info("collection run finished",
		zap.String("source", source),
		zap.Int("total", summary.Total),
		zap.Any("counts", summary.Counts),
		zap.Duration("duration", summary.Duration),
	)

	if o.publisher != nil && o.cfg.Topic != "" {
		if _, err := o.publisher.Publish(ctx, o.cfg.Topic, summary); err != nil {
			o.logger.Error("run summary publish failed", zap.Error(err))
		}
	}
	return summary, nil
}

func (o *Orchestrator) processSubject(ctx context.Context, subject catalog.Subject, run *metrics.Run) catalog.SubjectOutcome {
	outcome := catalog.SubjectOutcome{SubjectID: subject.ID, Name: subject.DisplayName}
	source := o.adapter.Name()

	if o.isStopped() {
		outcome.Status = catalog.StatusSkipped
		outcome.Reason = "run stopped early"
		return outcome
	}

	// No handle is a valid skip, not an error.
	if _, ok := o.adapter.ResolveHandle(subject); !ok {
		outcome.Status = catalog.StatusSkipped
		outcome.Reason = "no handle for source"
		return outcome
	}

	if !o.breaker.CanExecute() {
		metrics.SetBreakerOpen(source, true)
		outcome.Status = catalog.StatusRateLimited
		outcome.Reason = "circuit open"
		return outcome
	}
	metrics.SetBreakerOpen(source, false)

	if o.markSeen(subject.ID) {
		outcome.Status = catalog.StatusDuplicate
		outcome.Reason = "already processed this run"
		return outcome
	}

	attempts := 0
	result := o.fetchRun.Run(ctx, func(ctx context.Context, attempt int) catalog.FetchResult {
		attempts++
		if attempt > 0 {
			run.RecordRetry()
		}
		// The breaker can open mid-retry; later attempts must not reach
		// the network.
		if !o.breaker.CanExecute() {
			return catalog.Failuref(catalog.FailureRateLimit, "circuit open for %s", source)
		}
		o.pace(ctx)

		credential, ok := o.rotation.NextUsable()
		if !ok && !o.cfg.AllowAnonymous {
			return catalog.Failuref(catalog.FailureNoCredentials, "no usable credentials for %s", source)
		}

		res := o.adapter.Fetch(ctx, subject, credential)
		if credential.ID != "" {
			o.rotation.Record(credential.ID, res.OK(), res.Failure)
		}
		if res.OK() {
			o.breaker.RecordSuccess()
		} else {
			o.breaker.RecordFailure()
		}
		run.RecordAttempt(res.Failure)
		return res
	})
	outcome.Attempts = attempts

	if result.Failure == catalog.FailureNoCredentials {
		o.stop()
		o.logger.Error("credential pool exhausted, stopping source run",
			zap.String("source", source),
		)
		outcome.Status = catalog.StatusFailed
		outcome.Failure = result.Failure
		outcome.Reason = result.Detail
		return outcome
	}

	if !result.OK() {
		outcome.Status = result.Status
		outcome.Failure = result.Failure
		outcome.Reason = result.Detail
		return outcome
	}

	if err := o.persist(ctx, subject, result); err != nil {
		o.logger.Error("record persist failed after retries",
			zap.String("subject", subject.ID),
			zap.String("source", source),
			zap.Error(err),
		)
		outcome.Status = catalog.StatusFailed
		outcome.Failure = catalog.FailureStoreWrite
		outcome.Reason = err.Error()
		return outcome
	}

	outcome.Status = catalog.StatusSuccess
	return outcome
}

// pace blocks the calling worker to honor the configured request rate plus
// jitter. Only that worker sleeps; the pool keeps going.
func (o *Orchestrator) pace(ctx context.Context) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
	}
	if o.cfg.JitterMax > 0 {
		o.mu.Lock()
		jitter := time.Duration(o.rng.Int63n(int64(o.cfg.JitterMax) + 1))
		o.mu.Unlock()
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// persist writes the record with its own retry loop so a transient store
// error never discards fetched data silently.
func (o *Orchestrator) persist(ctx context.Context, subject catalog.Subject, result catalog.FetchResult) error {
	record, err := o.buildRecord(subject, result)
	if err != nil {
		return err
	}

	res := o.storeRun.Run(ctx, func(ctx context.Context, attempt int) catalog.FetchResult {
		if err := o.store.PutRecord(ctx, record); err != nil {
			return catalog.Failuref(catalog.FailureStoreWrite, "put record %s: %v", record.RecordID, err)
		}
		return catalog.FetchResult{Status: catalog.StatusSuccess}
	})
	if !res.OK() {
		return &storeWriteError{detail: res.Detail}
	}
	return nil
}

func (o *Orchestrator) buildRecord(subject catalog.Subject, result catalog.FetchResult) (catalog.SourceRecord, error) {
	recordID, err := o.ids.NewID()
	if err != nil {
		return catalog.SourceRecord{}, err
	}
	digest, err := o.hasher.Hash(result.RawPayload)
	if err != nil {
		return catalog.SourceRecord{}, err
	}
	collectedAt := o.clock.Now()
	return catalog.SourceRecord{
		SubjectID:   subject.ID,
		SortKey:     catalog.SortKeyFor(o.adapter.Name(), collectedAt),
		RecordID:    recordID,
		DisplayName: subject.DisplayName,
		RawPayload:  string(result.RawPayload),
		SourceURI:   result.SourceURI,
		CollectedAt: collectedAt,
		Metadata: catalog.ProcessingMetadata{
			CollectorName: o.adapter.Name(),
			SourceType:    o.adapter.Name(),
			ContentHash:   digest,
		},
	}, nil
}

func (o *Orchestrator) markSeen(subjectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[subjectID]; ok {
		return true
	}
	o.seen[subjectID] = struct{}{}
	return false
}

func (o *Orchestrator) stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

type storeWriteError struct {
	detail string
}

func (e *storeWriteError) Error() string {
	return e.detail
}
