// Package retry wraps a unit of work with bounded exponential-backoff
// retries, classifying each failure as retryable or terminal.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// Config controls Executor behavior.
type Config struct {
	MaxAttempts int
	// BaseDelay seeds the schedule base_delay * 2^attempt (1s, 2s, 4s...).
	BaseDelay time.Duration
	// DetectedDelayMin/Max bound the longer randomized delay applied when
	// an attempt is classified as detected (anti-scraping response),
	// replacing the exponential schedule for that attempt.
	DetectedDelayMin time.Duration
	DetectedDelayMax time.Duration
}

// AttemptFunc performs one attempt and returns its classified outcome.
// The attempt index is zero-based.
type AttemptFunc func(ctx context.Context, attempt int) catalog.FetchResult

// Executor runs attempt functions under the retry policy. It never fails
// itself: the final return value is always the last structured result.
type Executor struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// New builds an Executor.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DetectedDelayMin <= 0 {
		cfg.DetectedDelayMin = 10 * time.Second
	}
	if cfg.DetectedDelayMax < cfg.DetectedDelayMin {
		cfg.DetectedDelayMax = cfg.DetectedDelayMin + 5*time.Second
	}
	return &Executor{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Run executes fn up to MaxAttempts times. Terminal failure kinds are
// returned immediately; retryable failures back off exponentially, with
// detected responses getting the longer randomized delay instead. If all
// attempts fail, the last observed result is returned unchanged.
func (e *Executor) Run(ctx context.Context, fn AttemptFunc) catalog.FetchResult {
	var last catalog.FetchResult
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		last = fn(ctx, attempt)
		if last.OK() {
			return last
		}
		if last.Failure.Terminal() {
			e.logger.Debug("terminal failure, not retrying",
				zap.String("kind", string(last.Failure)),
				zap.Int("attempt", attempt+1),
			)
			return last
		}
		if attempt == e.cfg.MaxAttempts-1 {
			break
		}
		delay := e.delayFor(last.Failure, attempt)
		e.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.String("kind", string(last.Failure)),
			zap.Duration("delay", delay),
		)
		e.sleep(ctx, delay)
		if ctx.Err() != nil {
			return last
		}
	}
	return last
}

func (e *Executor) delayFor(kind catalog.FailureKind, attempt int) time.Duration {
	if kind == catalog.FailureDetected {
		span := e.cfg.DetectedDelayMax - e.cfg.DetectedDelayMin
		return e.cfg.DetectedDelayMin + time.Duration(rand.Int63n(int64(span)+1))
	}
	return e.cfg.BaseDelay * (1 << attempt)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
