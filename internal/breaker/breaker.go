// Package breaker implements a per-source circuit breaker that refuses
// attempts for a cooldown window after consecutive failures.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// Config controls Breaker behavior.
type Config struct {
	// FailureThreshold is the consecutive-failure count at which the
	// breaker opens.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a CanExecute
	// call closes it again.
	Cooldown time.Duration
}

// State is a snapshot of breaker state for reporting.
type State struct {
	FailureCount int
	Open         bool
	OpenedAt     time.Time
}

// Breaker tracks consecutive failures for one source. Sources fail
// independently, so each source adapter gets its own instance. Safe for
// concurrent use by the worker pool.
type Breaker struct {
	cfg    Config
	clock  catalog.Clock
	logger *zap.Logger

	mu       sync.Mutex
	failures int
	open     bool
	openedAt time.Time
}

// New builds a Breaker.
func New(cfg Config, clock catalog.Clock, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Breaker{cfg: cfg, clock: clock, logger: logger}
}

// CanExecute reports whether an attempt is allowed. While open, it checks
// the cooldown: once expired, the breaker closes as a side effect, the
// failure count resets, and the call returns true.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.clock.Now().Sub(b.openedAt) > b.cfg.Cooldown {
		b.open = false
		b.failures = 0
		b.logger.Info("circuit breaker closed, resuming operations")
		return true
	}
	return false
}

// RecordSuccess resets the failure count and clears the open state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure increments the failure count; reaching the threshold opens
// the breaker. Opening is one-way until the cooldown check in CanExecute.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.openedAt = b.clock.Now()
	if b.failures >= b.cfg.FailureThreshold && !b.open {
		b.open = true
		b.logger.Warn("circuit breaker opened", zap.Int("failures", b.failures))
	}
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{FailureCount: b.failures, Open: b.open, OpenedAt: b.openedAt}
}
