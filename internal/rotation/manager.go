// Package rotation selects credentials for outbound requests and tracks
// per-credential health across a collection run.
package rotation

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/catalog"
)

// Strategy names a credential selection policy.
type Strategy string

// Supported strategies.
const (
	RoundRobin Strategy = "round_robin"
	LeastUsed  Strategy = "least_used"
	Random     Strategy = "random"
	Adaptive   Strategy = "adaptive"
)

// Config controls Manager behavior.
type Config struct {
	Strategy Strategy
	// SkipThresholdPct is the error rate (percent) at which ShouldSkip
	// starts reporting true for a credential.
	SkipThresholdPct int
	// StalenessWindow bounds how long an adaptive exclusion lasts after a
	// rate-limit failure.
	StalenessWindow time.Duration
}

type credentialState struct {
	requests      int
	errors        int
	lastError     catalog.FailureKind
	lastErrorTime time.Time
}

// Manager hands out credentials under the configured strategy. One Manager
// is constructed per orchestrator run and shared by its workers; all state
// is mutex-guarded.
type Manager struct {
	cfg    Config
	clock  catalog.Clock
	logger *zap.Logger
	rng    *rand.Rand

	mu          sync.Mutex
	credentials []catalog.Credential
	stats       map[string]*credentialState
	cursor      int
}

// NewManager builds a Manager over the given credentials. An empty
// credential list is a valid, non-fatal state: Next reports no credential
// and callers treat the source as unusable for the run.
func NewManager(cfg Config, credentials []catalog.Credential, clock catalog.Clock, logger *zap.Logger) *Manager {
	if cfg.SkipThresholdPct <= 0 {
		cfg.SkipThresholdPct = 95
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = time.Hour
	}
	stats := make(map[string]*credentialState, len(credentials))
	for _, c := range credentials {
		stats[c.ID] = &credentialState{}
	}
	logger.Info("rotation manager initialized",
		zap.Int("credentials", len(credentials)),
		zap.String("strategy", string(cfg.Strategy)),
	)
	return &Manager{
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		rng:         rand.New(rand.NewSource(clock.Now().UnixNano())),
		credentials: credentials,
		stats:       stats,
	}
}

// Len returns the number of loaded credentials.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credentials)
}

// Next selects the next credential under the configured strategy. The
// second return value is false when no credentials are loaded.
func (m *Manager) Next() (catalog.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.credentials) == 0 {
		return catalog.Credential{}, false
	}
	return m.selectFrom(m.credentials), true
}

// NextUsable selects like Next but only among credentials below the skip
// threshold, so a burned credential can never crowd out healthy ones. It
// reports false only when no credentials are loaded or every credential is
// at the threshold.
func (m *Manager) NextUsable() (catalog.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := make([]catalog.Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		if m.shouldSkipLocked(c.ID) {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		return catalog.Credential{}, false
	}
	return m.selectFrom(pool), true
}

// selectFrom applies the configured strategy over the given pool. Callers
// must hold the mutex.
func (m *Manager) selectFrom(pool []catalog.Credential) catalog.Credential {
	switch m.cfg.Strategy {
	case LeastUsed:
		return m.nextLeastUsed(pool)
	case Random:
		return pool[m.rng.Intn(len(pool))]
	case Adaptive:
		return m.nextAdaptive(pool)
	default:
		return m.nextRoundRobin(pool)
	}
}

// nextRoundRobin cycles through the given credentials in order, wrapping.
func (m *Manager) nextRoundRobin(pool []catalog.Credential) catalog.Credential {
	cred := pool[m.cursor%len(pool)]
	m.cursor++
	return cred
}

// nextLeastUsed picks the credential with fewest recorded requests, ties
// broken by discovery order.
func (m *Manager) nextLeastUsed(pool []catalog.Credential) catalog.Credential {
	best := pool[0]
	bestRequests := m.stats[best.ID].requests
	for _, c := range pool[1:] {
		if r := m.stats[c.ID].requests; r < bestRequests {
			best, bestRequests = c, r
		}
	}
	return best
}

// nextAdaptive excludes credentials whose most recent failure is a rate
// limit younger than the staleness window. When every credential is
// excluded, staleness state is cleared and selection falls back to
// round-robin over the given pool.
func (m *Manager) nextAdaptive(pool []catalog.Credential) catalog.Credential {
	available := make([]catalog.Credential, 0, len(pool))
	for _, c := range pool {
		st := m.stats[c.ID]
		if st.lastError == catalog.FailureRateLimit && !m.isStale(st) {
			continue
		}
		available = append(available, c)
	}
	if len(available) == 0 {
		m.logger.Warn("all credentials recently rate limited, resetting staleness state")
		m.resetErrorTracking()
		return m.nextRoundRobin(pool)
	}
	return m.nextRoundRobin(available)
}

func (m *Manager) isStale(st *credentialState) bool {
	if st.lastErrorTime.IsZero() {
		return true
	}
	return m.clock.Now().Sub(st.lastErrorTime) > m.cfg.StalenessWindow
}

// resetErrorTracking clears last-error state for every credential. Callers
// must hold the mutex.
func (m *Manager) resetErrorTracking() {
	for _, st := range m.stats {
		st.lastError = catalog.FailureNone
		st.lastErrorTime = time.Time{}
	}
}

// Record tracks the outcome of one attempt made with a credential.
func (m *Manager) Record(credentialID string, ok bool, kind catalog.FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, found := m.stats[credentialID]
	if !found {
		return
	}
	st.requests++
	if !ok {
		st.errors++
		st.lastError = kind
		st.lastErrorTime = m.clock.Now()
		m.logger.Warn("credential error recorded",
			zap.String("credential", credentialID),
			zap.String("kind", string(kind)),
			zap.Int("errors", st.errors),
		)
	}
}

// ShouldSkip reports whether a credential's error rate has reached the
// skip threshold over at least one observed request. Zero-request
// credentials are never skipped.
func (m *Manager) ShouldSkip(credentialID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldSkipLocked(credentialID)
}

func (m *Manager) shouldSkipLocked(credentialID string) bool {
	st, found := m.stats[credentialID]
	if !found || st.requests == 0 {
		return false
	}
	errorRate := float64(st.errors) / float64(st.requests) * 100
	return errorRate >= float64(m.cfg.SkipThresholdPct)
}

// Stats returns a snapshot of per-credential usage counters keyed by the
// redacted credential ID.
func (m *Manager) Stats() map[string]catalog.CredentialStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]catalog.CredentialStats, len(m.credentials))
	for _, c := range m.credentials {
		st := m.stats[c.ID]
		rate := 0.0
		if st.requests > 0 {
			rate = float64(st.errors) / float64(st.requests) * 100
		}
		out[c.Redacted()] = catalog.CredentialStats{
			Requests:      st.requests,
			Errors:        st.errors,
			ErrorRate:     rate,
			LastError:     st.lastError,
			LastErrorTime: st.lastErrorTime,
		}
	}
	return out
}

// Reset clears all per-credential counters (operator action).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stats {
		*st = credentialState{}
	}
	m.cursor = 0
}
