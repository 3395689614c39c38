package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(5000, 0)}
	return New(Config{FailureThreshold: threshold, Cooldown: cooldown}, clock, zap.NewNop()), clock
}

func TestOpensExactlyAtThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(5, time.Minute)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
		require.True(t, b.CanExecute(), "breaker must stay closed below threshold")
	}
	b.RecordFailure()
	require.False(t, b.CanExecute())
	require.True(t, b.Snapshot().Open)
	require.Equal(t, 5, b.Snapshot().FailureCount)
}

func TestStaysOpenDuringCooldown(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.CanExecute())

	clock.Advance(59 * time.Second)
	require.False(t, b.CanExecute())
}

func TestClosesAfterCooldownAsSideEffect(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.CanExecute())

	clock.Advance(61 * time.Second)
	require.True(t, b.CanExecute())

	snap := b.Snapshot()
	require.False(t, snap.Open)
	require.Zero(t, snap.FailureCount)
}

func TestRecordSuccessResets(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	require.Zero(t, b.Snapshot().FailureCount)

	// Two more failures must not open a breaker with threshold 3.
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.CanExecute())
}

func TestConcurrentFailuresOpenOnce(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(10, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()
	require.False(t, b.CanExecute())
	require.Equal(t, 20, b.Snapshot().FailureCount)
}
