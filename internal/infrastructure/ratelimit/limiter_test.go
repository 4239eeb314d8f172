package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func TestLimiter_PerSecondCeiling(t *testing.T) {
	clock := newFakeClock()
	l, err := New(DefaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)
	tenant := uuid.New()

	for i := 0; i < 20; i++ {
		require.True(t, l.TryAcquire(tenant).Granted, "call %d", i+1)
	}

	d := l.TryAcquire(tenant)
	assert.False(t, d.Granted)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 51*time.Millisecond)

	clock.Advance(d.RetryAfter)
	assert.True(t, l.TryAcquire(tenant).Granted)
}

func TestLimiter_LongWindowBinds(t *testing.T) {
	clock := newFakeClock()
	l, err := New(Config{Windows: []Window{
		{Window: time.Second, Ceiling: 10},
		{Window: time.Minute, Ceiling: 3},
	}}, WithClock(clock.Now))
	require.NoError(t, err)
	tenant := uuid.New()

	for i := 0; i < 3; i++ {
		require.True(t, l.TryAcquire(tenant).Granted)
		clock.Advance(time.Second)
	}

	d := l.TryAcquire(tenant)
	require.False(t, d.Granted)
	// three seconds of refill at one token per 20s leaves 0.15 tokens
	assert.InDelta(t, 17*time.Second, d.RetryAfter, float64(10*time.Millisecond))
}

func TestLimiter_DenialDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l, err := New(Config{Windows: []Window{
		{Window: time.Second, Ceiling: 1},
		{Window: time.Hour, Ceiling: 100},
	}}, WithClock(clock.Now))
	require.NoError(t, err)
	tenant := uuid.New()

	require.True(t, l.TryAcquire(tenant).Granted)
	for i := 0; i < 5; i++ {
		assert.False(t, l.TryAcquire(tenant).Granted)
	}

	snap := l.Snapshot(tenant)
	require.Len(t, snap, 2)
	assert.InDelta(t, 99, snap[1].Remaining, 0.01)
}

func TestLimiter_TenantsAreIsolated(t *testing.T) {
	clock := newFakeClock()
	l, err := New(Config{Windows: []Window{{Window: time.Minute, Ceiling: 2}}}, WithClock(clock.Now))
	require.NoError(t, err)
	a, b := uuid.New(), uuid.New()

	assert.True(t, l.TryAcquire(a).Granted)
	assert.True(t, l.TryAcquire(a).Granted)
	assert.False(t, l.TryAcquire(a).Granted)

	assert.True(t, l.TryAcquire(b).Granted)
	assert.Equal(t, float64(2), l.Snapshot(uuid.New())[0].Remaining)
}

func TestLimiter_ConcurrentNeverOverGrants(t *testing.T) {
	clock := newFakeClock()
	l, err := New(DefaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)
	tenant := uuid.New()

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.TryAcquire(tenant).Granted {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), granted.Load())
	stats := l.Stats()
	assert.Equal(t, int64(20), stats.Granted)
	assert.Equal(t, int64(480), stats.Denied)
}

func TestLimiter_LateClockReadDoesNotRefillTwice(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var (
		calls   atomic.Int64
		entered = make(chan struct{})
		other   = make(chan struct{})
	)
	// Calls 1-2 drain the bucket at base. Call 3 stalls before returning base+1s
	// until the concurrent call 4 (base+2s) finishes or 100ms pass.
	now := func() time.Time {
		switch n := calls.Add(1); {
		case n <= 2:
			return base
		case n == 3:
			close(entered)
			select {
			case <-other:
			case <-time.After(100 * time.Millisecond):
			}
			return base.Add(time.Second)
		default:
			return base.Add(2 * time.Second)
		}
	}
	l, err := New(Config{Windows: []Window{{Window: 2 * time.Second, Ceiling: 2}}}, WithClock(now))
	require.NoError(t, err)
	tenant := uuid.New()

	require.True(t, l.TryAcquire(tenant).Granted)
	require.True(t, l.TryAcquire(tenant).Granted)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.TryAcquire(tenant)
	}()
	<-entered
	go func() {
		defer wg.Done()
		defer close(other)
		l.TryAcquire(tenant)
	}()
	wg.Wait()

	for l.TryAcquire(tenant).Granted {
	}

	// burst 2 plus 1 token/s over 2s
	assert.Equal(t, int64(4), l.Stats().Granted)
}

func TestLimiter_EvictIdle(t *testing.T) {
	clock := newFakeClock()
	l, err := New(DefaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)

	l.TryAcquire(uuid.New())
	clock.Advance(2 * time.Hour)
	l.TryAcquire(uuid.New())

	assert.Equal(t, 1, l.EvictIdle(time.Hour))
	assert.Equal(t, 1, l.Stats().Tenants)
	assert.Equal(t, 24*time.Hour, l.LongestWindow())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Windows: []Window{{Window: time.Second}}}.Validate(), ErrInvalidConfig)
}
