// Package ratelimit enforces the upstream API budget of each tenant with
// several overlapping token buckets that refill continuously.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shopsync/backend/internal/domain/integration"
)

// ErrInvalidConfig is returned for windows with a non-positive size or ceiling.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Window is one budget: at most Ceiling calls per Window, refilled continuously.
type Window struct {
	Window  time.Duration
	Ceiling int
}

// Config holds the windows applied to every tenant
type Config struct {
	Windows []Window
}

// DefaultConfig returns the upstream platform's published limits
func DefaultConfig() Config {
	return Config{Windows: []Window{
		{Window: time.Second, Ceiling: 20},
		{Window: 5 * time.Minute, Ceiling: 300},
		{Window: time.Hour, Ceiling: 3000},
		{Window: 24 * time.Hour, Ceiling: 12000},
	}}
}

// Validate checks the windows
func (c Config) Validate() error {
	if len(c.Windows) == 0 {
		return fmt.Errorf("%w: no windows", ErrInvalidConfig)
	}
	for _, w := range c.Windows {
		if w.Window <= 0 || w.Ceiling <= 0 {
			return fmt.Errorf("%w: window %s ceiling %d", ErrInvalidConfig, w.Window, w.Ceiling)
		}
	}
	return nil
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

type bucket struct {
	window  Window
	limiter *rate.Limiter
}

// tenantBuckets is the isolated state of one tenant
type tenantBuckets struct {
	mu       sync.Mutex
	buckets  []bucket
	lastUsed time.Time
}

// Limiter is a multi-window token bucket limiter keyed by tenant.
//
// Thread Safety: safe for concurrent use. Each tenant's buckets are guarded by
// their own mutex, so tenants never contend with each other beyond the map lookup.
type Limiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantBuckets

	granted atomic.Int64
	denied  atomic.Int64
}

// New creates a Limiter
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		tenants: make(map[uuid.UUID]*tenantBuckets),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) bucketsFor(tenantID uuid.UUID) *tenantBuckets {
	l.mu.RLock()
	tb, ok := l.tenants[tenantID]
	l.mu.RUnlock()
	if ok {
		return tb
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tb, ok = l.tenants[tenantID]; ok {
		return tb
	}
	tb = &tenantBuckets{buckets: make([]bucket, len(l.cfg.Windows))}
	for i, w := range l.cfg.Windows {
		perSecond := float64(w.Ceiling) / w.Window.Seconds()
		tb.buckets[i] = bucket{window: w, limiter: rate.NewLimiter(rate.Limit(perSecond), w.Ceiling)}
	}
	l.tenants[tenantID] = tb
	return tb
}

// TryAcquire grants a call only if every bucket holds at least one token, and
// then takes one token from each. A denial reports how long until every
// bucket can grant, which is always positive.
func (l *Limiter) TryAcquire(tenantID uuid.UUID) integration.RateDecision {
	tb := l.bucketsFor(tenantID)

	// The clock is read under the tenant lock so each bucket sees time advance
	// in grant order; an older instant would refill the same interval twice.
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := l.now()
	tb.lastUsed = now

	var wait time.Duration
	for _, b := range tb.buckets {
		tokens := b.limiter.TokensAt(now)
		if tokens >= 1 {
			continue
		}
		missing := (1 - tokens) / float64(b.limiter.Limit())
		d := time.Duration(math.Ceil(missing * float64(time.Second)))
		wait = max(wait, d, time.Millisecond)
	}
	if wait > 0 {
		l.denied.Add(1)
		return integration.RateDecision{RetryAfter: wait}
	}

	for _, b := range tb.buckets {
		b.limiter.AllowN(now, 1)
	}
	l.granted.Add(1)
	return integration.RateDecision{Granted: true}
}

// WindowState reports the remaining budget of one window
type WindowState struct {
	Window    time.Duration `json:"window"`
	Ceiling   int           `json:"ceiling"`
	Remaining float64       `json:"remaining"`
}

// Snapshot returns the current budget of a tenant without consuming it.
// Unknown tenants report full buckets.
func (l *Limiter) Snapshot(tenantID uuid.UUID) []WindowState {
	l.mu.RLock()
	tb, ok := l.tenants[tenantID]
	l.mu.RUnlock()

	states := make([]WindowState, len(l.cfg.Windows))
	if !ok {
		for i, w := range l.cfg.Windows {
			states[i] = WindowState{Window: w.Window, Ceiling: w.Ceiling, Remaining: float64(w.Ceiling)}
		}
		return states
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := l.now()
	for i, b := range tb.buckets {
		states[i] = WindowState{Window: b.window.Window, Ceiling: b.window.Ceiling, Remaining: b.limiter.TokensAt(now)}
	}
	return states
}

// EvictIdle drops tenants unused for longer than idle and returns how many were
// dropped. A dropped tenant starts again with full buckets, so idle must be at
// least the longest window.
func (l *Limiter) EvictIdle(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, tb := range l.tenants {
		tb.mu.Lock()
		stale := tb.lastUsed.Before(cutoff)
		tb.mu.Unlock()
		if stale {
			delete(l.tenants, id)
			evicted++
		}
	}
	return evicted
}

// LongestWindow returns the largest configured window
func (l *Limiter) LongestWindow() time.Duration {
	var longest time.Duration
	for _, w := range l.cfg.Windows {
		longest = max(longest, w.Window)
	}
	return longest
}

// Stats contains counters of limiter decisions
type Stats struct {
	Granted int64 `json:"granted"`
	Denied  int64 `json:"denied"`
	Tenants int   `json:"tenants"`
}

// Stats returns decision counters
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	n := len(l.tenants)
	l.mu.RUnlock()
	return Stats{Granted: l.granted.Load(), Denied: l.denied.Load(), Tenants: n}
}

var _ integration.RateLimiter = (*Limiter)(nil)
