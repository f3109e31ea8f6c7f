package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-tenant-auth/metrics"
)

const (
	DefaultGuardMaxAttempts   = 5
	DefaultGuardWindow        = 15 * time.Minute
	DefaultGuardCapacity      = 10_000
	DefaultGuardSweepInterval = 30 * time.Minute
)

// GuardConfig configures the brute force guard
type GuardConfig struct {
	// MaxAttempts is the failure count at which an identity is blocked
	MaxAttempts int
	// Window is how long a counter lives after its last failure
	Window time.Duration
	// Capacity bounds the number of tracked identities
	Capacity int
	// SweepInterval is how often expired counters are removed
	SweepInterval time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultGuardMaxAttempts
	}
	if c.Window <= 0 {
		c.Window = DefaultGuardWindow
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultGuardCapacity
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultGuardSweepInterval
	}
	return c
}

type failureCounter struct {
	count       int
	lastAttempt time.Time
}

// FailureGuard counts failed authentication attempts per client identity
// and blocks identities that exceed the limit inside the window.
//
// Counters are updated with per key atomic compute operations, so request
// handlers and the background sweep never share a lock wider than a single
// map bucket. Successful logins do not reset a counter, it only decays
// once the window elapses.
type FailureGuard struct {
	cfg      GuardConfig
	counters *xsync.MapOf[string, failureCounter]
	now      Clock
	logger   Logger

	evictMu sync.Mutex

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// GuardOption customizes the guard
type GuardOption func(*FailureGuard)

// WithGuardClock injects a custom clock (useful for tests)
func WithGuardClock(clock Clock) GuardOption {
	return func(g *FailureGuard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithGuardLogger sets the guard logger
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *FailureGuard) {
		g.logger = normalizeLogger(logger)
	}
}

// NewFailureGuard creates a guard, call Start to run the periodic sweep
func NewFailureGuard(cfg GuardConfig, opts ...GuardOption) *FailureGuard {
	g := &FailureGuard{
		cfg:      cfg.withDefaults(),
		counters: xsync.NewMapOf[string, failureCounter](),
		now:      time.Now,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check returns ErrTooManyAttempts when the identity is blocked. An
// expired counter is dropped on the way.
func (g *FailureGuard) Check(identity string) error {
	now := g.now()
	blocked := false

	g.counters.Compute(identity, func(old failureCounter, loaded bool) (failureCounter, bool) {
		if !loaded {
			return old, true
		}
		if g.expired(old, now) {
			return old, true
		}
		blocked = old.count >= g.cfg.MaxAttempts
		return old, false
	})

	if blocked {
		metrics.GuardBlockedTotal.Inc()
		g.logger.Warn("authentication attempt blocked", "identity", identity)
		return ErrTooManyAttempts
	}
	return nil
}

// RecordFailure increments the failure counter of identity and returns
// the updated count
func (g *FailureGuard) RecordFailure(identity string) int {
	now := g.now()

	counter, _ := g.counters.Compute(identity, func(old failureCounter, loaded bool) (failureCounter, bool) {
		if !loaded || g.expired(old, now) {
			return failureCounter{count: 1, lastAttempt: now}, false
		}
		old.count++
		old.lastAttempt = now
		return old, false
	})

	if g.counters.Size() > g.cfg.Capacity {
		g.evictOverflow()
	}
	metrics.GuardTrackedIdentities.Set(float64(g.counters.Size()))

	return counter.count
}

// Attempts returns the live failure count of identity
func (g *FailureGuard) Attempts(identity string) int {
	c, ok := g.counters.Load(identity)
	if !ok || g.expired(c, g.now()) {
		return 0
	}
	return c.count
}

// Len returns the number of tracked identities
func (g *FailureGuard) Len() int {
	return g.counters.Size()
}

// Sweep removes every counter whose window has elapsed
func (g *FailureGuard) Sweep() int {
	now := g.now()

	var stale []string
	g.counters.Range(func(key string, c failureCounter) bool {
		if g.expired(c, now) {
			stale = append(stale, key)
		}
		return true
	})

	removed := 0
	for _, key := range stale {
		g.counters.Compute(key, func(old failureCounter, loaded bool) (failureCounter, bool) {
			if loaded && g.expired(old, now) {
				removed++
				return old, true
			}
			return old, false
		})
	}

	if removed > 0 {
		metrics.GuardEvictionsTotal.WithLabelValues("expired").Add(float64(removed))
		g.logger.Debug("failure guard sweep", "removed", removed)
	}
	metrics.GuardTrackedIdentities.Set(float64(g.counters.Size()))
	return removed
}

// Start runs the periodic sweep until ctx is done or Stop is called
func (g *FailureGuard) Start(ctx context.Context) {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(g.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Sweep()
			}
		}
	}(g.done)
}

// Stop halts the sweep and waits for it to exit
func (g *FailureGuard) Stop() {
	g.lifecycleMu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (g *FailureGuard) expired(c failureCounter, now time.Time) bool {
	return now.Sub(c.lastAttempt) >= g.cfg.Window
}

type counterSnapshot struct {
	key         string
	lastAttempt time.Time
}

// evictOverflow drops the least recently attempted counters until the
// population is back under capacity
func (g *FailureGuard) evictOverflow() {
	g.evictMu.Lock()
	defer g.evictMu.Unlock()

	excess := g.counters.Size() - g.cfg.Capacity
	if excess <= 0 {
		return
	}

	snapshot := make([]counterSnapshot, 0, g.counters.Size())
	g.counters.Range(func(key string, c failureCounter) bool {
		snapshot = append(snapshot, counterSnapshot{key: key, lastAttempt: c.lastAttempt})
		return true
	})

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].lastAttempt.Before(snapshot[j].lastAttempt)
	})

	evicted := 0
	for _, s := range snapshot {
		if evicted >= excess {
			break
		}
		g.counters.Compute(s.key, func(old failureCounter, loaded bool) (failureCounter, bool) {
			if loaded && old.lastAttempt.Equal(s.lastAttempt) {
				evicted++
				return old, true
			}
			return old, false
		})
	}

	metrics.GuardEvictionsTotal.WithLabelValues("capacity").Add(float64(evicted))
}
