// Package ratelimit implements a trailing-window request limiter. Each key
// keeps the ordered list of its recent event timestamps; an event is admitted
// while fewer than the limit fall inside the window ending now. Rejected
// attempts are not recorded, so hammering a closed window neither extends the
// wait nor shifts it.
package ratelimit

import (
	"sync"
	"time"
)

// Rule sets how many events a key may emit per window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Standard rules for the auth surface.
var (
	LoginRule   = Rule{Limit: 5, Window: time.Minute}
	RefreshRule = Rule{Limit: 10, Window: time.Minute}
	GeneralRule = Rule{Limit: 100, Window: time.Minute}
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store keeps the per-key timestamp windows. The memory implementation below
// suits a single instance; a shared deployment would back this with Redis
// sorted sets.
type Store interface {
	// Admit drops timestamps at or before cutoff, then records at when
	// fewer than limit survive. It returns the surviving window, oldest
	// first, including at when it was admitted.
	Admit(key string, at, cutoff time.Time, limit int) ([]time.Time, bool)

	// Window drops timestamps at or before cutoff and returns the
	// survivors, oldest first, without recording anything.
	Window(key string, cutoff time.Time) []time.Time
}

// Limiter applies one Rule across keys.
type Limiter struct {
	store Store
	rule  Rule
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New builds a Limiter over store with the given rule.
func New(store Store, rule Rule, opts ...Option) *Limiter {
	l := &Limiter{store: store, rule: rule, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow tries to record one event for key. A denial carries the time until
// the oldest recorded event leaves the window, which is when the next attempt
// can succeed.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()
	window, admitted := l.store.Admit(key, now, now.Add(-l.rule.Window), l.rule.Limit)
	if !admitted {
		return Decision{RetryAfter: l.retryAfter(now, window)}
	}
	return Decision{Allowed: true, Remaining: l.rule.Limit - len(window)}
}

// RetryAfter reports how long until key's oldest recorded event leaves the
// window; zero when the key is under its limit.
func (l *Limiter) RetryAfter(key string) time.Duration {
	now := l.now()
	window := l.store.Window(key, now.Add(-l.rule.Window))
	if len(window) < l.rule.Limit {
		return 0
	}
	return l.retryAfter(now, window)
}

func (l *Limiter) retryAfter(now time.Time, window []time.Time) time.Duration {
	if len(window) == 0 {
		return 0
	}
	d := window[0].Add(l.rule.Window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// MemoryStore is an in-process Store. Stale timestamps are pruned on access
// and idle keys are dropped by an optional background sweep.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryStore) Admit(key string, at, cutoff time.Time, limit int) ([]time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := pruneWindow(m.windows[key], cutoff)
	admitted := len(window) < limit
	if admitted {
		window = append(window, at)
	}
	m.windows[key] = window
	return copyWindow(window), admitted
}

func (m *MemoryStore) Window(key string, cutoff time.Time) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := pruneWindow(m.windows[key], cutoff)
	if len(window) == 0 {
		delete(m.windows, key)
		return nil
	}
	m.windows[key] = window
	return copyWindow(window)
}

// Sweep drops keys whose newest event is at or before cutoff. Run it
// periodically so abandoned keys do not accumulate.
func (m *MemoryStore) Sweep(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ts := range m.windows {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(m.windows, key)
		}
	}
}

// StartSweeper launches a background sweep loop. The returned func stops it.
func (m *MemoryStore) StartSweeper(interval, retain time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				m.Sweep(now.Add(-retain))
			}
		}
	}()
	return func() { close(done) }
}

func pruneWindow(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func copyWindow(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	copy(out, ts)
	return out
}
