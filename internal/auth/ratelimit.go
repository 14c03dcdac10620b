package auth

import (
	"sync"
	"time"
)

const (
	defaultCleanupInterval = 10 * time.Minute
)

// AttemptLimiter is an in-memory sliding-window rate limiter keyed by an
// opaque client key (typically the remote address). State is process-local
// and intentionally not durable: a restart resets all counters, which is
// an accepted tradeoff for a single-instance deployment. Horizontal
// scaling would require moving this state into a shared store.
type AttemptLimiter struct {
	mu              sync.Mutex
	maxCalls        int
	timeFrame       time.Duration
	cleanupInterval time.Duration
	attempts        map[string][]time.Time
	lastSweep       time.Time
	now             func() time.Time
}

// LimiterOption configures AttemptLimiter behavior.
type LimiterOption func(*AttemptLimiter)

// WithCleanupInterval overrides how often the full sweep may run.
func WithCleanupInterval(d time.Duration) LimiterOption {
	return func(l *AttemptLimiter) {
		if d > 0 {
			l.cleanupInterval = d
		}
	}
}

// WithLimiterClock overrides the time source (useful for tests).
func WithLimiterClock(fn func() time.Time) LimiterOption {
	return func(l *AttemptLimiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewAttemptLimiter admits at most maxCalls attempts per key within the
// trailing timeFrame. Instances are meant to be constructed and injected
// explicitly so tests can run isolated limiters per scenario.
func NewAttemptLimiter(maxCalls int, timeFrame time.Duration, opts ...LimiterOption) *AttemptLimiter {
	l := &AttemptLimiter{
		maxCalls:        maxCalls,
		timeFrame:       timeFrame,
		cleanupInterval: defaultCleanupInterval,
		attempts:        make(map[string][]time.Time),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow reports whether an attempt for the key is admitted, recording it
// when admitted. A rejected attempt is not recorded, so a throttled client
// regains admission as soon as old attempts age out of the window.
func (l *AttemptLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Amortized sweep: drop keys that went fully idle so one-off clients
	// do not grow the map without bound.
	if now.Sub(l.lastSweep) > l.cleanupInterval {
		l.sweepLocked(now)
	}

	recent := pruneBefore(l.attempts[key], now.Add(-l.timeFrame))
	if len(recent) >= l.maxCalls {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

// sweepLocked removes keys whose every recorded attempt has aged out.
// Caller holds l.mu.
func (l *AttemptLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.timeFrame)
	for key, stamps := range l.attempts {
		recent := pruneBefore(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = recent
	}
	l.lastSweep = now
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order; find the first one still inside
	// the window instead of filtering the whole slice.
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
