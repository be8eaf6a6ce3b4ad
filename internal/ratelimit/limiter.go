// Package ratelimit throttles scrape callers. It is a best-effort,
// single-process guard: one token bucket per caller key, refilled once per
// minimum interval, with idle keys swept periodically.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

const defaultIdleTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a minimum spacing between calls per caller key.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	idleTTL  time.Duration
	entries  map[string]*entry
	lastGC   time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Limiter that admits one call per interval per key.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		idleTTL:  defaultIdleTTL,
		entries:  make(map[string]*entry),
		nowFunc:  time.Now,
	}
}

// Allow admits the call or returns a RateLimitExceeded carrying the delay
// until the caller may try again. A non-positive interval disables limiting.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.sweep(now)

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(l.interval), 1)}
		l.entries[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &apperr.RateLimitExceeded{Key: key, RetryAfter: delay}
	}
	return nil
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastGC) < l.idleTTL {
		return
	}
	l.lastGC = now
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= l.idleTTL {
			delete(l.entries, k)
		}
	}
}
