package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle paces work per key with token buckets. Unlike Limiter it keeps no
// history and never locks a key out; it only spreads calls over time.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	rps     rate.Limit
	burst   int
	now     func() time.Time
}

func NewThrottle(rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.entries[key] = e
	}
	e.lastSeen = t.now()
	return e.limiter
}

// Allow reports whether a call for key may proceed now.
func (t *Throttle) Allow(key string) bool {
	return t.limiter(key).Allow()
}

// Wait blocks until a call for key may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	if err := t.limiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait failed: %w", err)
	}
	return nil
}

// Cleanup drops buckets idle for longer than idle and returns how many.
func (t *Throttle) Cleanup(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-idle)
	removed := 0
	for k, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
