// Package security guards the interaction pipeline: per-principal rate
// limits, block and admin lists, and the audit trail.
package security

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the per-principal cap per window when the
	// config does not set one.
	DefaultRateLimit = 20

	// defaultRateLimitWindow is the sliding window duration.
	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-principal sliding-window rate limit.
//
// It holds the event timestamps for each principal within the current
// window and prunes stale entries on every Allow call, keeping memory
// bounded to O(limit) entries per active principal.
//
// RateLimiter is safe for concurrent use from multiple goroutines.
// State lives only in memory; a restart resets all counters.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time // principal → event timestamps in window
}

// NewRateLimiter returns a RateLimiter that allows at most limit events
// per principal within window.
//
// If limit ≤ 0 it defaults to DefaultRateLimit.
// If window ≤ 0 it defaults to one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow returns true when the principal may proceed and records the
// current timestamp. Returns false when the quota for the current
// window is exhausted; a denied check records nothing.
func (r *RateLimiter) Allow(principal string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	// Prune timestamps that have fallen outside the window.
	existing := r.counters[principal]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.counters[principal] = valid
		return false
	}

	r.counters[principal] = append(valid, now)
	return true
}

// Remaining returns the number of events the principal can still emit
// within the current window. Zero means the next Allow will deny.
func (r *RateLimiter) Remaining(principal string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	count := 0
	for _, t := range r.counters[principal] {
		if t.After(cutoff) {
			count++
		}
	}
	rem := r.limit - count
	if rem < 0 {
		return 0
	}
	return rem
}
