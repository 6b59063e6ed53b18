package realtime

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-connection command budget over a sliding window.
// It remembers the admission time of the last `limit` events in a fixed ring;
// a new event is admitted only once the oldest remembered admission has aged
// out of the window. Memory stays O(limit) for the life of the connection and
// Allow is O(1), which matters because one limiter is checked on every frame.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	filled int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter. Non-positive inputs fall back to
// the package defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at time "now" fits the budget, admitting it
// when it does.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == len(r.ring) {
		// Ring full: the slot about to be overwritten holds the oldest of the
		// last `limit` admissions. If it is still inside the window, admitting
		// would put limit+1 events in the window.
		if r.ring[r.next].After(now.Add(-r.window)) {
			return false
		}
	}

	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	if r.filled < len(r.ring) {
		r.filled++
	}
	return true
}
