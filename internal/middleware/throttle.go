package middleware

import (
	"sync"
	"time"
)

// Throttle counts hits per key and reports when a key exceeds its budget for
// the current window. BasicAuth feeds it one hit per failed attempt keyed by
// client IP; successful requests never reach it.
type Throttle struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]bucket
}

type bucket struct {
	hits    int
	resetAt time.Time
}

// NewThrottle allows up to limit hits per key within each window.
func NewThrottle(limit int, window time.Duration) *Throttle {
	return &Throttle{
		limit:   limit,
		window:  window,
		buckets: make(map[string]bucket),
	}
}

// Allow records a hit for key and reports whether the key is still within
// budget. The first hit after a window expires starts a fresh one.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	b, ok := t.buckets[key]
	if !ok || now.After(b.resetAt) {
		t.buckets[key] = bucket{hits: 1, resetAt: now.Add(t.window)}
		return true
	}
	b.hits++
	t.buckets[key] = b
	return b.hits <= t.limit
}

// Sweep drops buckets whose window has passed.
func (t *Throttle) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, b := range t.buckets {
		if now.After(b.resetAt) {
			delete(t.buckets, key)
		}
	}
}
