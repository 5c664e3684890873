// Package ratelimit provides fixed-window request limiting for the
// agent-facing surface. Limits are per caller identity; windows reset
// rather than slide, which keeps the bookkeeping to one counter per
// identity.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int64

	// RetryAfter is how long until the window resets. Set only when the
	// request was rejected.
	RetryAfter time.Duration
}

type window struct {
	count int64
	ends  time.Time
}

// Limiter enforces a per-identity request budget over a fixed window.
type Limiter struct {
	limit  int64
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// Option configures a Limiter.
type Option func(*Limiter)

// New creates a limiter allowing limit requests per identity per window.
func New(limit int64, windowSize time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request for the identity and reports whether it
// fits the budget. Rejected requests are not counted against the
// window.
func (l *Limiter) Allow(identifier string) *Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || now.After(w.ends) {
		w = &window{ends: now.Add(l.window)}
		l.windows[identifier] = w
	}

	if w.count >= l.limit {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Until(w.ends),
		}
	}

	w.count++
	return &Result{
		Allowed:   true,
		Remaining: l.limit - w.count,
	}
}

// Reset clears the window for one identity.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

// Size returns the number of tracked identities.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// RunSweeper invokes CleanupExpired on the given interval until the
// stop channel closes, so idle identities do not pin memory.
func (l *Limiter) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := l.CleanupExpired(); removed > 0 {
				slog.Debug("Expired rate limit windows removed", "count", removed)
			}
		}
	}
}

// CleanupExpired drops windows that ended before now and returns how
// many were removed.
func (l *Limiter) CleanupExpired() int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if now.After(w.ends) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}
