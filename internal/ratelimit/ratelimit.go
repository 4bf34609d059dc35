// Package ratelimit provides a sliding-window limiter for upstream calls.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the sliding window length.
const DefaultWindow = time.Minute

// Limiter allows at most Max calls in any trailing window. Timestamps older
// than the window are evicted lazily on each check.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time // ascending
}

// New creates a limiter allowing perWindow calls per window.
func New(perWindow int, window time.Duration) *Limiter {
	if perWindow < 1 {
		perWindow = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		max:    perWindow,
		window: window,
		now:    time.Now,
		calls:  make([]time.Time, 0, perWindow),
	}
}

// NewPerMinute creates a limiter allowing perMinute calls per minute.
func NewPerMinute(perMinute int) *Limiter {
	return New(perMinute, DefaultWindow)
}

// Allow reports whether a call may proceed and records it if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.calls) >= l.max {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// Remaining returns the number of calls still allowed in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return l.max - len(l.calls)
}

// RetryAfter returns how long until the next call would be allowed.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	if len(l.calls) < l.max {
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
