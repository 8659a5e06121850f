package ratelimiter

import (
	"sync"
	"time"
)

// Limiter provides simple time-based rate limiting.
// It allows one action per interval and is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	now         func() time.Time
}

// New creates a new rate limiter with the specified interval.
// A non-positive interval allows every action.
func New(interval time.Duration) *Limiter {
	return newWithClock(interval, time.Now)
}

func newWithClock(interval time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		interval: interval,
		now:      now,
	}
}

// Allow checks if an action is allowed at this time.
// Returns true if allowed (and records this as the last allowed time),
// or false with the remaining wait duration if rate-limited.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastAllowed.IsZero() || now.Sub(l.lastAllowed) >= l.interval {
		l.lastAllowed = now
		return true, 0
	}

	return false, l.interval - now.Sub(l.lastAllowed)
}

// Mark records an action that bypassed Allow, such as a forced final
// progress report, so the next action waits a full interval.
func (l *Limiter) Mark() {
	l.mu.Lock()
	l.lastAllowed = l.now()
	l.mu.Unlock()
}
