package safety

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter. Timestamps older than the window
// are pruned lazily on every query.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	stamps []time.Time
}

// NewRateLimiter allows max actions per window. A nil clock uses time.Now.
func NewRateLimiter(max int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{max: max, window: window, now: now}
}

func (l *RateLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) > l.window {
		i++
	}
	l.stamps = l.stamps[i:]
}

// Allow reports whether one more action fits in the window.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps) < l.max
}

func (l *RateLimiter) Record() {
	l.mu.Lock()
	l.stamps = append(l.stamps, l.now())
	l.mu.Unlock()
}

// Count returns the actions currently inside the window.
func (l *RateLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// TimeUntilNext is zero when an action is allowed now, otherwise the time
// until the oldest action leaves the window.
func (l *RateLimiter) TimeUntilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.stamps) < l.max || len(l.stamps) == 0 {
		return 0
	}
	return max(0, l.window-now.Sub(l.stamps[0]))
}

func (l *RateLimiter) Max() int { return l.max }
