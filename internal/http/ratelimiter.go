package httpapi

import (
	"sync"
	"time"
)

// KeyedRateLimiter budgets each key, such as a user id, on its own.
type KeyedRateLimiter interface {
	AllowKey(key string) bool
}

// SlidingWindowLimiter allows at most limit events per window for every key.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewSlidingWindowLimiter constructs a limiter. A non-positive window or limit disables it.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window: window,
		limit:  limit,
		now:    timeSource,
		events: make(map[string][]time.Time),
	}
}

// Allow spends from the shared budget.
func (l *SlidingWindowLimiter) Allow() bool {
	return l.AllowKey("")
}

// AllowKey spends from the budget of key and reports whether the event may proceed.
func (l *SlidingWindowLimiter) AllowKey(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	//1.- Drop every key whose window has fully elapsed so idle users cost nothing.
	cutoff := now.Add(-l.window)
	for k, stamps := range l.events {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.events, k)
		}
	}
	//2.- Stamps are appended in order, so the live ones are a suffix.
	stamps := l.events[key]
	first := 0
	for first < len(stamps) && !stamps[first].After(cutoff) {
		first++
	}
	stamps = stamps[first:]
	if len(stamps) >= l.limit {
		l.events[key] = stamps
		return false
	}
	l.events[key] = append(stamps, now)
	return true
}

// Keys reports how many keys currently hold events.
func (l *SlidingWindowLimiter) Keys() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
