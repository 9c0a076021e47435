package autosave

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket capping outbound preference patches.
// When the bucket is empty the caller degrades to "saved locally,
// sync pending" instead of queuing the request.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter creates a bucket holding burst tokens, refilled at
// perMinute tokens per minute.
func NewRateLimiter(perMinute, burst int, now func() time.Time) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(perMinute) / 60,
		last:     now(),
		now:      now,
	}
}

// Allow consumes one token if available.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	if elapsed := t.Sub(l.last); elapsed > 0 {
		l.tokens += elapsed.Seconds() * l.perSec
	}
	l.last = t
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
