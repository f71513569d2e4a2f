package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the rate limiting interface
type Limiter interface {
	// Allow reports whether one more action is allowed for key under a
	// policy of limit actions per window
	Allow(key string, limit int, window time.Duration) bool

	// RetryAfter returns how long key must wait for its next action
	RetryAfter(key string, limit int, window time.Duration) time.Duration
}

// KeyedLimiter keeps one token bucket per key. A bucket holds up to limit
// tokens and refills evenly over window.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// NewKeyedLimiter creates an empty limiter
func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *KeyedLimiter) get(key string, limit int, window time.Duration, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.limit != limit || b.window != window {
		every := rate.Inf
		if limit > 0 && window > 0 {
			every = rate.Every(window / time.Duration(limit))
		}
		b = &bucket{lim: rate.NewLimiter(every, max(limit, 1)), limit: limit, window: window}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

func (l *KeyedLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	now := l.now()
	return l.get(key, limit, window, now).AllowN(now, 1)
}

func (l *KeyedLimiter) RetryAfter(key string, limit int, window time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	now := l.now()
	r := l.get(key, limit, window, now).ReserveN(now, 1)
	if !r.OK() {
		return window
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// Cleanup removes buckets idle for longer than ttl
func (l *KeyedLimiter) Cleanup(ttl time.Duration) {
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartCleanup periodically removes idle buckets until ctx is done
func (l *KeyedLimiter) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup(ttl)
			}
		}
	}()
}

// Ensure KeyedLimiter implements Limiter
var _ Limiter = (*KeyedLimiter)(nil)
