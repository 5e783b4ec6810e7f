package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Decision is the outcome of a single Take.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time // when the bucket is fully replenished
}

// Limiter implements a token-bucket rate limiter keyed by user id.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate requests per window for each key.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// getBucket returns the bucket for key, creating a full one if it doesn't exist.
// Must be called with l.mu held.
func (l *Limiter) getBucket(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(l.rate),
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}

// refill adds tokens to the bucket based on elapsed time since the last refill.
// Must be called with l.mu held.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	// Tokens accumulate at rate/window per second.
	b.tokens += elapsed * l.refillRate()
	if b.tokens > float64(l.rate) {
		b.tokens = float64(l.rate)
	}
	b.lastRefill = now
}

func (l *Limiter) refillRate() float64 {
	return float64(l.rate) / l.window.Seconds()
}

// Take consumes one token for key when one is available. The returned
// Decision reflects the bucket after the attempt, so headers and the verdict
// come from the same locked read.
func (l *Limiter) Take(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.getBucket(key)
	l.refill(b, now)

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	return l.decision(b, now, allowed)
}

// Status returns the current state for key without consuming a token.
func (l *Limiter) Status(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.getBucket(key)
	l.refill(b, now)
	return l.decision(b, now, b.tokens >= 1)
}

// Must be called with l.mu held.
func (l *Limiter) decision(b *bucket, now time.Time, allowed bool) Decision {
	d := Decision{Allowed: allowed, Limit: l.rate, Remaining: int(b.tokens)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	deficit := float64(l.rate) - b.tokens
	if deficit <= 0 {
		d.ResetAt = now
	} else {
		d.ResetAt = now.Add(time.Duration(deficit / l.refillRate() * float64(time.Second)))
	}
	return d
}

// Prune drops buckets that have been idle for longer than idle and are full
// again. It returns the number of buckets removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) < idle {
			continue
		}
		l.refill(b, now)
		if b.tokens >= float64(l.rate) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
