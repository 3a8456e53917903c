package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands each caller a token bucket refilling max tokens per window.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	burst   int
	refill  rate.Limit
	callers map[string]*callerBucket
	sweepAt time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	if window <= 0 || max <= 0 {
		return nil
	}

	return &rateLimiter{
		window:  window,
		burst:   max,
		refill:  rate.Every(window / time.Duration(max)),
		callers: make(map[string]*callerBucket),
	}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.callers[key]
	if !ok {
		bucket = &callerBucket{limiter: rate.NewLimiter(r.refill, r.burst)}
		r.callers[key] = bucket
	}
	bucket.lastSeen = now

	allowed := bucket.limiter.AllowN(now, 1)

	if now.After(r.sweepAt) {
		r.sweepLocked(now)
		r.sweepAt = now.Add(r.window)
	}

	return allowed
}

// sweepLocked forgets callers idle for two windows; their buckets are full again by then.
func (r *rateLimiter) sweepLocked(now time.Time) {
	threshold := now.Add(-2 * r.window)
	for key, bucket := range r.callers {
		if bucket.lastSeen.Before(threshold) {
			delete(r.callers, key)
		}
	}
}

func (r *rateLimiter) tracked() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callers)
}
