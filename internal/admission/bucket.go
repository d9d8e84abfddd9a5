// Package admission holds the process-wide rate limit gate. It bounds how
// many requests are admitted per unit time regardless of per-request cost;
// the circuit breaker separately bounds exposure to downstream failure.
package admission

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a lazy-refill token bucket: tokens accrue from elapsed
// time on each consume attempt, capped at the configured capacity. No
// background timer. Safe for concurrent use.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacity, refillPerSecond int) *TokenBucket {
	if capacity <= 0 {
		capacity = 20
	}
	if refillPerSecond <= 0 {
		refillPerSecond = capacity
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// Consume takes one token if available. A false return means the caller
// must reject the request (429); nothing further runs for it.
func (b *TokenBucket) Consume() bool {
	return b.limiter.Allow()
}

// ConsumeN takes n tokens if all are available.
func (b *TokenBucket) ConsumeN(n int) bool {
	return b.limiter.AllowN(time.Now(), n)
}

// ConsumeAt is Consume with an explicit clock, used by tests.
func (b *TokenBucket) ConsumeAt(t time.Time) bool {
	return b.limiter.AllowN(t, 1)
}
