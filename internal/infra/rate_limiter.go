package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perp_go/pkg/dexerr"
)

// RateLimiter implements a weighted token bucket rate limiter.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: maximum burst size (weight units)
// perSecond: refill rate (weight units per second)
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until one token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available or ctx ends.
// A deadline expiring while waiting is reported as a Timeout.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	need := float64(n)
	if need > r.maxTokens {
		return fmt.Errorf("rate limiter: weight %d exceeds burst %v", n, r.maxTokens)
	}

	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= need {
			r.tokens -= need
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((need - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if e := dexerr.FromContext("rate limit", ctx.Err()); e != nil {
				return e
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}
