package infra

import (
	"math/rand/v2"
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// BackoffPolicy is exponential growth with a cap and random jitter.
// Jitter is the fraction (0..1) of each delay that is randomized downwards.
// StableAfter is how long a connection must stay up before the attempt counter resets.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	StableAfter time.Duration

	// rand returns a value in [0,1). Nil uses math/rand/v2.
	rand func() float64
}

// DefaultBackoffPolicy returns 1s doubling up to 60s with 20% jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     baseDelay,
		Max:         maxDelay,
		Multiplier:  2,
		Jitter:      0.2,
		StableAfter: 30 * time.Second,
	}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.base(attempt)
	if p.Jitter <= 0 {
		return d
	}
	j := p.Jitter
	if j > 1 {
		j = 1
	}
	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	return d - time.Duration(float64(d)*j*r())
}

func (p BackoffPolicy) base(attempt int) time.Duration {
	initial, limit := p.Initial, p.Max
	if initial <= 0 {
		initial = baseDelay
	}
	if limit < initial {
		limit = initial
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	if attempt <= 0 {
		return initial
	}

	d := float64(initial)
	for i := 0; i < attempt; i++ {
		d *= mult
		if d >= float64(limit) {
			return limit
		}
	}
	return time.Duration(d)
}

// CalculateBackoff returns the exponential backoff duration for a given retry count
// under the default policy without jitter: 1s * 2^retryCount, capped at 60s.
func CalculateBackoff(retryCount int) time.Duration {
	p := DefaultBackoffPolicy()
	p.Jitter = 0
	return p.Delay(retryCount)
}
