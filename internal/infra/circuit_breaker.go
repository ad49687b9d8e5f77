package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the REST circuit breaker position.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow
	BreakerOpen                         // requests fail fast
	BreakerHalfOpen                     // one probe request allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // probe successes that close it again
	Timeout          time.Duration // open time before a probe is let through
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops sending to a venue that keeps failing with 5xx or
// transport errors. While half-open only one probe is in flight at a time.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
	listeners []func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to run after every transition. fn runs without
// the breaker lock held.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, fn)
	cb.mu.Unlock()
}

// Allow reports whether a request may be sent. A true result in the
// half-open state reserves the probe until RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var changed bool
	allowed := false
	switch cb.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			changed = cb.setLocked(BreakerHalfOpen)
			cb.probing = true
			allowed = true
		}
	case BreakerHalfOpen:
		if !cb.probing {
			cb.probing = true
			allowed = true
		}
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(BreakerHalfOpen)
	}
	return allowed
}

// RecordSuccess records a request that reached the venue and got an answer.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var changed bool
	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			changed = cb.setLocked(BreakerClosed)
		}
	}
	state := cb.state
	cb.mu.Unlock()
	if changed {
		cb.notify(state)
	}
}

// RecordFailure records a transport error or 5xx answer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var changed bool
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			changed = cb.setLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		changed = cb.setLocked(BreakerOpen)
	}
	failures := cb.failures
	cb.mu.Unlock()
	if changed {
		slog.Warn("Circuit breaker OPEN", slog.String("name", cb.cfg.Name), slog.Int("failures", failures))
		cb.notify(BreakerOpen)
	}
}

// Release hands back a half-open probe whose outcome says nothing about the
// venue, such as a request the caller cancelled.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	if cb.state == BreakerHalfOpen {
		cb.probing = false
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setLocked(BreakerClosed)
	cb.mu.Unlock()
	if changed {
		cb.notify(BreakerClosed)
	}
}

// setLocked moves to s and clears the counters. It reports whether the state changed.
func (cb *CircuitBreaker) setLocked(s BreakerState) bool {
	prev := cb.state
	cb.state = s
	cb.successes = 0
	cb.probing = false
	switch s {
	case BreakerOpen:
		cb.openedAt = cb.now()
	case BreakerClosed:
		cb.failures = 0
	}
	return prev != s
}

func (cb *CircuitBreaker) notify(s BreakerState) {
	if s != BreakerOpen {
		slog.Info("Circuit breaker "+s.String(), slog.String("name", cb.cfg.Name))
	}
	cb.mu.Lock()
	listeners := append([]func(BreakerState){}, cb.listeners...)
	cb.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
