package infra

import (
	"sync/atomic"
	"time"
)

// NonceSource hands out strictly increasing millisecond nonces for one credential.
// It is lock-free: concurrent callers race on a CAS, never on a mutex.
type NonceSource struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewNonceSource creates a source seeded from the wall clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: time.Now}
}

// Next returns max(now in ms, previous+1).
func (n *NonceSource) Next() uint64 {
	now := uint64(n.now().UnixMilli())
	for {
		prev := n.last.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Last returns the most recently issued nonce, or 0.
func (n *NonceSource) Last() uint64 {
	return n.last.Load()
}
