package stream

import (
	"sync"
	"sync/atomic"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"
)

const minCapacity = 2

// Subscription is one consumer's bounded view of a stream.
// Events arrive in the order the connection received them. When the consumer
// falls behind, events are dropped for this subscription only and an
// event.OverflowEvent carrying the drop count is queued ahead of the next event.
type Subscription struct {
	id     string
	kind   domain.StreamKind
	coin   string
	key    Key
	policy OverflowPolicy

	ch      chan event.Event
	mu      sync.Mutex
	closed  bool
	pending uint64 // drops not yet reported by a marker
	dropped atomic.Uint64

	mux     *Mux
	release func() bool
}

func (s *Subscription) ID() string                 { return s.id }
func (s *Subscription) Kind() domain.StreamKind    { return s.kind }
func (s *Subscription) Coin() string               { return s.coin }
func (s *Subscription) Events() <-chan event.Event { return s.ch }

// Dropped returns the cumulative number of events discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. The Events channel is closed once it returns.
// Closing twice is a no-op.
func (s *Subscription) Close() error {
	err := s.mux.Unsubscribe(s.id)
	if dexerr.KindOf(err) == dexerr.KindNotFound {
		return nil
	}
	return err
}

func (s *Subscription) matches(coin string) bool {
	return s.coin == "" || s.coin == coin
}

// deliver enqueues ev without blocking. Only one goroutine delivers at a time.
func (s *Subscription) deliver(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.ch)+s.need() > cap(s.ch) {
		if s.policy == DropNewest {
			s.drop(1)
			return
		}
		for len(s.ch)+s.need() > cap(s.ch) {
			select {
			case old := <-s.ch:
				if m, ok := old.(event.OverflowEvent); ok {
					// already counted; fold it into the next marker
					s.pending += m.Dropped
				} else {
					s.drop(1)
				}
			default:
			}
		}
	}

	if s.pending > 0 {
		s.ch <- event.OverflowEvent{
			BaseEvent: event.BaseEvent{Kind: s.kind, Coin: s.coin, Ts: ev.GetTs()},
			Dropped:   s.pending,
		}
		s.pending = 0
	}
	s.ch <- ev
}

func (s *Subscription) need() int {
	if s.pending > 0 {
		return 2
	}
	return 1
}

func (s *Subscription) drop(n uint64) {
	s.pending += n
	s.dropped.Add(n)
	if s.mux != nil {
		s.mux.metrics.Dropped.WithLabelValues(s.kind.String()).Add(float64(n))
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func gapEvent(s *Subscription, ts quant.TimeStamp, reason string) event.Event {
	return event.GapEvent{
		BaseEvent: event.BaseEvent{Kind: s.kind, Coin: s.coin, Ts: ts},
		Reason:    reason,
	}
}
