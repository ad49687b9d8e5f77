package stream

import (
	"testing"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/pkg/quant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(capacity int, policy OverflowPolicy) *Subscription {
	return &Subscription{
		kind:   domain.StreamBbo,
		coin:   "BTC",
		policy: policy,
		ch:     make(chan event.Event, capacity),
	}
}

func bbo(seq int) event.Event {
	return event.BboEvent{BaseEvent: event.BaseEvent{Kind: domain.StreamBbo, Coin: "BTC", Ts: quant.TimeStamp(seq)}}
}

func drain(s *Subscription) []event.Event {
	var out []event.Event
	for len(s.ch) > 0 {
		out = append(out, <-s.ch)
	}
	return out
}

func TestSubscription_DropOldest(t *testing.T) {
	for _, capacity := range []int{2, 3, 4, 16} {
		s := newSub(capacity, DropOldest)
		const n = 50
		for i := 1; i <= n; i++ {
			s.deliver(bbo(i))
		}

		got := drain(s)
		require.LessOrEqual(t, len(got), capacity)

		var data, reported uint64
		prev := quant.TimeStamp(0)
		for _, ev := range got {
			if m, ok := ev.(event.OverflowEvent); ok {
				reported += m.Dropped
				continue
			}
			data++
			assert.Greater(t, ev.GetTs(), prev, "order preserved")
			prev = ev.GetTs()
		}
		assert.Equal(t, quant.TimeStamp(n), got[len(got)-1].GetTs(), "newest kept, cap %d", capacity)
		assert.Equal(t, uint64(n), data+reported, "every drop is reported, cap %d", capacity)
		assert.Equal(t, reported, s.Dropped())
	}
}

func TestSubscription_DropNewest(t *testing.T) {
	s := newSub(4, DropNewest)
	for i := 1; i <= 10; i++ {
		s.deliver(bbo(i))
	}
	got := drain(s)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, quant.TimeStamp(i+1), ev.GetTs())
	}
	assert.Equal(t, uint64(6), s.Dropped())

	s.deliver(bbo(11))
	got = drain(s)
	require.Len(t, got, 2)
	m, ok := got[0].(event.OverflowEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(6), m.Dropped)
	assert.Equal(t, quant.TimeStamp(11), got[1].GetTs())
}

func TestSubscription_NoMarkerWithoutDrops(t *testing.T) {
	s := newSub(4, DropOldest)
	for i := 1; i <= 4; i++ {
		s.deliver(bbo(i))
	}
	for _, ev := range drain(s) {
		assert.False(t, event.IsMarker(ev))
	}
	assert.Zero(t, s.Dropped())
}

func TestSubscription_DeliverAfterClose(t *testing.T) {
	s := newSub(4, DropOldest)
	s.close()
	s.close()
	s.deliver(bbo(1))
	_, ok := <-s.ch
	assert.False(t, ok)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	p, err = ParseOverflowPolicy("drop_newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, p)
	assert.Equal(t, "drop_newest", p.String())

	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}
