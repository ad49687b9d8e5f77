// Package stream fans venue WebSocket frames out to per-subscriber channels
// and keeps the resubscription ledger across reconnects.
package stream

import (
	"fmt"

	"perp_go/internal/domain"
	"perp_go/internal/event"
)

// Key identifies one upstream subscription.
// Account streams use one upstream per user and leave Coin empty.
type Key struct {
	Kind domain.StreamKind
	Coin string
}

func (k Key) String() string {
	if k.Coin == "" {
		return k.Kind.String()
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.Coin)
}

// FrameType classifies a decoded inbound frame.
type FrameType int

const (
	FrameIgnore FrameType = iota
	FrameData
	FrameAck
	FramePong
	FrameError
)

// Frame is the result of decoding one inbound message.
// Key is the zero value when the frame cannot be attributed to a subscription.
type Frame struct {
	Type   FrameType
	Key    Key
	Events []event.Event
	Err    error
}

// Codec translates between the multiplexer and a venue's wire format.
type Codec interface {
	// UpstreamKey maps a subscribe request onto the upstream it shares.
	UpstreamKey(kind domain.StreamKind, coin string) (Key, error)
	SubscribeFrame(k Key) ([]byte, error)
	UnsubscribeFrame(k Key) ([]byte, error)
	PingFrame() []byte
	IsPong(msg []byte) bool
	// Decode returns a non-nil error for frames it cannot parse. The returned
	// Frame still carries the Key when the offending subscription is identifiable.
	Decode(msg []byte) (Frame, error)
}

// OverflowPolicy selects which event is discarded when a subscriber's buffer is full.
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// ParseOverflowPolicy parses the config form ("drop_oldest", "drop_newest").
// An empty string selects DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}
