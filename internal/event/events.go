package event

import (
	"perp_go/internal/domain"
	"perp_go/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvTrade Type = iota + 1
	EvBbo
	EvBook
	EvOrder
	EvFill
	EvGap
	EvOverflow
	EvDecodeError
)

func (t Type) String() string {
	switch t {
	case EvTrade:
		return "TRADE"
	case EvBbo:
		return "BBO"
	case EvBook:
		return "BOOK"
	case EvOrder:
		return "ORDER"
	case EvFill:
		return "FILL"
	case EvGap:
		return "GAP"
	case EvOverflow:
		return "OVERFLOW"
	case EvDecodeError:
		return "DECODE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one message delivered to a subscriber.
// Events are shared between subscribers of the same key and must be treated as read-only.
type Event interface {
	GetType() Type
	GetKind() domain.StreamKind
	GetCoin() string
	GetTs() quant.TimeStamp
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Kind domain.StreamKind `json:"kind"`
	Coin string            `json:"coin"`
	Ts   quant.TimeStamp   `json:"ts"`
}

func (e BaseEvent) GetKind() domain.StreamKind { return e.Kind }
func (e BaseEvent) GetCoin() string            { return e.Coin }
func (e BaseEvent) GetTs() quant.TimeStamp     { return e.Ts }

// TradeEvent is one public trade print.
type TradeEvent struct {
	BaseEvent
	Trade domain.Trade `json:"trade"`
}

func (e TradeEvent) GetType() Type { return EvTrade }

// BboEvent is a top-of-book update.
type BboEvent struct {
	BaseEvent
	Bbo domain.Bbo `json:"bbo"`
}

func (e BboEvent) GetType() Type { return EvBbo }

// BookEvent carries an order book frame. Snapshot is false for incremental updates,
// which callers must apply to their own book.
type BookEvent struct {
	BaseEvent
	Book     domain.OrderBook `json:"book"`
	Snapshot bool             `json:"snapshot"`
}

func (e BookEvent) GetType() Type { return EvBook }

// OrderEvent is an order status change on the account.
type OrderEvent struct {
	BaseEvent
	Update domain.OrderUpdate `json:"update"`
}

func (e OrderEvent) GetType() Type { return EvOrder }

// FillEvent is one account fill. Snapshot marks fills replayed on subscribe.
type FillEvent struct {
	BaseEvent
	Fill     domain.UserFill `json:"fill"`
	Snapshot bool            `json:"snapshot"`
}

func (e FillEvent) GetType() Type { return EvFill }

// GapEvent marks that the connection dropped and events may have been missed.
// Delivery resumes after resubscription.
type GapEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e GapEvent) GetType() Type { return EvGap }

// OverflowEvent reports events dropped for this subscriber because it fell behind.
type OverflowEvent struct {
	BaseEvent
	Dropped uint64 `json:"dropped"`
}

func (e OverflowEvent) GetType() Type { return EvOverflow }

// DecodeErrorEvent reports a frame that could not be decoded. Raw is a copy of the frame.
type DecodeErrorEvent struct {
	BaseEvent
	Err error  `json:"-"`
	Raw []byte `json:"raw"`
}

func (e DecodeErrorEvent) GetType() Type { return EvDecodeError }

// IsMarker reports whether ev is a stream status marker rather than venue data.
func IsMarker(ev Event) bool {
	switch ev.GetType() {
	case EvGap, EvOverflow, EvDecodeError:
		return true
	}
	return false
}
