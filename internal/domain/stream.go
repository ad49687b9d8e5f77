package domain

import (
	"fmt"
	"strings"
)

// StreamKind enumerates the live data streams.
type StreamKind int

const (
	StreamTrades StreamKind = iota + 1
	StreamBbo
	StreamL2Book
	StreamOrders
	StreamFills
)

func (k StreamKind) String() string {
	switch k {
	case StreamTrades:
		return "trades"
	case StreamBbo:
		return "bbo"
	case StreamL2Book:
		return "l2book"
	case StreamOrders:
		return "orders"
	case StreamFills:
		return "fills"
	default:
		return "unknown"
	}
}

// RequiresAuth reports whether the stream is scoped to an account.
func (k StreamKind) RequiresAuth() bool {
	return k == StreamOrders || k == StreamFills
}

// Valid reports whether k is a known kind.
func (k StreamKind) Valid() bool {
	return k >= StreamTrades && k <= StreamFills
}

// ParseStreamKind parses the String() form, case-insensitively.
func ParseStreamKind(s string) (StreamKind, error) {
	for k := StreamTrades; k <= StreamFills; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stream kind %q", s)
}
