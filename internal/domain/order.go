package domain

import (
	"fmt"
	"strings"

	"perp_go/pkg/quant"
)

// Side of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsBuy reports whether the side is a bid.
func (s Side) IsBuy() bool { return s == SideBuy }

// Tif is the time-in-force of a limit order.
type Tif string

const (
	TifGtc Tif = "Gtc" // good til cancelled
	TifIoc Tif = "Ioc" // immediate or cancel
	TifAlo Tif = "Alo" // add liquidity only (post-only)
)

// ClientOrderID is the caller-side identifier of an order: "0x" followed by 32 hex digits.
type ClientOrderID string

// Validate checks the 128-bit hex form accepted by the venue.
func (c ClientOrderID) Validate() error {
	s := string(c)
	if len(s) != 34 || !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("client order id %q must be 0x followed by 32 hex digits", s)
	}
	for _, r := range s[2:] {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return fmt.Errorf("client order id %q contains non-hex digit %q", s, r)
		}
	}
	return nil
}

// OrderRequest is the immutable input to order placement.
// ClientOrderID is optional; one is generated when empty.
type OrderRequest struct {
	Coin          string
	Side          Side
	Price         quant.Price
	Qty           quant.Qty
	Tif           Tif
	ReduceOnly    bool
	ClientOrderID ClientOrderID
}

// Validate performs the client-side checks that do not need venue metadata.
func (r OrderRequest) Validate() error {
	if r.Coin == "" {
		return fmt.Errorf("coin is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", r.Price)
	}
	if !r.Qty.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", r.Qty)
	}
	switch r.Tif {
	case TifGtc, TifIoc, TifAlo, "":
	default:
		return fmt.Errorf("invalid time in force %q", r.Tif)
	}
	if r.ClientOrderID != "" {
		return r.ClientOrderID.Validate()
	}
	return nil
}

// CancelRequest identifies an order by client id (preferred) or exchange id.
// Coin may be omitted when the order was placed through the same client.
type CancelRequest struct {
	Coin          string
	ClientOrderID ClientOrderID
	OrderID       uint64
}

// OrderState is the lifecycle state of a tracked order.
type OrderState int

const (
	OrderSubmitted OrderState = iota
	OrderAcknowledged
	OrderFilled
	OrderCancelled
	OrderRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderAcknowledged:
		return "ACKNOWLEDGED"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderState) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	Coin          string
	Side          Side
	LimitPx       quant.Price
	Size          quant.Qty
	OrigSize      quant.Qty
	OrderID       uint64
	ClientOrderID ClientOrderID
	Timestamp     quant.TimeStamp
}

// OrderUpdate is a status change pushed on the orders stream or returned by an order status query.
// Status is the raw venue status; State is its normalized form.
type OrderUpdate struct {
	Order           OpenOrder
	Status          string
	State           OrderState
	StatusTimestamp quant.TimeStamp
}

// UserFill is one execution against the account.
type UserFill struct {
	Coin          string
	Side          Side
	Price         quant.Price
	Size          quant.Qty
	Time          quant.TimeStamp
	OrderID       uint64
	TradeID       uint64
	ClientOrderID ClientOrderID
	Fee           quant.Qty
	FeeToken      string
	ClosedPnl     quant.Price
	Dir           string
	Hash          string
	Crossed       bool
}
