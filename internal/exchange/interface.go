// Package exchange defines the venue-agnostic client contract that application
// code programs against. Venues live in their own packages and implement PerpDex.
package exchange

import (
	"context"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/execution"
	"perp_go/internal/infra"
	"perp_go/internal/stream"
	"perp_go/pkg/quant"
)

// PerpDex is the capability set of a perpetual-futures venue client.
// Every method returns a *dexerr.Error on failure.
type PerpDex interface {
	Name() string
	// Connect starts the WebSocket leg. Queries and order placement work without it.
	Connect(ctx context.Context) error
	Close() error
	ConnectionState() infra.ConnectionStatus

	// Market data
	Trades(ctx context.Context, coin string, limit int) ([]domain.Trade, error)
	OrderBook(ctx context.Context, coin string, depth int) (domain.OrderBook, error)
	FundingHistory(ctx context.Context, coin string, start, end time.Time) ([]domain.FundingRate, error)
	Meta(ctx context.Context) (domain.Meta, error)
	MetaAndAssetCtxs(ctx context.Context) (domain.MetaAndAssetCtxs, error)
	AllMids(ctx context.Context) (map[string]quant.Price, error)
	Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]domain.Candle, error)

	// Account (requires credentials)
	Positions(ctx context.Context) ([]domain.Position, error)
	UserState(ctx context.Context) (domain.UserState, error)
	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)
	UserFills(ctx context.Context) ([]domain.UserFill, error)
	UserFillsByTime(ctx context.Context, start, end time.Time) ([]domain.UserFill, error)
	OrderStatus(ctx context.Context, cloid domain.ClientOrderID, oid uint64) (domain.OrderUpdate, error)
	UserFunding(ctx context.Context, start, end time.Time) ([]domain.FundingPayment, error)
	UserFees(ctx context.Context) (domain.FeeSummary, error)

	// Orders (requires credentials)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.ClientOrderID, error)
	Cancel(ctx context.Context, req domain.CancelRequest) error
	PendingOrder(cloid domain.ClientOrderID) (execution.PendingOrder, bool)

	// Streams
	Subscribe(ctx context.Context, kind domain.StreamKind, coin string) (Subscription, error)
	Unsubscribe(id string) error
}

// Subscription is a live stream handle. Events is closed after Close or Unsubscribe.
type Subscription interface {
	ID() string
	Kind() domain.StreamKind
	Coin() string
	Events() <-chan event.Event
	Dropped() uint64
	Close() error
}

var _ Subscription = (*stream.Subscription)(nil)
