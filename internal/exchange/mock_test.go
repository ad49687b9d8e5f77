package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/infra"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(coin string, px, sz float64) domain.OrderRequest {
	return domain.OrderRequest{
		Coin:  coin,
		Side:  domain.SideBuy,
		Price: quant.MustPrice(px),
		Qty:   quant.MustQty(sz),
		Tif:   domain.TifGtc,
	}
}

func next(t *testing.T, s Subscription) event.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMock_PlaceAndFill(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC", "ETH")
	defer m.Close()

	orders, err := m.Subscribe(ctx, domain.StreamOrders, "")
	require.NoError(t, err)
	fills, err := m.Subscribe(ctx, domain.StreamFills, "BTC")
	require.NoError(t, err)

	first, err := m.PlaceOrder(ctx, buy("BTC", 50000, 0.1))
	require.NoError(t, err)
	second, err := m.PlaceOrder(ctx, buy("BTC", 49000, 0.2))
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.Greater(t, string(second), string(first))

	o, ok := m.PendingOrder(first)
	require.True(t, ok)
	assert.Equal(t, domain.OrderAcknowledged, o.State)

	ev := next(t, orders).(event.OrderEvent)
	assert.Equal(t, first, ev.Update.Order.ClientOrderID)
	assert.Equal(t, domain.OrderAcknowledged, ev.Update.State)
	next(t, orders)

	open, err := m.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, first, open[0].ClientOrderID)

	require.NoError(t, m.Fill(first))
	fe := next(t, fills).(event.FillEvent)
	assert.Equal(t, "0.1", fe.Fill.Size.String())
	assert.Equal(t, domain.OrderFilled, next(t, orders).(event.OrderEvent).Update.State)

	o, _ = m.PendingOrder(first)
	assert.Equal(t, domain.OrderFilled, o.State)
	assert.Equal(t, "0.1", o.FilledQty.String())

	st, err := m.OrderStatus(ctx, "", o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
}

func TestMock_CancelTwice(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC")
	defer m.Close()

	cloid, err := m.PlaceOrder(ctx, buy("BTC", 50000, 0.1))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, domain.CancelRequest{ClientOrderID: cloid}))
	err = m.Cancel(ctx, domain.CancelRequest{ClientOrderID: cloid})
	assert.True(t, errors.Is(err, dexerr.ErrAlreadyTerminal))
	assert.True(t, dexerr.Informational(err))

	o, _ := m.PendingOrder(cloid)
	assert.Equal(t, domain.OrderCancelled, o.State)

	err = m.Cancel(ctx, domain.CancelRequest{OrderID: 999})
	assert.True(t, errors.Is(err, dexerr.ErrNotFound))
}

func TestMock_Reject(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC")
	defer m.Close()

	m.RejectNext("Insufficient margin to place order.")
	cloid, err := m.PlaceOrder(ctx, buy("BTC", 50000, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dexerr.ErrRejected))
	assert.False(t, dexerr.Retriable(err))

	o, ok := m.PendingOrder(cloid)
	require.True(t, ok)
	assert.Equal(t, domain.OrderRejected, o.State)
}

func TestMock_Validation(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC")

	_, err := m.PlaceOrder(ctx, buy("DOGE", 1, 1))
	assert.True(t, errors.Is(err, dexerr.ErrInvalid))
	_, err = m.PlaceOrder(ctx, buy("BTC", 0, 1))
	assert.True(t, errors.Is(err, dexerr.ErrInvalid))
	_, err = m.Subscribe(ctx, domain.StreamBbo, "DOGE")
	assert.True(t, errors.Is(err, dexerr.ErrInvalid))

	require.NoError(t, m.Close())
	_, err = m.PlaceOrder(ctx, buy("BTC", 1, 1))
	assert.True(t, errors.Is(err, dexerr.ErrClosed))
	assert.True(t, errors.Is(m.Connect(ctx), dexerr.ErrClosed))
	assert.Equal(t, infra.ConnClosed, m.ConnectionState().State)
}

func TestMock_MarketData(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC")
	defer m.Close()

	lvl := func(px float64) domain.BookLevel {
		return domain.BookLevel{Price: quant.MustPrice(px), Size: quant.MustQty(1), Orders: 1}
	}
	m.SetBook(domain.OrderBook{
		Coin: "BTC",
		Bids: []domain.BookLevel{lvl(100), lvl(99), lvl(98)},
		Asks: []domain.BookLevel{lvl(101), lvl(102), lvl(103)},
	})
	book, err := m.OrderBook(ctx, "BTC", 2)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 2)
	assert.Len(t, book.Asks, 2)

	t0 := time.UnixMilli(1_700_000_000_000)
	m.SetFunding("BTC", []domain.FundingRate{
		{Coin: "BTC", Rate: quant.MustPrice(0.0001), Time: quant.FromTime(t0)},
		{Coin: "BTC", Rate: quant.MustPrice(0.0002), Time: quant.FromTime(t0.Add(time.Hour))},
	})
	rates, err := m.FundingHistory(ctx, "BTC", t0.Add(time.Minute), time.Time{})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "0.0002", rates[0].Rate.String())

	meta, err := m.Meta(ctx)
	require.NoError(t, err)
	a, ok := meta.Find("BTC")
	require.True(t, ok)
	assert.Equal(t, 0, a.Index)

	bbo, err := m.Subscribe(ctx, domain.StreamBbo, "BTC")
	require.NoError(t, err)
	m.Publish(event.BboEvent{BaseEvent: event.BaseEvent{Kind: domain.StreamBbo, Coin: "BTC", Ts: 1}})
	assert.Equal(t, event.EvBbo, next(t, bbo).GetType())

	require.NoError(t, m.Unsubscribe(bbo.ID()))
	_, open := <-bbo.Events()
	assert.False(t, open)
}

func TestMock_ContextAndAccountQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMock("BTC", "ETH")
	defer m.Close()

	m.SetTrades("BTC", []domain.Trade{{Coin: "BTC", ID: 1}, {Coin: "BTC", ID: 2}, {Coin: "BTC", ID: 3}})
	trades, err := m.Trades(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.EqualValues(t, 1, trades[0].ID)
	trades, err = m.Trades(ctx, "BTC", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	m.SetMid("ETH", quant.MustPrice(3000))
	m.SetAssetCtx(domain.AssetCtx{Coin: "BTC", MarkPx: quant.MustPrice(50010), OpenInterest: quant.MustQty(12.5)})
	mc, err := m.MetaAndAssetCtxs(ctx)
	require.NoError(t, err)
	require.Len(t, mc.Ctxs, 2)
	btc, ok := mc.Ctx("BTC")
	require.True(t, ok)
	assert.Equal(t, "50010", btc.MarkPx.String())
	assert.Equal(t, "12.5", btc.OpenInterest.String())
	eth, ok := mc.Ctx("ETH")
	require.True(t, ok)
	assert.Equal(t, "3000", eth.OraclePx.String())
	_, ok = mc.Ctx("SOL")
	assert.False(t, ok)

	t0 := time.UnixMilli(1_700_000_000_000)
	m.SetFundingPayments([]domain.FundingPayment{
		{Coin: "BTC", Usdc: quant.MustPrice(-1.5), Time: quant.FromTime(t0)},
		{Coin: "BTC", Usdc: quant.MustPrice(0.5), Time: quant.FromTime(t0.Add(time.Hour))},
	})
	payments, err := m.UserFunding(ctx, t0.Add(time.Minute), time.Time{})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "0.5", payments[0].Usdc.String())

	m.SetFees(domain.FeeSummary{TakerRate: quant.MustPrice(0.00035), MakerRate: quant.MustPrice(0.0001)})
	fees, err := m.UserFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.00035", fees.TakerRate.String())
}
