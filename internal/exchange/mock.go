package exchange

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/execution"
	"perp_go/internal/infra"
	"perp_go/internal/stream"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"
)

// Mock is an in-memory venue. Orders rest until Fill or Cancel; nothing is matched.
// Market data is whatever the test seeds with the Set* methods and Publish.
type Mock struct {
	ids     *execution.IDGenerator
	tracker *execution.Tracker
	mux     *stream.Mux

	mu         sync.Mutex
	status     infra.ConnectionStatus
	meta       domain.Meta
	books      map[string]domain.OrderBook
	trades     map[string][]domain.Trade
	funding    map[string][]domain.FundingRate
	candles    map[string][]domain.Candle
	mids       map[string]quant.Price
	ctxs       map[string]domain.AssetCtx
	userState  domain.UserState
	payments   []domain.FundingPayment
	fees       domain.FeeSummary
	open       map[uint64]domain.OpenOrder
	cloidToOid map[domain.ClientOrderID]uint64
	fills      []domain.UserFill
	nextOid    uint64
	rejectNext string
}

var _ PerpDex = (*Mock)(nil)

// NewMock creates a mock venue listing the given coins.
func NewMock(coins ...string) *Mock {
	m := &Mock{
		ids:        execution.NewIDGenerator(),
		tracker:    execution.NewTracker(execution.DefaultTrackerConfig()),
		mux:        stream.NewMux(mockCodec{}, stream.Options{Venue: "mock", Capacity: 256}),
		status:     infra.ConnectionStatus{State: infra.ConnDisconnected, Since: time.Now()},
		books:      make(map[string]domain.OrderBook),
		trades:     make(map[string][]domain.Trade),
		funding:    make(map[string][]domain.FundingRate),
		candles:    make(map[string][]domain.Candle),
		mids:       make(map[string]quant.Price),
		ctxs:       make(map[string]domain.AssetCtx),
		open:       make(map[uint64]domain.OpenOrder),
		cloidToOid: make(map[domain.ClientOrderID]uint64),
	}
	for i, c := range coins {
		m.meta.Universe = append(m.meta.Universe, domain.AssetMeta{Index: i, Name: c, SzDecimals: 5, MaxLeverage: 50})
	}
	return m
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State == infra.ConnClosed {
		return dexerr.New(dexerr.KindClosed, "connect", "client is closed")
	}
	m.status = infra.ConnectionStatus{State: infra.ConnConnected, Since: time.Now()}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.status = infra.ConnectionStatus{State: infra.ConnClosed, Since: time.Now()}
	m.mu.Unlock()
	m.mux.Close()
	return nil
}

func (m *Mock) ConnectionState() infra.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Seeding

func (m *Mock) SetBook(b domain.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.Coin] = b
}

func (m *Mock) SetTrades(coin string, trades []domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[coin] = slices.Clone(trades)
}

func (m *Mock) SetFunding(coin string, rates []domain.FundingRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funding[coin] = slices.Clone(rates)
}

func (m *Mock) SetCandles(coin string, candles []domain.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[coin] = slices.Clone(candles)
}

func (m *Mock) SetMid(coin string, px quant.Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids[coin] = px
}

func (m *Mock) SetUserState(s domain.UserState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userState = s
}

func (m *Mock) SetAssetCtx(c domain.AssetCtx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxs[c.Coin] = c
}

func (m *Mock) SetFundingPayments(p []domain.FundingPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = slices.Clone(p)
}

func (m *Mock) SetFees(f domain.FeeSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = f
}

// RejectNext makes the next PlaceOrder fail with a Rejected error carrying reason.
func (m *Mock) RejectNext(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = reason
}

// Publish delivers ev to matching subscribers as if it came from the venue.
func (m *Mock) Publish(ev event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(ev)
}

func (m *Mock) publishLocked(ev event.Event) {
	key, err := mockCodec{}.UpstreamKey(ev.GetKind(), ev.GetCoin())
	if err != nil {
		return
	}
	m.mux.Dispatch(key, ev)
}

// Market data

func (m *Mock) Trades(ctx context.Context, coin string, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCoin("trades", coin); err != nil {
		return nil, err
	}
	t := m.trades[coin]
	if limit > 0 && len(t) > limit {
		t = t[:limit]
	}
	return slices.Clone(t), nil
}

func (m *Mock) OrderBook(ctx context.Context, coin string, depth int) (domain.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCoin("orderbook", coin); err != nil {
		return domain.OrderBook{}, err
	}
	b, ok := m.books[coin]
	if !ok {
		b = domain.OrderBook{Coin: coin}
	}
	return b.Truncate(depth), nil
}

func (m *Mock) FundingHistory(ctx context.Context, coin string, start, end time.Time) ([]domain.FundingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCoin("funding history", coin); err != nil {
		return nil, err
	}
	var out []domain.FundingRate
	for _, r := range m.funding[coin] {
		if inRange(r.Time, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Mock) Meta(ctx context.Context) (domain.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Meta{Universe: slices.Clone(m.meta.Universe)}, nil
}

// MetaAndAssetCtxs returns the seeded contexts. Coins without one get the mid
// as mark and oracle price.
func (m *Mock) MetaAndAssetCtxs(ctx context.Context) (domain.MetaAndAssetCtxs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := domain.MetaAndAssetCtxs{
		Meta: domain.Meta{Universe: slices.Clone(m.meta.Universe)},
		Ctxs: make([]domain.AssetCtx, len(m.meta.Universe)),
	}
	for i, a := range m.meta.Universe {
		c, ok := m.ctxs[a.Name]
		if !ok {
			mid := m.mids[a.Name]
			c = domain.AssetCtx{Coin: a.Name, MarkPx: mid, OraclePx: mid, MidPx: mid}
		}
		out.Ctxs[i] = c
	}
	return out, nil
}

func (m *Mock) AllMids(ctx context.Context) (map[string]quant.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]quant.Price, len(m.mids))
	for k, v := range m.mids {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkCoin("candles", coin); err != nil {
		return nil, err
	}
	var out []domain.Candle
	for _, c := range m.candles[coin] {
		if (interval == "" || c.Interval == interval) && inRange(c.OpenTime, start, end) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Account

func (m *Mock) Positions(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.userState.Positions), nil
}

func (m *Mock) UserState(ctx context.Context) (domain.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.userState
	s.Positions = slices.Clone(s.Positions)
	return s, nil
}

func (m *Mock) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OpenOrder, 0, len(m.open))
	for _, o := range m.open {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b domain.OpenOrder) int { return cmp.Compare(a.OrderID, b.OrderID) })
	return out, nil
}

func (m *Mock) UserFills(ctx context.Context) ([]domain.UserFill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.fills), nil
}

func (m *Mock) UserFillsByTime(ctx context.Context, start, end time.Time) ([]domain.UserFill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UserFill
	for _, f := range m.fills {
		if inRange(f.Time, start, end) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Mock) UserFunding(ctx context.Context, start, end time.Time) ([]domain.FundingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FundingPayment
	for _, p := range m.payments {
		if inRange(p.Time, start, end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) UserFees(ctx context.Context) (domain.FeeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees, nil
}

func (m *Mock) OrderStatus(ctx context.Context, cloid domain.ClientOrderID, oid uint64) (domain.OrderUpdate, error) {
	o, ok := m.tracker.Lookup(cloid, oid)
	if !ok {
		return domain.OrderUpdate{}, dexerr.Newf(dexerr.KindNotFound, "order status", "unknown order cloid=%s oid=%d", cloid, oid)
	}
	return domain.OrderUpdate{
		Order:           toOpenOrder(o),
		Status:          o.State.String(),
		State:           o.State,
		StatusTimestamp: quant.FromTime(o.UpdatedAt),
	}, nil
}

// Orders

func (m *Mock) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.ClientOrderID, error) {
	const op = "place order"
	if err := req.Validate(); err != nil {
		return "", dexerr.Wrap(dexerr.KindInvalid, op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State == infra.ConnClosed {
		return "", dexerr.New(dexerr.KindClosed, op, "client is closed")
	}
	if err := m.checkCoin(op, req.Coin); err != nil {
		return "", err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = m.ids.Next()
	}
	if _, err := m.tracker.Track(req); err != nil {
		return "", err
	}

	if reason := m.rejectNext; reason != "" {
		m.rejectNext = ""
		m.tracker.Apply(execution.Update{ClientOrderID: req.ClientOrderID, State: domain.OrderRejected, Reason: reason, Source: "mock"})
		return req.ClientOrderID, dexerr.New(dexerr.KindRejected, op, reason)
	}

	m.nextOid++
	oid := m.nextOid
	oo := domain.OpenOrder{
		Coin:          req.Coin,
		Side:          req.Side,
		LimitPx:       req.Price,
		Size:          req.Qty,
		OrigSize:      req.Qty,
		OrderID:       oid,
		ClientOrderID: req.ClientOrderID,
		Timestamp:     quant.FromTime(time.Now()),
	}
	m.open[oid] = oo
	m.cloidToOid[req.ClientOrderID] = oid
	m.applyLocked(oo, "open", domain.OrderAcknowledged)
	return req.ClientOrderID, nil
}

// Fill fully fills a resting order at its limit price.
func (m *Mock) Fill(cloid domain.ClientOrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, ok := m.cloidToOid[cloid]
	if !ok {
		return dexerr.Newf(dexerr.KindNotFound, "fill", "unknown order %s", cloid)
	}
	oo, ok := m.open[oid]
	if !ok {
		return dexerr.Newf(dexerr.KindAlreadyTerminal, "fill", "order %s is not resting", cloid)
	}
	delete(m.open, oid)

	f := domain.UserFill{
		Coin:          oo.Coin,
		Side:          oo.Side,
		Price:         oo.LimitPx,
		Size:          oo.Size,
		Time:          quant.FromTime(time.Now()),
		OrderID:       oid,
		TradeID:       oid,
		ClientOrderID: cloid,
	}
	m.fills = append(m.fills, f)
	m.tracker.ApplyFill(f)
	m.publishLocked(event.FillEvent{BaseEvent: event.BaseEvent{Kind: domain.StreamFills, Coin: f.Coin, Ts: f.Time}, Fill: f})
	m.applyLocked(oo, "filled", domain.OrderFilled)
	return nil
}

func (m *Mock) Cancel(ctx context.Context, req domain.CancelRequest) error {
	const op = "cancel"
	if req.ClientOrderID == "" && req.OrderID == 0 {
		return dexerr.New(dexerr.KindInvalid, op, "client order id or order id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.tracker.CheckCancellable(req.ClientOrderID, req.OrderID)
	if err != nil {
		return err
	}
	oid := m.cloidToOid[o.ClientOrderID]
	oo, ok := m.open[oid]
	if !ok {
		return dexerr.Newf(dexerr.KindNotFound, op, "order %s is not resting", o.ClientOrderID)
	}
	delete(m.open, oid)
	m.applyLocked(oo, "canceled", domain.OrderCancelled)
	return nil
}

func (m *Mock) PendingOrder(cloid domain.ClientOrderID) (execution.PendingOrder, bool) {
	return m.tracker.Lookup(cloid, 0)
}

// Streams

func (m *Mock) Subscribe(ctx context.Context, kind domain.StreamKind, coin string) (Subscription, error) {
	if kind.Valid() && !kind.RequiresAuth() {
		m.mu.Lock()
		err := m.checkCoin("subscribe", coin)
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	sub, err := m.mux.Subscribe(ctx, kind, coin)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *Mock) Unsubscribe(id string) error { return m.mux.Unsubscribe(id) }

func (m *Mock) applyLocked(oo domain.OpenOrder, status string, state domain.OrderState) {
	now := quant.FromTime(time.Now())
	m.tracker.Apply(execution.Update{ClientOrderID: oo.ClientOrderID, OrderID: oo.OrderID, State: state, Source: "mock"})
	m.publishLocked(event.OrderEvent{
		BaseEvent: event.BaseEvent{Kind: domain.StreamOrders, Coin: oo.Coin, Ts: now},
		Update:    domain.OrderUpdate{Order: oo, Status: status, State: state, StatusTimestamp: now},
	})
}

func (m *Mock) checkCoin(op, coin string) error {
	if _, ok := m.meta.Find(coin); !ok {
		return dexerr.Newf(dexerr.KindInvalid, op, "unknown coin %q", coin)
	}
	return nil
}

func inRange(ts quant.TimeStamp, start, end time.Time) bool {
	t := ts.Time()
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func toOpenOrder(o execution.PendingOrder) domain.OpenOrder {
	return domain.OpenOrder{
		Coin:          o.Request.Coin,
		Side:          o.Request.Side,
		LimitPx:       o.Request.Price,
		Size:          o.Request.Qty,
		OrigSize:      o.Request.Qty,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Timestamp:     quant.FromTime(o.SubmittedAt),
	}
}

// mockCodec keys streams the same way as a real venue but never touches a socket.
type mockCodec struct{}

func (mockCodec) UpstreamKey(kind domain.StreamKind, coin string) (stream.Key, error) {
	if kind.RequiresAuth() {
		return stream.Key{Kind: kind}, nil
	}
	if coin == "" {
		return stream.Key{}, dexerr.New(dexerr.KindInvalid, "subscribe", "coin is required")
	}
	return stream.Key{Kind: kind, Coin: coin}, nil
}

func (mockCodec) SubscribeFrame(stream.Key) ([]byte, error)   { return nil, nil }
func (mockCodec) UnsubscribeFrame(stream.Key) ([]byte, error) { return nil, nil }
func (mockCodec) PingFrame() []byte                           { return nil }
func (mockCodec) IsPong([]byte) bool                          { return false }
func (mockCodec) Decode([]byte) (stream.Frame, error)         { return stream.Frame{}, nil }
