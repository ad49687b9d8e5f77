package hyperliquid

import (
	"context"
	"time"

	"perp_go/internal/domain"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"
)

// Request weights against the 1200/minute budget.
const (
	infoWeightLight = 2
	infoWeight      = 20
	exchangeWeight  = 1
)

type candleRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

type infoRequest struct {
	Type      string         `json:"type"`
	Coin      string         `json:"coin,omitempty"`
	User      string         `json:"user,omitempty"`
	Oid       any            `json:"oid,omitempty"`
	StartTime int64          `json:"startTime,omitempty"`
	EndTime   int64          `json:"endTime,omitempty"`
	Req       *candleRequest `json:"req,omitempty"`
}

func (r infoRequest) weight() int {
	switch r.Type {
	case "l2Book", "allMids", "clearinghouseState", "orderStatus":
		return infoWeightLight
	}
	return infoWeight
}

func (c *Client) info(ctx context.Context, req infoRequest, out any) error {
	return c.rest.PostJSON(ctx, "/info", req.weight(), req, out)
}

func (c *Client) requireUser(op string) error {
	if c.user == "" {
		return dexerr.New(dexerr.KindUnsupported, op, "no account configured")
	}
	return nil
}

// Trades returns the most recent public trades for coin, at most limit of them
// in the venue's order. limit <= 0 returns everything the venue sent.
func (c *Client) Trades(ctx context.Context, coin string, limit int) ([]domain.Trade, error) {
	var w []wireTrade
	if err := c.info(ctx, infoRequest{Type: "recentTrades", Coin: coin}, &w); err != nil {
		return nil, err
	}
	if limit > 0 && len(w) > limit {
		w = w[:limit]
	}
	out := make([]domain.Trade, len(w))
	for i, t := range w {
		out[i] = t.toDomain()
	}
	return out, nil
}

// OrderBook returns an L2 snapshot with at most depth levels per side.
func (c *Client) OrderBook(ctx context.Context, coin string, depth int) (domain.OrderBook, error) {
	var w wireBook
	if err := c.info(ctx, infoRequest{Type: "l2Book", Coin: coin}, &w); err != nil {
		return domain.OrderBook{}, err
	}
	if w.Coin == "" {
		w.Coin = coin
	}
	return w.toDomain().Truncate(depth), nil
}

// FundingHistory returns funding rates in [start, end]. A zero start means the
// last 24 hours and a zero end means now.
func (c *Client) FundingHistory(ctx context.Context, coin string, start, end time.Time) ([]domain.FundingRate, error) {
	if start.IsZero() {
		start = time.Now().Add(-24 * time.Hour)
	}
	req := infoRequest{Type: "fundingHistory", Coin: coin, StartTime: start.UnixMilli()}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	var w []wireFunding
	if err := c.info(ctx, req, &w); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRate, len(w))
	for i, f := range w {
		out[i] = f.toDomain()
	}
	return out, nil
}

// Meta fetches the perpetuals universe and refreshes the asset index cache.
func (c *Client) Meta(ctx context.Context) (domain.Meta, error) {
	return c.fetchMeta(ctx)
}

// fetchMeta shares one request between concurrent callers. The request runs
// detached from ctx with the REST timeout, and each caller stops waiting when
// its own ctx ends.
func (c *Client) fetchMeta(ctx context.Context) (domain.Meta, error) {
	ch := c.metaGroup.DoChan("meta", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.REST.Timeout)
		defer cancel()
		var w wireMeta
		if err := c.info(fctx, infoRequest{Type: "meta"}, &w); err != nil {
			return nil, err
		}
		m := w.toDomain()
		c.metaMu.Lock()
		c.meta = &m
		c.metaMu.Unlock()
		return m, nil
	})
	select {
	case <-ctx.Done():
		return domain.Meta{}, dexerr.FromContext("meta", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domain.Meta{}, r.Err
		}
		return r.Val.(domain.Meta), nil
	}
}

// MetaAndAssetCtxs returns the universe with mark, oracle, funding and open
// interest per asset. The universe also refreshes the asset index cache.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (domain.MetaAndAssetCtxs, error) {
	var w wireMetaAndCtxs
	if err := c.info(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &w); err != nil {
		return domain.MetaAndAssetCtxs{}, err
	}
	out := w.toDomain()
	m := out.Meta
	c.metaMu.Lock()
	c.meta = &m
	c.metaMu.Unlock()
	return out, nil
}

// asset resolves coin to its universe entry, refetching meta once on a miss
// so newly listed coins are picked up.
func (c *Client) asset(ctx context.Context, coin string) (domain.AssetMeta, error) {
	c.metaMu.RLock()
	cached := c.meta
	c.metaMu.RUnlock()
	if cached != nil {
		if a, ok := cached.Find(coin); ok {
			return a, nil
		}
	}
	m, err := c.fetchMeta(ctx)
	if err != nil {
		return domain.AssetMeta{}, err
	}
	a, ok := m.Find(coin)
	if !ok {
		return domain.AssetMeta{}, dexerr.Newf(dexerr.KindInvalid, "asset", "unknown coin %q", coin)
	}
	return a, nil
}

// AllMids returns the mid price of every listed coin.
func (c *Client) AllMids(ctx context.Context) (map[string]quant.Price, error) {
	var w map[string]string
	if err := c.info(ctx, infoRequest{Type: "allMids"}, &w); err != nil {
		return nil, err
	}
	out := make(map[string]quant.Price, len(w))
	for coin, s := range w {
		px, err := quant.ParsePrice(s)
		if err != nil {
			return nil, dexerr.Wrap(dexerr.KindProtocol, "all mids", err)
		}
		out[coin] = px
	}
	return out, nil
}

// Candles returns candles for interval ("1m", "15m", "1h", ...) in [start, end].
func (c *Client) Candles(ctx context.Context, coin, interval string, start, end time.Time) ([]domain.Candle, error) {
	if end.IsZero() {
		end = time.Now()
	}
	req := infoRequest{Type: "candleSnapshot", Req: &candleRequest{
		Coin:      coin,
		Interval:  interval,
		StartTime: start.UnixMilli(),
		EndTime:   end.UnixMilli(),
	}}
	var w []wireCandle
	if err := c.info(ctx, req, &w); err != nil {
		return nil, err
	}
	out := make([]domain.Candle, len(w))
	for i, k := range w {
		out[i] = k.toDomain()
	}
	return out, nil
}

// UserState returns margin summaries and open positions of the account.
func (c *Client) UserState(ctx context.Context) (domain.UserState, error) {
	if err := c.requireUser("user state"); err != nil {
		return domain.UserState{}, err
	}
	var w wireClearinghouse
	if err := c.info(ctx, infoRequest{Type: "clearinghouseState", User: c.user}, &w); err != nil {
		return domain.UserState{}, err
	}
	return w.toDomain(), nil
}

func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	s, err := c.UserState(ctx)
	if err != nil {
		return nil, err
	}
	return s.Positions, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	if err := c.requireUser("open orders"); err != nil {
		return nil, err
	}
	var w []wireOrder
	if err := c.info(ctx, infoRequest{Type: "openOrders", User: c.user}, &w); err != nil {
		return nil, err
	}
	out := make([]domain.OpenOrder, len(w))
	for i, o := range w {
		out[i] = o.toDomain()
	}
	return out, nil
}

// UserFills returns the account's most recent fills.
func (c *Client) UserFills(ctx context.Context) ([]domain.UserFill, error) {
	if err := c.requireUser("user fills"); err != nil {
		return nil, err
	}
	return c.fills(ctx, infoRequest{Type: "userFills", User: c.user})
}

// UserFillsByTime returns fills in [start, end]. A zero end means now.
func (c *Client) UserFillsByTime(ctx context.Context, start, end time.Time) ([]domain.UserFill, error) {
	if err := c.requireUser("user fills"); err != nil {
		return nil, err
	}
	req := infoRequest{Type: "userFillsByTime", User: c.user, StartTime: start.UnixMilli()}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	return c.fills(ctx, req)
}

// UserFunding returns funding payments on the account's positions in [start, end].
// A zero start means the last 24 hours and a zero end means now.
func (c *Client) UserFunding(ctx context.Context, start, end time.Time) ([]domain.FundingPayment, error) {
	if err := c.requireUser("user funding"); err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Now().Add(-24 * time.Hour)
	}
	req := infoRequest{Type: "userFunding", User: c.user, StartTime: start.UnixMilli()}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	var w []wireUserFunding
	if err := c.info(ctx, req, &w); err != nil {
		return nil, err
	}
	out := make([]domain.FundingPayment, 0, len(w))
	for _, f := range w {
		if f.Delta.Type != "" && f.Delta.Type != "funding" {
			continue
		}
		out = append(out, f.toDomain())
	}
	return out, nil
}

func (c *Client) UserFees(ctx context.Context) (domain.FeeSummary, error) {
	if err := c.requireUser("user fees"); err != nil {
		return domain.FeeSummary{}, err
	}
	var w wireUserFees
	if err := c.info(ctx, infoRequest{Type: "userFees", User: c.user}, &w); err != nil {
		return domain.FeeSummary{}, err
	}
	return w.toDomain(), nil
}

func (c *Client) fills(ctx context.Context, req infoRequest) ([]domain.UserFill, error) {
	var w []wireFill
	if err := c.info(ctx, req, &w); err != nil {
		return nil, err
	}
	out := make([]domain.UserFill, len(w))
	for i, f := range w {
		out[i] = f.toDomain()
	}
	return out, nil
}

// OrderStatus queries the venue by client id, or by exchange id when cloid is empty.
// Orders the venue does not know yield NotFound.
func (c *Client) OrderStatus(ctx context.Context, cloid domain.ClientOrderID, oid uint64) (domain.OrderUpdate, error) {
	const op = "order status"
	if err := c.requireUser(op); err != nil {
		return domain.OrderUpdate{}, err
	}
	req := infoRequest{Type: "orderStatus", User: c.user}
	switch {
	case cloid != "":
		req.Oid = string(cloid)
	case oid != 0:
		req.Oid = oid
	default:
		return domain.OrderUpdate{}, dexerr.New(dexerr.KindInvalid, op, "cloid or oid is required")
	}

	var w wireOrderStatus
	if err := c.info(ctx, req, &w); err != nil {
		return domain.OrderUpdate{}, err
	}
	if w.Status != "order" || w.Order == nil {
		return domain.OrderUpdate{}, dexerr.Newf(dexerr.KindNotFound, op, "venue reports %q for cloid=%s oid=%d", w.Status, cloid, oid)
	}
	return w.Order.toDomain(), nil
}
