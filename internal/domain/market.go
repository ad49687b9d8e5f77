package domain

import "perp_go/pkg/quant"

// Trade is a public trade print.
type Trade struct {
	Coin  string
	Side  Side // aggressor side
	Price quant.Price
	Size  quant.Qty
	Time  quant.TimeStamp
	Hash  string
	ID    uint64
}

// BookLevel is one aggregated price level. Orders is the number of resting orders.
type BookLevel struct {
	Price  quant.Price
	Size   quant.Qty
	Orders int
}

// OrderBook is a level-2 snapshot, bids descending and asks ascending.
type OrderBook struct {
	Coin string
	Time quant.TimeStamp
	Bids []BookLevel
	Asks []BookLevel
}

// Truncate keeps at most depth levels per side. depth <= 0 keeps everything.
func (b OrderBook) Truncate(depth int) OrderBook {
	if depth <= 0 {
		return b
	}
	if len(b.Bids) > depth {
		b.Bids = b.Bids[:depth]
	}
	if len(b.Asks) > depth {
		b.Asks = b.Asks[:depth]
	}
	return b
}

// Bbo is the top of book. Either side may be absent on an empty book.
type Bbo struct {
	Coin string
	Time quant.TimeStamp
	Bid  *BookLevel
	Ask  *BookLevel
}

// FundingRate is one historical funding payment rate.
type FundingRate struct {
	Coin    string
	Rate    quant.Price
	Premium quant.Price
	Time    quant.TimeStamp
}

// AssetMeta describes one perpetual. Index is the venue asset id used in signed actions.
type AssetMeta struct {
	Index        int
	Name         string
	SzDecimals   int
	MaxLeverage  int
	OnlyIsolated bool
}

// Meta is the venue universe.
type Meta struct {
	Universe []AssetMeta
}

// Find returns the asset with the given name.
func (m Meta) Find(coin string) (AssetMeta, bool) {
	for _, a := range m.Universe {
		if a.Name == coin {
			return a, true
		}
	}
	return AssetMeta{}, false
}

// Candle is one OHLCV bar.
type Candle struct {
	Coin      string
	Interval  string
	OpenTime  quant.TimeStamp
	CloseTime quant.TimeStamp
	Open      quant.Price
	High      quant.Price
	Low       quant.Price
	Close     quant.Price
	Volume    quant.Qty
	NumTrades int
}

// AssetCtx is the live state of one perpetual. MidPx is zero on a one-sided book.
type AssetCtx struct {
	Coin         string
	MarkPx       quant.Price
	OraclePx     quant.Price
	MidPx        quant.Price
	PrevDayPx    quant.Price
	Funding      quant.Price
	Premium      quant.Price
	OpenInterest quant.Qty
	DayNtlVlm    quant.Price
	ImpactPxs    []quant.Price
}

// MetaAndAssetCtxs is the universe with one context per asset, in universe order.
type MetaAndAssetCtxs struct {
	Meta Meta
	Ctxs []AssetCtx
}

// Ctx returns the context of coin.
func (m MetaAndAssetCtxs) Ctx(coin string) (AssetCtx, bool) {
	a, ok := m.Meta.Find(coin)
	if !ok || a.Index >= len(m.Ctxs) {
		return AssetCtx{}, false
	}
	return m.Ctxs[a.Index], true
}
