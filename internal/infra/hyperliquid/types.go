package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strings"

	"perp_go/internal/domain"
	"perp_go/pkg/quant"
)

// Wire shapes of /info responses and WS channel payloads.
// Decimals arrive as strings and decode straight into quant types.

type wireLevel struct {
	Px quant.Price `json:"px"`
	Sz quant.Qty   `json:"sz"`
	N  int         `json:"n"`
}

type wireBook struct {
	Coin   string         `json:"coin"`
	Time   int64          `json:"time"`
	Levels [2][]wireLevel `json:"levels"`
}

type wireBbo struct {
	Coin string        `json:"coin"`
	Time int64         `json:"time"`
	Bbo  [2]*wireLevel `json:"bbo"`
}

type wireTrade struct {
	Coin string      `json:"coin"`
	Side string      `json:"side"`
	Px   quant.Price `json:"px"`
	Sz   quant.Qty   `json:"sz"`
	Time int64       `json:"time"`
	Hash string      `json:"hash"`
	Tid  uint64      `json:"tid"`
}

type wireAsset struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

type wireMeta struct {
	Universe []wireAsset `json:"universe"`
}

type wireAssetCtx struct {
	Funding      quant.Price   `json:"funding"`
	OpenInterest quant.Qty     `json:"openInterest"`
	PrevDayPx    quant.Price   `json:"prevDayPx"`
	DayNtlVlm    quant.Price   `json:"dayNtlVlm"`
	Premium      quant.Price   `json:"premium"`
	OraclePx     quant.Price   `json:"oraclePx"`
	MarkPx       quant.Price   `json:"markPx"`
	MidPx        quant.Price   `json:"midPx"`
	ImpactPxs    []quant.Price `json:"impactPxs"`
}

// wireMetaAndCtxs is the two element array [meta, [ctx...]].
type wireMetaAndCtxs struct {
	Meta wireMeta
	Ctxs []wireAssetCtx
}

func (w *wireMetaAndCtxs) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("metaAndAssetCtxs: want 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &w.Meta); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &w.Ctxs); err != nil {
		return err
	}
	if len(w.Ctxs) != len(w.Meta.Universe) {
		return fmt.Errorf("metaAndAssetCtxs: %d contexts for %d assets", len(w.Ctxs), len(w.Meta.Universe))
	}
	return nil
}

type wireUserFunding struct {
	Time  int64  `json:"time"`
	Hash  string `json:"hash"`
	Delta struct {
		Type        string      `json:"type"`
		Coin        string      `json:"coin"`
		Usdc        quant.Price `json:"usdc"`
		Szi         quant.Qty   `json:"szi"`
		FundingRate quant.Price `json:"fundingRate"`
	} `json:"delta"`
}

type wireUserFees struct {
	UserCrossRate          quant.Price `json:"userCrossRate"`
	UserAddRate            quant.Price `json:"userAddRate"`
	ActiveReferralDiscount quant.Price `json:"activeReferralDiscount"`
}

type wireFunding struct {
	Coin        string      `json:"coin"`
	FundingRate quant.Price `json:"fundingRate"`
	Premium     quant.Price `json:"premium"`
	Time        int64       `json:"time"`
}

type wireCandle struct {
	OpenTime  int64       `json:"t"`
	CloseTime int64       `json:"T"`
	Coin      string      `json:"s"`
	Interval  string      `json:"i"`
	Open      quant.Price `json:"o"`
	Close     quant.Price `json:"c"`
	High      quant.Price `json:"h"`
	Low       quant.Price `json:"l"`
	Volume    quant.Qty   `json:"v"`
	NumTrades int         `json:"n"`
}

type wireLeverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type wirePosition struct {
	Coin           string       `json:"coin"`
	Szi            quant.Qty    `json:"szi"`
	EntryPx        quant.Price  `json:"entryPx"`
	PositionValue  quant.Price  `json:"positionValue"`
	UnrealizedPnl  quant.Price  `json:"unrealizedPnl"`
	ReturnOnEquity quant.Price  `json:"returnOnEquity"`
	LiquidationPx  quant.Price  `json:"liquidationPx"`
	MarginUsed     quant.Price  `json:"marginUsed"`
	Leverage       wireLeverage `json:"leverage"`
}

type wireMargin struct {
	AccountValue    quant.Price `json:"accountValue"`
	TotalNtlPos     quant.Price `json:"totalNtlPos"`
	TotalRawUsd     quant.Price `json:"totalRawUsd"`
	TotalMarginUsed quant.Price `json:"totalMarginUsed"`
}

type wireClearinghouse struct {
	AssetPositions []struct {
		Type     string       `json:"type"`
		Position wirePosition `json:"position"`
	} `json:"assetPositions"`
	MarginSummary      wireMargin  `json:"marginSummary"`
	CrossMarginSummary wireMargin  `json:"crossMarginSummary"`
	Withdrawable       quant.Price `json:"withdrawable"`
	Time               int64       `json:"time"`
}

type wireOrder struct {
	Coin      string      `json:"coin"`
	Side      string      `json:"side"`
	LimitPx   quant.Price `json:"limitPx"`
	Sz        quant.Qty   `json:"sz"`
	Oid       uint64      `json:"oid"`
	Timestamp int64       `json:"timestamp"`
	OrigSz    quant.Qty   `json:"origSz"`
	Cloid     string      `json:"cloid,omitempty"`
}

type wireOrderUpdate struct {
	Order           wireOrder `json:"order"`
	Status          string    `json:"status"`
	StatusTimestamp int64     `json:"statusTimestamp"`
}

type wireOrderStatus struct {
	Status string           `json:"status"`
	Order  *wireOrderUpdate `json:"order"`
}

type wireFill struct {
	Coin          string      `json:"coin"`
	Px            quant.Price `json:"px"`
	Sz            quant.Qty   `json:"sz"`
	Side          string      `json:"side"`
	Time          int64       `json:"time"`
	StartPosition quant.Qty   `json:"startPosition"`
	Dir           string      `json:"dir"`
	ClosedPnl     quant.Price `json:"closedPnl"`
	Hash          string      `json:"hash"`
	Oid           uint64      `json:"oid"`
	Crossed       bool        `json:"crossed"`
	Fee           quant.Qty   `json:"fee"`
	Tid           uint64      `json:"tid"`
	FeeToken      string      `json:"feeToken"`
	Cloid         string      `json:"cloid,omitempty"`
}

type wireUserFills struct {
	IsSnapshot bool       `json:"isSnapshot"`
	User       string     `json:"user"`
	Fills      []wireFill `json:"fills"`
}

func toSide(s string) domain.Side {
	if s == "B" {
		return domain.SideBuy
	}
	return domain.SideSell
}

func toLevels(in []wireLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, len(in))
	for i, l := range in {
		out[i] = domain.BookLevel{Price: l.Px, Size: l.Sz, Orders: l.N}
	}
	return out
}

func (b wireBook) toDomain() domain.OrderBook {
	return domain.OrderBook{
		Coin: b.Coin,
		Time: quant.TimeStamp(b.Time),
		Bids: toLevels(b.Levels[0]),
		Asks: toLevels(b.Levels[1]),
	}
}

func (b wireBbo) toDomain() domain.Bbo {
	out := domain.Bbo{Coin: b.Coin, Time: quant.TimeStamp(b.Time)}
	if l := b.Bbo[0]; l != nil {
		out.Bid = &domain.BookLevel{Price: l.Px, Size: l.Sz, Orders: l.N}
	}
	if l := b.Bbo[1]; l != nil {
		out.Ask = &domain.BookLevel{Price: l.Px, Size: l.Sz, Orders: l.N}
	}
	return out
}

func (t wireTrade) toDomain() domain.Trade {
	return domain.Trade{
		Coin:  t.Coin,
		Side:  toSide(t.Side),
		Price: t.Px,
		Size:  t.Sz,
		Time:  quant.TimeStamp(t.Time),
		Hash:  t.Hash,
		ID:    t.Tid,
	}
}

func (m wireMeta) toDomain() domain.Meta {
	out := domain.Meta{Universe: make([]domain.AssetMeta, len(m.Universe))}
	for i, a := range m.Universe {
		out.Universe[i] = domain.AssetMeta{
			Index:        i,
			Name:         a.Name,
			SzDecimals:   a.SzDecimals,
			MaxLeverage:  a.MaxLeverage,
			OnlyIsolated: a.OnlyIsolated,
		}
	}
	return out
}

func (w wireMetaAndCtxs) toDomain() domain.MetaAndAssetCtxs {
	out := domain.MetaAndAssetCtxs{Meta: w.Meta.toDomain(), Ctxs: make([]domain.AssetCtx, len(w.Ctxs))}
	for i, c := range w.Ctxs {
		out.Ctxs[i] = domain.AssetCtx{
			Coin:         w.Meta.Universe[i].Name,
			MarkPx:       c.MarkPx,
			OraclePx:     c.OraclePx,
			MidPx:        c.MidPx,
			PrevDayPx:    c.PrevDayPx,
			Funding:      c.Funding,
			Premium:      c.Premium,
			OpenInterest: c.OpenInterest,
			DayNtlVlm:    c.DayNtlVlm,
			ImpactPxs:    c.ImpactPxs,
		}
	}
	return out
}

func (f wireUserFunding) toDomain() domain.FundingPayment {
	return domain.FundingPayment{
		Coin: f.Delta.Coin,
		Rate: f.Delta.FundingRate,
		Size: f.Delta.Szi,
		Usdc: f.Delta.Usdc,
		Time: quant.TimeStamp(f.Time),
		Hash: f.Hash,
	}
}

func (f wireUserFees) toDomain() domain.FeeSummary {
	return domain.FeeSummary{
		TakerRate:        f.UserCrossRate,
		MakerRate:        f.UserAddRate,
		ReferralDiscount: f.ActiveReferralDiscount,
	}
}

func (f wireFunding) toDomain() domain.FundingRate {
	return domain.FundingRate{Coin: f.Coin, Rate: f.FundingRate, Premium: f.Premium, Time: quant.TimeStamp(f.Time)}
}

func (c wireCandle) toDomain() domain.Candle {
	return domain.Candle{
		Coin:      c.Coin,
		Interval:  c.Interval,
		OpenTime:  quant.TimeStamp(c.OpenTime),
		CloseTime: quant.TimeStamp(c.CloseTime),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		NumTrades: c.NumTrades,
	}
}

func (m wireMargin) toDomain() domain.MarginSummary {
	return domain.MarginSummary{
		AccountValue:    m.AccountValue,
		TotalNtlPos:     m.TotalNtlPos,
		TotalRawUsd:     m.TotalRawUsd,
		TotalMarginUsed: m.TotalMarginUsed,
	}
}

func (c wireClearinghouse) toDomain() domain.UserState {
	out := domain.UserState{
		MarginSummary:      c.MarginSummary.toDomain(),
		CrossMarginSummary: c.CrossMarginSummary.toDomain(),
		Withdrawable:       c.Withdrawable,
		Time:               quant.TimeStamp(c.Time),
		Positions:          make([]domain.Position, 0, len(c.AssetPositions)),
	}
	for _, ap := range c.AssetPositions {
		p := ap.Position
		out.Positions = append(out.Positions, domain.Position{
			Coin:           p.Coin,
			Size:           p.Szi,
			EntryPx:        p.EntryPx,
			PositionValue:  p.PositionValue,
			UnrealizedPnl:  p.UnrealizedPnl,
			ReturnOnEquity: p.ReturnOnEquity,
			LiquidationPx:  p.LiquidationPx,
			MarginUsed:     p.MarginUsed,
			LeverageType:   p.Leverage.Type,
			Leverage:       p.Leverage.Value,
		})
	}
	return out
}

func (o wireOrder) toDomain() domain.OpenOrder {
	return domain.OpenOrder{
		Coin:          o.Coin,
		Side:          toSide(o.Side),
		LimitPx:       o.LimitPx,
		Size:          o.Sz,
		OrigSize:      o.OrigSz,
		OrderID:       o.Oid,
		ClientOrderID: domain.ClientOrderID(o.Cloid),
		Timestamp:     quant.TimeStamp(o.Timestamp),
	}
}

func (u wireOrderUpdate) toDomain() domain.OrderUpdate {
	return domain.OrderUpdate{
		Order:           u.Order.toDomain(),
		Status:          u.Status,
		State:           orderState(u.Status),
		StatusTimestamp: quant.TimeStamp(u.StatusTimestamp),
	}
}

func (f wireFill) toDomain() domain.UserFill {
	return domain.UserFill{
		Coin:          f.Coin,
		Side:          toSide(f.Side),
		Price:         f.Px,
		Size:          f.Sz,
		Time:          quant.TimeStamp(f.Time),
		OrderID:       f.Oid,
		TradeID:       f.Tid,
		ClientOrderID: domain.ClientOrderID(f.Cloid),
		Fee:           f.Fee,
		FeeToken:      f.FeeToken,
		ClosedPnl:     f.ClosedPnl,
		Dir:           f.Dir,
		Hash:          f.Hash,
		Crossed:       f.Crossed,
	}
}

// orderState maps a venue order status onto the lifecycle.
// Statuses the venue adds later fall back to Acknowledged while the order lives.
func orderState(status string) domain.OrderState {
	s := strings.ToLower(status)
	switch {
	case s == "filled":
		return domain.OrderFilled
	case strings.HasSuffix(s, "canceled"), strings.HasSuffix(s, "cancelled"), s == "scheduledcancel":
		return domain.OrderCancelled
	case strings.HasSuffix(s, "rejected"):
		return domain.OrderRejected
	default:
		return domain.OrderAcknowledged
	}
}
