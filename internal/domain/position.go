package domain

import "perp_go/pkg/quant"

// Position represents an open perpetual position.
// Size is signed: positive for long, negative for short.
type Position struct {
	Coin           string
	Size           quant.Qty
	EntryPx        quant.Price
	PositionValue  quant.Price
	UnrealizedPnl  quant.Price
	ReturnOnEquity quant.Price
	LiquidationPx  quant.Price
	MarginUsed     quant.Price
	LeverageType   string
	Leverage       int
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.Size.Decimal().IsPositive()
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.Size.Decimal().IsNegative()
}

// MarginSummary aggregates account margin figures (USD).
type MarginSummary struct {
	AccountValue    quant.Price
	TotalNtlPos     quant.Price
	TotalRawUsd     quant.Price
	TotalMarginUsed quant.Price
}

// UserState is the account snapshot: balances, margin and positions.
type UserState struct {
	MarginSummary      MarginSummary
	CrossMarginSummary MarginSummary
	Withdrawable       quant.Price
	Positions          []Position
	Time               quant.TimeStamp
}

// FundingPayment is one funding settlement on a position. Usdc is negative
// when the account paid and Size is the signed position at settlement.
type FundingPayment struct {
	Coin string
	Rate quant.Price
	Size quant.Qty
	Usdc quant.Price
	Time quant.TimeStamp
	Hash string
}

// FeeSummary holds the account's effective fee rates.
type FeeSummary struct {
	TakerRate        quant.Price
	MakerRate        quant.Price
	ReferralDiscount quant.Price
}
