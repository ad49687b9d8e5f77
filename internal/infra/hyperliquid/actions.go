package hyperliquid

import (
	"perp_go/internal/domain"
	"perp_go/pkg/dexerr"

	"github.com/shopspring/decimal"
)

// Wire actions. Field order here is the msgpack order the signature covers,
// so it must not be rearranged.

type limitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type orderTypeWire struct {
	Limit limitWire `msgpack:"limit" json:"limit"`
}

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	Price      string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	Type       orderTypeWire `msgpack:"t" json:"t"`
	Cloid      string        `msgpack:"c,omitempty" json:"c,omitempty"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type cancelWire struct {
	Asset int    `msgpack:"a" json:"a"`
	Oid   uint64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

type cancelByCloidWire struct {
	Asset int    `msgpack:"asset" json:"asset"`
	Cloid string `msgpack:"cloid" json:"cloid"`
}

type cancelByCloidAction struct {
	Type    string              `msgpack:"type" json:"type"`
	Cancels []cancelByCloidWire `msgpack:"cancels" json:"cancels"`
}

// exchangeRequest is the POST /exchange body.
type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress,omitempty"`
}

const wireDecimals = 8

// FloatToWire renders a decimal the way the venue hashes it: at most eight
// decimals, no trailing zeros, no exponent. Values needing rounding are refused
// because the signed string would differ from the caller's intent.
func FloatToWire(d decimal.Decimal) (string, error) {
	if !d.Round(wireDecimals).Equal(d) {
		return "", dexerr.Newf(dexerr.KindSigning, "float to wire", "%s has more than %d decimals", d.String(), wireDecimals)
	}
	if d.IsZero() {
		return "0", nil
	}
	return d.String(), nil
}

func newOrderAction(asset int, req domain.OrderRequest) (orderAction, error) {
	px, err := FloatToWire(req.Price.Decimal())
	if err != nil {
		return orderAction{}, err
	}
	sz, err := FloatToWire(req.Qty.Decimal())
	if err != nil {
		return orderAction{}, err
	}
	tif := req.Tif
	if tif == "" {
		tif = domain.TifGtc
	}
	return orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset,
			IsBuy:      req.Side.IsBuy(),
			Price:      px,
			Size:       sz,
			ReduceOnly: req.ReduceOnly,
			Type:       orderTypeWire{Limit: limitWire{Tif: string(tif)}},
			Cloid:      string(req.ClientOrderID),
		}},
		Grouping: "na",
	}, nil
}

func newCancelAction(asset int, oid uint64) cancelAction {
	return cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: asset, Oid: oid}}}
}

func newCancelByCloidAction(asset int, cloid domain.ClientOrderID) cancelByCloidAction {
	return cancelByCloidAction{
		Type:    "cancelByCloid",
		Cancels: []cancelByCloidWire{{Asset: asset, Cloid: string(cloid)}},
	}
}
