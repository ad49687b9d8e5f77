package quant

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Price is an exact decimal price. NaN and infinities are rejected at construction.
type Price struct {
	d decimal.Decimal
}

// Qty is an exact decimal quantity (contracts or coins).
type Qty struct {
	d decimal.Decimal
}

// TimeStamp represents Unix milliseconds, the resolution used on the venue wire.
type TimeStamp int64

// ErrNotFinite is returned when a float64 is NaN or infinite.
var ErrNotFinite = fmt.Errorf("quant: value is not finite")

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrNotFinite
	}
	return decimal.NewFromFloat(f), nil
}

func fromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quant: parse %q: %w", s, err)
	}
	return d, nil
}

// NewPrice converts a float64 (from caller input) to Price.
func NewPrice(f float64) (Price, error) {
	d, err := fromFloat(f)
	return Price{d: d}, err
}

// MustPrice is NewPrice for constants; it panics on NaN or Inf.
func MustPrice(f float64) Price {
	p, err := NewPrice(f)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrice parses a decimal string. Empty strings yield zero.
func ParsePrice(s string) (Price, error) {
	d, err := fromString(s)
	return Price{d: d}, err
}

// PriceFromDecimal wraps an existing decimal.
func PriceFromDecimal(d decimal.Decimal) Price { return Price{d: d} }

func (p Price) Decimal() decimal.Decimal { return p.d }
func (p Price) String() string           { return p.d.String() }
func (p Price) IsZero() bool             { return p.d.IsZero() }
func (p Price) IsPositive() bool         { return p.d.IsPositive() }
func (p Price) Cmp(o Price) int          { return p.d.Cmp(o.d) }

// Float64 is lossy and meant for display and metrics only.
func (p Price) Float64() float64 {
	f, _ := p.d.Float64()
	return f
}

func (p Price) MarshalJSON() ([]byte, error) { return json.Marshal(p.d.String()) }

func (p *Price) UnmarshalJSON(b []byte) error {
	d, err := unmarshalDecimal(b)
	if err != nil {
		return err
	}
	p.d = d
	return nil
}

// NewQty converts a float64 to Qty.
func NewQty(f float64) (Qty, error) {
	d, err := fromFloat(f)
	return Qty{d: d}, err
}

// MustQty is NewQty for constants; it panics on NaN or Inf.
func MustQty(f float64) Qty {
	q, err := NewQty(f)
	if err != nil {
		panic(err)
	}
	return q
}

// ParseQty parses a decimal string. Empty strings yield zero.
func ParseQty(s string) (Qty, error) {
	d, err := fromString(s)
	return Qty{d: d}, err
}

// QtyFromDecimal wraps an existing decimal.
func QtyFromDecimal(d decimal.Decimal) Qty { return Qty{d: d} }

func (q Qty) Decimal() decimal.Decimal { return q.d }
func (q Qty) String() string           { return q.d.String() }
func (q Qty) IsZero() bool             { return q.d.IsZero() }
func (q Qty) IsPositive() bool         { return q.d.IsPositive() }
func (q Qty) Cmp(o Qty) int            { return q.d.Cmp(o.d) }
func (q Qty) Add(o Qty) Qty            { return Qty{d: q.d.Add(o.d)} }

func (q Qty) Float64() float64 {
	f, _ := q.d.Float64()
	return f
}

func (q Qty) MarshalJSON() ([]byte, error) { return json.Marshal(q.d.String()) }

func (q *Qty) UnmarshalJSON(b []byte) error {
	d, err := unmarshalDecimal(b)
	if err != nil {
		return err
	}
	q.d = d
	return nil
}

// unmarshalDecimal accepts both quoted ("1.5") and bare (1.5) JSON numbers.
func unmarshalDecimal(b []byte) (decimal.Decimal, error) {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		uq, err := strconv.Unquote(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quant: %w", err)
		}
		s = uq
	}
	return fromString(s)
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp converts a string of unix milliseconds to TimeStamp.
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ms), nil
}

// FromTime converts a time.Time to TimeStamp.
func FromTime(t time.Time) TimeStamp { return TimeStamp(t.UnixMilli()) }

// Time converts back to time.Time (UTC).
func (ts TimeStamp) Time() time.Time { return time.UnixMilli(int64(ts)).UTC() }
