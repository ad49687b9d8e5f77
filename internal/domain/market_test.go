package domain

import (
	"testing"

	"perp_go/pkg/quant"
)

func level(px float64) BookLevel {
	return BookLevel{Price: quant.MustPrice(px), Size: quant.MustQty(1), Orders: 1}
}

func TestOrderBook_Truncate(t *testing.T) {
	book := OrderBook{
		Coin: "BTC",
		Bids: []BookLevel{level(100), level(99), level(98)},
		Asks: []BookLevel{level(101), level(102)},
	}

	got := book.Truncate(2)
	if len(got.Bids) != 2 || len(got.Asks) != 2 {
		t.Fatalf("Truncate(2) = %d bids %d asks", len(got.Bids), len(got.Asks))
	}
	if got.Bids[1].Price.String() != "99" {
		t.Errorf("second bid = %s, want 99", got.Bids[1].Price)
	}
	if all := book.Truncate(0); len(all.Bids) != 3 {
		t.Errorf("Truncate(0) should keep all levels")
	}
}

func TestStreamKind(t *testing.T) {
	for k := StreamTrades; k <= StreamFills; k++ {
		parsed, err := ParseStreamKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("ParseStreamKind(%q) = %v, %v", k.String(), parsed, err)
		}
	}
	if !StreamOrders.RequiresAuth() || !StreamFills.RequiresAuth() {
		t.Error("orders and fills require auth")
	}
	if StreamBbo.RequiresAuth() {
		t.Error("bbo does not require auth")
	}
	if _, err := ParseStreamKind("candles"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestMeta_Find(t *testing.T) {
	m := Meta{Universe: []AssetMeta{{Index: 0, Name: "BTC"}, {Index: 1, Name: "ETH"}}}
	a, ok := m.Find("ETH")
	if !ok || a.Index != 1 {
		t.Errorf("Find(ETH) = %+v, %v", a, ok)
	}
	if _, ok := m.Find("DOGE"); ok {
		t.Error("unexpected hit for DOGE")
	}
}
