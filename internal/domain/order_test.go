package domain

import (
	"testing"

	"perp_go/pkg/quant"
)

func TestOrderState_IsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state OrderState
		want  bool
	}{
		{"SUBMITTED", OrderSubmitted, false},
		{"ACKNOWLEDGED", OrderAcknowledged, false},
		{"FILLED", OrderFilled, true},
		{"CANCELLED", OrderCancelled, true},
		{"REJECTED", OrderRejected, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("OrderState.IsTerminal() = %v, want %v", got, tt.want)
			}
			if tt.state.String() != tt.name {
				t.Errorf("String() = %s, want %s", tt.state, tt.name)
			}
		})
	}
}

func TestClientOrderID_Validate(t *testing.T) {
	tests := []struct {
		id      ClientOrderID
		wantErr bool
	}{
		{"0x1234567890abcdef1234567890abcdef", false},
		{"0x1234567890ABCDEF1234567890ABCDEF", false},
		{"1234567890abcdef1234567890abcdef", true},
		{"0x1234", true},
		{"0x1234567890abcdef1234567890abcdeg", true},
	}
	for _, tt := range tests {
		if err := tt.id.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestOrderRequest_Validate(t *testing.T) {
	valid := OrderRequest{
		Coin:  "BTC",
		Side:  SideBuy,
		Price: quant.MustPrice(50000),
		Qty:   quant.MustQty(0.01),
		Tif:   TifGtc,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *OrderRequest)
	}{
		{"missing coin", func(r *OrderRequest) { r.Coin = "" }},
		{"bad side", func(r *OrderRequest) { r.Side = "HOLD" }},
		{"zero price", func(r *OrderRequest) { r.Price = quant.MustPrice(0) }},
		{"negative qty", func(r *OrderRequest) { r.Qty = quant.MustQty(-1) }},
		{"bad tif", func(r *OrderRequest) { r.Tif = "Fok" }},
		{"bad cloid", func(r *OrderRequest) { r.ClientOrderID = "abc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
