package event

import (
	"testing"

	"perp_go/internal/domain"
)

func TestEventTypes(t *testing.T) {
	base := BaseEvent{Kind: domain.StreamBbo, Coin: "BTC", Ts: 1}
	tests := []struct {
		ev     Event
		typ    Type
		marker bool
	}{
		{TradeEvent{BaseEvent: base}, EvTrade, false},
		{BboEvent{BaseEvent: base}, EvBbo, false},
		{BookEvent{BaseEvent: base}, EvBook, false},
		{OrderEvent{BaseEvent: base}, EvOrder, false},
		{FillEvent{BaseEvent: base}, EvFill, false},
		{GapEvent{BaseEvent: base}, EvGap, true},
		{OverflowEvent{BaseEvent: base}, EvOverflow, true},
		{DecodeErrorEvent{BaseEvent: base}, EvDecodeError, true},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if tt.ev.GetType() != tt.typ {
				t.Errorf("GetType() = %s, want %s", tt.ev.GetType(), tt.typ)
			}
			if IsMarker(tt.ev) != tt.marker {
				t.Errorf("IsMarker() = %v, want %v", IsMarker(tt.ev), tt.marker)
			}
			if tt.ev.GetCoin() != "BTC" || tt.ev.GetKind() != domain.StreamBbo {
				t.Errorf("base fields not promoted: %s %s", tt.ev.GetCoin(), tt.ev.GetKind())
			}
		})
	}
}
