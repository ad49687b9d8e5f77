package quant

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestNewPrice_RejectsNonFinite(t *testing.T) {
	tests := []struct {
		input   float64
		wantErr bool
	}{
		{1.23, false},
		{0.0, false},
		{-1.23, false},
		{math.NaN(), true},
		{math.Inf(1), true},
		{math.Inf(-1), true},
	}

	for _, tt := range tests {
		_, err := NewPrice(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewPrice(%v) err = %v; wantErr %v", tt.input, err, tt.wantErr)
		}
		_, err = NewQty(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewQty(%v) err = %v; wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestPrice_String(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"50000.0", "50000"},
		{"1.500", "1.5"},
		{"0.00012300", "0.000123"},
		{"", "0"},
	}

	for _, tt := range tests {
		p, err := ParsePrice(tt.input)
		if err != nil {
			t.Fatalf("ParsePrice(%q) failed: %v", tt.input, err)
		}
		if p.String() != tt.expected {
			t.Errorf("ParsePrice(%q).String() = %s; want %s", tt.input, p.String(), tt.expected)
		}
	}
}

func TestPrice_Ordering(t *testing.T) {
	a := MustPrice(100.5)
	b := MustPrice(100.25)
	if a.Cmp(b) <= 0 {
		t.Errorf("expected %s > %s", a, b)
	}
	if a.Cmp(a) != 0 {
		t.Error("expected equal prices to compare 0")
	}
}

func TestQty_UnmarshalJSON(t *testing.T) {
	var v struct {
		Quoted Qty `json:"quoted"`
		Bare   Qty `json:"bare"`
	}
	if err := json.Unmarshal([]byte(`{"quoted":"0.015","bare":2.5}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Quoted.String() != "0.015" {
		t.Errorf("quoted = %s", v.Quoted)
	}
	if v.Bare.String() != "2.5" {
		t.Errorf("bare = %s", v.Bare)
	}

	var bad Qty
	if err := json.Unmarshal([]byte(`"abc"`), &bad); err == nil {
		t.Error("expected error for non-numeric quantity")
	}
}

func TestQty_Add(t *testing.T) {
	got := MustQty(0.1).Add(MustQty(0.2))
	if got.String() != "0.3" {
		t.Errorf("0.1 + 0.2 = %s; want 0.3", got)
	}
}

func TestParseTimeStamp(t *testing.T) {
	ts, err := ParseTimeStamp("1704067200000")
	if err != nil {
		t.Fatalf("ParseTimeStamp failed: %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !ts.Time().Equal(want) {
		t.Errorf("ts.Time() = %v; want %v", ts.Time(), want)
	}
	if FromTime(want) != ts {
		t.Errorf("FromTime roundtrip mismatch")
	}
}

func TestNextSeq(t *testing.T) {
	var seq uint64
	if NextSeq(&seq) != 1 || NextSeq(&seq) != 2 {
		t.Error("NextSeq should increment from zero")
	}
}
