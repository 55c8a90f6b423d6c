package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGenerateIDPrefix(t *testing.T) {
	id := GenerateID("bot")
	if !strings.HasPrefix(id, "bot_") {
		t.Errorf("GenerateID(bot) = %q, want bot_ prefix", id)
	}
	if GenerateID("") == GenerateID("") {
		t.Error("GenerateID returned the same id twice")
	}
}

func TestFormatSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BTC/USDT", "BTC/USDT"},
		{"btc-usdt", "BTC/USDT"},
		{"eth_usdt", "ETH/USDT"},
		{"SOLUSDT", "SOL/USDT"},
		{" btcusdc ", "BTC/USDC"},
		{"USDT", "USDT"}, // bare quote asset stays as-is
	}
	for _, tt := range tests {
		if got := FormatSymbol(tt.in); got != tt.want {
			t.Errorf("FormatSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSymbol(t *testing.T) {
	base, quote := ParseSymbol("ethusdt")
	if base != "ETH" || quote != "USDT" {
		t.Errorf("ParseSymbol(ethusdt) = %q/%q, want ETH/USDT", base, quote)
	}
}

func TestMinMaxClampDecimal(t *testing.T) {
	a := decimal.NewFromInt(3)
	b := decimal.NewFromInt(7)

	if !MinDecimal(a, b).Equal(a) {
		t.Errorf("MinDecimal = %s, want %s", MinDecimal(a, b), a)
	}
	if !MaxDecimal(a, b).Equal(b) {
		t.Errorf("MaxDecimal = %s, want %s", MaxDecimal(a, b), b)
	}
	if !ClampDecimal(decimal.NewFromInt(10), a, b).Equal(b) {
		t.Error("ClampDecimal did not clamp to the upper bound")
	}
	if !ClampDecimal(decimal.NewFromInt(1), a, b).Equal(a) {
		t.Error("ClampDecimal did not clamp to the lower bound")
	}
	if !ClampDecimal(decimal.NewFromInt(5), a, b).Equal(decimal.NewFromInt(5)) {
		t.Error("ClampDecimal changed an in-range value")
	}
}

func TestPercentChange(t *testing.T) {
	got := PercentChange(decimal.NewFromInt(200), decimal.NewFromInt(250))
	if !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("PercentChange(200, 250) = %s, want 25", got)
	}
	if !PercentChange(decimal.Zero, decimal.NewFromInt(5)).IsZero() {
		t.Error("PercentChange from zero must be zero, not a division error")
	}
}
