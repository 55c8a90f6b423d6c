package backtest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

func tradeWithPnL(pnl float64, ts time.Time) types.ClosedTrade {
	return types.ClosedTrade{
		ID:         "trd",
		Symbol:     "BTC/USDT",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(100),
		EntryTime:  ts,
		ExitPrice:  decimal.NewFromFloat(100 + pnl),
		ExitTime:   ts.Add(2 * time.Hour),
		Size:       decimal.NewFromInt(1),
		PnL:        decimal.NewFromFloat(pnl),
		PnLPct:     decimal.NewFromFloat(pnl),
		Duration:   2 * time.Hour,
	}
}

func equityAt(base time.Time, values ...float64) []types.EquityPoint {
	pts := make([]types.EquityPoint, len(values))
	for i, v := range values {
		pts[i] = types.EquityPoint{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Value:     decimal.NewFromFloat(v),
		}
	}
	return pts
}

func TestEmptyMetricsAllZero(t *testing.T) {
	m := NewMetricsCalculator().Calculate(nil, nil, decimal.NewFromInt(10000))
	if m.TotalTrades != 0 || !m.WinRate.IsZero() || !m.ProfitFactor.IsZero() ||
		!m.SharpeRatio.IsZero() || !m.FinalEquity.IsZero() {
		t.Errorf("empty metrics not all zero: %+v", m)
	}
}

func TestProfitFactorSentinel(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.ClosedTrade{tradeWithPnL(10, base), tradeWithPnL(20, base.Add(time.Hour))}

	m := NewMetricsCalculator().Calculate(trades, equityAt(base, 10000, 10030), decimal.NewFromInt(10000))
	if !m.ProfitFactor.Equal(decimal.NewFromInt(999)) {
		t.Errorf("profit factor = %s, want 999 sentinel with zero gross loss", m.ProfitFactor)
	}
	if !m.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("win rate = %s, want 1", m.WinRate)
	}
}

func TestZeroPnLTradeCountsAsLoss(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.ClosedTrade{tradeWithPnL(0, base)}

	m := NewMetricsCalculator().Calculate(trades, nil, decimal.NewFromInt(10000))
	if m.LosingTrades != 1 || m.WinningTrades != 0 {
		t.Errorf("zero pnl counted as win: wins=%d losses=%d", m.WinningTrades, m.LosingTrades)
	}
	// No wins and no gross loss: profit factor stays 0, not the sentinel.
	if !m.ProfitFactor.IsZero() {
		t.Errorf("profit factor = %s, want 0", m.ProfitFactor)
	}
}

func TestMetricsIdempotent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.ClosedTrade{
		tradeWithPnL(50, base),
		tradeWithPnL(-20, base.Add(24*time.Hour)),
		tradeWithPnL(30, base.Add(48*time.Hour)),
	}
	equity := equityAt(base, 10000, 10050, 10030, 10060)
	calc := NewMetricsCalculator()

	a := calc.Calculate(trades, equity, decimal.NewFromInt(10000))
	b := calc.Calculate(trades, equity, decimal.NewFromInt(10000))
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Error("metrics differ across identical calls")
	}
}

func TestStreaksAndAverages(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.ClosedTrade{
		tradeWithPnL(10, base),
		tradeWithPnL(20, base.Add(time.Hour)),
		tradeWithPnL(30, base.Add(2*time.Hour)),
		tradeWithPnL(-5, base.Add(3*time.Hour)),
		tradeWithPnL(-5, base.Add(4*time.Hour)),
	}

	m := NewMetricsCalculator().Calculate(trades, nil, decimal.NewFromInt(10000))
	if m.MaxConsecutiveWins != 3 {
		t.Errorf("max consecutive wins = %d, want 3", m.MaxConsecutiveWins)
	}
	if m.MaxConsecutiveLosses != 2 {
		t.Errorf("max consecutive losses = %d, want 2", m.MaxConsecutiveLosses)
	}
	if !m.AvgWin.Equal(decimal.NewFromInt(20)) {
		t.Errorf("avg win = %s, want 20", m.AvgWin)
	}
	if !m.AvgLoss.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("avg loss = %s, want -5", m.AvgLoss)
	}
	if !m.TotalProfit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("total profit = %s, want 50", m.TotalProfit)
	}
	if !m.BestTrade.Equal(decimal.NewFromInt(30)) {
		t.Errorf("best trade = %s, want 30", m.BestTrade)
	}
	if !m.WorstTrade.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("worst trade = %s, want -5", m.WorstTrade)
	}
}

func TestDrawdownDurationDays(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Peak at day 0, under water days 1-3, recovered day 4.
	equity := equityAt(base, 10000, 9500, 9200, 9700, 10100)

	m := NewMetricsCalculator().Calculate(nil, equity, decimal.NewFromInt(10000))
	if m.MaxDrawdownDuration != 2 {
		t.Errorf("drawdown duration = %d days, want 2", m.MaxDrawdownDuration)
	}
	// Deepest point: (9200-10000)/10000 = -0.08.
	if !m.MaxDrawdown.Equal(decimal.NewFromFloat(-0.08)) {
		t.Errorf("max drawdown = %s, want -0.08", m.MaxDrawdown)
	}
}

func TestNoNaNOrInfInSerializedMetrics(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Flat equity: zero variance returns must not produce NaN ratios.
	equity := equityAt(base, 10000, 10000, 10000)
	trades := []types.ClosedTrade{tradeWithPnL(10, base)}

	m := NewMetricsCalculator().Calculate(trades, equity, decimal.NewFromInt(10000))
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "NaN") || strings.Contains(s, "Inf") {
		t.Errorf("serialized metrics contain NaN/Inf: %s", s)
	}
}
