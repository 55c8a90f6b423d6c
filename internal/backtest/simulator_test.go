package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

func barAt(ts time.Time, o, h, l, c float64) types.Bar {
	return types.Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestAttemptFillAppliesSlippageAndCommission(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.0005))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sig := &types.Signal{
		Symbol:     "BTC/USDT",
		Strategy:   "test",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(50000),
	}
	res := sim.AttemptFill(p, sig, decimal.NewFromInt(1), barAt(ts, 50000, 50100, 49900, 50000))
	if !res.Filled {
		t.Fatalf("fill rejected: %s", res.Reason)
	}

	// Long entry pays up: 50000 * 1.0005 = 50025.
	wantEntry := decimal.NewFromInt(50025)
	if !res.Position.EntryPrice.Equal(wantEntry) {
		t.Errorf("entry = %s, want %s", res.Position.EntryPrice, wantEntry)
	}
	wantCommission := decimal.NewFromFloat(50.025)
	if !res.Position.EntryCommission.Equal(wantCommission) {
		t.Errorf("commission = %s, want %s", res.Position.EntryCommission, wantCommission)
	}
}

func TestAttemptFillShortReceivesLess(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.Zero, decimal.NewFromFloat(0.001))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sig := &types.Signal{
		Symbol:     "BTC/USDT",
		Strategy:   "test",
		Direction:  types.DirectionShort,
		EntryPrice: decimal.NewFromInt(50000),
	}
	res := sim.AttemptFill(p, sig, decimal.NewFromInt(1), barAt(ts, 50000, 50100, 49900, 50000))
	if !res.Filled {
		t.Fatalf("fill rejected: %s", res.Reason)
	}
	// Short entry receives less: 50000 * 0.999 = 49950.
	if !res.Position.EntryPrice.Equal(decimal.NewFromInt(49950)) {
		t.Errorf("short entry = %s, want 49950", res.Position.EntryPrice)
	}
}

func TestAttemptFillRejectsNotErrors(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(10))
	sim := NewSimulator(zap.NewNop(), decimal.Zero, decimal.Zero)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := barAt(ts, 50000, 50100, 49900, 50000)
	sig := &types.Signal{
		Symbol:    "BTC/USDT",
		Direction: types.DirectionLong,
	}

	if res := sim.AttemptFill(p, sig, decimal.Zero, bar); res.Filled || res.Reason == "" {
		t.Error("zero size must reject with a reason")
	}
	if res := sim.AttemptFill(p, sig, decimal.NewFromInt(1), bar); res.Filled || res.Reason == "" {
		t.Error("insufficient cash must reject with a reason")
	}
}

func TestStopPriorityTieBreak(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.Zero, decimal.Zero)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pos := &types.Position{
		ID:         "trd_test",
		Symbol:     "BTC/USDT",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(50000),
		EntryTime:  ts,
		Size:       decimal.NewFromInt(1),
		StopLoss:   decimal.NewFromInt(49000),
		TakeProfit: decimal.NewFromInt(50400),
	}
	if err := p.OpenPosition(pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// Both stop (low 48000 <= 49000) and target (high 50500 >= 50400)
	// trigger inside this bar; the stop must win.
	bar := barAt(ts.Add(time.Hour), 50000, 50500, 48000, 48500)
	trade, err := sim.CheckExit(p, pos, bar)
	if err != nil {
		t.Fatalf("CheckExit: %v", err)
	}
	if trade == nil {
		t.Fatal("no exit on a bar that hit both levels")
	}
	if trade.ExitReason != types.ExitReasonStopLoss {
		t.Errorf("exit reason = %s, want stop_loss", trade.ExitReason)
	}
	if !trade.ExitPrice.Equal(decimal.NewFromInt(49000)) {
		t.Errorf("exit price = %s, want stop level 49000", trade.ExitPrice)
	}
}

func TestShortStopOnHigh(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.Zero, decimal.Zero)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pos := &types.Position{
		ID:         "trd_test",
		Symbol:     "BTC/USDT",
		Direction:  types.DirectionShort,
		EntryPrice: decimal.NewFromInt(50000),
		EntryTime:  ts,
		Size:       decimal.NewFromInt(1),
		StopLoss:   decimal.NewFromInt(51000),
		TakeProfit: decimal.NewFromInt(48000),
	}
	if err := p.OpenPosition(pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	bar := barAt(ts.Add(time.Hour), 50000, 51200, 47500, 50800)
	trade, err := sim.CheckExit(p, pos, bar)
	if err != nil {
		t.Fatalf("CheckExit: %v", err)
	}
	if trade == nil || trade.ExitReason != types.ExitReasonStopLoss {
		t.Fatalf("short stop not triggered on bar high")
	}
}

func TestExitSlippageIsAdverse(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.Zero, decimal.NewFromFloat(0.001))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pos := &types.Position{
		ID:         "trd_test",
		Symbol:     "BTC/USDT",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(50000),
		EntryTime:  ts,
		Size:       decimal.NewFromInt(1),
		TakeProfit: decimal.NewFromInt(51000),
	}
	if err := p.OpenPosition(pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	bar := barAt(ts.Add(time.Hour), 50900, 51500, 50800, 51200)
	trade, err := sim.CheckExit(p, pos, bar)
	if err != nil {
		t.Fatalf("CheckExit: %v", err)
	}
	// Long exit receives less: 51000 * 0.999 = 50949.
	if !trade.ExitPrice.Equal(decimal.NewFromInt(50949)) {
		t.Errorf("exit price = %s, want 50949", trade.ExitPrice)
	}
}

func TestForceCloseMissingPriceClosesFlat(t *testing.T) {
	p := NewPortfolio(zap.NewNop(), decimal.NewFromInt(100000))
	sim := NewSimulator(zap.NewNop(), decimal.NewFromFloat(0.001), decimal.Zero)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pos := &types.Position{
		ID:         "trd_test",
		Symbol:     "BTC/USDT",
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(50000),
		EntryTime:  ts,
		Size:       decimal.NewFromInt(1),
	}
	if err := p.OpenPosition(pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	cashBefore := p.Cash()

	bar := types.Bar{Timestamp: ts.Add(time.Hour)} // no prices at all
	trade, err := sim.ForceClose(p, pos, bar, types.ExitReasonEndOfBacktest)
	if err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	if !trade.PnL.IsZero() {
		t.Errorf("pnl = %s, want 0 when no exit price exists", trade.PnL)
	}
	if !p.Cash().Equal(cashBefore.Add(decimal.NewFromInt(50000))) {
		t.Errorf("cash not restored on flat close: %s", p.Cash())
	}
}
