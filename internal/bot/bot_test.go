package bot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/internal/indicator"
	"github.com/analytical-punch/trading-backend/internal/safety"
	"github.com/analytical-punch/trading-backend/pkg/types"
)

var _ safety.BotControl = (*Bot)(nil)

// buyEveryBar enters long on the last close with no stop or target, so a
// position opens on the first step and stays open.
type buyEveryBar struct{}

func (buyEveryBar) Name() string        { return "buy_every_bar" }
func (buyEveryBar) Description() string { return "test strategy" }
func (buyEveryBar) MinBars() int        { return 5 }

func (buyEveryBar) Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal {
	last := bars[len(bars)-1]
	return []*types.Signal{{
		ID:          "sig_test",
		Symbol:      symbol,
		Strategy:    "buy_every_bar",
		Direction:   types.DirectionLong,
		Confidence:  decimal.NewFromInt(1),
		EntryPrice:  last.Close,
		GeneratedAt: last.Timestamp,
	}}
}

func testBotConfig() types.BotConfig {
	return types.BotConfig{
		ID:             "bot-test",
		Name:           "test bot",
		Symbol:         "ETH/USDT",
		Strategy:       "buy_every_bar",
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		CommissionRate: decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.0005),
		RiskPerTrade:   decimal.NewFromFloat(0.02),
		Interval:       time.Hour, // ticker never fires during tests
		RiskLimits:     types.DefaultRiskLimits(),
	}
}

func newTestBot(t *testing.T) *Bot {
	t.Helper()
	return New(zap.NewNop(), testBotConfig(), data.NewSyntheticSource(), buyEveryBar{})
}

func TestStepOpensPosition(t *testing.T) {
	b := newTestBot(t)
	b.status = types.BotStatusRunning

	b.step(context.Background(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	pos := b.portfolio.Position("ETH/USDT")
	if pos == nil {
		t.Fatal("no position opened after step with an always-long strategy")
	}
	// The fill went through the paper venue, which charges commission on
	// the executed notional.
	if !pos.EntryCommission.IsPositive() {
		t.Error("position booked without venue commission")
	}
	if len(b.portfolio.EquityCurve()) == 0 {
		t.Error("no equity recorded after step")
	}
}

func TestPauseStopIdempotent(t *testing.T) {
	b := newTestBot(t)

	// Pausing a stopped bot does nothing.
	b.Pause()
	if b.Status() != types.BotStatusStopped {
		t.Errorf("status = %s, want stopped", b.Status())
	}

	b.Start(context.Background())
	if b.Status() != types.BotStatusRunning {
		t.Fatalf("status = %s, want running", b.Status())
	}
	b.Pause()
	b.Pause()
	if b.Status() != types.BotStatusPaused {
		t.Errorf("status = %s, want paused", b.Status())
	}

	// Start on a paused bot resumes without spawning a second loop.
	b.Start(context.Background())
	if b.Status() != types.BotStatusRunning {
		t.Errorf("status = %s, want running after resume", b.Status())
	}

	b.Stop()
	b.Stop()
	if b.Status() != types.BotStatusStopped {
		t.Errorf("status = %s, want stopped", b.Status())
	}
}

func TestStopLiquidatesOpenPosition(t *testing.T) {
	b := newTestBot(t)
	b.Start(context.Background())
	b.step(context.Background(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if b.portfolio.Position("ETH/USDT") == nil {
		t.Fatal("setup: no position opened")
	}

	b.Stop()
	if b.portfolio.Position("ETH/USDT") != nil {
		t.Error("position still open after Stop")
	}
	trades := b.portfolio.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	if trades[0].ExitReason != types.ExitReasonManual {
		t.Errorf("exit reason = %s, want manual for an operator stop", trades[0].ExitReason)
	}
}

func TestLiquidateMarksSafetyExit(t *testing.T) {
	b := newTestBot(t)
	b.status = types.BotStatusRunning
	b.step(context.Background(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if b.portfolio.Position("ETH/USDT") == nil {
		t.Fatal("setup: no position opened")
	}

	b.Liquidate()
	trades := b.portfolio.ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	if trades[0].ExitReason != types.ExitReasonSafety {
		t.Errorf("exit reason = %s, want safety_intervention", trades[0].ExitReason)
	}
}

func TestLargestPositionPct(t *testing.T) {
	b := newTestBot(t)
	if !b.LargestPositionPct().IsZero() {
		t.Error("flat bot reports a nonzero largest position")
	}

	b.status = types.BotStatusRunning
	b.step(context.Background(), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if b.portfolio.Position("ETH/USDT") == nil {
		t.Fatal("setup: no position opened")
	}

	pct := b.LargestPositionPct()
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("largest position pct = %s, want in (0, 1]", pct)
	}
}

func TestConsecutiveLossTracking(t *testing.T) {
	b := newTestBot(t)

	lose := types.ClosedTrade{PnL: decimal.NewFromInt(-5)}
	win := types.ClosedTrade{PnL: decimal.NewFromInt(5)}

	b.recordOutcome(&lose)
	b.recordOutcome(&lose)
	if b.ConsecutiveLosses() != 2 {
		t.Errorf("consecutive losses = %d, want 2", b.ConsecutiveLosses())
	}
	b.recordOutcome(&win)
	if b.ConsecutiveLosses() != 0 {
		t.Errorf("consecutive losses = %d, want 0 after a win", b.ConsecutiveLosses())
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	b := newTestBot(t)

	if err := r.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Error("duplicate Register did not fail")
	}
	if _, ok := r.Get("bot-test"); !ok {
		t.Error("Get did not find registered bot")
	}
	if got := len(r.List()); got != 1 {
		t.Errorf("List() = %d bots, want 1", got)
	}

	b.Start(context.Background())
	r.ShutdownAll()
	if b.Status() != types.BotStatusStopped {
		t.Errorf("bot status = %s after ShutdownAll, want stopped", b.Status())
	}
	if got := len(r.List()); got != 0 {
		t.Errorf("List() = %d bots after ShutdownAll, want 0", got)
	}
}
