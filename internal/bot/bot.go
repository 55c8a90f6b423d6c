// Package bot runs live paper-trading loops and the registry that owns
// them.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/backtest"
	"github.com/analytical-punch/trading-backend/internal/data"
	"github.com/analytical-punch/trading-backend/internal/execution"
	"github.com/analytical-punch/trading-backend/internal/indicator"
	"github.com/analytical-punch/trading-backend/internal/risk"
	"github.com/analytical-punch/trading-backend/internal/strategy"
	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

const defaultInterval = 10 * time.Second

// Bot is a single paper-trading loop: one symbol, one strategy, its own
// portfolio. Status transitions are cooperative; the loop checks the flag
// on every tick, so Pause and Stop are safe from any goroutine and
// idempotent.
type Bot struct {
	cfg    types.BotConfig
	logger *zap.Logger
	source data.Source

	portfolio *backtest.Portfolio
	sim       *backtest.Simulator
	riskMgr   *risk.Manager
	strat     strategy.Strategy
	executor  *execution.SmartExecutor
	venue     execution.Venue

	mu     sync.RWMutex
	status types.BotStatus
	cancel context.CancelFunc
	done   chan struct{}

	consecutiveLosses int
}

// New creates a bot. The strategy must already be resolved by the caller.
func New(logger *zap.Logger, cfg types.BotConfig, source data.Source, strat strategy.Strategy) *Bot {
	if cfg.ID == "" {
		cfg.ID = utils.GenerateID("bot")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	botLogger := logger.With(zap.String("bot_id", cfg.ID), zap.String("symbol", cfg.Symbol))
	return &Bot{
		cfg:       cfg,
		logger:    botLogger,
		source:    source,
		portfolio: backtest.NewPortfolio(botLogger, cfg.InitialCapital),
		sim:       backtest.NewSimulator(botLogger, cfg.CommissionRate, cfg.SlippageRate),
		riskMgr:   risk.NewManager(botLogger, cfg.RiskLimits),
		strat:     strat,
		executor:  execution.NewSmartExecutor(botLogger, execution.DefaultConfig()),
		venue:     execution.NewPaperVenue(botLogger, source, cfg.CommissionRate, cfg.SlippageRate),
		status:    types.BotStatusStopped,
		done:      make(chan struct{}),
	}
}

// ID returns the bot id.
func (b *Bot) ID() string { return b.cfg.ID }

// Config returns the bot configuration.
func (b *Bot) Config() types.BotConfig { return b.cfg }

// Status returns the current lifecycle state.
func (b *Bot) Status() types.BotStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Start launches the trading loop. Starting a running bot is a no-op.
func (b *Bot) Start(ctx context.Context) {
	b.mu.Lock()
	if b.status == types.BotStatusRunning {
		b.mu.Unlock()
		return
	}
	if b.status == types.BotStatusPaused {
		b.status = types.BotStatusRunning
		b.mu.Unlock()
		b.logger.Info("bot resumed")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.status = types.BotStatusRunning
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.logger.Info("bot started", zap.String("strategy", b.cfg.Strategy))
	go b.run(loopCtx)
}

// Pause suspends trading without tearing the loop down. Idempotent.
func (b *Bot) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == types.BotStatusRunning {
		b.status = types.BotStatusPaused
		b.logger.Info("bot paused")
	}
}

// Stop shuts the loop down: signal, liquidate, then release. Idempotent
// and safe to call from any goroutine.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.status == types.BotStatusStopped {
		b.mu.Unlock()
		return
	}
	b.status = types.BotStatusStopped
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.liquidate(types.ExitReasonManual)
	b.logger.Info("bot stopped")
}

// Liquidate force-closes any open position at its last mark, attributing
// the exit to a safety intervention. Operator stops go through Stop, which
// closes with a manual exit reason instead.
func (b *Bot) Liquidate() {
	b.liquidate(types.ExitReasonSafety)
}

func (b *Bot) liquidate(reason types.ExitReason) {
	pos := b.portfolio.Position(b.cfg.Symbol)
	if pos == nil {
		return
	}
	bar := types.Bar{
		Timestamp: time.Now().UTC(),
		Close:     pos.CurrentPrice,
		High:      pos.CurrentPrice,
		Low:       pos.CurrentPrice,
		Open:      pos.CurrentPrice,
	}
	if _, err := b.sim.ForceClose(b.portfolio, pos, bar, reason); err != nil {
		b.logger.Error("liquidation failed", zap.Error(err))
	}
}

// TotalPnL returns realized plus unrealized profit since start.
func (b *Bot) TotalPnL() decimal.Decimal {
	return b.portfolio.TotalValue().Sub(b.portfolio.InitialCapital())
}

// DrawdownPct returns the portfolio drawdown from its peak.
func (b *Bot) DrawdownPct() decimal.Decimal {
	return b.portfolio.CurrentDrawdown()
}

// DailyLossPct returns the loss fraction since the UTC day start.
func (b *Bot) DailyLossPct() decimal.Decimal {
	return b.portfolio.DailyLoss()
}

// ConsecutiveLosses returns the current losing streak.
func (b *Bot) ConsecutiveLosses() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveLosses
}

// LargestPositionPct returns the largest open position's share of total
// portfolio value.
func (b *Bot) LargestPositionPct() decimal.Decimal {
	total := b.portfolio.TotalValue()
	if !total.IsPositive() {
		return decimal.Zero
	}
	largest := decimal.Zero
	for _, pos := range b.portfolio.OpenPositions() {
		largest = utils.MaxDecimal(largest, pos.MarketValue())
	}
	return largest.Div(total)
}

// Portfolio exposes the bot's ledger for reporting.
func (b *Bot) Portfolio() *backtest.Portfolio {
	return b.portfolio
}

func (b *Bot) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Status() != types.BotStatusRunning {
				continue
			}
			b.step(ctx, time.Now().UTC())
		}
	}
}

// step performs one trading iteration: refresh bars, manage the open
// position, and look for a new entry when flat.
func (b *Bot) step(ctx context.Context, now time.Time) {
	window := b.strat.MinBars() + 50
	start := now.Add(-time.Duration(window) * b.cfg.Timeframe.Duration())

	bars, err := b.source.FetchOHLCV(ctx, b.cfg.Symbol, b.cfg.Timeframe, start, now, 0)
	if err != nil {
		b.logger.Warn("failed to fetch bars", zap.Error(err))
		return
	}
	if len(bars) < b.strat.MinBars() {
		return
	}
	last := bars[len(bars)-1]

	if pos := b.portfolio.Position(b.cfg.Symbol); pos != nil {
		b.portfolio.MarkPrice(b.cfg.Symbol, last.Close)
		trade, err := b.sim.CheckExit(b.portfolio, pos, last)
		if err != nil {
			b.logger.Error("exit check failed", zap.Error(err))
			return
		}
		if trade != nil {
			b.recordOutcome(trade)
		}
		b.portfolio.RecordEquity(last.Timestamp)
		return
	}

	snap := indicator.Calculate(bars)
	signals := b.strat.Generate(b.cfg.Symbol, bars, snap)
	if len(signals) > 0 {
		best := signals[0]
		for _, sig := range signals[1:] {
			if sig.Confidence.GreaterThan(best.Confidence) {
				best = sig
			}
		}

		size := b.riskMgr.PositionSize(best, b.portfolio, b.cfg.RiskPerTrade)
		if size.IsPositive() {
			notional := best.EntryPrice.Mul(size)
			verdict := b.riskMgr.ValidateOrder(best, notional, b.portfolio, last.Timestamp)
			if verdict.Approved {
				b.placeOrder(ctx, best, size, last)
			} else {
				b.logger.Debug("order rejected", zap.String("reason", verdict.Reason))
			}
		}
	}
	b.portfolio.RecordEquity(last.Timestamp)
}

// placeOrder works the approved proposal through the smart executor against
// the paper venue and books whatever actually filled. The venue already
// applies slippage and commission, so the fill goes straight to the ledger.
func (b *Bot) placeOrder(ctx context.Context, sig *types.Signal, size decimal.Decimal, bar types.Bar) {
	report, err := b.executor.Execute(ctx, b.venue, execution.Order{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Size:      size,
		Algorithm: execution.AlgoImmediate,
	})
	if err != nil {
		b.logger.Error("order execution failed", zap.Error(err))
		return
	}
	if !report.Filled.IsPositive() {
		b.logger.Warn("order not filled", zap.String("reason", report.Reason))
		return
	}

	pos := &types.Position{
		ID:              utils.GenerateTradeID(),
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      report.AvgPrice,
		EntryTime:       bar.Timestamp,
		Size:            report.Filled,
		CurrentPrice:    report.AvgPrice,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.FirstTakeProfit(),
		Strategy:        sig.Strategy,
		EntryCommission: report.Commission,
	}
	if err := b.portfolio.OpenPosition(pos); err != nil {
		b.logger.Warn("fill not booked", zap.Error(err))
		return
	}
	b.riskMgr.RecordTrade(bar.Timestamp)
}

func (b *Bot) recordOutcome(trade *types.ClosedTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trade.PnL.IsPositive() {
		b.consecutiveLosses = 0
	} else {
		b.consecutiveLosses++
	}
}
