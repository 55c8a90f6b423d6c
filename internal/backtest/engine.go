package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/indicator"
	"github.com/analytical-punch/trading-backend/internal/risk"
	"github.com/analytical-punch/trading-backend/internal/strategy"
	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// runState is the lifecycle phase of a single run.
type runState int

const (
	stateWarmup runState = iota
	stateRunning
	stateClosing
	stateDone
)

func (s runState) String() string {
	switch s {
	case stateWarmup:
		return "warmup"
	case stateRunning:
		return "running"
	case stateClosing:
		return "closing"
	default:
		return "done"
	}
}

// Engine runs backtests bar by bar. Each run is strictly single-threaded
// and deterministic: the loop never consults the wall clock or randomness,
// so identical inputs produce identical trades and equity curves.
type Engine struct {
	logger   *zap.Logger
	registry *strategy.Registry

	mu      sync.RWMutex
	results map[string]*types.BacktestResult
}

// NewEngine creates a backtest engine backed by the given strategy
// registry.
func NewEngine(logger *zap.Logger, registry *strategy.Registry) *Engine {
	return &Engine{
		logger:   logger,
		registry: registry,
		results:  make(map[string]*types.BacktestResult),
	}
}

// Result returns a cached result by backtest id.
func (e *Engine) Result(id string) (*types.BacktestResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.results[id]
	return r, ok
}

// Results returns all cached results.
func (e *Engine) Results() []*types.BacktestResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.BacktestResult, 0, len(e.results))
	for _, r := range e.results {
		out = append(out, r)
	}
	return out
}

// Run executes a backtest over the given bars. It returns
// types.ErrInsufficientData when the bars cannot cover warm-up plus one
// tradable bar; no partial result is produced.
func (e *Engine) Run(ctx context.Context, cfg types.BacktestConfig, bars []types.Bar) (*types.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := types.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("invalid input data: %w", err)
	}
	if len(bars) < cfg.WarmupBars+1 {
		return nil, fmt.Errorf("%w: need at least %d bars, have %d",
			types.ErrInsufficientData, cfg.WarmupBars+1, len(bars))
	}

	strat, ok := e.registry.Create(cfg.Strategy)
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", cfg.Strategy)
	}

	if cfg.ID == "" {
		cfg.ID = utils.GenerateBacktestID()
	}

	logger := e.logger.With(
		zap.String("backtest_id", cfg.ID),
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", cfg.Strategy))
	logger.Info("backtest started",
		zap.Int("bars", len(bars)),
		zap.String("initial_capital", cfg.InitialCapital.String()))

	portfolio := NewPortfolio(logger, cfg.InitialCapital)
	sim := NewSimulator(logger, cfg.CommissionRate, cfg.SlippageRate)
	riskMgr := risk.NewManager(logger, cfg.RiskLimits)

	state := stateWarmup
	lastIdx := len(bars) - 1

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled: %w", err)
		}

		if pos := portfolio.Position(cfg.Symbol); pos != nil {
			portfolio.MarkPrice(cfg.Symbol, bar.Close)
			if _, err := sim.CheckExit(portfolio, pos, bar); err != nil {
				return nil, fmt.Errorf("exit check at bar %d: %w", i, err)
			}
		}

		if state == stateWarmup && i >= cfg.WarmupBars {
			state = stateRunning
			logger.Debug("state transition", zap.String("state", state.String()))
		}

		if state == stateRunning && i < lastIdx && !portfolio.HasPosition(cfg.Symbol) {
			e.tryEntry(portfolio, sim, riskMgr, strat, cfg, bars[:i+1], bar)
		}

		if i == lastIdx {
			state = stateClosing
			if pos := portfolio.Position(cfg.Symbol); pos != nil {
				if _, err := sim.ForceClose(portfolio, pos, bar, types.ExitReasonEndOfBacktest); err != nil {
					return nil, fmt.Errorf("final close: %w", err)
				}
			}
		}

		// Warm-up bars feed indicators only; the equity curve starts at
		// the first tradable bar.
		if state != stateWarmup {
			portfolio.RecordEquity(bar.Timestamp)
		}
	}
	state = stateDone

	trades := portfolio.ClosedTrades()
	curve := portfolio.EquityCurve()
	metrics := NewMetricsCalculator().Calculate(trades, curve, cfg.InitialCapital)

	result := &types.BacktestResult{
		BacktestID:  cfg.ID,
		Symbol:      cfg.Symbol,
		Strategy:    cfg.Strategy,
		Timeframe:   cfg.Timeframe,
		StartTime:   bars[0].Timestamp,
		EndTime:     bars[lastIdx].Timestamp,
		Parameters:  cfg.Parameters,
		Metrics:     metrics,
		Trades:      trades,
		EquityCurve: toEquityCurve(curve),
		BarsUsed:    len(bars),
		CompletedAt: bars[lastIdx].Timestamp,
	}

	e.mu.Lock()
	e.results[cfg.ID] = result
	e.mu.Unlock()

	logger.Info("backtest finished",
		zap.String("state", state.String()),
		zap.Int("trades", metrics.TotalTrades),
		zap.String("final_equity", metrics.FinalEquity.String()))
	return result, nil
}

// tryEntry generates signals on the bars seen so far, picks the highest
// confidence proposal, sizes it, validates it, and attempts the fill. Every
// rejection path is observable, none is an error.
func (e *Engine) tryEntry(portfolio *Portfolio, sim *Simulator, riskMgr *risk.Manager,
	strat strategy.Strategy, cfg types.BacktestConfig, history []types.Bar, bar types.Bar) {

	if len(history) < strat.MinBars() {
		return
	}
	snap := indicator.Calculate(history)
	signals := strat.Generate(cfg.Symbol, history, snap)
	if len(signals) == 0 {
		return
	}

	best := signals[0]
	for _, sig := range signals[1:] {
		if sig.Confidence.GreaterThan(best.Confidence) {
			best = sig
		}
	}

	size := riskMgr.PositionSize(best, portfolio, cfg.RiskPerTrade)
	if !size.IsPositive() {
		e.logger.Debug("no tradable size", zap.String("symbol", best.Symbol))
		return
	}

	notional := best.EntryPrice.Mul(size)
	verdict := riskMgr.ValidateOrder(best, notional, portfolio, bar.Timestamp)
	if !verdict.Approved {
		e.logger.Debug("order rejected by risk",
			zap.String("symbol", best.Symbol),
			zap.String("reason", verdict.Reason))
		return
	}

	res := sim.AttemptFill(portfolio, best, size, bar)
	if !res.Filled {
		e.logger.Debug("fill rejected",
			zap.String("symbol", best.Symbol),
			zap.String("reason", res.Reason))
		return
	}
	riskMgr.RecordTrade(bar.Timestamp)
}

func toEquityCurve(points []types.EquityPoint) types.EquityCurve {
	curve := types.EquityCurve{
		Timestamps: make([]time.Time, len(points)),
		Values:     make([]decimal.Decimal, len(points)),
	}
	for i, p := range points {
		curve.Timestamps[i] = p.Timestamp
		curve.Values[i] = p.Value
	}
	return curve
}
