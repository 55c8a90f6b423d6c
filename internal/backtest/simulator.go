package backtest

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

// FillResult is the outcome of a fill attempt. A rejected proposal is a
// normal outcome, not an error: Filled is false and Reason says why.
type FillResult struct {
	Filled   bool
	Reason   string
	Position *types.Position
}

// filled wraps a successful fill.
func filled(pos *types.Position) FillResult {
	return FillResult{Filled: true, Position: pos}
}

// notFilled wraps a rejection with its reason.
func notFilled(reason string) FillResult {
	return FillResult{Filled: false, Reason: reason}
}

// Simulator models order execution against bars: slippage on entry and
// exit, commission on every fill, and stop/target evaluation on the bar
// range.
type Simulator struct {
	logger         *zap.Logger
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal
}

// NewSimulator creates an execution simulator with the given commission and
// slippage rates (fractions, e.g. 0.001 for 10 bps).
func NewSimulator(logger *zap.Logger, commissionRate, slippageRate decimal.Decimal) *Simulator {
	return &Simulator{
		logger:         logger,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
	}
}

// AttemptFill tries to open a position from a signal at the bar close.
// Entry slippage is adverse: longs pay up, shorts receive less. The fill is
// rejected when size is not positive or cash cannot cover value plus
// commission.
func (s *Simulator) AttemptFill(portfolio *Portfolio, sig *types.Signal, size decimal.Decimal, bar types.Bar) FillResult {
	if size.LessThanOrEqual(decimal.Zero) {
		return notFilled("position size is zero")
	}
	if !bar.Close.IsPositive() {
		return notFilled("no usable close price on bar")
	}

	one := decimal.NewFromInt(1)
	var execPrice decimal.Decimal
	if sig.Direction == types.DirectionLong {
		execPrice = bar.Close.Mul(one.Add(s.slippageRate))
	} else {
		execPrice = bar.Close.Mul(one.Sub(s.slippageRate))
	}

	commission := execPrice.Mul(size).Mul(s.commissionRate)
	cost := execPrice.Mul(size).Add(commission)
	if portfolio.Cash().LessThan(cost) {
		return notFilled("insufficient cash for entry")
	}

	pos := &types.Position{
		ID:              utils.GenerateTradeID(),
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      execPrice,
		EntryTime:       bar.Timestamp,
		Size:            size,
		CurrentPrice:    execPrice,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.FirstTakeProfit(),
		Strategy:        sig.Strategy,
		EntryCommission: commission,
	}
	if err := portfolio.OpenPosition(pos); err != nil {
		return notFilled(err.Error())
	}
	return filled(pos)
}

// CheckExit evaluates the position's stop and target against the bar range
// and closes it when hit. When both trigger inside the same bar the stop
// wins. Exits always close the full position.
func (s *Simulator) CheckExit(portfolio *Portfolio, pos *types.Position, bar types.Bar) (*types.ClosedTrade, error) {
	if !bar.High.IsPositive() || !bar.Low.IsPositive() {
		// No usable range on this bar; leave the position open.
		s.logger.Warn("skipping exit check, bar has no usable range",
			zap.String("symbol", pos.Symbol),
			zap.Time("bar", bar.Timestamp))
		return nil, nil
	}

	var exitPrice decimal.Decimal
	var reason types.ExitReason

	if pos.Direction == types.DirectionLong {
		switch {
		case pos.StopLoss.IsPositive() && bar.Low.LessThanOrEqual(pos.StopLoss):
			exitPrice, reason = pos.StopLoss, types.ExitReasonStopLoss
		case pos.TakeProfit.IsPositive() && bar.High.GreaterThanOrEqual(pos.TakeProfit):
			exitPrice, reason = pos.TakeProfit, types.ExitReasonTakeProfit
		default:
			return nil, nil
		}
	} else {
		switch {
		case pos.StopLoss.IsPositive() && bar.High.GreaterThanOrEqual(pos.StopLoss):
			exitPrice, reason = pos.StopLoss, types.ExitReasonStopLoss
		case pos.TakeProfit.IsPositive() && bar.Low.LessThanOrEqual(pos.TakeProfit):
			exitPrice, reason = pos.TakeProfit, types.ExitReasonTakeProfit
		default:
			return nil, nil
		}
	}

	return s.close(portfolio, pos, exitPrice, bar.Timestamp, reason)
}

// ForceClose closes a position at the bar close, used at end of run and for
// safety interventions. Falls back to a flat close when no usable price
// exists.
func (s *Simulator) ForceClose(portfolio *Portfolio, pos *types.Position, bar types.Bar, reason types.ExitReason) (*types.ClosedTrade, error) {
	if !bar.Close.IsPositive() {
		return portfolio.CloseFlat(pos.Symbol, bar.Timestamp, reason)
	}
	return s.close(portfolio, pos, bar.Close, bar.Timestamp, reason)
}

// close applies adverse exit slippage and commission, then settles through
// the ledger.
func (s *Simulator) close(portfolio *Portfolio, pos *types.Position, price decimal.Decimal, ts time.Time, reason types.ExitReason) (*types.ClosedTrade, error) {
	one := decimal.NewFromInt(1)
	var exitPrice decimal.Decimal
	if pos.Direction == types.DirectionLong {
		exitPrice = price.Mul(one.Sub(s.slippageRate))
	} else {
		exitPrice = price.Mul(one.Add(s.slippageRate))
	}
	commission := exitPrice.Mul(pos.Size).Mul(s.commissionRate)
	return portfolio.ClosePosition(pos.Symbol, exitPrice, ts, commission, reason)
}
