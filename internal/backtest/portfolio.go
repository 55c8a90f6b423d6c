// Package backtest implements the bar-driven backtesting engine: portfolio
// ledger, execution simulator, metrics and the orchestrating state machine.
package backtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// Portfolio is the authoritative ledger of a run: cash, open positions,
// closed trades and the equity curve. Cash changes only through fills; the
// equity curve is append-only.
type Portfolio struct {
	mu sync.RWMutex

	logger         *zap.Logger
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*types.Position
	closedTrades   []types.ClosedTrade
	equityCurve    []types.EquityPoint

	peakEquity decimal.Decimal
	dayStart   decimal.Decimal
	dayDate    string
}

// NewPortfolio creates a ledger with the given starting cash.
func NewPortfolio(logger *zap.Logger, initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		logger:         logger,
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
		peakEquity:     initialCapital,
		dayStart:       initialCapital,
	}
}

// Cash returns the current free cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// InitialCapital returns the starting cash of the run.
func (p *Portfolio) InitialCapital() decimal.Decimal {
	return p.initialCapital
}

// TotalValue returns cash plus the mark-to-market value of all open
// positions.
func (p *Portfolio) TotalValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalValueLocked()
}

func (p *Portfolio) totalValueLocked() decimal.Decimal {
	total := p.cash
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// Position returns the open position for a symbol, nil when flat.
func (p *Portfolio) Position(symbol string) *types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// HasPosition reports whether a position is open for the symbol.
func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[symbol]
	return ok
}

// OpenPositions returns a snapshot of all open positions.
func (p *Portfolio) OpenPositions() []*types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// ExposureTo returns the mark-to-market value held in the given symbol.
func (p *Portfolio) ExposureTo(symbol string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos.MarketValue()
	}
	return decimal.Zero
}

// OpenPosition debits cash for the entry value plus commission and records
// the position. The caller has already applied slippage to entryPrice.
func (p *Portfolio) OpenPosition(pos *types.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[pos.Symbol]; exists {
		return fmt.Errorf("position already open for %s", pos.Symbol)
	}

	value := pos.EntryPrice.Mul(pos.Size)
	cost := value.Add(pos.EntryCommission)
	if p.cash.LessThan(cost) {
		return fmt.Errorf("insufficient cash: need %s, have %s", cost, p.cash)
	}

	p.cash = p.cash.Sub(cost)
	pos.CurrentPrice = pos.EntryPrice
	p.positions[pos.Symbol] = pos

	p.logger.Debug("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("direction", string(pos.Direction)),
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("size", pos.Size.String()),
		zap.String("cash", p.cash.String()))
	return nil
}

// ClosePosition credits cash with the exit proceeds net of the exit
// commission and records the closed trade. The caller has already applied
// slippage to exitPrice.
func (p *Portfolio) ClosePosition(symbol string, exitPrice decimal.Decimal, exitTime time.Time, exitCommission decimal.Decimal, reason types.ExitReason) (*types.ClosedTrade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	proceeds := exitPrice.Mul(pos.Size).Sub(exitCommission)
	p.cash = p.cash.Add(proceeds)
	delete(p.positions, symbol)

	totalCommission := pos.EntryCommission.Add(exitCommission)
	pnl := pos.Direction.Sign().Mul(exitPrice.Sub(pos.EntryPrice)).Mul(pos.Size).Sub(totalCommission)

	entryValue := pos.EntryPrice.Mul(pos.Size)
	pnlPct := decimal.Zero
	if entryValue.IsPositive() {
		pnlPct = pnl.Div(entryValue).Mul(decimal.NewFromInt(100))
	}

	trade := types.ClosedTrade{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  exitPrice,
		ExitTime:   exitTime,
		Size:       pos.Size,
		StopLoss:   pos.StopLoss,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Commission: totalCommission,
		ExitReason: reason,
		Strategy:   pos.Strategy,
		Duration:   exitTime.Sub(pos.EntryTime),
	}
	p.closedTrades = append(p.closedTrades, trade)

	p.logger.Debug("position closed",
		zap.String("symbol", symbol),
		zap.String("exit", exitPrice.String()),
		zap.String("pnl", pnl.String()),
		zap.String("reason", string(reason)))
	return &trade, nil
}

// CloseFlat removes a position without P&L when no usable exit price
// exists. Cash is restored to its pre-entry level so the ledger identity
// holds.
func (p *Portfolio) CloseFlat(symbol string, exitTime time.Time, reason types.ExitReason) (*types.ClosedTrade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	p.cash = p.cash.Add(pos.EntryPrice.Mul(pos.Size)).Add(pos.EntryCommission)
	delete(p.positions, symbol)

	trade := types.ClosedTrade{
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  pos.EntryPrice,
		ExitTime:   exitTime,
		Size:       pos.Size,
		StopLoss:   pos.StopLoss,
		PnL:        decimal.Zero,
		PnLPct:     decimal.Zero,
		Commission: decimal.Zero,
		ExitReason: reason,
		Strategy:   pos.Strategy,
		Duration:   exitTime.Sub(pos.EntryTime),
	}
	p.closedTrades = append(p.closedTrades, trade)

	p.logger.Warn("position closed flat, no usable exit price",
		zap.String("symbol", symbol))
	return &trade, nil
}

// MarkPrice updates the mark price of an open position. It does not touch
// cash.
func (p *Portfolio) MarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok && price.IsPositive() {
		pos.CurrentPrice = price
	}
}

// RecordEquity appends an equity sample at the given timestamp.
func (p *Portfolio) RecordEquity(ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.totalValueLocked()
	p.equityCurve = append(p.equityCurve, types.EquityPoint{Timestamp: ts, Value: total})

	if total.GreaterThan(p.peakEquity) {
		p.peakEquity = total
	}

	day := ts.UTC().Format("2006-01-02")
	if day != p.dayDate {
		p.dayDate = day
		p.dayStart = total
	}
}

// CurrentDrawdown returns the fractional drawdown from the equity peak.
func (p *Portfolio) CurrentDrawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.peakEquity.Sub(p.totalValueLocked()).Div(p.peakEquity)
}

// DailyLoss returns the fractional loss since the start of the current UTC
// day, zero when flat or up on the day.
func (p *Portfolio) DailyLoss() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dayStart.IsZero() {
		return decimal.Zero
	}
	loss := p.dayStart.Sub(p.totalValueLocked()).Div(p.dayStart)
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}

// ClosedTrades returns a copy of the closed trade log.
func (p *Portfolio) ClosedTrades() []types.ClosedTrade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.ClosedTrade, len(p.closedTrades))
	copy(out, p.closedTrades)
	return out
}

// EquityCurve returns a copy of the equity samples.
func (p *Portfolio) EquityCurve() []types.EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityPoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}
