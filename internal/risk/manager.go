// Package risk validates trade proposals against portfolio limits and
// computes position sizes.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
	"github.com/analytical-punch/trading-backend/pkg/utils"
)

var (
	rejectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_order_rejections_total",
		Help: "Trade proposals rejected by risk validation, by reason.",
	}, []string{"reason"})

	approvalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "risk_order_approvals_total",
		Help: "Trade proposals that passed risk validation.",
	})
)

// PortfolioView is the read-only portfolio surface the risk manager needs.
type PortfolioView interface {
	TotalValue() decimal.Decimal
	Cash() decimal.Decimal
	OpenPositions() []*types.Position
	HasPosition(symbol string) bool
	ExposureTo(symbol string) decimal.Decimal
	CurrentDrawdown() decimal.Decimal
	DailyLoss() decimal.Decimal
}

// Verdict is the outcome of order validation. A rejection is an expected
// outcome carrying its reason, not an error.
type Verdict struct {
	Approved bool
	Reason   string
}

func approve() Verdict { return Verdict{Approved: true} }

func reject(counterLabel, format string, args ...interface{}) Verdict {
	rejectionCounter.WithLabelValues(counterLabel).Inc()
	return Verdict{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// Manager enforces the risk limits of a run. Daily counters reset on the
// UTC date of the evaluated bar, never the wall clock, so backtests stay
// deterministic.
type Manager struct {
	logger *zap.Logger
	limits types.RiskLimits

	mu          sync.Mutex
	tradesToday int
	currentDay  string
}

// NewManager creates a risk manager with the given limits.
func NewManager(logger *zap.Logger, limits types.RiskLimits) *Manager {
	return &Manager{logger: logger, limits: limits}
}

// Limits returns the configured limits.
func (m *Manager) Limits() types.RiskLimits {
	return m.limits
}

// ValidateOrder runs every check against the proposal. now is the bar
// timestamp driving daily counter resets.
func (m *Manager) ValidateOrder(sig *types.Signal, notional decimal.Decimal, pf PortfolioView, now time.Time) Verdict {
	m.rollDay(now)

	positions := pf.OpenPositions()
	if len(positions) >= m.limits.MaxOpenPositions {
		return reject("max_open_positions", "maximum open positions (%d) reached", m.limits.MaxOpenPositions)
	}
	if pf.HasPosition(sig.Symbol) {
		return reject("duplicate_symbol", "already have a position in %s", sig.Symbol)
	}

	total := pf.TotalValue()
	maxNotional := total.Mul(m.limits.MaxPositionSize)
	if notional.GreaterThan(maxNotional) {
		return reject("position_size", "order value %s exceeds max position size %s", notional, maxNotional)
	}

	base, _ := utils.ParseSymbol(sig.Symbol)
	assetValue := notional
	for _, pos := range positions {
		posBase, _ := utils.ParseSymbol(pos.Symbol)
		if posBase == base {
			assetValue = assetValue.Add(pos.MarketValue())
		}
	}
	maxAsset := total.Mul(m.limits.MaxSingleAsset)
	if assetValue.GreaterThan(maxAsset) {
		return reject("concentration", "concentration in %s would exceed %s", base, maxAsset)
	}

	if pf.CurrentDrawdown().GreaterThan(m.limits.MaxDrawdown) {
		return reject("drawdown", "drawdown %s exceeds limit %s", pf.CurrentDrawdown(), m.limits.MaxDrawdown)
	}
	if pf.DailyLoss().GreaterThanOrEqual(m.limits.MaxDailyLoss) {
		return reject("daily_loss", "daily loss limit reached")
	}

	if sig.RiskReward.IsPositive() && sig.RiskReward.LessThan(m.limits.MinRiskReward) {
		return reject("risk_reward", "risk/reward %s below minimum %s", sig.RiskReward, m.limits.MinRiskReward)
	}

	if v := m.validateCorrelation(sig, positions, base); !v.Approved {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tradesToday >= m.limits.MaxTradesPerDay {
		return reject("daily_trades", "daily trade limit (%d) reached", m.limits.MaxTradesPerDay)
	}

	approvalCounter.Inc()
	return approve()
}

// validateCorrelation applies the asset-class heuristic: no more than two
// simultaneous majors (BTC/ETH) positions when the proposal is also a
// major.
func (m *Manager) validateCorrelation(sig *types.Signal, positions []*types.Position, base string) Verdict {
	if len(positions) < 2 || !isMajor(base) {
		return approve()
	}
	majors := 0
	for _, pos := range positions {
		posBase, _ := utils.ParseSymbol(pos.Symbol)
		if isMajor(posBase) {
			majors++
		}
	}
	if majors >= 2 {
		return reject("correlation", "too many correlated major-asset positions")
	}
	return approve()
}

func isMajor(base string) bool {
	return base == "BTC" || base == "ETH"
}

// RecordTrade counts a filled trade toward the daily limit.
func (m *Manager) RecordTrade(now time.Time) {
	m.rollDay(now)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradesToday++
}

func (m *Manager) rollDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	m.mu.Lock()
	defer m.mu.Unlock()
	if day != m.currentDay {
		m.currentDay = day
		m.tradesToday = 0
	}
}

// PositionSize returns the most conservative of three sizing methods:
// fixed-fractional risk, half-Kelly, and confidence-scaled volatility
// sizing, capped by the maximum position size. Zero means no tradable
// size.
func (m *Manager) PositionSize(sig *types.Signal, pf PortfolioView, riskPerTrade decimal.Decimal) decimal.Decimal {
	if !sig.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	total := pf.TotalValue()

	fixed := m.fixedRiskSize(sig, total, riskPerTrade)
	kelly := m.kellySize(sig, total)
	vol := m.volatilitySize(sig, total)

	optimal := decimal.Zero
	for _, size := range []decimal.Decimal{fixed, kelly, vol} {
		if !size.IsPositive() {
			continue
		}
		if optimal.IsZero() {
			optimal = size
		} else {
			optimal = utils.MinDecimal(optimal, size)
		}
	}
	if optimal.IsZero() {
		return decimal.Zero
	}

	maxSize := total.Mul(m.limits.MaxPositionSize).Div(sig.EntryPrice)
	optimal = utils.MinDecimal(optimal, maxSize)

	m.logger.Debug("position size calculated",
		zap.String("symbol", sig.Symbol),
		zap.String("fixed", fixed.String()),
		zap.String("kelly", kelly.String()),
		zap.String("volatility", vol.String()),
		zap.String("chosen", optimal.String()))
	return optimal
}

// fixedRiskSize risks a fixed fraction of the portfolio between entry and
// stop.
func (m *Manager) fixedRiskSize(sig *types.Signal, total, riskPerTrade decimal.Decimal) decimal.Decimal {
	if !sig.StopLoss.IsPositive() {
		return decimal.Zero
	}
	priceRisk := sig.EntryPrice.Sub(sig.StopLoss).Abs()
	if !priceRisk.IsPositive() {
		return decimal.Zero
	}
	return total.Mul(riskPerTrade).Div(priceRisk)
}

// kellySize applies half-Kelly with the win probability taken from signal
// confidence and the payoff ratio from risk/reward, capped at 25% of the
// portfolio.
func (m *Manager) kellySize(sig *types.Signal, total decimal.Decimal) decimal.Decimal {
	if !sig.RiskReward.IsPositive() {
		return decimal.Zero
	}
	b := sig.RiskReward
	p := sig.Confidence
	q := decimal.NewFromInt(1).Sub(p)

	kelly := b.Mul(p).Sub(q).Div(b)
	half := kelly.Mul(decimal.NewFromFloat(0.5))
	fraction := utils.ClampDecimal(half, decimal.Zero, decimal.NewFromFloat(0.25))
	if !fraction.IsPositive() {
		return decimal.Zero
	}
	return total.Mul(fraction).Div(sig.EntryPrice)
}

// volatilitySize allocates a 5% base scaled by signal confidence.
func (m *Manager) volatilitySize(sig *types.Signal, total decimal.Decimal) decimal.Decimal {
	base := total.Mul(decimal.NewFromFloat(0.05))
	return base.Mul(sig.Confidence).Div(sig.EntryPrice)
}
