// Package types provides shared type definitions for the trading backend.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of a position or signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss      ExitReason = "stop_loss"
	ExitReasonTakeProfit    ExitReason = "take_profit"
	ExitReasonManual        ExitReason = "manual"
	ExitReasonEndOfBacktest ExitReason = "end_of_backtest"
	ExitReasonSafety        ExitReason = "safety_intervention"
)

// Timeframe represents candle intervals.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar interval as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Bar represents a single OHLCV candlestick.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate checks the OHLC range invariant low <= min(open,close) <= max(open,close) <= high.
func (b Bar) Validate() error {
	body := decimal.Min(b.Open, b.Close)
	top := decimal.Max(b.Open, b.Close)
	if b.Low.GreaterThan(body) || top.GreaterThan(b.High) {
		return fmt.Errorf("bar at %s violates OHLC range: o=%s h=%s l=%s c=%s",
			b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

// ValidateBars checks every bar's OHLC range and that timestamps strictly increase.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			return fmt.Errorf("bar timestamps not strictly increasing at index %d (%s >= %s)",
				i, bars[i-1].Timestamp.Format(time.RFC3339), b.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Signal is a strategy's trade proposal. It is immutable once emitted and
// consumed at most once by the execution simulator.
type Signal struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol"`
	Strategy         string            `json:"strategy"`
	Direction        Direction         `json:"direction"`
	Confidence       decimal.Decimal   `json:"confidence"` // 0-1
	Strength         decimal.Decimal   `json:"strength"`   // 0-100
	EntryPrice       decimal.Decimal   `json:"entry_price"`
	StopLoss         decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfitLevels []decimal.Decimal `json:"take_profit_levels,omitempty"`
	RiskReward       decimal.Decimal   `json:"risk_reward_ratio,omitempty"`
	Timeframe        Timeframe         `json:"timeframe"`
	Reasoning        string            `json:"reasoning,omitempty"`
	IndicatorsUsed   []string          `json:"indicators_used,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// FirstTakeProfit returns the nearest take-profit level, or zero if none.
func (s *Signal) FirstTakeProfit() decimal.Decimal {
	if len(s.TakeProfitLevels) == 0 {
		return decimal.Zero
	}
	return s.TakeProfitLevels[0]
}

// Position is an open trade owned by a portfolio ledger.
type Position struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryTime       time.Time       `json:"entry_time"`
	Size            decimal.Decimal `json:"size"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	StopLoss        decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      decimal.Decimal `json:"take_profit,omitempty"`
	Strategy        string          `json:"strategy"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
}

// MarketValue returns the mark-to-market value of the position. Shorts are
// marked as size*(2*entry - current) so a falling price raises the mark.
func (p *Position) MarketValue() decimal.Decimal {
	if p.Direction == DirectionShort {
		two := decimal.NewFromInt(2)
		return p.Size.Mul(two.Mul(p.EntryPrice).Sub(p.CurrentPrice))
	}
	return p.Size.Mul(p.CurrentPrice)
}

// UnrealizedPnL returns the open profit at the current mark.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Direction.Sign().Mul(p.CurrentPrice.Sub(p.EntryPrice)).Mul(p.Size)
}

// ClosedTrade is the immutable record of a completed round trip.
type ClosedTrade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitTime   time.Time       `json:"exit_time"`
	Size       decimal.Decimal `json:"size"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	PnL        decimal.Decimal `json:"profit"`
	PnLPct     decimal.Decimal `json:"profit_pct"`
	Commission decimal.Decimal `json:"commission"`
	ExitReason ExitReason      `json:"exit_reason"`
	Strategy   string          `json:"strategy"`
	Duration   time.Duration   `json:"duration"`
}

// EquityPoint is one sample on the equity curve, taken after each bar.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// EquityCurve is the serialized form of the equity samples: parallel
// timestamp and value arrays.
type EquityCurve struct {
	Timestamps []time.Time       `json:"timestamps"`
	Values     []decimal.Decimal `json:"values"`
}

// Metrics holds the trade and risk statistics produced by a backtest. Every
// ratio has an explicit zero or sentinel fallback; no NaN or Inf appears in
// serialized output.
type Metrics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	AvgWin        decimal.Decimal `json:"avg_win"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`
	AvgDuration   decimal.Decimal `json:"avg_trade_duration_hours"`

	TotalProfit  decimal.Decimal `json:"total_profit"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	Expectancy   decimal.Decimal `json:"expectancy"`

	TotalReturn    decimal.Decimal `json:"total_return"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	FinalEquity    decimal.Decimal `json:"final_equity"`

	SharpeRatio         decimal.Decimal `json:"sharpe_ratio"`
	SortinoRatio        decimal.Decimal `json:"sortino_ratio"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
	MaxDrawdownDuration int             `json:"max_drawdown_duration_days"`
	CalmarRatio         decimal.Decimal `json:"calmar_ratio"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	AvgRiskReward  decimal.Decimal `json:"avg_risk_reward_ratio"`
	BestTrade      decimal.Decimal `json:"best_trade"`
	WorstTrade     decimal.Decimal `json:"worst_trade"`
	RecoveryFactor decimal.Decimal `json:"recovery_factor"`
}

// BacktestResult is the stable output contract of a backtest run.
type BacktestResult struct {
	BacktestID  string            `json:"backtest_id"`
	Symbol      string            `json:"symbol"`
	Strategy    string            `json:"strategy"`
	Timeframe   Timeframe         `json:"timeframe"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Metrics     Metrics           `json:"metrics"`
	Trades      []ClosedTrade     `json:"trades"`
	EquityCurve EquityCurve       `json:"equity_curve"`
	BarsUsed    int               `json:"bars_used"`
	CompletedAt time.Time         `json:"completed_at"`
}

// RiskLimits is the per-run risk configuration, fixed for the lifetime of a
// backtest or bot.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal `json:"max_position_size"`  // fraction of portfolio per position
	MaxPortfolioRisk decimal.Decimal `json:"max_portfolio_risk"` // fraction risked per trade
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`     // fraction of portfolio per day
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
	MaxSingleAsset   decimal.Decimal `json:"max_single_asset"` // concentration cap per base asset
	MaxCorrelation   decimal.Decimal `json:"max_correlation"`
	MinRiskReward    decimal.Decimal `json:"min_risk_reward"`
	MaxOpenPositions int             `json:"max_open_positions"`
	MaxTradesPerDay  int             `json:"max_trades_per_day"`
}

// DefaultRiskLimits returns conservative defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:  decimal.NewFromFloat(0.1),
		MaxPortfolioRisk: decimal.NewFromFloat(0.02),
		MaxDailyLoss:     decimal.NewFromFloat(0.05),
		MaxDrawdown:      decimal.NewFromFloat(0.15),
		MaxSingleAsset:   decimal.NewFromFloat(0.25),
		MaxCorrelation:   decimal.NewFromFloat(0.7),
		MinRiskReward:    decimal.NewFromFloat(1.5),
		MaxOpenPositions: 5,
		MaxTradesPerDay:  10,
	}
}

// BotStatus is the lifecycle state of a trading bot.
type BotStatus string

const (
	BotStatusRunning BotStatus = "running"
	BotStatusPaused  BotStatus = "paused"
	BotStatusStopped BotStatus = "stopped"
)

// Alert is a safety or risk notification.
type Alert struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"` // info, warning, critical
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	BotID     string    `json:"bot_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
