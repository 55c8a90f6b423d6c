// Package types provides configuration types for the trading backend.
package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData is returned when a run does not have enough bars to
// complete warm-up. No partial result is produced.
var ErrInsufficientData = errors.New("insufficient data for warm-up")

// BacktestConfig describes a single backtest run. It is fixed for the
// lifetime of the run.
type BacktestConfig struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Strategy       string            `json:"strategy"`
	Timeframe      Timeframe         `json:"timeframe"`
	StartDate      time.Time         `json:"startDate"`
	EndDate        time.Time         `json:"endDate"`
	InitialCapital decimal.Decimal   `json:"initialCapital"`
	CommissionRate decimal.Decimal   `json:"commissionRate"`
	SlippageRate   decimal.Decimal   `json:"slippageRate"`
	RiskPerTrade   decimal.Decimal   `json:"riskPerTrade"`
	WarmupBars     int               `json:"warmupBars"`
	RiskLimits     RiskLimits        `json:"riskLimits"`
	Parameters     map[string]string `json:"parameters,omitempty"`
}

// DefaultBacktestConfig returns a config with the standard simulation
// parameters applied.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		Timeframe:      Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		CommissionRate: decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.0005),
		RiskPerTrade:   decimal.NewFromFloat(0.02),
		WarmupBars:     50,
		RiskLimits:     DefaultRiskLimits(),
	}
}

// Validate checks the config fields that would otherwise surface as
// confusing mid-run failures.
func (c *BacktestConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.Strategy == "" {
		return errors.New("strategy is required")
	}
	if !c.EndDate.After(c.StartDate) {
		return errors.New("end date must be after start date")
	}
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return errors.New("initial capital must be positive")
	}
	if c.WarmupBars < 1 {
		return errors.New("warmup bars must be at least 1")
	}
	return nil
}

// BotConfig describes a paper-trading bot.
type BotConfig struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Strategy       string          `json:"strategy"`
	Timeframe      Timeframe       `json:"timeframe"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	SlippageRate   decimal.Decimal `json:"slippageRate"`
	RiskPerTrade   decimal.Decimal `json:"riskPerTrade"`
	Interval       time.Duration   `json:"interval"`
	RiskLimits     RiskLimits      `json:"riskLimits"`
}

// SafetyRuleConfig configures one monitored safety rule.
type SafetyRuleConfig struct {
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
	Action    string          `json:"action"` // alert, pause, stop
	Cooldown  time.Duration   `json:"cooldown"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// StoreConfig holds the ClickHouse persistence settings.
type StoreConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NotifyConfig holds the Telegram alert channel settings.
type NotifyConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegramToken"`
	ChatID        int64  `json:"chatId"`
}

// DataConfig holds the market-data layer settings.
type DataConfig struct {
	DataDir    string `json:"dataDir"`
	Source     string `json:"source"` // synthetic, binance, file
	CacheBars  int    `json:"cacheBars"`
	BinanceKey string `json:"binanceKey"`
	BinanceSec string `json:"binanceSecret"`
}
