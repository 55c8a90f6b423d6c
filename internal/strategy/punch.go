package strategy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/internal/indicator"
	"github.com/analytical-punch/trading-backend/pkg/types"
)

// MomentumPunch trades continuation moves confirmed by RSI, MACD and the
// short moving average.
type MomentumPunch struct {
	logger *zap.Logger
}

// NewMomentumPunch creates a momentum punch strategy.
func NewMomentumPunch(logger *zap.Logger) *MomentumPunch {
	return &MomentumPunch{logger: logger}
}

func (s *MomentumPunch) Name() string { return "momentum_punch" }

func (s *MomentumPunch) Description() string {
	return "Momentum continuation confirmed by RSI, MACD crossover and SMA20"
}

func (s *MomentumPunch) MinBars() int { return 50 }

// Generate scores four momentum conditions per side; three or more fire a
// signal with confidence score/4.
func (s *MomentumPunch) Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal {
	i := len(bars) - 1
	rsi, ok1 := indicator.At(snap.RSI14, i)
	macd, ok2 := indicator.At(snap.MACD, i)
	macdSig, ok3 := indicator.At(snap.MACDSignal, i)
	sma20, ok4 := indicator.At(snap.SMA20, i)
	atr, ok5 := indicator.At(snap.ATR14, i)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}
	close := snap.Close[i]

	const maxScore = 4
	longScore, longReasons := 0, []string{}
	if rsi > 50 && rsi < 70 {
		longScore++
		longReasons = append(longReasons, fmt.Sprintf("RSI %.1f in momentum zone", rsi))
	}
	if macd > macdSig {
		longScore++
		longReasons = append(longReasons, "MACD above signal")
	}
	if macd > 0 {
		longScore++
		longReasons = append(longReasons, "MACD positive")
	}
	if close > sma20 {
		longScore++
		longReasons = append(longReasons, "close above SMA20")
	}

	shortScore, shortReasons := 0, []string{}
	if rsi < 50 && rsi > 30 {
		shortScore++
		shortReasons = append(shortReasons, fmt.Sprintf("RSI %.1f in bearish zone", rsi))
	}
	if macd < macdSig {
		shortScore++
		shortReasons = append(shortReasons, "MACD below signal")
	}
	if macd < 0 {
		shortScore++
		shortReasons = append(shortReasons, "MACD negative")
	}
	if close < sma20 {
		shortScore++
		shortReasons = append(shortReasons, "close below SMA20")
	}

	used := []string{"rsi_14", "macd", "sma_20", "atr_14"}
	if longScore >= 3 && longScore > shortScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionLong,
			longScore, maxScore, atr, strings.Join(longReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	if shortScore >= 3 && shortScore > longScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionShort,
			shortScore, maxScore, atr, strings.Join(shortReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	return nil
}

// ValuePunch fades overextended moves back toward the Bollinger middle.
type ValuePunch struct {
	logger *zap.Logger
}

// NewValuePunch creates a value punch strategy.
func NewValuePunch(logger *zap.Logger) *ValuePunch {
	return &ValuePunch{logger: logger}
}

func (s *ValuePunch) Name() string { return "value_punch" }

func (s *ValuePunch) Description() string {
	return "Mean reversion on RSI extremes outside the Bollinger bands"
}

func (s *ValuePunch) MinBars() int { return 50 }

func (s *ValuePunch) Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal {
	i := len(bars) - 1
	rsi, ok1 := indicator.At(snap.RSI14, i)
	upper, ok2 := indicator.At(snap.BollingerUpper, i)
	lower, ok3 := indicator.At(snap.BollingerLower, i)
	middle, ok4 := indicator.At(snap.BollingerMiddle, i)
	atr, ok5 := indicator.At(snap.ATR14, i)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}
	close := snap.Close[i]

	const maxScore = 3
	longScore, longReasons := 0, []string{}
	if rsi < 30 {
		longScore++
		longReasons = append(longReasons, fmt.Sprintf("RSI %.1f oversold", rsi))
	}
	if close < lower {
		longScore++
		longReasons = append(longReasons, "close below lower band")
	}
	if close < middle*0.97 {
		longScore++
		longReasons = append(longReasons, "deep discount to band middle")
	}

	shortScore, shortReasons := 0, []string{}
	if rsi > 70 {
		shortScore++
		shortReasons = append(shortReasons, fmt.Sprintf("RSI %.1f overbought", rsi))
	}
	if close > upper {
		shortScore++
		shortReasons = append(shortReasons, "close above upper band")
	}
	if close > middle*1.03 {
		shortScore++
		shortReasons = append(shortReasons, "stretched above band middle")
	}

	used := []string{"rsi_14", "bollinger_20_2", "atr_14"}
	if longScore >= 2 && longScore > shortScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionLong,
			longScore, maxScore, atr, strings.Join(longReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	if shortScore >= 2 && shortScore > longScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionShort,
			shortScore, maxScore, atr, strings.Join(shortReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	return nil
}

// BreakoutPunch trades range breaks confirmed by volume expansion.
type BreakoutPunch struct {
	logger *zap.Logger
}

// NewBreakoutPunch creates a breakout punch strategy.
func NewBreakoutPunch(logger *zap.Logger) *BreakoutPunch {
	return &BreakoutPunch{logger: logger}
}

func (s *BreakoutPunch) Name() string { return "breakout_punch" }

func (s *BreakoutPunch) Description() string {
	return "Range breakout over the prior 20-bar extreme with volume confirmation"
}

func (s *BreakoutPunch) MinBars() int { return 50 }

func (s *BreakoutPunch) Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal {
	const lookback = 20
	i := len(bars) - 1
	if i < lookback {
		return nil
	}
	atr, ok := indicator.At(snap.ATR14, i)
	if !ok {
		return nil
	}

	// Extremes and average volume over the prior window, excluding the
	// current bar.
	hi := bars[i-lookback].High
	lo := bars[i-lookback].Low
	volSum := bars[i-lookback].Volume
	for j := i - lookback + 1; j < i; j++ {
		if bars[j].High.GreaterThan(hi) {
			hi = bars[j].High
		}
		if bars[j].Low.LessThan(lo) {
			lo = bars[j].Low
		}
		volSum = volSum.Add(bars[j].Volume)
	}
	avgVol := volSum.Div(decimalFromInt(lookback))
	last := bars[i]

	const maxScore = 3
	volExpansion := avgVol.IsPositive() && last.Volume.GreaterThan(avgVol.Mul(decimalFromFloat(1.5)))

	used := []string{"range_20", "volume", "atr_14"}
	if last.Close.GreaterThan(hi) {
		score := 2 // break itself counts double
		reasons := []string{"close above 20-bar high"}
		if volExpansion {
			score++
			reasons = append(reasons, "volume 1.5x above average")
		}
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionLong,
			score, maxScore, atr, strings.Join(reasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	if last.Close.LessThan(lo) {
		score := 2
		reasons := []string{"close below 20-bar low"}
		if volExpansion {
			score++
			reasons = append(reasons, "volume 1.5x above average")
		}
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionShort,
			score, maxScore, atr, strings.Join(reasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	return nil
}

// TrendPunch rides established trends defined by the SMA20/SMA50 alignment.
type TrendPunch struct {
	logger *zap.Logger
}

// NewTrendPunch creates a trend punch strategy.
func NewTrendPunch(logger *zap.Logger) *TrendPunch {
	return &TrendPunch{logger: logger}
}

func (s *TrendPunch) Name() string { return "trend_punch" }

func (s *TrendPunch) Description() string {
	return "Trend following on SMA20/SMA50 alignment with MACD confirmation"
}

func (s *TrendPunch) MinBars() int { return 55 }

func (s *TrendPunch) Generate(symbol string, bars []types.Bar, snap *indicator.Snapshot) []*types.Signal {
	i := len(bars) - 1
	sma20, ok1 := indicator.At(snap.SMA20, i)
	sma50, ok2 := indicator.At(snap.SMA50, i)
	macd, ok3 := indicator.At(snap.MACD, i)
	rsi, ok4 := indicator.At(snap.RSI14, i)
	atr, ok5 := indicator.At(snap.ATR14, i)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}
	close := snap.Close[i]

	const maxScore = 4
	longScore, longReasons := 0, []string{}
	if sma20 > sma50 {
		longScore++
		longReasons = append(longReasons, "SMA20 above SMA50")
	}
	if close > sma20 {
		longScore++
		longReasons = append(longReasons, "close above SMA20")
	}
	if macd > 0 {
		longScore++
		longReasons = append(longReasons, "MACD positive")
	}
	if rsi > 45 && rsi < 75 {
		longScore++
		longReasons = append(longReasons, fmt.Sprintf("RSI %.1f healthy", rsi))
	}

	shortScore, shortReasons := 0, []string{}
	if sma20 < sma50 {
		shortScore++
		shortReasons = append(shortReasons, "SMA20 below SMA50")
	}
	if close < sma20 {
		shortScore++
		shortReasons = append(shortReasons, "close below SMA20")
	}
	if macd < 0 {
		shortScore++
		shortReasons = append(shortReasons, "MACD negative")
	}
	if rsi < 55 && rsi > 25 {
		shortScore++
		shortReasons = append(shortReasons, fmt.Sprintf("RSI %.1f weak", rsi))
	}

	used := []string{"sma_20", "sma_50", "macd", "rsi_14", "atr_14"}
	if longScore >= 3 && longScore > shortScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionLong,
			longScore, maxScore, atr, strings.Join(longReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	if shortScore >= 3 && shortScore > longScore {
		sig := buildSignal(s.Name(), symbol, bars, types.DirectionShort,
			shortScore, maxScore, atr, strings.Join(shortReasons, "; "), used)
		if sig != nil {
			return []*types.Signal{sig}
		}
	}
	return nil
}
