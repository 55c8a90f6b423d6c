package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

const (
	riskFreeRate   = 0.02
	tradingDays    = 252
	profitFactorAt = 999 // sentinel when gross loss is zero but wins exist
)

// MetricsCalculator derives trade and risk statistics from a finished run.
// It is pure: the same trades and equity curve always produce the same
// metrics, and the output never contains NaN or Inf.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a metrics calculator.
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes the full metrics block. With no trades and no equity
// samples every field is zero.
func (m *MetricsCalculator) Calculate(trades []types.ClosedTrade, equity []types.EquityPoint, initialCapital decimal.Decimal) types.Metrics {
	var out types.Metrics
	if len(trades) == 0 && len(equity) == 0 {
		return out
	}

	out.TotalTrades = len(trades)

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero // kept as a negative sum
	var winStreak, lossStreak, curWin, curLoss int
	durationHours := 0.0
	bestPct := decimal.Zero
	worstPct := decimal.Zero

	for i, t := range trades {
		if t.PnL.IsPositive() {
			out.WinningTrades++
			grossProfit = grossProfit.Add(t.PnL)
			curWin++
			curLoss = 0
		} else {
			out.LosingTrades++
			grossLoss = grossLoss.Add(t.PnL)
			curLoss++
			curWin = 0
		}
		if curWin > winStreak {
			winStreak = curWin
		}
		if curLoss > lossStreak {
			lossStreak = curLoss
		}
		durationHours += t.Duration.Hours()
		if i == 0 || t.PnLPct.GreaterThan(bestPct) {
			bestPct = t.PnLPct
		}
		if i == 0 || t.PnLPct.LessThan(worstPct) {
			worstPct = t.PnLPct
		}
	}
	out.MaxConsecutiveWins = winStreak
	out.MaxConsecutiveLosses = lossStreak
	out.GrossProfit = grossProfit
	out.GrossLoss = grossLoss
	out.TotalProfit = grossProfit.Add(grossLoss)
	out.BestTrade = bestPct
	out.WorstTrade = worstPct

	if out.TotalTrades > 0 {
		out.WinRate = decimal.NewFromInt(int64(out.WinningTrades)).
			Div(decimal.NewFromInt(int64(out.TotalTrades)))
		out.AvgDuration = decimal.NewFromFloat(durationHours / float64(out.TotalTrades))
	}
	if out.WinningTrades > 0 {
		out.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(out.WinningTrades)))
	}
	if out.LosingTrades > 0 {
		out.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(out.LosingTrades)))
	}

	switch {
	case !grossLoss.IsZero():
		out.ProfitFactor = grossProfit.Div(grossLoss).Abs()
	case out.WinningTrades > 0:
		out.ProfitFactor = decimal.NewFromInt(profitFactorAt)
	}

	if out.TotalTrades > 0 {
		lossRate := decimal.NewFromInt(1).Sub(out.WinRate)
		out.Expectancy = out.WinRate.Mul(out.AvgWin).Add(lossRate.Mul(out.AvgLoss))
	}

	finalEquity := initialCapital
	if len(equity) > 0 {
		finalEquity = equity[len(equity)-1].Value
	}
	out.FinalEquity = finalEquity
	if initialCapital.IsPositive() {
		out.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)
		out.TotalReturnPct = out.TotalReturn.Mul(decimal.NewFromInt(100))
	}

	dailyReturns := dailyReturns(equity)
	out.SharpeRatio = decimal.NewFromFloat(sanitize(sharpe(dailyReturns)))
	out.SortinoRatio = decimal.NewFromFloat(sanitize(sortino(dailyReturns)))

	maxDD, ddDays := maxDrawdown(equity)
	out.MaxDrawdown = decimal.NewFromFloat(sanitize(maxDD))
	out.MaxDrawdownPct = decimal.NewFromFloat(sanitize(maxDD * 100))
	out.MaxDrawdownDuration = ddDays
	if maxDD != 0 {
		out.CalmarRatio = decimal.NewFromFloat(sanitize(out.TotalReturn.InexactFloat64() / math.Abs(maxDD)))
		if initialCapital.IsPositive() {
			out.RecoveryFactor = decimal.NewFromFloat(sanitize(
				out.TotalProfit.InexactFloat64() / math.Abs(maxDD) / initialCapital.InexactFloat64()))
		}
	}

	out.AvgRiskReward = avgRiskReward(trades)
	return out
}

// dailyReturns resamples the equity curve to the last value of each UTC day
// and returns day-over-day percentage changes.
func dailyReturns(equity []types.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}

	var days []float64
	lastDay := ""
	for _, pt := range equity {
		day := pt.Timestamp.UTC().Format("2006-01-02")
		v := pt.Value.InexactFloat64()
		if day == lastDay {
			days[len(days)-1] = v
		} else {
			days = append(days, v)
			lastDay = day
		}
	}

	var returns []float64
	for i := 1; i < len(days); i++ {
		if days[i-1] != 0 {
			returns = append(returns, (days[i]-days[i-1])/days[i-1])
		}
	}
	return returns
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := riskFreeRate / tradingDays
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf
	}
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(tradingDays) * mean(excess) / sd
}

// sortino uses the standard deviation of negative excess returns as the
// downside denominator.
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := riskFreeRate / tradingDays
	excess := make([]float64, len(returns))
	var downside []float64
	for i, r := range returns {
		excess[i] = r - rf
		if excess[i] < 0 {
			downside = append(downside, excess[i])
		}
	}
	sd := stdDev(downside)
	if len(downside) == 0 || sd == 0 {
		return 0
	}
	return math.Sqrt(tradingDays) * mean(excess) / sd
}

// maxDrawdown returns the deepest fractional drawdown (a negative number)
// and the longest stretch of days spent under a prior peak.
func maxDrawdown(equity []types.EquityPoint) (float64, int) {
	if len(equity) < 2 {
		return 0, 0
	}

	maxDD := 0.0
	maxDays := 0
	peak := equity[0].Value.InexactFloat64()
	var ddStart time.Time
	inDrawdown := false

	for _, pt := range equity {
		v := pt.Value.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
		if dd < 0 {
			if !inDrawdown {
				inDrawdown = true
				ddStart = pt.Timestamp
			}
			days := int(pt.Timestamp.Sub(ddStart).Hours() / 24)
			if days > maxDays {
				maxDays = days
			}
		} else {
			inDrawdown = false
		}
	}
	return maxDD, maxDays
}

func avgRiskReward(trades []types.ClosedTrade) decimal.Decimal {
	var ratios []float64
	for _, t := range trades {
		if !t.StopLoss.IsPositive() || !t.EntryPrice.IsPositive() {
			continue
		}
		risk := t.EntryPrice.Sub(t.StopLoss).Abs().InexactFloat64()
		if risk == 0 {
			continue
		}
		reward := t.ExitPrice.Sub(t.EntryPrice).Abs().InexactFloat64()
		ratios = append(ratios, reward/risk)
	}
	if len(ratios) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(mean(ratios))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// sanitize maps NaN and Inf to 0 so serialized metrics stay valid JSON.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
