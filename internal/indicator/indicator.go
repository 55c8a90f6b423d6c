// Package indicator computes technical indicator series over bar history.
// All series are float64, aligned 1:1 with the input bars. Warm-up entries
// are NaN and must be checked with At before use.
package indicator

import (
	"math"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

// Snapshot holds indicator series aligned with the bars they were computed
// from. Index i corresponds to bars[i].
type Snapshot struct {
	Close []float64

	SMA20 []float64
	SMA50 []float64
	EMA12 []float64
	EMA26 []float64

	RSI14 []float64

	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64

	BollingerUpper  []float64
	BollingerMiddle []float64
	BollingerLower  []float64

	ATR14 []float64
}

// At returns the series value at index i, with ok=false when the value is a
// warm-up NaN or the index is out of range. Callers must never substitute 0
// for a missing value.
func At(series []float64, i int) (float64, bool) {
	if i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Last returns the most recent value of the series, ok=false when the series
// is empty or still warming up.
func Last(series []float64) (float64, bool) {
	return At(series, len(series)-1)
}

// Calculate computes all indicator series over the given bars. Pure: the
// same bars always produce the same snapshot.
func Calculate(bars []types.Bar) *Snapshot {
	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
		highs[i] = b.High.InexactFloat64()
		lows[i] = b.Low.InexactFloat64()
	}

	snap := &Snapshot{
		Close: closes,
		SMA20: SMA(closes, 20),
		SMA50: SMA(closes, 50),
		EMA12: EMA(closes, 12),
		EMA26: EMA(closes, 26),
		RSI14: RSI(closes, 14),
		ATR14: ATR(highs, lows, closes, 14),
	}
	snap.MACD, snap.MACDSignal, snap.MACDHist = MACD(closes, 12, 26, 9)
	snap.BollingerMiddle, snap.BollingerUpper, snap.BollingerLower = Bollinger(closes, 20, 2.0)
	return snap
}

// SMA computes a simple moving average. The first period-1 entries are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*mult + prev
		out[i] = prev
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing.
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes the MACD line, signal line, and histogram.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	n := len(values)
	macd = nanSeries(n)
	signalLine = nanSeries(n)
	hist = nanSeries(n)

	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	for i := 0; i < n; i++ {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal is an EMA over the defined portion of the MACD line.
	start := -1
	for i, v := range macd {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	if start < 0 || n-start < signal {
		return macd, signalLine, hist
	}
	sigPart := EMA(macd[start:], signal)
	for i, v := range sigPart {
		signalLine[start+i] = v
		if !math.IsNaN(v) {
			hist[start+i] = macd[start+i] - v
		}
	}
	return macd, signalLine, hist
}

// Bollinger computes the middle SMA band plus upper/lower bands at k
// standard deviations.
func Bollinger(values []float64, period int, k float64) (middle, upper, lower []float64) {
	n := len(values)
	middle = SMA(values, period)
	upper = nanSeries(n)
	lower = nanSeries(n)
	if period <= 1 || n < period {
		return middle, upper, lower
	}
	for i := period - 1; i < n; i++ {
		mean := middle[i]
		var sumSq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			sumSq += d * d
		}
		std := math.Sqrt(sumSq / float64(period))
		upper[i] = mean + k*std
		lower[i] = mean - k*std
	}
	return middle, upper, lower
}

// ATR computes the average true range with Wilder smoothing.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if period <= 0 || n < period+1 {
		return out
	}
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	prev := sum / float64(period)
	out[period] = prev
	for i := period + 1; i < n; i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
