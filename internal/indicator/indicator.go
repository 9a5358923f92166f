// Package indicator computes the technical indicators the indicator engine
// (IE) attaches to a candle window: moving averages, RSI, MACD, ADX,
// Bollinger Bands, ATR, and simple support/resistance levels. Every function
// takes a candle.Window oldest-first and returns the documented boundary
// default when the window is too short, rather than an error — IE callers
// treat "not enough data yet" as a value, not a failure.
package indicator

import (
	"math"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

// SMA returns the simple moving average of the last period closes, or 0 if
// the window is shorter than period.
func SMA(w candle.Window, period int) float64 {
	if len(w) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range w[len(w)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average over the whole window, seeded
// with the SMA of the first period closes.
func EMA(w candle.Window, period int) float64 {
	if len(w) < period || period <= 0 {
		return 0
	}
	ema := SMA(w[:period], period)
	multiplier := 2.0 / float64(period+1)
	for _, c := range w[period:] {
		ema = (c.Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// emaSeries returns the EMA value at every index from period-1 onward,
// needed internally to build a true MACD signal line.
func emaSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		ema = (closes[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}

// RSI returns the Relative Strength Index over period, defaulting to the
// neutral value 50.0 when the window holds fewer than period+1 candles.
func RSI(w candle.Window, period int) float64 {
	if len(w) < period+1 || period <= 0 {
		return 50.0
	}
	gains, losses := 0.0, 0.0
	start := len(w) - period
	for i := start; i < len(w); i++ {
		change := w[i].Close - w[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult holds the MACD line, its signal line, and their difference.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD returns the MACD line (fast EMA minus slow EMA), a true signal line
// (EMA of the MACD line itself over signalPeriod bars), and the histogram.
// Returns the zero value below slowPeriod candles. From slowPeriod up to
// slowPeriod+signalPeriod-2 candles the MACD line is set but the signal line
// is still 0 (too few MACD values for its first EMA), so the histogram
// equals the MACD line.
func MACD(w candle.Window, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(w) < slowPeriod {
		return MACDResult{}
	}
	closes := w.Closes()
	fastSeries := emaSeries(closes, fastPeriod)
	slowSeries := emaSeries(closes, slowPeriod)

	macdSeries := make([]float64, len(closes))
	for i := slowPeriod - 1; i < len(closes); i++ {
		macdSeries[i] = fastSeries[i] - slowSeries[i]
	}

	signalInput := macdSeries[slowPeriod-1:]
	signalSeries := emaSeries(signalInput, signalPeriod)

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]

	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// BollingerBands holds the three Bollinger Band levels.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger returns Bollinger Bands at period with the given standard
// deviation multiplier. Returns the zero value below period candles.
func Bollinger(w candle.Window, period int, stdDevMultiplier float64) BollingerBands {
	if len(w) < period {
		return BollingerBands{}
	}
	middle := SMA(w, period)
	variance := 0.0
	for _, c := range w[len(w)-period:] {
		diff := c.Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	return BollingerBands{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}
}

// ATR returns the Average True Range over period, or 0 below period+1
// candles.
func ATR(w candle.Window, period int) float64 {
	if len(w) < period+1 || period <= 0 {
		return 0
	}
	trSum := 0.0
	start := len(w) - period
	for i := start; i < len(w); i++ {
		high, low, prevClose := w[i].High, w[i].Low, w[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}

// directionalMovement computes +DM and -DM series used by ADX.
func directionalMovement(w candle.Window) (plusDM, minusDM, tr []float64) {
	n := len(w)
	plusDM = make([]float64, n)
	minusDM = make([]float64, n)
	tr = make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := w[i].High - w[i-1].High
		downMove := w[i-1].Low - w[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = math.Max(w[i].High-w[i].Low, math.Max(math.Abs(w[i].High-w[i-1].Close), math.Abs(w[i].Low-w[i-1].Close)))
	}
	return
}

// ADX returns the Average Directional Index over period using Wilder's
// smoothing of +DI/-DI. Returns the boundary default 25.0 (the neutral,
// neither-trending-nor-ranging reading) below 2*period candles.
func ADX(w candle.Window, period int) float64 {
	if len(w) < 2*period || period <= 0 {
		return 25.0
	}
	plusDM, minusDM, tr := directionalMovement(w)

	smooth := func(series []float64, period int) []float64 {
		out := make([]float64, len(series))
		sum := 0.0
		for i := 1; i <= period; i++ {
			sum += series[i]
		}
		out[period] = sum
		for i := period + 1; i < len(series); i++ {
			out[i] = out[i-1] - out[i-1]/float64(period) + series[i]
		}
		return out
	}

	smoothedTR := smooth(tr, period)
	smoothedPlusDM := smooth(plusDM, period)
	smoothedMinusDM := smooth(minusDM, period)

	dxSeries := make([]float64, len(w))
	for i := period; i < len(w); i++ {
		if smoothedTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothedPlusDM[i] / smoothedTR[i]
		minusDI := 100 * smoothedMinusDM[i] / smoothedTR[i]
		sum := plusDI + minusDI
		if sum == 0 {
			continue
		}
		dxSeries[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}

	start := 2 * period
	if start >= len(dxSeries) {
		start = len(dxSeries) - period
	}
	count := 0
	total := 0.0
	for i := start; i < len(dxSeries); i++ {
		total += dxSeries[i]
		count++
	}
	if count == 0 {
		return 25.0
	}
	return total / float64(count)
}

// AverageVolume returns the mean volume over the last period candles,
// shrinking period to the window length when the window is shorter.
func AverageVolume(w candle.Window, period int) float64 {
	if len(w) == 0 {
		return 0
	}
	if period > len(w) {
		period = len(w)
	}
	sum := 0.0
	for _, c := range w[len(w)-period:] {
		sum += c.Volume
	}
	return sum / float64(period)
}

// VolumeRatio returns the most recent candle's volume divided by the average
// volume over the preceding period candles, used by the screener's volume
// confirmation criterion. Returns 1.0 (neutral) when there is no history.
func VolumeRatio(w candle.Window, period int) float64 {
	if len(w) < 2 {
		return 1.0
	}
	avg := AverageVolume(w[:len(w)-1], period)
	if avg == 0 {
		return 1.0
	}
	return w[len(w)-1].Volume / avg
}

// SupportResistance returns the lowest low and highest high over the last
// lookback candles. Both are 0 when fewer than 50 candles are available,
// matching the minimum sample the levels are considered statistically
// meaningful at.
func SupportResistance(w candle.Window, lookback int) (support, resistance float64) {
	const minSample = 50
	if len(w) < minSample {
		return 0, 0
	}
	if lookback > len(w) {
		lookback = len(w)
	}
	window := w[len(w)-lookback:]
	support, resistance = window[0].Low, window[0].High
	for _, c := range window {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}

// DefaultClusterCount is the k used by SupportLevels/ResistanceLevels when a
// caller has no more specific preference.
const DefaultClusterCount = 5

// clusterSampleWindow bounds how many trailing candles feed the clustering;
// older lows/highs are dropped as stale key levels.
const clusterSampleWindow = 100

// minClusterSample is the smallest window clustering will run against.
// len == 50 is documented to return empty (just below this threshold).
const minClusterSample = 51

// cluster1D partitions sorted into k contiguous, near-equal-sized groups and
// returns each group's mean, ascending. This is a deterministic stand-in for
// k-means on already-sorted 1D data: the optimal 1D k-means partition is
// always contiguous in sorted order, so a single pass suffices without
// iterative reassignment.
func cluster1D(values []float64, k int) []float64 {
	n := len(values)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sortFloats(sorted)

	centroids := make([]float64, k)
	base, rem := n/k, n%k
	idx := 0
	for i := 0; i < k; i++ {
		size := base
		if i < rem {
			size++
		}
		sum := 0.0
		for j := 0; j < size; j++ {
			sum += sorted[idx+j]
		}
		centroids[i] = sum / float64(size)
		idx += size
	}
	return centroids
}

func sortFloats(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}

// SupportLevels clusters the lows of the last 100 (or fewer) candles into k
// centroids, sorted ascending as key support levels. Returns empty when the
// window holds 50 candles or fewer.
func SupportLevels(w candle.Window, k int) []float64 {
	if len(w) < minClusterSample {
		return nil
	}
	n := len(w)
	if n > clusterSampleWindow {
		n = clusterSampleWindow
	}
	tail := w[len(w)-n:]
	lows := make([]float64, len(tail))
	for i, c := range tail {
		lows[i] = c.Low
	}
	return cluster1D(lows, k)
}

// ResistanceLevels clusters the highs of the last 100 (or fewer) candles
// into k centroids, sorted ascending as key resistance levels. Returns
// empty when the window holds 50 candles or fewer.
func ResistanceLevels(w candle.Window, k int) []float64 {
	if len(w) < minClusterSample {
		return nil
	}
	n := len(w)
	if n > clusterSampleWindow {
		n = clusterSampleWindow
	}
	tail := w[len(w)-n:]
	highs := make([]float64, len(tail))
	for i, c := range tail {
		highs[i] = c.High
	}
	return cluster1D(highs, k)
}

// Trend classifies the direction of price relative to two EMAs.
type Trend string

const (
	TrendUp       Trend = "uptrend"
	TrendDown     Trend = "downtrend"
	TrendSideways Trend = "sideways"
)

// DetectTrend classifies the trend using a fast/slow EMA crossover, treating
// EMAs within 0.5% of each other as sideways. Returns TrendSideways when the
// window is shorter than slowPeriod.
func DetectTrend(w candle.Window, fastPeriod, slowPeriod int) Trend {
	if len(w) < slowPeriod {
		return TrendSideways
	}
	fastEMA := EMA(w, fastPeriod)
	slowEMA := EMA(w, slowPeriod)
	if slowEMA == 0 {
		return TrendSideways
	}
	diff := math.Abs(fastEMA-slowEMA) / slowEMA * 100
	if diff < 0.5 {
		return TrendSideways
	}
	if fastEMA > slowEMA {
		return TrendUp
	}
	return TrendDown
}

// Volatility returns ATR expressed as a percentage of the latest close,
// the normalized measure used to size scalping-mode targets.
func Volatility(w candle.Window, period int) float64 {
	if len(w) == 0 {
		return 0
	}
	atr := ATR(w, period)
	last := w[len(w)-1].Close
	if last == 0 {
		return 0
	}
	return atr / last * 100
}

// Summary bundles every indicator IE attaches to a single (symbol,
// timeframe) evaluation.
type Summary struct {
	RSI             float64
	MACD            MACDResult
	ADX             float64
	Bollinger       BollingerBands
	ATR             float64
	VolatilityPct   float64
	VolumeRatio     float64
	Trend           Trend
	Support         float64
	Resistance      float64
	SMA20           float64
	SMA50           float64
	EMA12           float64
	EMA26           float64
}

// Compute builds the full Summary for a window using the standard periods
// used across IE, SC, and PP (RSI-14, MACD 12/26/9, ADX-14, Bollinger-20,
// ATR-14).
func Compute(w candle.Window) Summary {
	return Summary{
		RSI:           RSI(w, 14),
		MACD:          MACD(w, 12, 26, 9),
		ADX:           ADX(w, 14),
		Bollinger:     Bollinger(w, 20, 2.0),
		ATR:           ATR(w, 14),
		VolatilityPct: Volatility(w, 14),
		VolumeRatio:   VolumeRatio(w, 20),
		Trend:         DetectTrend(w, 9, 21),
		Support:       supportOnly(w),
		Resistance:    resistanceOnly(w),
		SMA20:         SMA(w, 20),
		SMA50:         SMA(w, 50),
		EMA12:         EMA(w, 12),
		EMA26:         EMA(w, 26),
	}
}

func supportOnly(w candle.Window) float64 {
	s, _ := SupportResistance(w, 100)
	return s
}

func resistanceOnly(w candle.Window) float64 {
	_, r := SupportResistance(w, 100)
	return r
}
