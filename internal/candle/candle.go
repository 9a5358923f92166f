// Package candle defines the OHLCV candle type and the fixed timeframe set
// shared by every component that touches market data.
package candle

import "time"

// Candle is a single OHLCV bar. OpenTime is the bar's UTC open timestamp.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Valid reports whether the candle satisfies the OHLC ordering invariant.
func (c Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	return c.Low <= lo && hi <= c.High
}

// Window is an ordered, strictly-increasing-by-open-time candle sequence.
type Window []Candle

// Valid reports whether every candle is individually valid and the window is
// strictly monotonic in OpenTime.
func (w Window) Valid() bool {
	for i, c := range w {
		if !c.Valid() {
			return false
		}
		if i > 0 && !w[i].OpenTime.After(w[i-1].OpenTime) {
			return false
		}
	}
	return true
}

// Closes returns the slice of closing prices, oldest first.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Close
	}
	return out
}

// Tail returns the last n candles, or the whole window if it is shorter.
func (w Window) Tail(n int) Window {
	if n >= len(w) {
		return w
	}
	return w[len(w)-n:]
}

// Timeframe is one of the fixed candle durations the system understands.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var durationMinutes = map[Timeframe]int{
	TF1m:  1,
	TF5m:  5,
	TF15m: 15,
	TF30m: 30,
	TF1h:  60,
	TF2h:  120,
	TF4h:  240,
	TF1d:  1440,
	TF1w:  10080,
}

// Valid reports whether tf is one of the nine recognized timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := durationMinutes[tf]
	return ok
}

// DurationMinutes returns the canonical duration of tf in minutes, or 0 if tf
// is not recognized.
func (tf Timeframe) DurationMinutes() int {
	return durationMinutes[tf]
}

// Duration returns the canonical duration of tf as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.DurationMinutes()) * time.Minute
}

// FreshnessWindow returns the duration a cached window for tf is considered
// fresh: one timeframe step.
func (tf Timeframe) FreshnessWindow() time.Duration {
	return tf.Duration()
}

// ValidityHours returns how many hours a TradingPlan generated at this
// timeframe remains valid. Only 1h, 2h, 4h, 1d are defined by the source
// material; the remaining timeframes (30m, 15m, 1w) are an explicitly
// undocumented case left to the implementer (see DESIGN.md).
// Decision: 30m and 15m plans expire as fast as 1h (3h), since the source's
// shortest documented validity already applies to an hour-scale move; 1w
// plans get a multi-day validity proportional to the 1d:12h rule scaled by
// the timeframe ratio, capped at 72h so plans never outlive a full week.
func (tf Timeframe) ValidityHours() float64 {
	switch tf {
	case TF1h:
		return 3
	case TF2h:
		return 4
	case TF4h:
		return 6
	case TF1d:
		return 12
	case TF15m, TF30m:
		return 3
	case TF1w:
		return 72
	default:
		return 3
	}
}

// MarketType selects which Binance-style market a symbol is quoted on.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	// MarketAuto is passed to the exchange clients unchanged: MDF does not
	// try futures and then spot for it, and the clients quote any market
	// other than MarketFutures on spot.
	MarketAuto MarketType = "auto"
)

// Exchange identifies a supported data source.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
)

// MultiTimeframeHierarchy returns the lower timeframes PP must pull for
// multi-timeframe confluence when generating a plan at tf:
// 1d -> {4h, 1h}, 4h -> {1h}, 2h -> {1h}, everything else -> none.
func MultiTimeframeHierarchy(tf Timeframe) []Timeframe {
	switch tf {
	case TF1d:
		return []Timeframe{TF4h, TF1h}
	case TF4h:
		return []Timeframe{TF1h}
	case TF2h:
		return []Timeframe{TF1h}
	default:
		return nil
	}
}
