// Package exchange defines the fetch-only client contract MDF uses to pull
// candles from whichever venue a symbol is configured against.
package exchange

import (
	"context"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

// Client fetches candle windows for a single venue. Implementations never
// place orders: this system only reads market data.
type Client interface {
	// Name identifies the venue for logging and rate-limiter routing.
	Name() candle.Exchange

	// Klines fetches the most recent limit candles for symbol at tf. market
	// selects spot vs futures where the venue distinguishes the two.
	Klines(ctx context.Context, symbol string, market candle.MarketType, tf candle.Timeframe, limit int) (candle.Window, error)

	// CurrentPrice fetches the latest trade/mark price for symbol.
	CurrentPrice(ctx context.Context, symbol string, market candle.MarketType) (float64, error)

	// Ticker24hr fetches the venue's rolling 24h high and low for symbol.
	Ticker24hr(ctx context.Context, symbol string, market candle.MarketType) (high, low float64, err error)
}

// MinRequestGap returns the minimum spacing required between consecutive
// requests to ex, used to seed the ratelimiter's per-exchange token bucket.
func MinRequestGap(ex candle.Exchange) (millis int) {
	switch ex {
	case candle.ExchangeBinance:
		return 100
	case candle.ExchangeBybit:
		return 200
	default:
		return 250
	}
}
