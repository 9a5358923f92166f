package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

func TestKlinesReversesNewestFirstToAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"list": [
					["1700000060000", "104.0", "106.0", "103.0", "105.5", "8.2"],
					["1700000000000", "100.0", "105.0", "99.0", "104.0", "10.5"]
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	window, err := c.Klines(context.Background(), "BTCUSDT", candle.MarketSpot, candle.TF1m, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(window))
	}
	if window[0].Close != 104.0 || window[1].Close != 105.5 {
		t.Errorf("expected ascending order after reversal, got %+v", window)
	}
	if !window[1].OpenTime.After(window[0].OpenTime) {
		t.Error("expected strictly ascending OpenTime after reversal")
	}
}

func TestKlinesMapsSymbolUnknownRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 110001, "retMsg": "symbol not found", "result": {}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Klines(context.Background(), "NOTASYMBOL", candle.MarketSpot, candle.TF1m, 2)
	if !errs.Is(err, errs.SymbolUnknown) {
		t.Errorf("expected SymbolUnknown, got %v", err)
	}
}

func TestKlinesMapsRateLimitRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 10006, "retMsg": "too many visits", "result": {}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Klines(context.Background(), "BTCUSDT", candle.MarketSpot, candle.TF1m, 2)
	if !errs.Is(err, errs.RateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}
}

func TestTicker24hrParsesHighLowFromTickerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"list": [
					{"symbol": "BTCUSDT", "highPrice24h": "99000.00", "lowPrice24h": "95500.25"}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	high, low, err := c.Ticker24hr(context.Background(), "BTCUSDT", candle.MarketSpot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high != 99000.00 || low != 95500.25 {
		t.Errorf("expected high/low 99000.00/95500.25, got %v/%v", high, low)
	}
}

func TestTicker24hrMapsSymbolUnknownWhenListEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": []}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, _, err := c.Ticker24hr(context.Background(), "BTCUSDT", candle.MarketSpot)
	if !errs.Is(err, errs.SymbolUnknown) {
		t.Errorf("expected SymbolUnknown, got %v", err)
	}
}

func TestCategoryForMapsFuturesToLinear(t *testing.T) {
	if got := categoryFor(candle.MarketFutures); got != "linear" {
		t.Errorf("expected linear, got %s", got)
	}
	if got := categoryFor(candle.MarketSpot); got != "spot" {
		t.Errorf("expected spot, got %s", got)
	}
}

func TestV5IntervalMapsDayAndWeek(t *testing.T) {
	if got := v5Interval(candle.TF1d); got != "D" {
		t.Errorf("expected D, got %s", got)
	}
	if got := v5Interval(candle.TF1w); got != "W" {
		t.Errorf("expected W, got %s", got)
	}
	if got := v5Interval(candle.TF15m); got != "15" {
		t.Errorf("expected 15, got %s", got)
	}
}
