package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/exchange"
)

type stubClient struct {
	ex       candle.Exchange
	window   candle.Window
	err      error
	price    float64
	priceErr error
	calls    int
}

func (s *stubClient) Name() candle.Exchange { return s.ex }

func (s *stubClient) Klines(ctx context.Context, symbol string, market candle.MarketType, tf candle.Timeframe, limit int) (candle.Window, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.window, nil
}

func (s *stubClient) CurrentPrice(ctx context.Context, symbol string, market candle.MarketType) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubClient) Ticker24hr(ctx context.Context, symbol string, market candle.MarketType) (float64, float64, error) {
	return 0, 0, nil
}

func testWindow(n int) candle.Window {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := make(candle.Window, n)
	for i := 0; i < n; i++ {
		w[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 10,
		}
	}
	return w
}

func TestFetchCacheRoundTripsExactly(t *testing.T) {
	dir := t.TempDir()
	client := &stubClient{ex: candle.ExchangeBinance, window: testWindow(5)}
	f := New(map[candle.Exchange]exchange.Client{candle.ExchangeBinance: client}, dir)

	key := Key{Exchange: candle.ExchangeBinance, Market: candle.MarketSpot, Symbol: "BTCUSDT", TF: candle.TF1m}

	got, err := f.Fetch(context.Background(), key, 5)
	if err != nil {
		t.Fatalf("unexpected error on live fetch: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(got))
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one live call, got %d", client.calls)
	}

	// Second fetch within the freshness window must be served from cache,
	// not trigger another live call, and must round-trip values exactly.
	got2, err := f.Fetch(context.Background(), key, 5)
	if err != nil {
		t.Fatalf("unexpected error on cached fetch: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected cache hit to avoid a second live call, got %d calls", client.calls)
	}
	for i := range got {
		if got[i].Close != got2[i].Close || !got[i].OpenTime.Equal(got2[i].OpenTime) {
			t.Errorf("cache round-trip mismatch at %d: %+v vs %+v", i, got[i], got2[i])
		}
	}
}

func TestFetchFallsBackToStaleCacheOnLiveFailure(t *testing.T) {
	dir := t.TempDir()
	client := &stubClient{ex: candle.ExchangeBinance, window: testWindow(5)}
	f := New(map[candle.Exchange]exchange.Client{candle.ExchangeBinance: client}, dir)
	key := Key{Exchange: candle.ExchangeBinance, Market: candle.MarketSpot, Symbol: "BTCUSDT", TF: candle.TF1w}

	if _, err := f.Fetch(context.Background(), key, 5); err != nil {
		t.Fatalf("unexpected error priming the cache: %v", err)
	}

	client.err = errs.New(errs.TransientNetwork, "simulated outage")
	// TF1w has a week-long freshness window; backdate the cache file so the
	// second Fetch finds it stale and has to try the failing live path.
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "binance_spot_BTCUSDT_1w.csv"), old, old); err != nil {
		t.Fatalf("backdating the cache file: %v", err)
	}
	got, err := f.Fetch(context.Background(), key, 5)
	if err != nil {
		t.Fatalf("expected stale-cache fallback, got error: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected the cached window to be served, got %d candles", len(got))
	}
	if client.calls != 2 {
		t.Errorf("expected the stale cache to trigger a second live call, got %d calls", client.calls)
	}
}

func TestFetchReturnsInsufficientDataWithNoCacheAndLiveFailure(t *testing.T) {
	dir := t.TempDir()
	client := &stubClient{ex: candle.ExchangeBinance, err: errs.New(errs.TransientNetwork, "down")}
	f := New(map[candle.Exchange]exchange.Client{candle.ExchangeBinance: client}, dir)
	key := Key{Exchange: candle.ExchangeBinance, Market: candle.MarketSpot, Symbol: "ETHUSDT", TF: candle.TF1m}

	_, err := f.Fetch(context.Background(), key, 5)
	if !errs.Is(err, errs.InsufficientData) {
		t.Errorf("expected InsufficientData with no cache and a failing live fetch, got %v", err)
	}
}
