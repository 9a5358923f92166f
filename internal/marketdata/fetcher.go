// Package marketdata implements MDF: the fetch, disk-cache, and fallback
// layer every other component pulls candles through. It wraps each
// exchange.Client with a rate limiter and a circuit breaker (adapted from
// internal/circuit), and falls back to the last on-disk cache entry,
// however old, when a live fetch fails.
package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/circuit"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/exchange"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/ratelimiter"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
)

// Key identifies a single cached candle window.
type Key struct {
	Exchange candle.Exchange
	Market   candle.MarketType
	Symbol   string
	TF       candle.Timeframe
}

func (k Key) fileName() string {
	return fmt.Sprintf("%s_%s_%s_%s.csv", k.Exchange, k.Market, k.Symbol, k.TF)
}

// Fetcher is MDF: it serves candle windows to IE, SC, PP, and ST, fetching
// live data when the disk cache is stale and falling back to the cache when
// a live fetch fails.
type Fetcher struct {
	clients    map[candle.Exchange]exchange.Client
	breakers   map[candle.Exchange]*circuit.Breaker
	limiters   *ratelimiter.Registry
	cacheDir   string
	mu         sync.Mutex
	cacheGuard map[Key]*sync.Mutex
}

// New builds a Fetcher over the given clients, caching candle windows under
// cacheDir.
func New(clients map[candle.Exchange]exchange.Client, cacheDir string) *Fetcher {
	breakers := make(map[candle.Exchange]*circuit.Breaker, len(clients))
	for ex := range clients {
		breakers[ex] = circuit.New(circuit.DefaultConfig())
	}
	return &Fetcher{
		clients:    clients,
		breakers:   breakers,
		limiters:   ratelimiter.NewRegistry(),
		cacheDir:   cacheDir,
		cacheGuard: make(map[Key]*sync.Mutex),
	}
}

func (f *Fetcher) keyLock(k Key) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.cacheGuard[k]
	if !ok {
		l = &sync.Mutex{}
		f.cacheGuard[k] = l
	}
	return l
}

// Fetch returns a fresh-enough candle window for k, fetching from the venue
// when the cache is stale and falling back to the cache (however old) if
// the live fetch fails. An InsufficientData error is returned only when
// neither a live fetch nor a cache entry exists.
func (f *Fetcher) Fetch(ctx context.Context, k Key, limit int) (candle.Window, error) {
	lock := f.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	log := logging.ExchangeContext(string(k.Exchange), "klines").WithField("symbol", k.Symbol).WithField("timeframe", string(k.TF))

	cached, cachedAt, cacheErr := f.readCache(k)
	fresh := cacheErr == nil && time.Since(cachedAt) < k.TF.FreshnessWindow()
	if fresh {
		return cached, nil
	}

	window, err := f.fetchLive(ctx, k, limit)
	if err == nil {
		if writeErr := f.writeCache(k, window); writeErr != nil {
			log.Warn("failed to persist market data cache", "error", writeErr)
		}
		return window, nil
	}

	if cacheErr == nil {
		log.Warn("live fetch failed, serving stale cache", "error", err, "cache_age", time.Since(cachedAt).String())
		return cached, nil
	}

	return nil, errs.Wrap(errs.InsufficientData, fmt.Sprintf("no live data and no cache for %s %s", k.Symbol, k.TF), err)
}

func (f *Fetcher) fetchLive(ctx context.Context, k Key, limit int) (candle.Window, error) {
	client, ok := f.clients[k.Exchange]
	if !ok {
		return nil, errs.New(errs.SymbolUnknown, fmt.Sprintf("no client configured for exchange %s", k.Exchange))
	}
	breaker := f.breakers[k.Exchange]

	if ok, reason := breaker.Allow(); !ok {
		return nil, errs.New(errs.TransientNetwork, fmt.Sprintf("%s circuit open: %s", k.Exchange, reason))
	}

	if err := f.limiters.Exchange(k.Exchange).Wait(ctx, ratelimiter.PriorityScheduledScreening); err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "rate limiter wait canceled", err)
	}

	window, err := client.Klines(ctx, k.Symbol, k.Market, k.TF, limit)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	if !window.Valid() {
		breaker.RecordFailure()
		return nil, errs.New(errs.TransientNetwork, fmt.Sprintf("%s returned malformed candle window", k.Exchange))
	}
	breaker.RecordSuccess()
	return window, nil
}

// Price returns the latest price for symbol on the given exchange/market,
// bypassing the disk cache since prices are never persisted.
func (f *Fetcher) Price(ctx context.Context, ex candle.Exchange, symbol string, market candle.MarketType) (float64, error) {
	client, ok := f.clients[ex]
	if !ok {
		return 0, errs.New(errs.SymbolUnknown, fmt.Sprintf("no client configured for exchange %s", ex))
	}
	breaker := f.breakers[ex]
	if ok, reason := breaker.Allow(); !ok {
		return 0, errs.New(errs.TransientNetwork, fmt.Sprintf("%s circuit open: %s", ex, reason))
	}
	if err := f.limiters.Exchange(ex).Wait(ctx, ratelimiter.PriorityUserRequested); err != nil {
		return 0, errs.Wrap(errs.TransientNetwork, "rate limiter wait canceled", err)
	}
	price, err := client.CurrentPrice(ctx, symbol, market)
	if err != nil {
		breaker.RecordFailure()
		return 0, err
	}
	breaker.RecordSuccess()
	return price, nil
}

// Ticker24hr returns the venue's rolling 24h high/low for symbol, bypassing
// the disk cache since, like Price, it is never persisted.
func (f *Fetcher) Ticker24hr(ctx context.Context, ex candle.Exchange, symbol string, market candle.MarketType) (high, low float64, err error) {
	client, ok := f.clients[ex]
	if !ok {
		return 0, 0, errs.New(errs.SymbolUnknown, fmt.Sprintf("no client configured for exchange %s", ex))
	}
	breaker := f.breakers[ex]
	if ok, reason := breaker.Allow(); !ok {
		return 0, 0, errs.New(errs.TransientNetwork, fmt.Sprintf("%s circuit open: %s", ex, reason))
	}
	if err := f.limiters.Exchange(ex).Wait(ctx, ratelimiter.PriorityScheduledScreening); err != nil {
		return 0, 0, errs.Wrap(errs.TransientNetwork, "rate limiter wait canceled", err)
	}
	high, low, err = client.Ticker24hr(ctx, symbol, market)
	if err != nil {
		breaker.RecordFailure()
		return 0, 0, err
	}
	breaker.RecordSuccess()
	return high, low, nil
}

func (f *Fetcher) cachePath(k Key) string {
	return filepath.Join(f.cacheDir, k.fileName())
}

func (f *Fetcher) readCache(k Key) (candle.Window, time.Time, error) {
	path := f.cachePath(k)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, time.Time{}, err
	}

	window := make(candle.Window, 0, len(rows))
	for _, row := range rows {
		if len(row) != 6 {
			continue
		}
		c, parseErr := rowToCandle(row)
		if parseErr != nil {
			continue
		}
		window = append(window, c)
	}
	if len(window) == 0 {
		return nil, time.Time{}, fmt.Errorf("empty cache file")
	}
	return window, info.ModTime(), nil
}

func (f *Fetcher) writeCache(k Key, w candle.Window) error {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return err
	}
	path := f.cachePath(k)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	for _, c := range w {
		if err := writer.Write(candleToRow(c)); err != nil {
			file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func candleToRow(c candle.Candle) []string {
	return []string{
		strconv.FormatInt(c.OpenTime.UnixMilli(), 10),
		strconv.FormatFloat(c.Open, 'f', -1, 64),
		strconv.FormatFloat(c.High, 'f', -1, 64),
		strconv.FormatFloat(c.Low, 'f', -1, 64),
		strconv.FormatFloat(c.Close, 'f', -1, 64),
		strconv.FormatFloat(c.Volume, 'f', -1, 64),
	}
}

func rowToCandle(row []string) (candle.Candle, error) {
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return candle.Candle{}, err
	}
	open, _ := strconv.ParseFloat(row[1], 64)
	high, _ := strconv.ParseFloat(row[2], 64)
	low, _ := strconv.ParseFloat(row[3], 64)
	closeP, _ := strconv.ParseFloat(row[4], 64)
	volume, _ := strconv.ParseFloat(row[5], 64)
	return candle.Candle{
		OpenTime: time.UnixMilli(ms).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closeP,
		Volume:   volume,
	}, nil
}
