// Package bybit implements exchange.Client against Bybit's v5 unified REST
// API, following the same raw net/http + manual JSON decode idiom as
// internal/exchange/binance, adapted to v5's retCode envelope and
// newest-first kline ordering (see DESIGN.md).
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

const defaultBaseURL = "https://api.bybit.com"

// Client talks to Bybit's v5 market-data endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Bybit client. An empty baseURL falls back to
// production; tests override it with an httptest server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements exchange.Client.
func (c *Client) Name() candle.Exchange { return candle.ExchangeBybit }

func categoryFor(market candle.MarketType) string {
	if market == candle.MarketFutures {
		return "linear"
	}
	return "spot"
}

// v5Interval maps our timeframe set onto Bybit's interval vocabulary: minute
// counts for sub-hour/hour frames, "D" for 1d, "W" for 1w.
func v5Interval(tf candle.Timeframe) string {
	switch tf {
	case candle.TF1d:
		return "D"
	case candle.TF1w:
		return "W"
	default:
		return strconv.Itoa(tf.DurationMinutes())
	}
}

type v5Envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Klines implements exchange.Client. Bybit returns candles newest-first; we
// reverse them to the oldest-first order the rest of the system expects.
func (c *Client) Klines(ctx context.Context, symbol string, market candle.MarketType, tf candle.Timeframe, limit int) (candle.Window, error) {
	params := url.Values{}
	params.Set("category", categoryFor(market))
	params.Set("symbol", symbol)
	params.Set("interval", v5Interval(tf))
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/v5/market/kline?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var env v5Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "decode bybit envelope", err)
	}
	if kind, retryable := classifyRetCode(env.RetCode); kind != "" {
		_ = retryable
		return nil, errs.New(kind, fmt.Sprintf("bybit error %d: %s", env.RetCode, env.RetMsg))
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "decode bybit kline list", err)
	}

	window := make(candle.Window, len(result.List))
	n := len(result.List)
	for i, row := range result.List {
		if len(row) < 6 {
			return nil, errs.New(errs.TransientNetwork, "malformed bybit kline row")
		}
		startMs, _ := strconv.ParseInt(row[0], 10, 64)
		// Bybit lists newest-first; write into the reversed slot.
		window[n-1-i] = candle.Candle{
			OpenTime: time.UnixMilli(startMs).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		}
	}
	return window, nil
}

// CurrentPrice implements exchange.Client.
func (c *Client) CurrentPrice(ctx context.Context, symbol string, market candle.MarketType) (float64, error) {
	params := url.Values{}
	params.Set("category", categoryFor(market))
	params.Set("symbol", symbol)

	endpoint := fmt.Sprintf("%s/v5/market/tickers?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var env v5Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, errs.Wrap(errs.TransientNetwork, "decode bybit envelope", err)
	}
	if kind, _ := classifyRetCode(env.RetCode); kind != "" {
		return 0, errs.New(kind, fmt.Sprintf("bybit error %d: %s", env.RetCode, env.RetMsg))
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, errs.Wrap(errs.TransientNetwork, "decode bybit ticker list", err)
	}
	if len(result.List) == 0 {
		return 0, errs.New(errs.SymbolUnknown, "bybit returned no ticker for symbol")
	}
	f, _ := strconv.ParseFloat(result.List[0].LastPrice, 64)
	return f, nil
}

// Ticker24hr implements exchange.Client. Bybit's v5 ticker endpoint carries
// the 24h high/low in the same payload CurrentPrice reads.
func (c *Client) Ticker24hr(ctx context.Context, symbol string, market candle.MarketType) (high, low float64, err error) {
	params := url.Values{}
	params.Set("category", categoryFor(market))
	params.Set("symbol", symbol)

	endpoint := fmt.Sprintf("%s/v5/market/tickers?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, 0, err
	}

	var env v5Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, 0, errs.Wrap(errs.TransientNetwork, "decode bybit envelope", err)
	}
	if kind, _ := classifyRetCode(env.RetCode); kind != "" {
		return 0, 0, errs.New(kind, fmt.Sprintf("bybit error %d: %s", env.RetCode, env.RetMsg))
	}

	var result struct {
		List []struct {
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, 0, errs.Wrap(errs.TransientNetwork, "decode bybit ticker list", err)
	}
	if len(result.List) == 0 {
		return 0, 0, errs.New(errs.SymbolUnknown, "bybit returned no ticker for symbol")
	}
	return parseFloat(result.List[0].HighPrice24h), parseFloat(result.List[0].LowPrice24h), nil
}

// classifyRetCode maps Bybit's retCode taxonomy onto our error Kind set.
// 0 means success and returns an empty Kind.
func classifyRetCode(code int) (kind errs.Kind, retryable bool) {
	switch code {
	case 0:
		return "", false
	case 10006, 10018:
		return errs.RateLimited, true
	case 10001, 10004:
		return errs.TransientNetwork, true
	case 110001, 110009:
		return errs.SymbolUnknown, false
	default:
		return errs.TransientNetwork, true
	}
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "build bybit request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "bybit request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "read bybit response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errs.New(errs.RateLimited, "bybit http rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Wrap(errs.TransientNetwork, fmt.Sprintf("bybit status %d", resp.StatusCode), fmt.Errorf("%s", string(body)))
	}
	return body, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
