// Package binance implements exchange.Client against Binance's public spot
// and USD-M futures REST APIs. Only the read-only endpoints MDF needs are
// implemented: no authentication, no order placement.
package binance

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

const (
	spotBaseURL    = "https://api.binance.com"
	futuresBaseURL = "https://fapi.binance.com"
)

// Client talks to Binance spot and futures REST endpoints.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	httpClient     *http.Client
}

// NewClient builds a Binance client. Empty base URLs fall back to the
// production endpoints; tests override them to point at httptest servers.
func NewClient(spotBase, futuresBase string) *Client {
	if spotBase == "" {
		spotBase = spotBaseURL
	}
	if futuresBase == "" {
		futuresBase = futuresBaseURL
	}
	return &Client{
		spotBaseURL:    spotBase,
		futuresBaseURL: futuresBase,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements exchange.Client.
func (c *Client) Name() candle.Exchange { return candle.ExchangeBinance }

func (c *Client) baseURL(market candle.MarketType) string {
	if market == candle.MarketFutures {
		return c.futuresBaseURL
	}
	return c.spotBaseURL
}

func intervalString(tf candle.Timeframe) string {
	return string(tf)
}

// Klines implements exchange.Client.
func (c *Client) Klines(ctx context.Context, symbol string, market candle.MarketType, tf candle.Timeframe, limit int) (candle.Window, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", intervalString(tf))
	params.Set("limit", strconv.Itoa(limit))

	path := "/api/v3/klines"
	if market == candle.MarketFutures {
		path = "/fapi/v1/klines"
	}
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL(market), path, params.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "decode binance klines", err)
	}

	window := make(candle.Window, len(raw))
	for i, r := range raw {
		if len(r) < 6 {
			return nil, errs.New(errs.TransientNetwork, "malformed binance kline row")
		}
		window[i] = candle.Candle{
			OpenTime: time.UnixMilli(int64(r[0].(float64))).UTC(),
			Open:     parseFloat(r[1]),
			High:     parseFloat(r[2]),
			Low:      parseFloat(r[3]),
			Close:    parseFloat(r[4]),
			Volume:   parseFloat(r[5]),
		}
	}
	return window, nil
}

// CurrentPrice implements exchange.Client.
func (c *Client) CurrentPrice(ctx context.Context, symbol string, market candle.MarketType) (float64, error) {
	path := "/api/v3/ticker/price"
	if market == candle.MarketFutures {
		path = "/fapi/v1/ticker/price"
	}
	endpoint := fmt.Sprintf("%s%s?symbol=%s", c.baseURL(market), path, symbol)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, errs.Wrap(errs.TransientNetwork, "decode binance price", err)
	}
	return resp.Price, nil
}

// Ticker24hr implements exchange.Client.
func (c *Client) Ticker24hr(ctx context.Context, symbol string, market candle.MarketType) (high, low float64, err error) {
	path := "/api/v3/ticker/24hr"
	if market == candle.MarketFutures {
		path = "/fapi/v1/ticker/24hr"
	}
	endpoint := fmt.Sprintf("%s%s?symbol=%s", c.baseURL(market), path, symbol)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		HighPrice float64 `json:"highPrice,string"`
		LowPrice  float64 `json:"lowPrice,string"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, errs.Wrap(errs.TransientNetwork, "decode binance 24hr ticker", err)
	}
	return resp.HighPrice, resp.LowPrice, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "build binance request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "binance request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.TransientNetwork, "read binance response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusTooManyRequests, 418:
		return nil, errs.New(errs.RateLimited, fmt.Sprintf("binance rate limited: %s", string(body)))
	case http.StatusBadRequest:
		return nil, errs.New(errs.SymbolUnknown, fmt.Sprintf("binance rejected request: %s", string(body)))
	default:
		return nil, errs.Wrap(errs.TransientNetwork, fmt.Sprintf("binance status %d", resp.StatusCode), fmt.Errorf("%s", string(body)))
	}
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
