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

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/ratelimit"
)

// baseURL is a var rather than a const so tests can point the client at
// an httptest server.
var baseURL = "https://api.binance.com/api/v3"

type ticker24h struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

type exchangeSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

type exchangeInfo struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

// client wraps Binance's public REST API behind the rate limiter and
// circuit breaker every plugin adapter fronts its venue calls with.
type client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
}

func newClient(rps float64, breakerCfg circuit.Config) *client {
	return &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: ratelimit.New(rps),
		breaker: circuit.NewBreaker("binance", breakerCfg),
	}
}

func (c *client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		u := baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return pluginapi.PluginError("binance", "build request", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return pluginapi.NetworkError("binance", "request failed", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return pluginapi.NetworkError("binance", "read response", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return pluginapi.AuthError("binance", fmt.Sprintf("http %d", resp.StatusCode), nil)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return pluginapi.NetworkError("binance", "rate limited", nil)
		}
		if resp.StatusCode != http.StatusOK {
			return pluginapi.NetworkError("binance", fmt.Sprintf("http %d: %s", resp.StatusCode, raw), nil)
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return pluginapi.PluginError("binance", "decode response", err)
		}
		return nil
	})
}

func (c *client) ticker24h(ctx context.Context, symbol string) (*ticker24h, error) {
	var out ticker24h
	err := c.get(ctx, "/ticker/24hr", url.Values{"symbol": {symbol}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) depth(ctx context.Context, symbol string, limit int) (*depthResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	var out depthResponse
	err := c.get(ctx, "/depth", url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) klines(ctx context.Context, symbol, interval string, limit int, startMs *int64) ([][]interface{}, error) {
	if limit <= 0 {
		limit = 500
	}
	q := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	if startMs != nil {
		q.Set("startTime", strconv.FormatInt(*startMs, 10))
	}
	var out [][]interface{}
	if err := c.get(ctx, "/klines", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) exchangeInfo(ctx context.Context) (*exchangeInfo, error) {
	var out exchangeInfo
	if err := c.get(ctx, "/exchangeInfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
