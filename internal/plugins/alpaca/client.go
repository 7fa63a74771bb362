package alpaca

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

// dataBaseURL and tradingBaseURL are vars rather than consts so tests
// can point the client at an httptest server.
var (
	dataBaseURL    = "https://data.alpaca.markets/v2"
	tradingBaseURL = "https://api.alpaca.markets/v2"
)

type barRow struct {
	T string  `json:"t"` // RFC3339 timestamp
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type barsResponse struct {
	Bars          []barRow `json:"bars"`
	NextPageToken *string  `json:"next_page_token"`
}

type latestTradeResponse struct {
	Trade struct {
		Price float64 `json:"p"`
		Size  float64 `json:"s"`
		T     string  `json:"t"`
	} `json:"trade"`
}

type asset struct {
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	Tradable bool   `json:"tradable"`
}

// client wraps Alpaca's Data v2 and Trading v2 REST APIs behind the
// rate limiter and circuit breaker every plugin adapter fronts its
// venue calls with. Both endpoints share the same key/secret headers.
type client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *circuit.Breaker
	keyID   string
	secret  string
}

func newClient(rps float64, breakerCfg circuit.Config, keyID, secret string) *client {
	return &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: ratelimit.New(rps),
		breaker: circuit.NewBreaker("alpaca", breakerCfg),
		keyID:   keyID,
		secret:  secret,
	}
}

func (c *client) get(ctx context.Context, base, path string, query url.Values, out interface{}) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		u := base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return pluginapi.PluginError("alpaca", "build request", err)
		}
		if c.keyID != "" {
			req.Header.Set("APCA-API-KEY-ID", c.keyID)
			req.Header.Set("APCA-API-SECRET-KEY", c.secret)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return pluginapi.NetworkError("alpaca", "request failed", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return pluginapi.NetworkError("alpaca", "read response", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return pluginapi.AuthError("alpaca", fmt.Sprintf("http %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			return pluginapi.NetworkError("alpaca", fmt.Sprintf("http %d: %s", resp.StatusCode, raw), nil)
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return pluginapi.PluginError("alpaca", "decode response", err)
		}
		return nil
	})
}

func (c *client) bars(ctx context.Context, symbol, timeframe string, startMs *int64, limit int) ([]barRow, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	q := url.Values{"timeframe": {timeframe}, "limit": {strconv.Itoa(limit)}}
	if startMs != nil {
		q.Set("start", time.UnixMilli(*startMs).UTC().Format(time.RFC3339))
	}

	var out barsResponse
	if err := c.get(ctx, dataBaseURL, "/stocks/"+symbol+"/bars", q, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

func (c *client) latestTrade(ctx context.Context, symbol string) (*latestTradeResponse, error) {
	var out latestTradeResponse
	if err := c.get(ctx, dataBaseURL, "/stocks/"+symbol+"/trades/latest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) assets(ctx context.Context) ([]asset, error) {
	var out []asset
	if err := c.get(ctx, tradingBaseURL, "/assets", url.Values{"status": {"active"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseBarTimestamp(t string) int64 {
	parsed, err := time.Parse(time.RFC3339, t)
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}
