package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/ratelimit"
)

// baseURL is a var rather than a const so tests can point the client at
// an httptest server.
var baseURL = "https://api.kraken.com"

// krakenEnvelope is the outer shape every Kraken public REST response
// shares: a list of error strings and a provider-specific result.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// tickerInfo is one pair's entry in the /0/public/Ticker result, with
// Kraken's [price, wholeLotVolume, lotVolume]-style string arrays.
type tickerInfo struct {
	Ask [3]string `json:"a"`
	Bid [3]string `json:"b"`
	C   [2]string `json:"c"` // last trade closed [price, volume]
	V   [2]string `json:"v"` // volume [today, last 24h]
}

type depthLevel [3]json.Number // [price, volume, timestamp]

type orderBookInfo struct {
	Bids []depthLevel `json:"bids"`
	Asks []depthLevel `json:"asks"`
}

// ohlcRow is one Kraken OHLC row: [time, open, high, low, close, vwap,
// volume, count].
type ohlcRow struct {
	Time   int64
	Open   string
	High   string
	Low    string
	Close  string
	VWAP   string
	Volume string
	Count  int
}

func (r *ohlcRow) UnmarshalJSON(data []byte) error {
	var raw [8]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Time = int64(raw[0].(float64))
	r.Open, _ = raw[1].(string)
	r.High, _ = raw[2].(string)
	r.Low, _ = raw[3].(string)
	r.Close, _ = raw[4].(string)
	r.VWAP, _ = raw[5].(string)
	r.Volume, _ = raw[6].(string)
	r.Count = int(raw[7].(float64))
	return nil
}

// client wraps Kraken's public REST API behind the rate limiter and
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
		breaker: circuit.NewBreaker("kraken", breakerCfg),
	}
}

func (c *client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var body json.RawMessage
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		u := baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return pluginapi.PluginError("kraken", "build request", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return pluginapi.NetworkError("kraken", "request failed", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return pluginapi.NetworkError("kraken", "read response", err)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return pluginapi.AuthError("kraken", fmt.Sprintf("http %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			return pluginapi.NetworkError("kraken", fmt.Sprintf("http %d", resp.StatusCode), nil)
		}

		var env krakenEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return pluginapi.PluginError("kraken", "decode envelope", err)
		}
		if len(env.Error) > 0 {
			return pluginapi.PluginError("kraken", fmt.Sprintf("api error: %v", env.Error), nil)
		}
		body = env.Result
		return nil
	})
	return body, err
}

func (c *client) ticker(ctx context.Context, pair string) (map[string]tickerInfo, error) {
	body, err := c.get(ctx, "/0/public/Ticker", url.Values{"pair": {pair}})
	if err != nil {
		return nil, err
	}
	var result map[string]tickerInfo
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pluginapi.PluginError("kraken", "decode ticker", err)
	}
	return result, nil
}

func (c *client) depth(ctx context.Context, pair string, count int) (map[string]orderBookInfo, error) {
	q := url.Values{"pair": {pair}}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	body, err := c.get(ctx, "/0/public/Depth", q)
	if err != nil {
		return nil, err
	}
	var result map[string]orderBookInfo
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pluginapi.PluginError("kraken", "decode depth", err)
	}
	return result, nil
}

func (c *client) ohlc(ctx context.Context, pair string, intervalMin int, since *int64) (map[string]json.RawMessage, error) {
	q := url.Values{"pair": {pair}, "interval": {strconv.Itoa(intervalMin)}}
	if since != nil {
		q.Set("since", strconv.FormatInt(*since/1000, 10))
	}
	body, err := c.get(ctx, "/0/public/OHLC", q)
	if err != nil {
		return nil, err
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pluginapi.PluginError("kraken", "decode ohlc", err)
	}
	return result, nil
}

// assetPairs fetches every tradable pair name from /0/public/AssetPairs,
// used by GetSymbols.
func (c *client) assetPairs(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, pluginapi.PluginError("kraken", "decode asset pairs", err)
	}
	symbols := make([]string, 0, len(result))
	for pair := range result {
		symbols = append(symbols, fromKrakenPair(pair))
	}
	return symbols, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Debug().Str("value", s).Msg("kraken: unparsable float, defaulting to 0")
		return 0
	}
	return f
}
