// Package kraken adapts Kraken's public REST and WebSocket APIs to the
// pluginapi.Plugin interface (spec §4.A). Symbols passed into the plugin
// are in the normalized "BASE_QUOTE" form (viewkey.NormalizeSymbol);
// this package translates them to Kraken's own pair naming
// (XBT/ZUSD-style on REST, slash-separated on WebSocket). Pairs listed
// by GetSymbols come back through fromKrakenPair without a "_"
// separator (e.g. "BTCUSD").
package kraken

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

const ProviderID = "kraken"

// Plugin is a single Kraken REST+WebSocket connector instance. Trading
// and account operations are not implemented; Unimplemented answers
// those with NotSupported.
type Plugin struct {
	pluginapi.Unimplemented

	client *client

	mu      sync.Mutex
	streams map[string]func() // subscription key -> stop func, guards StreamTrades/StreamOHLCV/StreamOrderBook lifecycles
	ws      *wsClient
}

// Config tunes one Kraken instance's REST throttle and breaker.
type Config struct {
	RequestsPerSecond float64
	Breaker           circuit.Config
}

// New constructs a Kraken plugin instance. Kraken's public endpoints
// need no credentials, so Config carries none.
func New(cfg Config) *Plugin {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1 // Kraken's published public-endpoint budget
	}
	return &Plugin{
		Unimplemented: pluginapi.Unimplemented{Provider: ProviderID},
		client:        newClient(cfg.RequestsPerSecond, cfg.Breaker),
		streams:       make(map[string]func()),
	}
}

func (p *Plugin) ProviderID() string { return ProviderID }

func (p *Plugin) SupportedFeatures() map[pluginapi.Feature]bool {
	return map[pluginapi.Feature]bool{
		pluginapi.FeatureStreamTrades:    true,
		pluginapi.FeatureStreamOHLCV:     true,
		pluginapi.FeatureStreamOrderBook: true,
		pluginapi.FeatureFetchTicker:     true,
		pluginapi.FeatureFetchOrderBook:  true,
	}
}

func (p *Plugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	return p.client.assetPairs(ctx)
}

func (p *Plugin) FetchHistoricalOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	interval, ok := intervalMinutes(timeframe)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "unsupported timeframe: "+timeframe, nil)
	}
	pair := toKrakenPair(symbol)
	result, err := p.client.ohlc(ctx, pair, interval, sinceMs)
	if err != nil {
		return nil, err
	}
	delete(result, "last") // next-since cursor, not a pair entry

	raw, ok := lookupPairResult(result, pair)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "no OHLC data for pair "+pair, nil)
	}
	var rows []ohlcRow
	if err := unmarshalRows(raw, &rows); err != nil {
		return nil, pluginapi.PluginError(ProviderID, "decode OHLC rows", err)
	}

	bars := make([]pluginapi.OHLCVBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, pluginapi.OHLCVBar{
			TimestampMs: r.Time * 1000,
			Open:        parseFloat(r.Open),
			High:        parseFloat(r.High),
			Low:         parseFloat(r.Low),
			Close:       parseFloat(r.Close),
			Volume:      parseFloat(r.Volume),
		})
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (p *Plugin) FetchLatestOHLCV(ctx context.Context, symbol, timeframe string) (*pluginapi.OHLCVBar, error) {
	bars, err := p.FetchHistoricalOHLCV(ctx, symbol, timeframe, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, pluginapi.PluginError(ProviderID, "no OHLCV data for "+symbol, nil)
	}
	return &bars[len(bars)-1], nil
}

func (p *Plugin) FetchTicker(ctx context.Context, symbol string) (*pluginapi.Ticker, error) {
	pair := toKrakenPair(symbol)
	result, err := p.client.ticker(ctx, pair)
	if err != nil {
		return nil, err
	}
	info, ok := lookupPairResultTicker(result, pair)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "no ticker data for pair "+pair, nil)
	}
	return &pluginapi.Ticker{
		Symbol: symbol,
		Price:  parseFloat(info.C[0]),
		Volume: parseFloat(info.V[1]),
	}, nil
}

func (p *Plugin) FetchOrderBook(ctx context.Context, symbol string) (*pluginapi.OrderBook, error) {
	pair := toKrakenPair(symbol)
	result, err := p.client.depth(ctx, pair, 50)
	if err != nil {
		return nil, err
	}
	info, ok := lookupPairResultBook(result, pair)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "no order book data for pair "+pair, nil)
	}
	book := &pluginapi.OrderBook{Symbol: symbol}
	for _, lvl := range info.Bids {
		price, _ := lvl[0].Float64()
		size, _ := lvl[1].Float64()
		book.Bids = append(book.Bids, pluginapi.BookLevel{Price: price, Size: size})
	}
	for _, lvl := range info.Asks {
		price, _ := lvl[0].Float64()
		size, _ := lvl[1].Float64()
		book.Asks = append(book.Asks, pluginapi.BookLevel{Price: price, Size: size})
	}
	return book, nil
}

func (p *Plugin) StreamTrades(ctx context.Context, symbol string, cb pluginapi.StreamCallback) error {
	return p.subscribe(ctx, "trade", symbol, cb)
}

func (p *Plugin) StreamOHLCV(ctx context.Context, symbol, timeframe string, cb pluginapi.StreamCallback) error {
	interval, ok := intervalMinutes(timeframe)
	if !ok {
		return pluginapi.PluginError(ProviderID, "unsupported timeframe: "+timeframe, nil)
	}
	return p.subscribe(ctx, fmt.Sprintf("ohlc-%d", interval), symbol, cb)
}

func (p *Plugin) StreamOrderBook(ctx context.Context, symbol string, cb pluginapi.StreamCallback) error {
	return p.subscribe(ctx, "book", symbol, cb)
}

func (p *Plugin) StopStreamTrades(ctx context.Context, symbol string) error {
	return p.unsubscribe("trade", symbol)
}

func (p *Plugin) StopStreamOHLCV(ctx context.Context, symbol, timeframe string) error {
	interval, ok := intervalMinutes(timeframe)
	if !ok {
		return nil
	}
	return p.unsubscribe(fmt.Sprintf("ohlc-%d", interval), symbol)
}

func (p *Plugin) StopStreamOrderBook(ctx context.Context, symbol string) error {
	return p.unsubscribe("book", symbol)
}

func (p *Plugin) subscribe(ctx context.Context, channel, symbol string, cb pluginapi.StreamCallback) error {
	p.mu.Lock()
	if p.ws == nil {
		p.ws = newWSClient()
	}
	ws := p.ws
	key := channel + ":" + symbol
	p.mu.Unlock()

	stop, err := ws.subscribe(ctx, channel, toWSPair(symbol), symbol, cb)
	if err != nil {
		return pluginapi.NetworkError(ProviderID, "subscribe "+key, err)
	}

	p.mu.Lock()
	p.streams[key] = stop
	p.mu.Unlock()
	return nil
}

func (p *Plugin) unsubscribe(channel, symbol string) error {
	key := channel + ":" + symbol
	p.mu.Lock()
	stop, ok := p.streams[key]
	if ok {
		delete(p.streams, key)
	}
	p.mu.Unlock()
	if ok {
		stop()
	}
	return nil
}

func (p *Plugin) Close() error {
	p.mu.Lock()
	streams := p.streams
	p.streams = make(map[string]func())
	ws := p.ws
	p.ws = nil
	p.mu.Unlock()

	for key, stop := range streams {
		log.Debug().Str("stream", key).Msg("kraken: stopping stream on close")
		stop()
	}
	if ws != nil {
		return ws.close()
	}
	return nil
}
