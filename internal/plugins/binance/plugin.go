// Package binance adapts Binance's public REST and WebSocket APIs to
// the pluginapi.Plugin interface (spec §4.A). Symbols cross the plugin
// boundary in the normalized "BASE_QUOTE" form; this package translates
// to Binance's concatenated pair spelling ("BTCUSDT").
package binance

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

const ProviderID = "binance"

// Plugin is a single Binance REST+WebSocket connector instance. Trading
// and account operations are not implemented; Unimplemented answers
// those with NotSupported.
type Plugin struct {
	pluginapi.Unimplemented

	client *client

	mu      sync.Mutex
	streams map[string]func()
	ws      *wsClient
}

// Config tunes one Binance instance's REST throttle and breaker.
type Config struct {
	RequestsPerSecond float64
	Breaker           circuit.Config
}

func New(cfg Config) *Plugin {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10 // Binance's generous public weight budget vs Kraken's
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
		pluginapi.FeatureInstrumentMeta:  true,
	}
}

func (p *Plugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	info, err := p.client.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		symbols = append(symbols, s.BaseAsset+"_"+s.QuoteAsset)
	}
	return symbols, nil
}

func (p *Plugin) FetchHistoricalOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	interval, ok := intervalString(timeframe)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "unsupported timeframe: "+timeframe, nil)
	}
	rows, err := p.client.klines(ctx, toBinancePair(symbol), interval, limit, sinceMs)
	if err != nil {
		return nil, err
	}

	bars := make([]pluginapi.OHLCVBar, 0, len(rows))
	for _, raw := range rows {
		if len(raw) < 7 {
			continue
		}
		openMs, ok := raw[0].(float64)
		if !ok {
			continue
		}
		bars = append(bars, pluginapi.OHLCVBar{
			TimestampMs: int64(openMs),
			Open:        parseFloat(raw[1]),
			High:        parseFloat(raw[2]),
			Low:         parseFloat(raw[3]),
			Close:       parseFloat(raw[4]),
			Volume:      parseFloat(raw[5]),
		})
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
	t, err := p.client.ticker24h(ctx, toBinancePair(symbol))
	if err != nil {
		return nil, err
	}
	return &pluginapi.Ticker{
		Symbol: symbol,
		Price:  parseFloat(t.LastPrice),
		Volume: parseFloat(t.Volume),
	}, nil
}

func (p *Plugin) FetchOrderBook(ctx context.Context, symbol string) (*pluginapi.OrderBook, error) {
	d, err := p.client.depth(ctx, toBinancePair(symbol), 50)
	if err != nil {
		return nil, err
	}
	book := &pluginapi.OrderBook{Symbol: symbol}
	for _, lvl := range d.Bids {
		book.Bids = append(book.Bids, pluginapi.BookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	for _, lvl := range d.Asks {
		book.Asks = append(book.Asks, pluginapi.BookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	return book, nil
}

func (p *Plugin) GetInstrumentTradingDetails(ctx context.Context, symbol string) (*pluginapi.InstrumentDetails, error) {
	info, err := p.client.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	pair := toBinancePair(symbol)
	for _, s := range info.Symbols {
		if s.Symbol == pair {
			return &pluginapi.InstrumentDetails{Symbol: symbol, IsActive: s.Status == "TRADING"}, nil
		}
	}
	return &pluginapi.InstrumentDetails{Symbol: symbol, IsActive: false}, nil
}

func (p *Plugin) StreamTrades(ctx context.Context, symbol string, cb pluginapi.StreamCallback) error {
	return p.subscribe(ctx, "trade", symbol, cb)
}

func (p *Plugin) StreamOHLCV(ctx context.Context, symbol, timeframe string, cb pluginapi.StreamCallback) error {
	interval, ok := intervalString(timeframe)
	if !ok {
		return pluginapi.PluginError(ProviderID, "unsupported timeframe: "+timeframe, nil)
	}
	return p.subscribe(ctx, "kline_"+interval, symbol, cb)
}

func (p *Plugin) StreamOrderBook(ctx context.Context, symbol string, cb pluginapi.StreamCallback) error {
	return p.subscribe(ctx, "depth", symbol, cb)
}

func (p *Plugin) StopStreamTrades(ctx context.Context, symbol string) error {
	return p.unsubscribe("trade", symbol)
}

func (p *Plugin) StopStreamOHLCV(ctx context.Context, symbol, timeframe string) error {
	interval, ok := intervalString(timeframe)
	if !ok {
		return nil
	}
	return p.unsubscribe("kline_"+interval, symbol)
}

func (p *Plugin) StopStreamOrderBook(ctx context.Context, symbol string) error {
	return p.unsubscribe("depth", symbol)
}

func (p *Plugin) subscribe(ctx context.Context, stream, symbol string, cb pluginapi.StreamCallback) error {
	p.mu.Lock()
	if p.ws == nil {
		p.ws = newWSClient()
	}
	ws := p.ws
	key := stream + ":" + symbol
	p.mu.Unlock()

	streamName := fmt.Sprintf("%s@%s", toBinanceStream(symbol), stream)
	stop, err := ws.subscribe(ctx, streamName, symbol, stream, cb)
	if err != nil {
		return pluginapi.NetworkError(ProviderID, "subscribe "+key, err)
	}

	p.mu.Lock()
	p.streams[key] = stop
	p.mu.Unlock()
	return nil
}

func (p *Plugin) unsubscribe(stream, symbol string) error {
	key := stream + ":" + symbol
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
		log.Debug().Str("stream", key).Msg("binance: stopping stream on close")
		stop()
	}
	if ws != nil {
		return ws.close()
	}
	return nil
}
