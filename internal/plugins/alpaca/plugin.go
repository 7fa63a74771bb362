// Package alpaca adapts Alpaca's Data v2 and Trading v2 REST APIs to
// the pluginapi.Plugin interface (spec §4.A) for US equities. Alpaca's
// native market-data stream speaks msgpack over a bespoke WebSocket
// client (github.com/alpacahq/alpaca-trade-api-go/v3), a dependency
// outside this module's wired stack; this adapter serves equities
// through REST polling only (spec §4.A: "some plugins implement only
// fetch_* and rely on StreamingManager's polling fallback").
package alpaca

import (
	"context"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

const ProviderID = "alpaca"

// Plugin is a single Alpaca REST connector instance. Native streaming
// and trading operations are not implemented; Unimplemented answers
// those with NotSupported.
type Plugin struct {
	pluginapi.Unimplemented

	client *client
}

// Config tunes one Alpaca instance's credentials, REST throttle and breaker.
type Config struct {
	KeyID             string
	Secret            string
	RequestsPerSecond float64
	Breaker           circuit.Config
}

func New(cfg Config) *Plugin {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3 // Alpaca's free-tier data plan budget
	}
	return &Plugin{
		Unimplemented: pluginapi.Unimplemented{Provider: ProviderID},
		client:        newClient(cfg.RequestsPerSecond, cfg.Breaker, cfg.KeyID, cfg.Secret),
	}
}

func (p *Plugin) ProviderID() string { return ProviderID }

func (p *Plugin) SupportedFeatures() map[pluginapi.Feature]bool {
	return map[pluginapi.Feature]bool{
		pluginapi.FeatureFetchTicker:    true,
		pluginapi.FeatureInstrumentMeta: true,
	}
}

func (p *Plugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	assets, err := p.client.assets(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable || a.Status != "active" {
			continue
		}
		symbols = append(symbols, a.Symbol)
	}
	return symbols, nil
}

func (p *Plugin) FetchHistoricalOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	tf, ok := timeframeToAlpaca(timeframe)
	if !ok {
		return nil, pluginapi.PluginError(ProviderID, "unsupported timeframe: "+timeframe, nil)
	}
	rows, err := p.client.bars(ctx, toAlpacaSymbol(symbol), tf, sinceMs, limit)
	if err != nil {
		return nil, err
	}

	bars := make([]pluginapi.OHLCVBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, pluginapi.OHLCVBar{
			TimestampMs: parseBarTimestamp(r.T),
			Open:        r.O,
			High:        r.H,
			Low:         r.L,
			Close:       r.C,
			Volume:      r.V,
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
	resp, err := p.client.latestTrade(ctx, toAlpacaSymbol(symbol))
	if err != nil {
		return nil, err
	}
	return &pluginapi.Ticker{
		Symbol:    symbol,
		Price:     resp.Trade.Price,
		Volume:    resp.Trade.Size,
		Timestamp: parseBarTimestamp(resp.Trade.T),
	}, nil
}

func (p *Plugin) GetInstrumentTradingDetails(ctx context.Context, symbol string) (*pluginapi.InstrumentDetails, error) {
	assets, err := p.client.assets(ctx)
	if err != nil {
		return nil, err
	}
	target := toAlpacaSymbol(symbol)
	for _, a := range assets {
		if a.Symbol == target {
			return &pluginapi.InstrumentDetails{Symbol: symbol, IsActive: a.Tradable && a.Status == "active"}, nil
		}
	}
	return &pluginapi.InstrumentDetails{Symbol: symbol, IsActive: false}, nil
}

func (p *Plugin) Close() error { return nil }
