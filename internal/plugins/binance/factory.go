package binance

import (
	"context"
	"strconv"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// Factory constructs Binance plugin instances. Binance serves a single
// provider id, so ListConfigurableProviders is a one-element list.
type Factory struct{}

func (Factory) PluginKey() string { return "binance" }

func (Factory) ListConfigurableProviders() []string { return []string{ProviderID} }

func (Factory) New(ctx context.Context, cfg pluginapi.InstanceConfig) (pluginapi.Plugin, error) {
	rps := 10.0
	if v, ok := cfg.Extras["requests_per_second"]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	return New(Config{RequestsPerSecond: rps, Breaker: circuit.DefaultConfig()}), nil
}
