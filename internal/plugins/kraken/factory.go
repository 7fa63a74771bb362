package kraken

import (
	"context"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// Factory constructs Kraken plugin instances. Kraken serves a single
// provider id, so ListConfigurableProviders is a one-element list.
type Factory struct{}

func (Factory) PluginKey() string { return "kraken" }

func (Factory) ListConfigurableProviders() []string { return []string{ProviderID} }

func (Factory) New(ctx context.Context, cfg pluginapi.InstanceConfig) (pluginapi.Plugin, error) {
	rps := 1.0
	if v, ok := cfg.Extras["requests_per_second"]; ok {
		if parsed, err := parsePositiveFloat(v); err == nil {
			rps = parsed
		}
	}
	return New(Config{RequestsPerSecond: rps, Breaker: circuit.DefaultConfig()}), nil
}
