package alpaca

import (
	"context"
	"strconv"

	"github.com/tickerfan/tickerfan/internal/circuit"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// Factory constructs Alpaca plugin instances. Alpaca serves a single
// provider id, so ListConfigurableProviders is a one-element list.
type Factory struct{}

func (Factory) PluginKey() string { return "alpaca" }

func (Factory) ListConfigurableProviders() []string { return []string{ProviderID} }

func (Factory) New(ctx context.Context, cfg pluginapi.InstanceConfig) (pluginapi.Plugin, error) {
	rps := 3.0
	if v, ok := cfg.Extras["requests_per_second"]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	keyID, secret := "", ""
	if cfg.Credentials != nil {
		keyID, secret = cfg.Credentials.APIKey, cfg.Credentials.APISecret
	}
	return New(Config{
		KeyID:             keyID,
		Secret:            secret,
		RequestsPerSecond: rps,
		Breaker:           circuit.DefaultConfig(),
	}), nil
}
