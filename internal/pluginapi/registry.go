package pluginapi

import (
	"context"
	"fmt"
	"sync"
)

// InstanceConfig is the construction input for a Plugin instance, per
// spec §4.A: "(provider_id, credentials?, is_testnet,
// request_timeout_ms, extras)".
type InstanceConfig struct {
	ProviderID       string
	Credentials      *Credentials
	Testnet          bool
	RequestTimeoutMs int
	Extras           map[string]string
}

// Factory constructs one Plugin instance for a given provider id. A
// factory may handle many provider ids (a CCXT-style multi-venue
// adapter) or exactly one (a bespoke venue adapter).
type Factory interface {
	// PluginKey is the stable registry key for this adapter class.
	PluginKey() string
	// ListConfigurableProviders enumerates the provider ids this
	// factory can construct.
	ListConfigurableProviders() []string
	// New constructs a configured instance.
	New(ctx context.Context, cfg InstanceConfig) (Plugin, error)
}

// Registry records, at process start, which Factory implements which
// plugin_key and which markets each provider id serves (spec §4.A).
// Discovery order is preserved so market->plugin_key candidate lists are
// stable across runs.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory   // plugin_key -> Factory
	byMarket    map[string][]string  // market -> [plugin_key], discovery order
	marketOfKey map[string][]string  // plugin_key -> markets it was registered for
	providerOf  map[string]string    // provider_id -> plugin_key (first registrant wins)
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]Factory),
		byMarket:    make(map[string][]string),
		marketOfKey: make(map[string][]string),
		providerOf:  make(map[string]string),
	}
}

// Register adds a Factory under its plugin_key, associating it with the
// given markets. Calling Register twice with the same plugin_key
// replaces the factory but preserves discovery order in byMarket.
func (r *Registry) Register(f Factory, markets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := f.PluginKey()
	if _, exists := r.factories[key]; !exists {
		for _, m := range markets {
			r.byMarket[m] = append(r.byMarket[m], key)
		}
		r.marketOfKey[key] = append([]string(nil), markets...)
	}
	r.factories[key] = f

	for _, p := range f.ListConfigurableProviders() {
		if _, exists := r.providerOf[p]; !exists {
			r.providerOf[p] = key
		}
	}
}

// PluginKeysForMarket returns the candidate plugin keys for a market in
// stable discovery order.
func (r *Registry) PluginKeysForMarket(market string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byMarket[market]))
	copy(out, r.byMarket[market])
	return out
}

// FactoryFor resolves the Factory registered under plugin_key.
func (r *Registry) FactoryFor(pluginKey string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[pluginKey]
	return f, ok
}

// FactoryForProvider resolves the Factory that can construct an
// instance for the given provider id, trying the provider index first
// and falling back to a market-scoped search.
func (r *Registry) FactoryForProvider(providerID, market string) (Factory, error) {
	r.mu.RLock()
	key, ok := r.providerOf[providerID]
	r.mu.RUnlock()
	if ok {
		f, _ := r.FactoryFor(key)
		return f, nil
	}

	for _, key := range r.PluginKeysForMarket(market) {
		f, _ := r.FactoryFor(key)
		for _, p := range f.ListConfigurableProviders() {
			if p == providerID {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("pluginapi: no factory registered for provider %q in market %q", providerID, market)
}
