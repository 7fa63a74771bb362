// Package circuit implements a per-provider circuit breaker used by
// plugin adapters to stop hammering a venue that is returning
// NetworkError/PluginError failures (spec §7). It wraps
// sony/gobreaker rather than hand-rolling failure-rate tracking.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config tunes one breaker's trip condition and recovery timing.
type Config struct {
	FailureThreshold float64       // failure fraction that must be exceeded to trip, default 0.5
	MinRequests      uint32        // requests observed before the ratio is evaluated, default 5
	OpenTimeout      time.Duration // time spent open before a half-open probe is allowed, default 30s
}

// DefaultConfig matches the breaker defaults the plugin adapters use
// for venue REST calls.
func DefaultConfig() Config {
	return Config{FailureThreshold: 0.5, MinRequests: 5, OpenTimeout: 30 * time.Second}
}

func (c Config) normalized() Config {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.5
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

func settingsFor(name string, cfg Config) gobreaker.Settings {
	cfg = cfg.normalized()
	return gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureThreshold
		},
	}
}

// ErrOpen is returned by Do when the breaker rejects the call outright.
var ErrOpen = gobreaker.ErrOpenState

// Breaker guards calls to one provider's REST API.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker constructs a standalone Breaker, named for diagnostics.
func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settingsFor(name, cfg))}
}

// Do runs fn through the breaker. When the breaker is open, fn is never
// called and Do returns ErrOpen.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the breaker's current gobreaker.State ("closed",
// "half-open" or "open").
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Manager owns one Breaker per provider id, created lazily with a
// shared default Config unless overridden via Configure.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewManager returns a Manager using defaults for any provider not
// given an explicit Configure call.
func NewManager(defaults Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Configure installs a specific Config for provider, replacing any
// lazily-created default breaker.
func (m *Manager) Configure(provider string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[provider] = NewBreaker(provider, cfg)
}

func (m *Manager) breaker(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, m.defaults)
	m.breakers[provider] = b
	return b
}

// Do runs fn through provider's breaker, creating one with the
// manager's defaults on first use.
func (m *Manager) Do(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	return m.breaker(provider).Do(ctx, fn)
}

// State reports provider's breaker state.
func (m *Manager) State(provider string) gobreaker.State {
	return m.breaker(provider).State()
}

// Stats returns every tracked provider's current state as a string. It
// is not served by any HTTP endpoint; /healthz reports liveness only.
func (m *Manager) Stats() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.breakers))
	for provider, b := range m.breakers {
		out[provider] = fmt.Sprintf("%s", b.State())
	}
	return out
}
