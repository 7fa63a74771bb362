package pluginapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// poolEntry tracks one pooled Plugin instance (spec §9 design note:
// "a map from connection fingerprint to an entry holding (instance,
// last_used, inflight_count)").
type poolEntry struct {
	mu         sync.Mutex
	instance   Plugin
	lastUsed   time.Time
	inflight   int
	pluginKey  string
	providerID string
	testnet    bool
}

// Pool guarantees at-most-one active Plugin instance per
// (plugin_key, provider_id, credential_fingerprint, testnet), lazily
// constructing instances on first use and evicting idle ones on a
// sweep interval (spec §4.A, §9).
type Pool struct {
	registry *Registry
	idleTTL  time.Duration

	mu      sync.Mutex
	entries map[string]*poolEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPool constructs a Pool backed by registry, evicting instances idle
// for longer than idleTTL. A sweep goroutine starts immediately; call
// Shutdown to stop it and close every pooled instance.
func NewPool(registry *Registry, idleTTL time.Duration) *Pool {
	p := &Pool{
		registry: registry,
		idleTTL:  idleTTL,
		entries:  make(map[string]*poolEntry),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

func fingerprint(creds *Credentials) string {
	if creds == nil {
		return "anon"
	}
	h := sha256.Sum256([]byte(creds.APIKey + "|" + creds.APISecret + "|" + creds.Passphrase))
	return hex.EncodeToString(h[:8])
}

func poolKey(pluginKey, providerID string, creds *Credentials, testnet bool) string {
	t := "0"
	if testnet {
		t = "1"
	}
	return pluginKey + "|" + providerID + "|" + fingerprint(creds) + "|" + t
}

// Acquire returns the pooled instance for cfg, constructing it via the
// registry's Factory for pluginKey if none exists yet. The caller must
// call Release when it is done issuing requests through the instance so
// the idle sweeper can evict it.
func (p *Pool) Acquire(ctx context.Context, pluginKey string, cfg InstanceConfig) (Plugin, error) {
	key := poolKey(pluginKey, cfg.ProviderID, cfg.Credentials, cfg.Testnet)

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		factory, exists := p.registry.FactoryFor(pluginKey)
		if !exists {
			p.mu.Unlock()
			return nil, PluginError(cfg.ProviderID, "no factory registered for plugin key "+pluginKey, nil)
		}
		p.mu.Unlock()

		instance, err := factory.New(ctx, cfg)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if existing, raced := p.entries[key]; raced {
			// Another acquirer won the race; discard our instance.
			p.mu.Unlock()
			_ = instance.Close()
			entry = existing
		} else {
			entry = &poolEntry{
				instance:   instance,
				pluginKey:  pluginKey,
				providerID: cfg.ProviderID,
				testnet:    cfg.Testnet,
			}
			p.entries[key] = entry
			p.mu.Unlock()
		}
	} else {
		p.mu.Unlock()
	}

	entry.mu.Lock()
	entry.inflight++
	entry.lastUsed = time.Now()
	entry.mu.Unlock()

	return entry.instance, nil
}

// Release decrements the inflight count for the instance matching cfg,
// making it eligible for idle eviction once inflight reaches zero and
// idleTTL elapses.
func (p *Pool) Release(pluginKey string, cfg InstanceConfig) {
	key := poolKey(pluginKey, cfg.ProviderID, cfg.Credentials, cfg.Testnet)

	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.inflight > 0 {
		entry.inflight--
	}
	entry.lastUsed = time.Now()
	entry.mu.Unlock()
}

func (p *Pool) sweepLoop() {
	defer close(p.doneCh)
	interval := p.idleTTL / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	var evicted []*poolEntry

	p.mu.Lock()
	for key, entry := range p.entries {
		entry.mu.Lock()
		idle := entry.inflight == 0 && time.Since(entry.lastUsed) > p.idleTTL
		entry.mu.Unlock()
		if idle {
			evicted = append(evicted, entry)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, entry := range evicted {
		if err := entry.instance.Close(); err != nil {
			log.Warn().Err(err).Str("provider", entry.providerID).Msg("plugin pool: error closing idle instance")
		}
	}
}

// Shutdown stops the sweeper and closes every pooled instance,
// tolerating individual Close errors (spec §5: "Shutdown cancels in
// layered order ... Plugin pool").
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh

	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for key, entry := range p.entries {
		entries = append(entries, entry)
		delete(p.entries, key)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		if err := entry.instance.Close(); err != nil {
			log.Warn().Err(err).Str("provider", entry.providerID).Msg("plugin pool: error closing instance on shutdown")
		}
	}
}
