// Package streaming implements the StreamingManager: reference-counted
// acquisition of upstream feeds, with automatic REST-polling fallback
// when native streaming is unavailable, publishing normalized updates
// to the internal pub/sub bus (spec §4.C).
package streaming

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tickerfan/tickerfan/internal/bus"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// Mode records how a record's upstream feed was activated.
type Mode string

const (
	ModeNative  Mode = "native"
	ModePolling Mode = "polling"
)

// record is the StreamingManager's bookkeeping for one active ViewKey
// (spec §3, StreamRecord).
type record struct {
	refcount   int
	mode       Mode
	lastHash   string
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	pluginKey  string
	instCfg    pluginapi.InstanceConfig

	activating bool
	readyCh    chan struct{}
}

// Hooks lets callers observe manager activity (for prometheus metrics)
// without coupling this package to any particular metrics backend. Every
// field is optional.
type Hooks struct {
	OnActivate  func(kind viewkey.Kind, mode Mode)
	OnPublish   func(kind viewkey.Kind, suppressed bool)
	OnPollError func(kind viewkey.Kind, errKind pluginapi.ErrorKind)
}

// Manager owns the set of upstream feeds for the process.
type Manager struct {
	registry *pluginapi.Registry
	pool     *pluginapi.Pool
	bus      bus.Bus
	intervals map[viewkey.Kind]time.Duration
	hooks     Hooks

	mu      sync.Mutex
	records map[viewkey.ViewKey]*record

	wg sync.WaitGroup
}

// NewManager constructs a StreamingManager. intervals supplies the
// per-kind polling fallback interval (spec §6,
// POLLING_INTERVAL_<KIND>_SEC); kinds absent from the map default to
// 10s.
func NewManager(registry *pluginapi.Registry, pool *pluginapi.Pool, b bus.Bus, intervals map[viewkey.Kind]time.Duration, hooks Hooks) *Manager {
	return &Manager{
		registry:  registry,
		pool:      pool,
		bus:       b,
		intervals: intervals,
		hooks:     hooks,
		records:   make(map[viewkey.ViewKey]*record),
	}
}

func (m *Manager) pollInterval(kind viewkey.Kind) time.Duration {
	if d, ok := m.intervals[kind]; ok && d > 0 {
		return d
	}
	return 10 * time.Second
}

// EnsureActive acquires the upstream feed for key, activating it (native
// stream preferred, polling fallback otherwise) if this is the first
// interested caller. pluginKey selects which registered Factory to use;
// cfg carries credentials/testnet/timeout for plugin construction (spec
// §4.C).
func (m *Manager) EnsureActive(ctx context.Context, key viewkey.ViewKey, pluginKey string, cfg pluginapi.InstanceConfig) error {
	for {
		m.mu.Lock()
		rec, exists := m.records[key]
		if exists {
			if !rec.activating {
				rec.refcount++
				m.mu.Unlock()
				return nil
			}
			ready := rec.readyCh
			m.mu.Unlock()
			<-ready
			continue // re-check: either the activator succeeded (record present) or failed (removed)
		}

		rec = &record{activating: true, readyCh: make(chan struct{})}
		m.records[key] = rec
		m.mu.Unlock()

		err := m.activate(ctx, key, pluginKey, cfg, rec)

		m.mu.Lock()
		if err != nil {
			delete(m.records, key)
			m.mu.Unlock()
			close(rec.readyCh)
			return err
		}
		rec.refcount = 1
		rec.activating = false
		rec.pluginKey = pluginKey
		rec.instCfg = cfg
		m.mu.Unlock()
		close(rec.readyCh)
		return nil
	}
}

// activate performs the capability query and native/polling activation
// described in spec §4.C steps 4-6. It must not be called while holding
// m.mu.
func (m *Manager) activate(ctx context.Context, key viewkey.ViewKey, pluginKey string, cfg pluginapi.InstanceConfig, rec *record) error {
	instance, err := m.pool.Acquire(ctx, pluginKey, cfg)
	if err != nil {
		return err
	}

	features := instance.SupportedFeatures()

	if tryNative(instance, features, key) {
		if err := m.startNative(ctx, instance, key); err != nil {
			m.pool.Release(pluginKey, cfg)
			return err
		}
		rec.mode = ModeNative
		if m.hooks.OnActivate != nil {
			m.hooks.OnActivate(key.Kind, ModeNative)
		}
		return nil
	}

	if pollable(features, key.Kind) {
		pollCtx, cancel := context.WithCancel(context.Background())
		rec.cancelPoll = cancel
		rec.pollDone = make(chan struct{})
		interval := m.pollInterval(key.Kind)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer close(rec.pollDone)
			m.pollLoop(pollCtx, instance, key, interval, rec)
			if pollCtx.Err() != nil {
				return
			}
			// The loop ended on NotSupported: remove the record and its
			// pool reference unless Release or Shutdown already took it.
			m.mu.Lock()
			owned := m.records[key] == rec
			if owned {
				delete(m.records, key)
			}
			m.mu.Unlock()
			if owned {
				m.pool.Release(pluginKey, cfg)
			}
		}()

		rec.mode = ModePolling
		if m.hooks.OnActivate != nil {
			m.hooks.OnActivate(key.Kind, ModePolling)
		}
		return nil
	}

	m.pool.Release(pluginKey, cfg)
	return fmt.Errorf("streaming: no native stream or polling fallback available for %s on %s", key.Kind, key.Provider)
}

// tryNative reports and, if true, the caller must separately invoke
// startNative to wire the plugin's push callback into m.publish.
func tryNative(instance pluginapi.Plugin, features map[pluginapi.Feature]bool, key viewkey.ViewKey) bool {
	switch key.Kind {
	case viewkey.OHLCV:
		return features[pluginapi.FeatureStreamOHLCV]
	case viewkey.Trades:
		return features[pluginapi.FeatureStreamTrades]
	case viewkey.OrderBook:
		return features[pluginapi.FeatureStreamOrderBook]
	case viewkey.UserOrders:
		return features[pluginapi.FeatureStreamUserOrders]
	}
	return false
}

func pollable(features map[pluginapi.Feature]bool, kind viewkey.Kind) bool {
	switch kind {
	case viewkey.OHLCV:
		return true // FetchLatestOHLCV is mandatory
	case viewkey.Trades:
		return features[pluginapi.FeatureFetchTicker]
	case viewkey.OrderBook:
		return features[pluginapi.FeatureFetchOrderBook]
	case viewkey.UserOrders:
		return features[pluginapi.FeatureFetchOpenOrders]
	}
	return false
}

func (m *Manager) startNative(ctx context.Context, instance pluginapi.Plugin, key viewkey.ViewKey) error {
	cb := func(msg map[string]interface{}) {
		m.publish(context.Background(), key, msg)
	}
	switch key.Kind {
	case viewkey.OHLCV:
		return instance.StreamOHLCV(ctx, key.Symbol, key.Discriminator, cb)
	case viewkey.Trades:
		return instance.StreamTrades(ctx, key.Symbol, cb)
	case viewkey.OrderBook:
		return instance.StreamOrderBook(ctx, key.Symbol, cb)
	case viewkey.UserOrders:
		return instance.StreamUserOrders(ctx, key.UserCtx, cb)
	}
	return fmt.Errorf("streaming: unknown kind %s", key.Kind)
}

func (m *Manager) stopNative(ctx context.Context, instance pluginapi.Plugin, key viewkey.ViewKey) error {
	switch key.Kind {
	case viewkey.OHLCV:
		return instance.StopStreamOHLCV(ctx, key.Symbol, key.Discriminator)
	case viewkey.Trades:
		return instance.StopStreamTrades(ctx, key.Symbol)
	case viewkey.OrderBook:
		return instance.StopStreamOrderBook(ctx, key.Symbol)
	case viewkey.UserOrders:
		return instance.StopStreamUserOrders(ctx, key.UserCtx)
	}
	return nil
}

// publish normalizes msg into the wire envelope from spec §4.C and
// writes it to the bus channel derived from key.
func (m *Manager) publish(ctx context.Context, key viewkey.ViewKey, msg map[string]interface{}) {
	payload, err := encodeMessage(key, msg)
	if err != nil {
		log.Error().Err(err).Str("view", key.String()).Msg("streaming: failed to encode publish message")
		return
	}
	if err := m.bus.Publish(ctx, key.Channel(), payload); err != nil {
		log.Error().Err(err).Str("channel", key.Channel()).Msg("streaming: bus publish failed")
	}
}

// Release decrements key's refcount, tearing down the upstream feed when
// it reaches zero (spec §4.C: "On release").
func (m *Manager) Release(ctx context.Context, key viewkey.ViewKey) {
	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok || rec.activating {
		m.mu.Unlock()
		return
	}
	rec.refcount--
	if rec.refcount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.records, key)
	m.mu.Unlock()

	m.teardown(ctx, key, rec)
}

func (m *Manager) teardown(ctx context.Context, key viewkey.ViewKey, rec *record) {
	if rec.mode == ModePolling && rec.cancelPoll != nil {
		rec.cancelPoll()
		<-rec.pollDone
	}
	if rec.mode == ModeNative {
		if instance, err := m.pool.Acquire(ctx, rec.pluginKey, rec.instCfg); err == nil {
			if err := m.stopNative(ctx, instance, key); err != nil {
				log.Warn().Err(err).Str("view", key.String()).Msg("streaming: stop_* failed during teardown")
			}
			// releases this Acquire; the one held since activation is
			// released below
			m.pool.Release(rec.pluginKey, rec.instCfg)
		}
	}
	m.pool.Release(rec.pluginKey, rec.instCfg)
}

// Shutdown tears down every active record, tolerating partial failure
// (spec §4.C, Shutdown). It blocks until every polling task has exited.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[viewkey.ViewKey]*record, len(m.records))
	for k, v := range m.records {
		snapshot[k] = v
	}
	m.records = make(map[viewkey.ViewKey]*record)
	m.mu.Unlock()

	for key, rec := range snapshot {
		if rec.activating {
			continue
		}
		m.teardown(ctx, key, rec)
	}
	m.wg.Wait()
}

// ActiveCount reports the number of distinct active ViewKeys, for tests
// and the health surface.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Refcount reports key's current refcount (0 if inactive), for tests
// asserting property 2 from spec §8.
func (m *Manager) Refcount(key viewkey.ViewKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return 0
	}
	return rec.refcount
}

// jitter returns d scaled by a uniform random factor in [0.9, 1.1], the
// ±10% jitter spec §4.C requires on the polling interval.
func jitter(d time.Duration) time.Duration {
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}
