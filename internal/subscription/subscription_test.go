package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tickerfan/tickerfan/internal/bus"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/registry"
	"github.com/tickerfan/tickerfan/internal/streaming"
	"github.com/tickerfan/tickerfan/internal/viewkey"
	"github.com/tickerfan/tickerfan/internal/warehouse"
)

type recordingSink struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recordingSink) Send(ctx context.Context, view viewkey.ViewKey, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recordingSink) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func (r *recordingSink) waitForType(t *testing.T, typ string) Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range r.snapshot() {
			if e.Type == typ {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	for _, e := range r.snapshot() {
		if e.Type == typ {
			return e
		}
	}
	return Envelope{}
}

// testPlugin is a minimal Plugin used across subscription tests: no
// native streams, fetch_latest_ohlcv only, for polling fallback.
type testPlugin struct {
	pluginapi.Unimplemented
	bars []pluginapi.OHLCVBar
}

func (p *testPlugin) ProviderID() string                           { return "fake" }
func (p *testPlugin) SupportedFeatures() map[pluginapi.Feature]bool { return nil }
func (p *testPlugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	return nil, nil
}
func (p *testPlugin) FetchHistoricalOHLCV(ctx context.Context, symbol, tf string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	return p.bars, nil
}
func (p *testPlugin) FetchLatestOHLCV(ctx context.Context, symbol, tf string) (*pluginapi.OHLCVBar, error) {
	if len(p.bars) == 0 {
		return nil, nil
	}
	b := p.bars[len(p.bars)-1]
	return &b, nil
}
func (p *testPlugin) Close() error { return nil }

type testFactory struct{ plugin *testPlugin }

func (f *testFactory) PluginKey() string                  { return "fake" }
func (f *testFactory) ListConfigurableProviders() []string { return []string{"fake"} }
func (f *testFactory) New(ctx context.Context, cfg pluginapi.InstanceConfig) (pluginapi.Plugin, error) {
	return f.plugin, nil
}

func newTestService(t *testing.T, plugin *testPlugin) *Service {
	t.Helper()
	preg := pluginapi.NewRegistry()
	preg.Register(&testFactory{plugin: plugin}, "crypto")
	pool := pluginapi.NewPool(preg, time.Minute)
	t.Cleanup(pool.Shutdown)

	b := bus.NewMemoryBus()
	mgr := streaming.NewManager(preg, pool, b, map[viewkey.Kind]time.Duration{
		viewkey.OHLCV: time.Hour,
	}, streaming.Hooks{})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	return New(Deps{
		Registry:              registry.New(),
		Manager:               mgr,
		Plugins:               preg,
		Pool:                  pool,
		Warehouse:             warehouse.NewMemoryWarehouse(),
		Bus:                   b,
		InitialChartPoints:    200,
		DefaultPluginChunk:    500,
		MaxPluginChunksPerGap: 100,
	})
}

// TestSubscribeSendsStatusThenInitialSnapshot covers spec §8 scenario 1:
// the first outbound frame for a new OHLCV view is "status", then the
// "data" initial snapshot, then a final "status" once live updates are
// active.
func TestSubscribeSendsStatusThenInitialSnapshot(t *testing.T) {
	plugin := &testPlugin{bars: []pluginapi.OHLCVBar{
		{TimestampMs: 1700000000000, Open: 1, High: 1, Low: 1, Close: 1},
		{TimestampMs: 1700000060000, Open: 2, High: 2, Low: 2, Close: 2},
	}}
	svc := newTestService(t, plugin)
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	svc.HandleSubscribe(context.Background(), "c1", Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT",
		StreamType: "ohlcv", Timeframe: "1m",
	})

	envs := sink.snapshot()
	require.GreaterOrEqual(t, len(envs), 3)
	require.Equal(t, "status", envs[0].Type)
	require.Equal(t, "data", envs[1].Type)
	require.Equal(t, "status", envs[len(envs)-1].Type)
}

// TestSubscribeTwiceAcksExisting covers spec §4.D step 2: subscribing to
// an already-held view acknowledges rather than re-activating.
func TestSubscribeTwiceAcksExisting(t *testing.T) {
	plugin := &testPlugin{bars: []pluginapi.OHLCVBar{{TimestampMs: 1, Open: 1, High: 1, Low: 1, Close: 1}}}
	svc := newTestService(t, plugin)
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	req := Request{Market: "crypto", Provider: "fake", Symbol: "BTC/USDT", StreamType: "ohlcv", Timeframe: "1m"}
	svc.HandleSubscribe(context.Background(), "c1", req)
	before := len(sink.snapshot())

	svc.HandleSubscribe(context.Background(), "c1", req)
	after := sink.snapshot()
	require.Equal(t, before+1, len(after))
	require.Equal(t, "status", after[len(after)-1].Type)
}

// TestUserOrdersWithoutUserIDRejected covers spec §4.D step 3.
func TestUserOrdersWithoutUserIDRejected(t *testing.T) {
	svc := newTestService(t, &testPlugin{})
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	svc.HandleSubscribe(context.Background(), "c1", Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT", StreamType: "user_orders",
	})

	envs := sink.snapshot()
	require.Len(t, envs, 1)
	require.Equal(t, "error", envs[0].Type)
}

// TestUnsubscribeUnknownViewIsNoop covers spec §8's boundary: unsubscribe
// from a view not held returns error and does not mutate state.
func TestUnsubscribeUnknownViewIsNoop(t *testing.T) {
	svc := newTestService(t, &testPlugin{})
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	svc.HandleUnsubscribe(context.Background(), "c1", Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT", StreamType: "ohlcv", Timeframe: "1m",
	})

	envs := sink.snapshot()
	require.Len(t, envs, 1)
	require.Equal(t, "error", envs[0].Type)
	require.Equal(t, 0, svc.deps.Registry.Size())
}

// TestDisconnectReleasesEveryView covers spec §8's boundary: a disconnect
// with N active views results in exactly N releases and a registry size
// of zero for that connection.
func TestDisconnectReleasesEveryView(t *testing.T) {
	plugin := &testPlugin{bars: []pluginapi.OHLCVBar{{TimestampMs: 1, Open: 1, High: 1, Low: 1, Close: 1}}}
	svc := newTestService(t, plugin)
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	timeframes := []string{"1m", "5m", "15m"}
	for _, tf := range timeframes {
		svc.HandleSubscribe(context.Background(), "c1", Request{
			Market: "crypto", Provider: "fake", Symbol: "BTC/USDT", StreamType: "ohlcv", Timeframe: tf,
		})
	}
	require.Equal(t, 3, svc.deps.Registry.Size())
	for _, tf := range timeframes {
		key := viewkey.New("crypto", "fake", "BTC/USDT", viewkey.OHLCV, tf, "")
		require.Equal(t, 1, svc.deps.Manager.Refcount(key))
	}

	svc.HandleDisconnect(context.Background(), "c1")

	require.Equal(t, 0, svc.deps.Registry.Size())
	for _, tf := range timeframes {
		key := viewkey.New("crypto", "fake", "BTC/USDT", viewkey.OHLCV, tf, "")
		require.Equal(t, 0, svc.deps.Manager.Refcount(key))
	}
}

// TestMultiViewFiltersCrossTalk covers spec §8 scenario 3: an update on
// one view's channel must not be delivered as the other view's envelope
// type, even on the same connection.
func TestMultiViewFiltersCrossTalk(t *testing.T) {
	plugin := &testPlugin{bars: []pluginapi.OHLCVBar{{TimestampMs: 1, Open: 1, High: 1, Low: 1, Close: 1}}}
	svc := newTestService(t, plugin)
	sink := &recordingSink{}
	svc.RegisterConnection("c1", sink)

	svc.HandleSubscribe(context.Background(), "c1", Request{
		Market: "crypto", Provider: "fake", Symbol: "BTC/USDT", StreamType: "ohlcv", Timeframe: "1m",
	})
	svc.HandleSubscribe(context.Background(), "c1", Request{
		Market: "crypto", Provider: "fake", Symbol: "ETH/USDT", StreamType: "trades",
	})

	for _, e := range sink.snapshot() {
		if e.Symbol == "ETH_USDT" {
			require.NotEqual(t, "update", e.Type)
		}
		if e.Symbol == "BTC_USDT" {
			require.NotEqual(t, "trade_update", e.Type)
		}
	}
}
