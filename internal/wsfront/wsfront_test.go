package wsfront

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tickerfan/tickerfan/internal/bus"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/registry"
	"github.com/tickerfan/tickerfan/internal/streaming"
	"github.com/tickerfan/tickerfan/internal/subscription"
	"github.com/tickerfan/tickerfan/internal/viewkey"
	"github.com/tickerfan/tickerfan/internal/warehouse"
)

type noopPlugin struct {
	pluginapi.Unimplemented
	bars []pluginapi.OHLCVBar
}

func (p *noopPlugin) ProviderID() string                           { return "fake" }
func (p *noopPlugin) SupportedFeatures() map[pluginapi.Feature]bool { return nil }
func (p *noopPlugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	return nil, nil
}
func (p *noopPlugin) FetchHistoricalOHLCV(ctx context.Context, symbol, tf string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	return p.bars, nil
}
func (p *noopPlugin) FetchLatestOHLCV(ctx context.Context, symbol, tf string) (*pluginapi.OHLCVBar, error) {
	return nil, nil
}
func (p *noopPlugin) Close() error { return nil }

type noopFactory struct{ plugin *noopPlugin }

func (f *noopFactory) PluginKey() string                   { return "fake" }
func (f *noopFactory) ListConfigurableProviders() []string { return []string{"fake"} }
func (f *noopFactory) New(ctx context.Context, cfg pluginapi.InstanceConfig) (pluginapi.Plugin, error) {
	return f.plugin, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	preg := pluginapi.NewRegistry()
	preg.Register(&noopFactory{plugin: &noopPlugin{}}, "crypto")
	pool := pluginapi.NewPool(preg, time.Minute)
	t.Cleanup(pool.Shutdown)

	b := bus.NewMemoryBus()
	mgr := streaming.NewManager(preg, pool, b, map[viewkey.Kind]time.Duration{viewkey.OHLCV: time.Hour}, streaming.Hooks{})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	reg := registry.New()
	svc := subscription.New(subscription.Deps{
		Registry: reg, Manager: mgr, Plugins: preg, Pool: pool,
		Warehouse: warehouse.NewMemoryWarehouse(), Bus: b,
		InitialChartPoints: 200, DefaultPluginChunk: 500, MaxPluginChunksPerGap: 100,
	})

	srv := NewServer(svc, Config{PingInterval: time.Hour, OutboundQueue: 8})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, reg
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) subscription.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env subscription.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

// TestSubscribeOverWebSocketReceivesSnapshotAndStatus exercises the full
// accept -> reader -> SubscriptionService -> writer path end to end.
func TestSubscribeOverWebSocketReceivesSnapshotAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe", "market": "crypto", "provider": "fake",
		"symbol": "BTC/USDT", "stream_type": "ohlcv", "timeframe": "1m",
	}))

	first := readEnvelope(t, conn)
	require.Equal(t, "status", first.Type)

	data := readEnvelope(t, conn)
	require.Equal(t, "data", data.Type)

	status := readEnvelope(t, conn)
	require.Equal(t, "status", status.Type)
}

// TestDisconnectCleansUpRegistry verifies that closing the client socket
// drives handle_disconnect and leaves the registry empty.
func TestDisconnectCleansUpRegistry(t *testing.T) {
	ts, reg := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe", "market": "crypto", "provider": "fake",
		"symbol": "BTC/USDT", "stream_type": "ohlcv", "timeframe": "1m",
	}))
	readEnvelope(t, conn) // status
	readEnvelope(t, conn) // data

	conn.Close()

	require.Eventually(t, func() bool {
		return reg.Size() == 0
	}, time.Second, 10*time.Millisecond)
}

// TestOutboundQueueDropsOlderUpdateForSameView exercises the Conn drop
// policy directly: once the queue is saturated, an older non-critical
// frame for the same view is evicted in favor of the newer one.
func TestOutboundQueueDropsOlderUpdateForSameView(t *testing.T) {
	c := &Conn{maxSize: 2, notify: make(chan struct{}, 1)}
	key := viewkey.New("crypto", "fake", "BTC/USDT", viewkey.OHLCV, "1m", "")

	require.NoError(t, enqueueOnly(c, key, subscription.Envelope{Type: "status"}))
	require.NoError(t, enqueueOnly(c, key, subscription.Envelope{Type: "update", Payload: 1}))
	require.NoError(t, enqueueOnly(c, key, subscription.Envelope{Type: "update", Payload: 2}))

	require.Len(t, c.queue, 2)
	require.Equal(t, "status", c.queue[0].env.Type)
	require.Equal(t, "update", c.queue[1].env.Type)
	require.Equal(t, 2, c.queue[1].env.Payload)
}

// enqueueOnly calls Conn.Send without a live websocket, safe because
// queue operations never touch c.ws unless the queue saturates with
// only critical frames (not exercised here).
func enqueueOnly(c *Conn, key viewkey.ViewKey, env subscription.Envelope) error {
	return c.Send(context.Background(), key, env)
}
