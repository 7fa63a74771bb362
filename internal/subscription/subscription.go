// Package subscription implements the SubscriptionService (spec §4.D):
// the per-client orchestrator that turns subscribe/unsubscribe/disconnect
// requests into SubscriptionRegistry entries, StreamingManager
// activations, and a per-view listener task that filters and formats
// bus messages for delivery to the client.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tickerfan/tickerfan/internal/bus"
	"github.com/tickerfan/tickerfan/internal/historical"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/registry"
	"github.com/tickerfan/tickerfan/internal/streaming"
	"github.com/tickerfan/tickerfan/internal/viewkey"
	"github.com/tickerfan/tickerfan/internal/warehouse"
)

// Envelope is the JSON shape sent to clients over the WebSocket front
// (spec §6, Server -> Client envelopes).
type Envelope struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Timeframe string      `json:"timeframe,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Critical reports whether this envelope must never be dropped by the
// outbound queue's backpressure policy (spec §5, Backpressure).
func (e Envelope) Critical() bool {
	switch e.Type {
	case "status", "error", "data":
		return true
	default:
		return false
	}
}

// Sink delivers one envelope to a specific client connection, scoped to
// a ViewKey so the bounded outbound queue (owned by the WebSocket front)
// can apply its per-view drop policy. Implementations must be safe for
// concurrent use by multiple listener tasks on the same connection.
type Sink interface {
	Send(ctx context.Context, view viewkey.ViewKey, env Envelope) error
}

// Request bundles the parameters common to subscribe and unsubscribe
// (spec §4.D: "...same parameters as subscribe").
type Request struct {
	Market     string
	Provider   string
	Symbol     string
	StreamType string
	Timeframe  string // required iff StreamType == "ohlcv"
	SinceMs    *int64
	UserID     string
}

// Deps bundles the collaborators the service needs: the registry, the
// StreamingManager, the plugin registry/pool for resolving adapters, and
// the historical warehouse.
type Deps struct {
	Registry  *registry.Registry
	Manager   *streaming.Manager
	Plugins   *pluginapi.Registry
	Pool      *pluginapi.Pool
	Warehouse warehouse.Warehouse
	Bus       bus.Bus

	InitialChartPoints    int
	DefaultPluginChunk    int
	MaxPluginChunksPerGap int
}

type viewState struct {
	cancel     context.CancelFunc
	done       chan struct{}
	channel    string
	userID     string
	pluginKey  string
	instCfg    pluginapi.InstanceConfig
}

type connState struct {
	mu    sync.Mutex // serializes subscribe/unsubscribe/disconnect on this conn
	sink  Sink
	views map[viewkey.ViewKey]*viewState
}

// Service is the per-process SubscriptionService.
type Service struct {
	deps Deps

	mu    sync.Mutex
	conns map[registry.ConnID]*connState
}

// New constructs a SubscriptionService.
func New(deps Deps) *Service {
	return &Service{deps: deps, conns: make(map[registry.ConnID]*connState)}
}

// RegisterConnection makes conn known to the service, associating it
// with the Sink the WebSocket front uses to deliver envelopes. Call
// before the first HandleSubscribe for this connection.
func (s *Service) RegisterConnection(conn registry.ConnID, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = &connState{sink: sink, views: make(map[viewkey.ViewKey]*viewState)}
}

func (s *Service) connOf(conn registry.ConnID) (*connState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.conns[conn]
	return cs, ok
}

// HandleSubscribe implements spec §4.D handle_subscribe.
func (s *Service) HandleSubscribe(ctx context.Context, conn registry.ConnID, req Request) {
	cs, ok := s.connOf(conn)
	if !ok {
		log.Warn().Str("conn", string(conn)).Msg("subscription: subscribe on unregistered connection")
		return
	}

	kind, ok := viewkey.ParseKind(req.StreamType)
	if !ok {
		cs.sendErr(ctx, "unknown stream_type "+req.StreamType)
		return
	}

	if kind == viewkey.OHLCV && req.Timeframe == "" {
		cs.sendErr(ctx, "ohlcv subscription requires timeframe")
		return
	}

	discriminator := ""
	if kind == viewkey.OHLCV {
		discriminator = req.Timeframe
	}
	userCtx := ""
	if kind == viewkey.UserOrders {
		userCtx = req.UserID
	}
	key := viewkey.New(req.Market, req.Provider, req.Symbol, kind, discriminator, userCtx)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if s.deps.Registry.Has(conn, key) {
		cs.sink.Send(ctx, key, Envelope{Type: "status", Payload: map[string]interface{}{"message": "already subscribed"}})
		return
	}

	if kind == viewkey.UserOrders && req.UserID == "" {
		cs.sendErr(ctx, "user_orders subscription requires user_id")
		return
	}

	factory, err := s.deps.Plugins.FactoryForProvider(req.Provider, req.Market)
	if err != nil {
		cs.sendErr(ctx, err.Error())
		return
	}
	instCfg := pluginapi.InstanceConfig{ProviderID: req.Provider}

	s.deps.Registry.Register(conn, key)

	if kind == viewkey.OHLCV {
		cs.sink.Send(ctx, key, Envelope{Type: "status", Payload: map[string]interface{}{"message": "subscribed, fetching history"}})
		if err := s.sendInitialSnapshot(ctx, conn, cs, key, factory.PluginKey(), instCfg, req); err != nil {
			cs.sendErr(ctx, fmt.Sprintf("failed to load initial snapshot: %v", err))
			s.deps.Registry.UnregisterOne(conn, key)
			return
		}
	} else {
		cs.sink.Send(ctx, key, Envelope{Type: "status", Payload: map[string]interface{}{"message": "subscribed"}})
	}

	if err := s.deps.Manager.EnsureActive(ctx, key, factory.PluginKey(), instCfg); err != nil {
		cs.sendErr(ctx, fmt.Sprintf("failed to activate stream: %v", err))
		s.deps.Registry.UnregisterOne(conn, key)
		return
	}

	sub, err := s.deps.Bus.Subscribe(ctx, key.Channel())
	if err != nil {
		cs.sendErr(ctx, fmt.Sprintf("failed to subscribe to channel: %v", err))
		s.deps.Manager.Release(ctx, key)
		s.deps.Registry.UnregisterOne(conn, key)
		return
	}

	listenerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	cs.views[key] = &viewState{
		cancel: cancel, done: done, channel: key.Channel(),
		userID: req.UserID, pluginKey: factory.PluginKey(), instCfg: instCfg,
	}

	go func() {
		defer close(done)
		defer sub.Close()
		runListener(listenerCtx, sub, key, cs.sink)
	}()

	cs.sink.Send(ctx, key, Envelope{Type: "status", Payload: map[string]interface{}{"message": "live updates active"}})
}

func (s *Service) sendInitialSnapshot(ctx context.Context, conn registry.ConnID, cs *connState, key viewkey.ViewKey, pluginKey string, instCfg pluginapi.InstanceConfig, req Request) error {
	instance, err := s.deps.Pool.Acquire(ctx, pluginKey, instCfg)
	if err != nil {
		return err
	}
	defer s.deps.Pool.Release(pluginKey, instCfg)

	since := int64(0)
	if req.SinceMs != nil {
		since = *req.SinceMs
	}

	bars, err := historical.Fetch(ctx, s.deps.Warehouse, instance, historical.Params{
		Key:       warehouse.Key{Market: key.Market, Provider: key.Provider, Symbol: key.Symbol, Timeframe: key.Discriminator},
		SinceMs:   since,
		UntilMs:   0,
		Limit:     s.deps.InitialChartPoints,
		ChunkSize: s.deps.DefaultPluginChunk,
		MaxChunks: s.deps.MaxPluginChunksPerGap,
		NowMs:     historical.NowMs(),
	})
	if err != nil {
		return err
	}

	ohlc := make([][5]float64, 0, len(bars))
	volume := make([][2]float64, 0, len(bars))
	for _, b := range bars {
		ohlc = append(ohlc, [5]float64{float64(b.TimestampMs), b.Open, b.High, b.Low, b.Close})
		volume = append(volume, [2]float64{float64(b.TimestampMs), b.Volume})
	}

	cs.sink.Send(ctx, key, Envelope{
		Type: "data", Symbol: req.Symbol, Timeframe: req.Timeframe,
		Payload: map[string]interface{}{"ohlc": ohlc, "volume": volume, "initial_batch": true},
	})
	return nil
}

// HandleUnsubscribe implements spec §4.D handle_unsubscribe.
func (s *Service) HandleUnsubscribe(ctx context.Context, conn registry.ConnID, req Request) {
	cs, ok := s.connOf(conn)
	if !ok {
		return
	}

	kind, ok := viewkey.ParseKind(req.StreamType)
	if !ok {
		cs.sendErr(ctx, "unknown stream_type "+req.StreamType)
		return
	}
	discriminator := ""
	if kind == viewkey.OHLCV {
		discriminator = req.Timeframe
	}
	userCtx := ""
	if kind == viewkey.UserOrders {
		userCtx = req.UserID
	}
	key := viewkey.New(req.Market, req.Provider, req.Symbol, kind, discriminator, userCtx)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !s.deps.Registry.Has(conn, key) {
		cs.sendErr(ctx, "not subscribed to this view")
		return
	}

	s.cleanupViewLocked(ctx, conn, cs, key)
	cs.sink.Send(ctx, key, Envelope{Type: "status", Payload: map[string]interface{}{"message": "unsubscribed"}})
}

// HandleDisconnect implements spec §4.D handle_disconnect.
func (s *Service) HandleDisconnect(ctx context.Context, conn registry.ConnID) {
	cs, ok := s.connOf(conn)
	if !ok {
		return
	}

	cs.mu.Lock()
	keys := s.deps.Registry.KeysOf(conn)
	for _, key := range keys {
		s.cleanupViewLocked(ctx, conn, cs, key)
	}
	cs.mu.Unlock()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Shutdown implements spec §4.D shutdown: runs handle_disconnect for
// every tracked connection.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]registry.ConnID, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.HandleDisconnect(ctx, c)
	}
}

// cleanupViewLocked performs the listener-cancel/release/unregister
// sequence from spec §9's cleanup_view, in that order. Caller must hold
// cs.mu.
func (s *Service) cleanupViewLocked(ctx context.Context, conn registry.ConnID, cs *connState, key viewkey.ViewKey) {
	if vs, ok := cs.views[key]; ok {
		vs.cancel()
		<-vs.done
		delete(cs.views, key)
	}
	s.deps.Manager.Release(ctx, key)
	s.deps.Registry.UnregisterOne(conn, key)
}

func (cs *connState) sendErr(ctx context.Context, message string) {
	cs.sink.Send(ctx, viewkey.ViewKey{}, Envelope{Type: "error", Payload: map[string]interface{}{"message": message}})
}

// runListener is the per-view listener task (spec §4.D, "Listener
// task"). It decodes each bus message, drops anything that doesn't
// belong to this exact view, formats the client envelope, and sends it
// via sink. It returns when ctx is cancelled or a send fails.
func runListener(ctx context.Context, sub bus.Subscription, key viewkey.ViewKey, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.Messages():
			if !ok {
				return
			}
			var msg map[string]interface{}
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Warn().Err(err).Msg("subscription: malformed bus message")
				continue
			}
			if !matchesView(msg, key) {
				continue
			}
			env, ok := formatEnvelope(key, msg)
			if !ok {
				continue
			}
			if err := sink.Send(ctx, key, env); err != nil {
				return
			}
		}
	}
}

// matchesView filters a coarse-channel bus message down to exactly the
// subscriber's view (spec §4.D, "Filter by view").
func matchesView(msg map[string]interface{}, key viewkey.ViewKey) bool {
	if streamType, _ := msg["stream_type"].(string); streamType != string(key.Kind) {
		return false
	}
	if provider, _ := msg["provider"].(string); provider != key.Provider {
		return false
	}
	if key.Kind == viewkey.UserOrders {
		return true
	}
	symbol, _ := msg["symbol"].(string)
	if viewkey.NormalizeSymbol(symbol) != key.Symbol {
		return false
	}
	if key.Kind == viewkey.OHLCV {
		tf, _ := msg["timeframe"].(string)
		if tf != key.Discriminator {
			return false
		}
	}
	return true
}

// formatEnvelope builds the client-facing envelope for one bus message,
// per spec §4.D's per-kind format table.
func formatEnvelope(key viewkey.ViewKey, msg map[string]interface{}) (Envelope, bool) {
	switch key.Kind {
	case viewkey.OHLCV:
		ts, _ := msg["timestamp_ms"].(float64)
		o, _ := msg["open"].(float64)
		h, _ := msg["high"].(float64)
		l, _ := msg["low"].(float64)
		c, _ := msg["close"].(float64)
		v, _ := msg["volume"].(float64)
		return Envelope{
			Type: "update", Symbol: deNormalizedSymbol(key), Timeframe: key.Discriminator,
			Payload: map[string]interface{}{
				"ohlc":          [][5]float64{{ts, o, h, l, c}},
				"volume":        [][2]float64{{ts, v}},
				"initial_batch": false,
			},
		}, true
	case viewkey.Trades:
		return Envelope{Type: "trade_update", Symbol: deNormalizedSymbol(key), Payload: msg}, true
	case viewkey.OrderBook:
		return Envelope{Type: "book_update", Symbol: deNormalizedSymbol(key), Payload: msg}, true
	case viewkey.UserOrders:
		return Envelope{Type: "user_order_update", Provider: key.Provider, Payload: msg}, true
	}
	return Envelope{}, false
}

func deNormalizedSymbol(key viewkey.ViewKey) string {
	if key.Kind == viewkey.UserOrders {
		return ""
	}
	return key.Symbol
}
