package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

const combinedStreamURL = "wss://stream.binance.com:9443/stream"

// wsSubscription tracks one active combined-stream subscription.
type wsSubscription struct {
	streamName string // e.g. "btcusdt@trade"
	symbol     string // normalized symbol, e.g. "BTC_USDT"
	kind       string // "trade", "depth", "kline_1m", ...
	cb         pluginapi.StreamCallback
}

// combinedFrame is the envelope Binance's combined-stream endpoint
// wraps every message in: {"stream":"btcusdt@trade","data":{...}}.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsClient is a single shared Binance combined-stream connection. Each
// new subscription reconnects with the updated stream list, matching
// how Binance's combined endpoint takes its stream set at dial time.
type wsClient struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]*wsSubscription // streamName -> subscription
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newWSClient() *wsClient {
	return &wsClient{
		subs:    make(map[string]*wsSubscription),
		closeCh: make(chan struct{}),
	}
}

func (ws *wsClient) subscribe(ctx context.Context, streamName, symbol, kind string, cb pluginapi.StreamCallback) (func(), error) {
	ws.mu.Lock()
	ws.subs[streamName] = &wsSubscription{streamName: streamName, symbol: symbol, kind: kind, cb: cb}
	ws.mu.Unlock()

	if err := ws.reconnect(ctx); err != nil {
		ws.mu.Lock()
		delete(ws.subs, streamName)
		ws.mu.Unlock()
		return nil, err
	}

	stop := func() {
		ws.mu.Lock()
		delete(ws.subs, streamName)
		ws.mu.Unlock()
		_ = ws.reconnect(context.Background())
	}
	return stop, nil
}

// reconnect dials a fresh connection carrying the current stream set.
// Binance's combined endpoint takes streams as a query parameter at
// connect time, so adding or removing one means redialing.
func (ws *wsClient) reconnect(ctx context.Context) error {
	ws.mu.Lock()
	names := make([]string, 0, len(ws.subs))
	for name := range ws.subs {
		names = append(names, name)
	}
	old := ws.conn
	ws.conn = nil
	ws.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if len(names) == 0 {
		return nil
	}

	url := combinedStreamURL + "?streams=" + joinStreams(names)
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance ws dial: %w", err)
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()

	go ws.readLoop(conn)
	log.Info().Int("streams", len(names)).Msg("binance: websocket connected")
	return nil
}

func joinStreams(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "/"
		}
		out += n
	}
	return out
}

func (ws *wsClient) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closeCh:
				return
			default:
			}
			ws.mu.Lock()
			current := ws.conn
			ws.mu.Unlock()
			if current == conn {
				log.Warn().Err(err).Msg("binance: websocket read error")
			}
			return
		}
		ws.handleMessage(data)
	}
}

func (ws *wsClient) handleMessage(data []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Stream == "" {
		return
	}

	ws.mu.Lock()
	sub, ok := ws.subs[frame.Stream]
	ws.mu.Unlock()
	if !ok {
		return
	}

	msg := decodeStreamPayload(sub, frame.Data)
	if msg != nil {
		sub.cb(msg)
	}
}

// decodeStreamPayload turns one Binance stream event into the
// normalized map the StreamingManager publishes verbatim to the bus.
func decodeStreamPayload(sub *wsSubscription, data json.RawMessage) map[string]interface{} {
	var evt map[string]interface{}
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil
	}

	switch sub.kind {
	case "trade":
		price, _ := evt["p"].(string)
		qty, _ := evt["q"].(string)
		isBuyerMaker, _ := evt["m"].(bool)
		side := "buy"
		if isBuyerMaker {
			side = "sell"
		}
		return map[string]interface{}{
			"type":   "trade",
			"symbol": sub.symbol,
			"price":  parseFloat(price),
			"amount": parseFloat(qty),
			"side":   side,
		}
	default: // "depth" or "kline_<interval>"
		return map[string]interface{}{
			"type":   sub.kind,
			"symbol": sub.symbol,
			"data":   evt,
		}
	}
}

func (ws *wsClient) close() error {
	ws.closeOnce.Do(func() { close(ws.closeCh) })
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
	return nil
}
