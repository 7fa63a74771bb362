package kraken

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

const publicWSURL = "wss://ws.kraken.com"

// wsSubscription tracks one active channel subscription: the callback
// it feeds and the normalized symbol it reports events under.
type wsSubscription struct {
	channelName string
	pair        string // Kraken slash-separated pair, e.g. "XBT/USDT"
	symbol      string // normalized symbol, e.g. "BTC_USDT"
	channel     string // requested channel key ("trade", "book", "ohlc-1", ...)
	cb          pluginapi.StreamCallback
}

// wsClient is a single shared Kraken public WebSocket connection
// multiplexing every active trade/book/ohlc subscription, grounded on
// the teacher's single-connection-per-venue model.
type wsClient struct {
	mu            sync.RWMutex
	conn          *websocket.Conn
	subsByChannel map[int]*wsSubscription    // Kraken channelID -> subscription, known once confirmed
	pending       map[string]*wsSubscription // "channelName:pair" -> subscription awaiting confirmation
	closeCh       chan struct{}
	closeOnce     sync.Once
}

func newWSClient() *wsClient {
	return &wsClient{
		subsByChannel: make(map[int]*wsSubscription),
		pending:       make(map[string]*wsSubscription),
		closeCh:       make(chan struct{}),
	}
}

func (ws *wsClient) ensureConnected(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		return nil
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	conn, _, err := dialer.DialContext(ctx, publicWSURL, nil)
	if err != nil {
		return fmt.Errorf("kraken ws dial: %w", err)
	}
	ws.conn = conn
	go ws.readLoop()
	go ws.pingLoop()
	log.Info().Str("url", publicWSURL).Msg("kraken: websocket connected")
	return nil
}

// subscribe registers cb for channel/pair and sends the subscribe
// frame. The returned stop func unsubscribes and deregisters cb.
func (ws *wsClient) subscribe(ctx context.Context, channel, pair, symbol string, cb pluginapi.StreamCallback) (func(), error) {
	if err := ws.ensureConnected(ctx); err != nil {
		return nil, err
	}

	name, subField := channelRequestFields(channel)
	sub := &wsSubscription{channelName: name, pair: pair, symbol: symbol, channel: channel, cb: cb}

	key := name + ":" + pair
	ws.mu.Lock()
	ws.pending[key] = sub
	conn := ws.conn
	ws.mu.Unlock()

	req := map[string]interface{}{
		"event":        "subscribe",
		"pair":         []string{pair},
		"subscription": subField,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("kraken ws subscribe: %w", err)
	}

	stop := func() {
		unreq := map[string]interface{}{
			"event":        "unsubscribe",
			"pair":         []string{pair},
			"subscription": subField,
		}
		if data, err := json.Marshal(unreq); err == nil {
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if c != nil {
				_ = c.WriteMessage(websocket.TextMessage, data)
			}
		}
		ws.mu.Lock()
		delete(ws.pending, key)
		for id, s := range ws.subsByChannel {
			if s == sub {
				delete(ws.subsByChannel, id)
			}
		}
		ws.mu.Unlock()
	}
	return stop, nil
}

func channelRequestFields(channel string) (name string, subField map[string]interface{}) {
	switch {
	case channel == "trade":
		return "trade", map[string]interface{}{"name": "trade"}
	case channel == "book":
		return "book", map[string]interface{}{"name": "book", "depth": 25}
	default: // "ohlc-<interval>"
		var interval int
		fmt.Sscanf(channel, "ohlc-%d", &interval)
		return "ohlc", map[string]interface{}{"name": "ohlc", "interval": interval}
	}
}

func (ws *wsClient) readLoop() {
	for {
		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closeCh:
				return
			default:
			}
			log.Warn().Err(err).Msg("kraken: websocket read error, closing")
			ws.closeConn()
			return
		}
		ws.handleMessage(data)
	}
}

func (ws *wsClient) handleMessage(data []byte) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj["event"] == "subscriptionStatus" {
			ws.handleSubscriptionStatus(obj)
		}
		return
	}

	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 3 {
		return
	}
	channelID, ok := arr[0].(float64)
	if !ok {
		return
	}

	ws.mu.RLock()
	sub, ok := ws.subsByChannel[int(channelID)]
	ws.mu.RUnlock()
	if !ok {
		return
	}

	msg := decodeChannelPayload(sub, arr)
	if msg != nil {
		sub.cb(msg)
	}
}

func (ws *wsClient) handleSubscriptionStatus(obj map[string]interface{}) {
	status, _ := obj["status"].(string)
	pair, _ := obj["pair"].(string)
	channelName, _ := obj["channelName"].(string)
	channelIDFloat, _ := obj["channelID"].(float64)
	if status != "subscribed" {
		if status == "error" {
			log.Warn().Interface("status", obj).Msg("kraken: subscription rejected")
		}
		return
	}

	// channelName arrives as "ohlc-<interval>" for ohlc and
	// "book-<depth>" for book; normalize the lookup key back to the base
	// name ("ohlc" or "book") used in pending.
	baseName := channelName
	if len(channelName) >= 4 && channelName[:4] == "ohlc" {
		baseName = "ohlc"
	} else if len(channelName) >= 4 && channelName[:4] == "book" {
		baseName = "book"
	}
	key := baseName + ":" + pair

	ws.mu.Lock()
	sub, ok := ws.pending[key]
	if ok {
		delete(ws.pending, key)
		ws.subsByChannel[int(channelIDFloat)] = sub
	}
	ws.mu.Unlock()

	if !ok {
		log.Warn().Str("channel", channelName).Str("pair", pair).Msg("kraken: confirmed subscription with no pending match")
	}
}

// decodeChannelPayload turns one Kraken channel array message into the
// normalized map the StreamingManager publishes verbatim to the bus.
func decodeChannelPayload(sub *wsSubscription, arr []interface{}) map[string]interface{} {
	switch sub.channel {
	case "trade":
		trades, ok := arr[1].([]interface{})
		if !ok || len(trades) == 0 {
			return nil
		}
		last, ok := trades[len(trades)-1].([]interface{})
		if !ok || len(last) < 4 {
			return nil
		}
		price, _ := last[0].(string)
		volume, _ := last[1].(string)
		side, _ := last[3].(string)
		return map[string]interface{}{
			"type":   "trade",
			"symbol": sub.symbol,
			"price":  parseFloat(price),
			"amount": parseFloat(volume),
			"side":   sideName(side),
		}
	default: // "book" or "ohlc"
		return map[string]interface{}{
			"type":   sub.channel,
			"symbol": sub.symbol,
			"data":   arr[1],
		}
	}
}

func sideName(code string) string {
	if code == "b" {
		return "buy"
	}
	return "sell"
}

func (ws *wsClient) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ws.closeCh:
			return
		case <-ticker.C:
			ws.mu.RLock()
			conn := ws.conn
			ws.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("kraken: websocket ping failed")
				ws.closeConn()
				return
			}
		}
	}
}

func (ws *wsClient) closeConn() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
}

func (ws *wsClient) close() error {
	ws.closeOnce.Do(func() { close(ws.closeCh) })
	ws.closeConn()
	return nil
}
