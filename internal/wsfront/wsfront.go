// Package wsfront is the WebSocket front described in spec §4.E: it
// accepts a connection, validates an optional bearer token, and runs a
// reader/writer/pinger trio until one exits, at which point it tears
// the connection down via SubscriptionService.HandleDisconnect.
package wsfront

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/registry"
	"github.com/tickerfan/tickerfan/internal/subscription"
	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// connMetrics is the subset of metrics.Registry that wsfront touches,
// kept as an interface so this package never imports internal/metrics
// directly (metrics already imports streaming, and this keeps the
// dependency edge one-directional).
type connMetrics interface {
	IncConnections()
	DecConnections()
	IncQueueDrop(reason string)
}

type noopMetrics struct{}

func (noopMetrics) IncConnections()     {}
func (noopMetrics) DecConnections()     {}
func (noopMetrics) IncQueueDrop(string) {}

// TokenValidator validates a bearer token extracted from the Authorization
// header, yielding the authenticated user id (spec §4.E: "validates the
// bearer token if present, yielding an optional user_id").
type TokenValidator interface {
	Validate(ctx context.Context, token string) (userID string, ok bool)
}

// clientMessage is the shape of every inbound WebSocket frame (spec §6).
type clientMessage struct {
	Type       string `json:"type"`
	Market     string `json:"market"`
	Provider   string `json:"provider"`
	Symbol     string `json:"symbol"`
	StreamType string `json:"stream_type"`
	Timeframe  string `json:"timeframe"`
	Since      *int64 `json:"since"`
}

// Server upgrades HTTP connections to the streaming WebSocket protocol
// and wires each one to a SubscriptionService.
type Server struct {
	svc          *subscription.Service
	validator    TokenValidator
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	queueSize    int
	metrics      connMetrics
}

// Config bundles Server construction parameters.
type Config struct {
	PingInterval   time.Duration // WS_PING_INTERVAL_SEC, default 10s
	OutboundQueue  int           // default 256
	TrustedOrigins []string
	Validator      TokenValidator // optional; when nil, requests without a token are accepted and any bearer token is rejected
	Metrics        connMetrics    // optional; nil disables connection/drop metrics
}

// NewServer constructs a wsfront Server bound to svc.
func NewServer(svc *subscription.Service, cfg Config) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 256
	}
	origins := make(map[string]struct{}, len(cfg.TrustedOrigins))
	for _, o := range cfg.TrustedOrigins {
		origins[o] = struct{}{}
	}
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Server{
		svc:       svc,
		validator: cfg.Validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		pingInterval: cfg.PingInterval,
		queueSize:    cfg.OutboundQueue,
		metrics:      m,
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, authorized := s.authenticate(r)
	if !authorized {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wsfront: upgrade failed")
		return
	}

	connID := registry.ConnID(uuid.NewString())
	conn := newConn(ws, s.queueSize, s.metrics)
	s.svc.RegisterConnection(connID, conn)
	s.metrics.IncConnections()

	log.Info().Str("conn", string(connID)).Str("user_id", userID).Msg("wsfront: connection accepted")
	conn.run(context.Background(), s.svc, connID, userID, s.pingInterval)

	s.svc.HandleDisconnect(context.Background(), connID)
	s.metrics.DecConnections()
	log.Info().Str("conn", string(connID)).Msg("wsfront: connection closed")
}

// authenticate extracts and validates the bearer token, if any. A
// missing Authorization header is always permitted (anonymous access);
// a present-but-invalid token is rejected.
func (s *Server) authenticate(r *http.Request) (userID string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", true
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", false
	}
	if s.validator == nil {
		return "", false
	}
	return s.validator.Validate(r.Context(), token)
}

// run drives the reader/writer/pinger trio for one connection until any
// of them exits (spec §4.E).
func (c *Conn) run(ctx context.Context, svc *subscription.Service, connID registry.ConnID, userID string, pingInterval time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exit := make(chan struct{}, 3)
	go func() { defer signalExit(exit); c.readLoop(runCtx, svc, connID, userID) }()
	go func() { defer signalExit(exit); c.writeLoop(runCtx) }()
	go func() { defer signalExit(exit); c.pingLoop(runCtx, pingInterval) }()

	<-exit
	cancel()
	c.ws.Close()
	<-exit
	<-exit
}

func signalExit(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// readLoop decodes inbound JSON frames and dispatches subscribe /
// unsubscribe requests (spec §4.E, "reader").
func (c *Conn) readLoop(ctx context.Context, svc *subscription.Service, connID registry.ConnID, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("wsfront: malformed client frame")
			continue
		}

		switch msg.Type {
		case "subscribe":
			svc.HandleSubscribe(ctx, connID, subscription.Request{
				Market: msg.Market, Provider: msg.Provider, Symbol: msg.Symbol,
				StreamType: msg.StreamType, Timeframe: msg.Timeframe, SinceMs: msg.Since, UserID: userID,
			})
		case "unsubscribe":
			svc.HandleUnsubscribe(ctx, connID, subscription.Request{
				Market: msg.Market, Provider: msg.Provider, Symbol: msg.Symbol,
				StreamType: msg.StreamType, Timeframe: msg.Timeframe, UserID: userID,
			})
		case "ping", "pong":
			// heartbeat frames carry no payload to act on
		default:
			log.Debug().Str("type", msg.Type).Msg("wsfront: ignoring unknown frame type")
		}
	}
}

// pingLoop enqueues a ping frame on pingInterval until ctx is cancelled
// (spec §4.E, "pinger").
func (c *Conn) pingLoop(ctx context.Context, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Send(ctx, viewkey.ViewKey{}, subscription.Envelope{Type: "ping"})
		}
	}
}

