package wsfront

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tickerfan/tickerfan/internal/subscription"
	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// outboundItem is one queued frame plus the metadata the drop policy
// needs: which view it belongs to and whether it is droppable.
type outboundItem struct {
	view     viewkey.ViewKey
	env      subscription.Envelope
	critical bool
}

// Conn adapts one gorilla/websocket connection to the
// subscription.Sink interface, serializing all outbound writes through
// a single writer goroutine and a bounded queue (spec §4.E,
// §5 Backpressure).
type Conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	queue   []outboundItem
	maxSize int
	notify  chan struct{}
	closed  bool
	metrics connMetrics
}

func newConn(ws *websocket.Conn, maxSize int, metrics connMetrics) *Conn {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Conn{ws: ws, maxSize: maxSize, notify: make(chan struct{}, 1), metrics: metrics}
}

// Send implements subscription.Sink. It enqueues env for delivery,
// applying the drop policy from spec §5: "status", "error" and "data"
// frames are never dropped; when the queue is full, an older "update"-
// class frame for the same view is evicted to make room.
func (c *Conn) Send(ctx context.Context, view viewkey.ViewKey, env subscription.Envelope) error {
	item := outboundItem{view: view, env: env, critical: env.Critical()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}

	if len(c.queue) < c.maxSize {
		c.queue = append(c.queue, item)
		c.mu.Unlock()
		c.wake()
		return nil
	}

	if !item.critical {
		if idx := c.findDroppableForView(view); idx >= 0 {
			c.queue[idx] = item
			c.mu.Unlock()
			c.drop("replaced_stale_update")
			c.wake()
			return nil
		}
		// No room and nothing droppable to make way for it: the
		// producer simply drops this non-critical update.
		c.mu.Unlock()
		c.drop("queue_full_non_critical")
		return nil
	}

	if idx := c.findDroppableAny(); idx >= 0 {
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		c.queue = append(c.queue, item)
		c.mu.Unlock()
		c.drop("evicted_for_critical")
		c.wake()
		return nil
	}
	c.mu.Unlock()

	// Critical frame and the queue is saturated with other critical
	// frames: spec §5 says the connection is closed in this case.
	c.closeWithError("outbound queue saturated with critical frames")
	return errClosed
}

func (c *Conn) drop(reason string) {
	if c.metrics != nil {
		c.metrics.IncQueueDrop(reason)
	}
}

func (c *Conn) findDroppableForView(view viewkey.ViewKey) int {
	for i, it := range c.queue {
		if !it.critical && it.view == view {
			return i
		}
	}
	return -1
}

func (c *Conn) findDroppableAny() int {
	for i, it := range c.queue {
		if !it.critical {
			return i
		}
	}
	return -1
}

func (c *Conn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) pop() (outboundItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return outboundItem{}, false
	}
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item, true
}

// writeLoop drains the outbound queue onto the socket, one frame at a
// time, so concurrent listener tasks and the pinger never interleave
// partial writes (spec §4.E).
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		for {
			item, ok := c.pop()
			if !ok {
				break
			}
			if err := c.writeEnvelope(item.env); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}
	}
}

func (c *Conn) writeEnvelope(env subscription.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("wsfront: failed to marshal outbound envelope")
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) closeWithError(reason string) {
	log.Warn().Str("reason", reason).Msg("wsfront: closing connection")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.ws.Close()
}

var errClosed = &connClosedError{}

type connClosedError struct{}

func (e *connClosedError) Error() string { return "wsfront: connection closed" }
