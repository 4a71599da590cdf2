package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/botfleet/internal/bots"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 16
)

// Hub fans registry transitions out to websocket subscribers of the
// status feed. Network writes never happen under the hub lock: each
// subscriber has a buffered outbox drained by its own goroutine, so one
// slow peer cannot stall Broadcast or the lifecycle hooks behind it.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan bots.ChangeEvent
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Attach subscribes a freshly upgraded connection and queues the registry
// snapshot as its first events. The connection is read from in the
// background only to notice when the peer goes away.
func (h *Hub) Attach(conn *websocket.Conn, snapshot []bots.ChangeEvent) {
	c := &hubClient{
		conn: conn,
		send: make(chan bots.ChangeEvent, len(snapshot)+wsSendBuffer),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	// Queued under the lock so a Broadcast cannot slip in between the
	// snapshot and the registration. The outbox has room for the whole
	// snapshot, so this never blocks.
	for _, ev := range snapshot {
		c.send <- ev
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast queues one transition for every subscriber. A subscriber whose
// outbox is full is dropped rather than waited on.
func (h *Hub) Broadcast(ev bots.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("status subscriber too slow, dropping")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects every subscriber and rejects future attachments.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// drop unsubscribes a client. Only the hub closes the outbox, and only
// once, guarded by map membership.
func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer func() { _ = c.conn.Close() }()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.logger.Warn("status subscriber dropped", "error", err)
			h.drop(c)
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) readLoop(c *hubClient) {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			h.drop(c)
			return
		}
	}
}

// ClientCount reports the number of attached subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
