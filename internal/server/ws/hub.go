// Package ws bridges the engine's event channel to websocket clients, so
// overlays and dashboards see bets, locks, and resolutions as they commit.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamwager/wagerd/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming messages; clients only send pongs.
	maxMessageSize = 512

	// sendBufferSize is the per-client outgoing buffer. A client that falls
	// this far behind is dropped rather than allowed to stall the hub.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans event payloads from the signal bus out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	logger     *slog.Logger

	// done is closed when Run exits, releasing any goroutine still trying
	// to hand a client to the register or unregister channels.
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a Hub reading the given pub/sub channel.
func NewHub(bus domain.SignalBus, channel string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channel:    channel,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run pumps bus messages to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "websocket hub started", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				h.closeAll()
				return nil
			}
			h.fanOut(payload)
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		}
	}
}

func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; disconnect it rather than blocking the hub.
			go func(c *client) {
				select {
				case h.unregister <- c:
				case <-h.done:
				}
			}(c)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a websocket connection and attaches
// it to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		// Hub already stopped; refuse the connection instead of blocking.
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection to process control frames and detect
// disconnects. Client payloads are ignored.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub messages to the connection and keeps it alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
