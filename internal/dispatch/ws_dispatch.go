package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-session/internal/observability"
)

var (
	ErrHubClosed = errors.New("dispatch: hub closed")
	ErrNoClient  = errors.New("dispatch: no such client")
)

const writeWait = 5 * time.Second

// wsClient is one connected UI. Writes are serialized per connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub fans session updates out to every connected websocket client.
// Clients that fail a write are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*wsClient
	next    uint64
	closed  bool
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[uint64]*wsClient), logger: logger.With("component", "ws_hub")}
}

// Add registers conn and returns its id. The hub owns the connection
// from here on.
func (h *Hub) Add(conn *websocket.Conn) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHubClosed
	}
	h.next++
	h.clients[h.next] = &wsClient{conn: conn}
	observability.UIClients.Set(float64(len(h.clients)))
	return h.next, nil
}

func (h *Hub) Remove(id uint64) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	observability.UIClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes v to a single client.
func (h *Hub) Send(id uint64, v any) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoClient
	}
	return c.send(v)
}

// Broadcast writes v to every client and returns how many received it.
func (h *Hub) Broadcast(v any) int {
	h.mu.RLock()
	targets := make(map[uint64]*wsClient, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.RUnlock()

	sent := 0
	for id, c := range targets {
		if err := c.send(v); err != nil {
			h.logger.Info("dropping ui client", "client", id, "error", err)
			h.Remove(id)
			continue
		}
		sent++
	}
	return sent
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uint64]*wsClient)
	h.closed = true
	observability.UIClients.Set(0)
	h.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}
