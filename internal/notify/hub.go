package notify

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

// Hub tracks live WebSocket connections keyed by user id. It is the
// process-wide connection registry behind the Pusher capability: callers
// depend on Push, not on the transport.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and keeps the connection registered until
// the client disconnects. A reconnect replaces the previous connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}

	h.register(userID, conn)
	h.logger.Info("client connected", "user_id", userID)

	// Drain the connection; we never expect inbound messages, but reading
	// is what detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(userID, conn)
	_ = conn.Close()
	h.logger.Info("client disconnected", "user_id", userID)
}

func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[userID]; ok {
		_ = old.conn.Close()
	}
	h.clients[userID] = &client{conn: conn}
}

func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[userID]; ok && current.conn == conn {
		delete(h.clients, userID)
	}
}

// Connected reports whether the user currently has a live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Push delivers a notification to the user if they are connected. Delivery
// is best effort: an absent or broken connection drops the message.
func (h *Hub) Push(userID string, n domain.Notification) bool {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	err := c.conn.WriteJSON(n)
	c.mu.Unlock()
	if err != nil {
		h.logger.Error("failed to push notification", "error", err, "user_id", userID)
		return false
	}

	return true
}
