package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// ErrNoActiveConnections is returned when an in-app notification targets a
// user without a live socket.
var ErrNoActiveConnections = errors.New("no active connections for user")

const writeWait = 10 * time.Second

// Hub tracks live WebSocket connections per user for in-app delivery.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string][]*websocket.Conn
	upgrader websocket.Upgrader
	logger   logr.Logger
}

// NewHub creates an empty connection hub.
func NewHub(logger logr.Logger) *Hub {
	return &Hub{
		conns: make(map[string][]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.WithName("inapp-hub"),
	}
}

// ServeWS upgrades an HTTP request to a WebSocket and registers it for the
// user. The connection is read-drained until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.register(userID, conn)
	h.logger.Info("client connected", "userID", userID)

	go func() {
		defer func() {
			h.unregister(userID, conn)
			conn.Close()
			h.logger.Info("client disconnected", "userID", userID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[userID] = append(h.conns[userID], conn)
}

func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[userID]
	for i, c := range conns {
		if c == conn {
			h.conns[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// SendToUser writes the payload to every live connection for the user.
// Delivery succeeds if at least one write goes through.
func (h *Hub) SendToUser(userID string, payload interface{}) error {
	h.mu.RLock()
	conns := append([]*websocket.Conn(nil), h.conns[userID]...)
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoActiveConnections
	}

	delivered := false
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.V(1).Info("write failed, dropping connection", "userID", userID, "error", err.Error())
			h.unregister(userID, conn)
			conn.Close()
			continue
		}
		delivered = true
	}
	if !delivered {
		return ErrNoActiveConnections
	}
	return nil
}

// ConnectionCount reports live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// InAppChannel delivers notifications to live WebSocket clients through a Hub.
type InAppChannel struct {
	name string
	hub  *Hub
}

// NewInAppChannel creates an in-app channel backed by the hub.
func NewInAppChannel(name string, hub *Hub) *InAppChannel {
	return &InAppChannel{name: name, hub: hub}
}

// Name returns the channel name used in subscriptions.
func (c *InAppChannel) Name() string { return c.name }

// Send pushes the notification to the recipient's live connections.
func (c *InAppChannel) Send(_ context.Context, n *Notification) error {
	return c.hub.SendToUser(n.To, n)
}
