// Package chatws serves the assistant over a websocket, one active connection per browser session.
package chatws

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks the active websocket of every identity and session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates an empty hub. A nil logger falls back to slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register makes conn the active connection of the user/session, closing the one it replaces.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	replaced := h.active[userID][sessionID]
	h.active[userID][sessionID] = conn
	h.mu.Unlock()

	// Close waits for the peer's close handshake; the new connection must not wait on it.
	if replaced != nil && replaced != conn {
		go func() { _ = replaced.Close(websocket.StatusPolicyViolation, "session replaced") }()
	}
	h.logger.Info("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the active connection.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.active, userID)
		}
		h.logger.Info("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// Len returns the number of active connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every active connection, e.g. on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var conns []*websocket.Conn
	for userID, sessions := range h.active {
		for _, conn := range sessions {
			conns = append(conns, conn)
		}
		delete(h.active, userID)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
