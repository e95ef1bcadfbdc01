package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/api"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/identity"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 64 << 10
)

// Frame types.
const (
	TypeMessage = "message"
	TypeReply   = "reply"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeReset   = "reset"
	TypeError   = "error"
)

// Inbound is a client frame. An empty Type means "message".
type Inbound struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type string `json:"type"`
	*api.ChatResponse
	Error string `json:"error,omitempty"`
}

// Handler upgrades /ws/chat and runs one turn per inbound message.
type Handler struct {
	turns          api.Turns
	hub            *Hub
	limiter        *api.RateLimiter
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a websocket chat handler. A nil limiter disables throttling.
func NewHandler(turns api.Turns, hub *Hub, limiter *api.RateLimiter, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:          turns,
		hub:            hub,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is checked above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	connID := uuid.NewString()
	h.logger.Info("Chat connection opened", "user_id", userID, "session_id", sessionID, "conn_id", connID)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "conn_id", connID)
		}
	}()

	h.hub.Register(userID, sessionID, ws)
	defer h.hub.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID, connID)
	h.logger.Info("Chat connection closed", "user_id", userID, "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID, connID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "conn_id", connID)
			} else if ctx.Err() == nil {
				h.logger.Debug("WebSocket read ended", "error", err, "conn_id", connID)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.write(ctx, ws, Outbound{Type: TypeError, Error: "invalid frame"})
			continue
		}

		switch in.Type {
		case "", TypeMessage:
			h.handleMessage(ctx, ws, userID, sessionID, in)
		case TypePing:
			h.write(ctx, ws, Outbound{Type: TypePong})
		case TypeReset:
			key := session.Key(pipeline.ChannelWeb, userID, sessionID)
			if err := h.turns.Reset(ctx, key); err != nil {
				h.logger.Error("Failed to reset session", "session_key", key, "error", err)
				h.write(ctx, ws, Outbound{Type: TypeError, Error: "failed to reset session"})
				continue
			}
			h.write(ctx, ws, Outbound{Type: TypeReset})
		default:
			h.write(ctx, ws, Outbound{Type: TypeError, Error: "unknown frame type"})
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, ws *websocket.Conn, userID, sessionID string, in Inbound) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		h.write(ctx, ws, Outbound{Type: TypeError, Error: "message is required"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.write(ctx, ws, Outbound{Type: TypeError, Error: "rate limit exceeded"})
		return
	}

	out, err := h.turns.Handle(ctx, api.WebTurn(userID, sessionID, message, in.Role, pipeline.ChannelWeb))
	if err != nil {
		h.logger.Warn("Chat turn not persisted", "user_id", userID, "session_id", sessionID, "error", err)
	}
	resp := api.NewChatResponse(out)
	h.write(ctx, ws, Outbound{Type: TypeReply, ChatResponse: &resp})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v Outbound) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode frame", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
	}
}
