package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/authz"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/identity"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Role    string `json:"role,omitempty"`
}

// ChatResponse is the reply to POST /api/chat.
type ChatResponse struct {
	Reply      string           `json:"reply"`
	Status     pipeline.Status  `json:"status"`
	Intent     intent.Label     `json:"intent"`
	LastResult *pipeline.Result `json:"last_result"`
	Pending    []string         `json:"pending,omitempty"`
	TurnID     string           `json:"turn_id"`
}

// NewChatResponse flattens a turn outcome for JSON transports.
func NewChatResponse(out session.Outcome) ChatResponse {
	resp := ChatResponse{
		Reply:      out.Response.Reply,
		Intent:     out.Response.Intent,
		LastResult: out.Response.LastResult,
		Pending:    out.Response.Pending,
		TurnID:     out.TurnID,
	}
	if out.Response.LastResult != nil {
		resp.Status = out.Response.LastResult.Status
	}
	return resp
}

// WebTurn builds the turn of a browser identity.
func WebTurn(userID, sessionID, message, role string, channel pipeline.Channel) session.Turn {
	return session.Turn{
		Subject: userID,
		Thread:  sessionID,
		Message: message,
		Role:    authz.ParseRole(role),
		Channel: channel,
		Meta:    map[string]any{"role": role},
	}
}

// HandleChat runs one turn for the calling browser session.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if !id.Valid() {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}
	userID, sessionID := id.UserID, id.SessionID

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.logger.Warn("Chat rate limit exceeded", "user_id", userID, "remote_ip", identity.IPFromRequest(r))
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	out, err := h.turns.Handle(r.Context(), WebTurn(userID, sessionID, req.Message, req.Role, pipeline.ChannelWeb))
	if err != nil {
		// The reply is valid; only the continuation was not saved.
		h.logger.Warn("Chat turn not persisted", "user_id", userID, "session_id", sessionID, "error", err)
	}
	JSON(w, http.StatusOK, NewChatResponse(out))
}

// HandleReset drops the continuation of the calling browser session.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if !id.Valid() {
		Error(w, http.StatusUnauthorized, "missing identity")
		return
	}
	userID, sessionID := id.UserID, id.SessionID

	key := session.Key(pipeline.ChannelWeb, userID, sessionID)
	if err := h.turns.Reset(r.Context(), key); err != nil {
		h.logger.Error("Failed to reset session", "session_key", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
