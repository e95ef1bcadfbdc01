// Package api provides HTTP handlers for the logistics assistant.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBody = 64 << 10

// Turns runs and resets conversation turns; *session.Manager satisfies it.
type Turns interface {
	Handle(ctx context.Context, t session.Turn) (session.Outcome, error)
	Reset(ctx context.Context, key string) error
}

// Handler serves the web chat endpoints.
type Handler struct {
	turns   Turns
	limiter *RateLimiter
	maxBody int64
	logger  *slog.Logger
}

// NewHandler creates a new Handler. A nil limiter disables throttling.
func NewHandler(turns Turns, limiter *RateLimiter, maxBody int64, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:   turns,
		limiter: limiter,
		maxBody: maxBody,
		logger:  logger,
	}
}

// RegisterRoutes mounts the chat endpoints. The router must run identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/session/reset", h.HandleReset)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
