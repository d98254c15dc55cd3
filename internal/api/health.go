package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const readinessTimeout = 2 * time.Second

// HealthHandler reports whether the service's dependencies are reachable.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers the readiness probe. Liveness is chi's Heartbeat.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/ready", h.Ready)
}

// Ready pings the feedback store and reports live session count.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := h.feedback.Ping(ctx); err != nil {
		slog.Warn("Readiness check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"feedback": "unreachable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}
