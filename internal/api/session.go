package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/invalidate/{id}", h.Invalidate)
		r.Get("/{id}", h.Get)
	})
}

// Create opens a new session, optionally tagged with customer identifiers.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var info domain.UserInfo
	if err := DecodeJSON(w, r, h.maxBodySize, &info); err != nil && !errors.Is(err, io.EOF) {
		status, msg := DecodeStatus(err)
		Error(w, status, msg)
		return
	}

	s := h.sessions.Create(info.Trimmed())
	metrics.RecordSessionCreated()
	slog.Info("Session created", "session_id", s.ID, "customer_id", s.CustomerID)
	JSON(w, http.StatusOK, s)
}

// Get returns the session snapshot, refreshing its idle clock.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.sessions.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

// Invalidate removes the session. Unknown ids succeed too.
func (h *SessionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.sessions.Invalidate(id) {
		metrics.RecordSessionInvalidated()
	}
	for _, fn := range h.onInvalidate {
		fn(id)
	}
	slog.Info("Session invalidated", "session_id", id)
	w.WriteHeader(http.StatusOK)
}
