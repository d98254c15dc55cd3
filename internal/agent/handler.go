package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/alertbot/internal/api"
	"github.com/ashureev/alertbot/internal/config"
	"github.com/ashureev/alertbot/internal/identity"
	"github.com/ashureev/alertbot/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handler serves chat turns over SSE and WebSocket.
type Handler struct {
	agent          *Service
	conns          *ConnRegistry
	rateLimiter    *RateLimiter
	validator      *api.Validator
	streamTimeout  time.Duration
	maxBodySize    int64
	originPatterns []string
}

// NewHandler creates the chat handler. A nil cfg uses config.Default().
func NewHandler(svc *Service, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handler{
		agent:          svc,
		conns:          NewConnRegistry(),
		rateLimiter:    NewRateLimiter(cfg.Limits.RateLimitRequests, cfg.Limits.RateLimitWindow),
		validator:      api.NewValidator(),
		streamTimeout:  cfg.Stream.Timeout,
		maxBodySize:    cfg.Limits.MaxRequestBodySize,
		originPatterns: websocketOriginPatterns(cfg.AllowedOrigins),
	}
}

// HandleMessage handles POST /api/message: it records the user's message and
// streams the staged bot replies as server-sent events.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		if identity.SessionIDSupplied(r) {
			api.Error(w, http.StatusNotFound, "session not found")
			return
		}
		api.Error(w, http.StatusBadRequest, "missing "+identity.SessionHeaderName+" header")
		return
	}

	if !h.rateLimiter.Allow(identity.IPFromRequest(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req MessageRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		status, msg := api.DecodeStatus(err)
		api.Error(w, status, msg)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := h.validator.ValidateStruct(req); err != nil {
		api.Error(w, http.StatusBadRequest, api.ValidationMessage(err))
		return
	}

	turn, err := h.agent.StartTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			api.Error(w, http.StatusNotFound, "session not found")
		case r.Context().Err() != nil:
			slog.Debug("Client left while waiting for turn", "session_id", sessionID)
		default:
			slog.Error("Failed to start turn", "session_id", sessionID, "error", err)
			api.Error(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	stream, err := NewSSEStream(w, h.streamTimeout)
	if err != nil {
		turn.Release()
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	slog.Info("Chat turn started",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)
	h.serveTurn(r.Context(), stream, turn)
}

// serveTurn runs the worker and returns only after it has exited, since the
// transport must not be touched after the handler returns.
func (h *Handler) serveTurn(ctx context.Context, stream *EventStream, turn *Turn) {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		h.agent.RunTurn(ctx, stream, turn)
	}()

	select {
	case <-workerDone:
	case <-ctx.Done():
		stream.CloseWithError(fmt.Errorf("client disconnected: %w", context.Cause(ctx)))
		<-workerDone
	}

	if !stream.Completed() {
		stream.CloseWithError(errors.New("turn ended without closing stream"))
	}
	if err := stream.Err(); err != nil {
		slog.Debug("Stream completed with error", "session_id", turn.SessionID, "error", err)
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/message", h.HandleMessage)
	r.Get("/api/ws", h.HandleWebSocket)
}

// CloseSession drops any WebSocket attached to an invalidated session.
func (h *Handler) CloseSession(sessionID string) {
	h.conns.CloseSession(sessionID)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}
