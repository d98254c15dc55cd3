// Package api provides HTTP handlers for the alerts API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/alertbot/internal/session"
	"github.com/ashureev/alertbot/internal/store"
)

// DefaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const DefaultMaxRequestBodySize = 1 << 20

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Handler provides common handler dependencies.
type Handler struct {
	sessions     *session.Store
	feedback     store.FeedbackRepository
	validator    *Validator
	maxBodySize  int64
	now          func() time.Time
	onInvalidate []func(sessionID string)
}

// Option customizes a Handler.
type Option func(*Handler)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithInvalidateHook registers fn to run after a session is invalidated.
func WithInvalidateHook(fn func(sessionID string)) Option {
	return func(h *Handler) { h.onInvalidate = append(h.onInvalidate, fn) }
}

// WithMaxBodySize caps decoded request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *session.Store, feedback store.FeedbackRepository, opts ...Option) *Handler {
	h := &Handler{
		sessions:    sessions,
		feedback:    feedback,
		validator:   NewValidator(),
		maxBodySize: DefaultMaxRequestBodySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
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

// DecodeJSON reads at most maxBytes of r's body into dst. An empty body is
// reported as io.EOF so callers can treat it as optional.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// DecodeStatus maps a DecodeJSON error to its HTTP status and message.
func DecodeStatus(err error) (int, string) {
	if errors.Is(err, ErrBodyTooLarge) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	return http.StatusBadRequest, "invalid request body"
}
