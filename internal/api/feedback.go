package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/metrics"
	"github.com/ashureev/alertbot/internal/store"
	"github.com/go-chi/chi/v5"
)

// FeedbackHandler handles satisfaction feedback endpoints.
type FeedbackHandler struct {
	*Handler
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(base *Handler) *FeedbackHandler {
	return &FeedbackHandler{Handler: base}
}

// RegisterRoutes registers feedback routes.
func (h *FeedbackHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/feedback", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/export", h.Export)
	})
}

// Submit records one feedback entry for an existing session.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var f domain.Feedback
	if err := DecodeJSON(w, r, h.maxBodySize, &f); err != nil {
		status, msg := DecodeStatus(err)
		metrics.RecordFeedback("rejected")
		Error(w, status, msg)
		return
	}
	f.SessionID = strings.TrimSpace(f.SessionID)
	if err := h.validator.ValidateStruct(f); err != nil {
		metrics.RecordFeedback("rejected")
		Error(w, http.StatusBadRequest, ValidationMessage(err))
		return
	}

	s, ok := h.sessions.Get(f.SessionID)
	if !ok {
		metrics.RecordFeedback("rejected")
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	f.FillFrom(s)
	f.Timestamp = h.now()

	if err := h.feedback.SaveFeedback(r.Context(), &f); err != nil {
		slog.Error("Failed to save feedback", "session_id", f.SessionID, "error", err)
		metrics.RecordFeedback("error")
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}

	metrics.RecordFeedback("saved")
	slog.Info("Feedback saved", "session_id", f.SessionID, "satisfactory", f.SatisfactoryMessage)
	w.WriteHeader(http.StatusOK)
}

// Export streams every feedback record as CSV.
func (h *FeedbackHandler) Export(w http.ResponseWriter, r *http.Request) {
	rows, err := h.feedback.ListFeedback(r.Context())
	if err != nil {
		slog.Error("Failed to list feedback", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export feedback")
		return
	}

	var buf bytes.Buffer
	if err := store.WriteFeedbackCSV(&buf, rows); err != nil {
		slog.Error("Failed to render feedback CSV", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export feedback")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="feedback.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write feedback export", "error", err)
	}
}
