//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/metrics"
	"github.com/ashureev/alertbot/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "session not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "session not found" {
		t.Errorf("Expected error message, got %v", got)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFeedbackRepo struct {
	mu      sync.Mutex
	saved   []domain.Feedback
	saveErr error
}

func (r *fakeFeedbackRepo) SaveFeedback(_ context.Context, f *domain.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, *f)
	return nil
}

func (r *fakeFeedbackRepo) ListFeedback(context.Context) ([]domain.Feedback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Feedback(nil), r.saved...), nil
}

func (r *fakeFeedbackRepo) Ping(context.Context) error { return nil }
func (r *fakeFeedbackRepo) Close() error               { return nil }

type testEnv struct {
	router   http.Handler
	sessions *session.Store
	feedback *fakeFeedbackRepo
	clock    *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	sessions := session.NewStore(session.StoreConfig{
		MaxMessages: 100,
		Timeout:     30 * time.Minute,
		Now:         clock.Now,
	})
	repo := &fakeFeedbackRepo{}
	base := NewHandler(sessions, repo, append([]Option{WithClock(clock.Now)}, opts...)...)

	r := chi.NewRouter()
	NewSessionHandler(base).RegisterRoutes(r)
	NewFeedbackHandler(base).RegisterRoutes(r)
	NewHealthHandler(base).RegisterHealth(r)

	return &testEnv{router: r, sessions: sessions, feedback: repo, clock: clock}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T, body string) domain.Session {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/session", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create session status = %d, body %s", rec.Code, rec.Body.String())
	}
	var s domain.Session
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.createSession(t, `{"customerId":" cust-1 ","ecn":"ecn-1","xaId":"xa-1"}`)

	if created.ID == "" || !created.Active {
		t.Fatalf("unexpected session %+v", created)
	}
	if created.CustomerID != "cust-1" || created.ECN != "ecn-1" || created.XAID != "xa-1" {
		t.Errorf("identifiers not stored: %+v", created)
	}

	rec := env.do(http.MethodGet, "/api/session/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var raw map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"sessionId", "createdAt", "lastAccessedAt", "active", "messages"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("session JSON missing %q: %v", key, raw)
		}
	}
}

func TestSessionHandler_CreateWithoutBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.createSession(t, "")
	if s.CustomerID != "" {
		t.Errorf("expected anonymous session, got %+v", s)
	}
	if env.sessions.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", env.sessions.Len())
	}
}

func TestSessionHandler_CreateRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/session", `{"customerId":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionHandler_GetUnknown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if rec := env.do(http.MethodGet, "/api/session/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionHandler_IdleSessionIsSwept(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.createSession(t, "")

	env.clock.Advance(31 * time.Minute)
	if removed := env.sessions.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 session, removed %d", removed)
	}

	if rec := env.do(http.MethodGet, "/api/session/"+s.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 after idle timeout", rec.Code)
	}
}

func TestSessionHandler_InvalidateIsIdempotent(t *testing.T) {
	t.Parallel()

	var invalidated []string
	env := newTestEnv(t, WithInvalidateHook(func(id string) { invalidated = append(invalidated, id) }))
	s := env.createSession(t, "")

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/api/session/invalidate/"+s.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("invalidate #%d status = %d", i+1, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("invalidate should return an empty body, got %q", rec.Body.String())
		}
	}
	if rec := env.do(http.MethodGet, "/api/session/"+s.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 after invalidate", rec.Code)
	}
	if len(invalidated) != 2 || invalidated[0] != s.ID {
		t.Errorf("hook calls = %v", invalidated)
	}
}

func TestSessionHandler_InvalidateUpdatesActiveGauge(t *testing.T) {
	env := newTestEnv(t)
	reg := metrics.NewRegistry()
	s := env.createSession(t, "")
	before := gatherGauge(t, reg, "alertbot_sessions_active")

	env.do(http.MethodGet, "/api/session/invalidate/"+s.ID, "")
	env.do(http.MethodGet, "/api/session/invalidate/"+s.ID, "")

	if got := gatherGauge(t, reg, "alertbot_sessions_active"); got != before-1 {
		t.Fatalf("sessions_active = %v, want %v", got, before-1)
	}
}

func gatherGauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestFeedbackHandler_FillsIdentifiersFromSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.createSession(t, `{"customerId":"cust-7","ecn":"ecn-7","xaId":"xa-7"}`)

	body := `{"sessionId":"` + s.ID + `","ecn":"override","originalPromptMessage":"subscribe","satisfactoryMessage":"yes","reason":"fast"}`
	rec := env.do(http.MethodPost, "/api/feedback", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}

	if len(env.feedback.saved) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(env.feedback.saved))
	}
	got := env.feedback.saved[0]
	if got.CustomerID != "cust-7" || got.XAID != "xa-7" {
		t.Errorf("missing identifiers not filled: %+v", got)
	}
	if got.ECN != "override" {
		t.Errorf("supplied identifiers must be kept, got ECN %q", got.ECN)
	}
	if !got.Timestamp.Equal(env.clock.Now()) {
		t.Errorf("timestamp = %v, want server time %v", got.Timestamp, env.clock.Now())
	}
}

func TestFeedbackHandler_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.createSession(t, "")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing session id", `{"reason":"x"}`, http.StatusBadRequest},
		{"unknown session", `{"sessionId":"nope"}`, http.StatusNotFound},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(http.MethodPost, "/api/feedback", tt.body); rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	env.feedback.saveErr = errors.New("disk full")
	if rec := env.do(http.MethodPost, "/api/feedback", `{"sessionId":"`+s.ID+`"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 on persist failure", rec.Code)
	}
}

func TestFeedbackHandler_Export(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.createSession(t, `{"customerId":"c1"}`)
	if rec := env.do(http.MethodPost, "/api/feedback", `{"sessionId":"`+s.ID+`","reason":"ok"}`); rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/feedback/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 || records[0][0] != "CustomerId" || records[1][0] != "c1" || records[1][4] != s.ID {
		t.Fatalf("unexpected export %v", records)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createSession(t, "")

	rec := env.do(http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" || got["sessions"] != float64(1) {
		t.Errorf("unexpected readiness %v", got)
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"`+strings.Repeat("a", 64)+`"}`))
	rec := httptest.NewRecorder()
	var dst map[string]string
	err := DecodeJSON(rec, req, 16, &dst)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if status, _ := DecodeStatus(err); status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", status)
	}
}

func TestValidationMessage(t *testing.T) {
	t.Parallel()

	err := NewValidator().ValidateStruct(domain.Feedback{})
	if got := ValidationMessage(err); got != "sessionId is required" {
		t.Errorf("ValidationMessage = %q", got)
	}
}
