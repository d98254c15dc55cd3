package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/alertbot/internal/config"
	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T, f *fixture) (http.Handler, *Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.RateLimitRequests = 1000
	h := NewHandler(f.svc, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware())
	h.RegisterRoutes(r)
	return r, h
}

func postMessage(router http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if sessionID != "" {
		req.Header.Set(identity.SessionHeaderName, sessionID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleMessage_RejectsBeforeStreaming(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router, _ := newTestRouter(t, f)
	id := f.newSession()

	tests := []struct {
		name      string
		sessionID string
		body      string
		status    int
	}{
		{"missing session header", "", `{"message":"subscribe"}`, http.StatusBadRequest},
		{"empty body", id, ``, http.StatusBadRequest},
		{"blank message", id, `{"message":"   "}`, http.StatusBadRequest},
		{"malformed json", id, `{"message":`, http.StatusBadRequest},
		{"unknown session", "no-such-session", `{"message":"subscribe"}`, http.StatusNotFound},
		{"malformed session id", "bad id!", `{"message":"subscribe"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(router, tt.sessionID, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %v (%v)", body, err)
			}
		})
	}

	if n := len(f.history(t, id)); n != 0 {
		t.Fatalf("rejected requests must not touch history, got %d messages", n)
	}
}

func TestHandleMessage_StreamsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router, _ := newTestRouter(t, f)
	id := f.newSession()

	rec := postMessage(router, id, `{"message":"I want to subscribe via sms to account 123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	events := parseSSE(t, rec.Body.String())
	var texts []string
	for _, ev := range events {
		if ev.name != EventMessage {
			t.Fatalf("unexpected event %q", ev.name)
		}
		var m domain.Message
		if err := json.Unmarshal([]byte(ev.data), &m); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if m.Sender != domain.SenderBot || m.SessionID != id {
			t.Errorf("unexpected message envelope %+v", m)
		}
		texts = append(texts, m.Text)
	}
	assertSequence(t, texts, []string{
		MsgAcknowledge,
		"You are requesting to subscribe to an alert.",
		MsgValidating,
		MsgValidationOK,
		"You have been successfully subscribed to the alert.",
	})

	history := f.history(t, id)
	if history[0].Sender != domain.SenderUser || history[0].Text != "I want to subscribe via sms to account 123456" {
		t.Fatalf("user message not recorded first: %+v", history[0])
	}
}

func TestHandleMessage_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := config.Default()
	cfg.Limits.RateLimitRequests = 1
	h := NewHandler(f.svc, cfg)
	defer h.Close()
	r := chi.NewRouter()
	r.Use(identity.Middleware())
	h.RegisterRoutes(r)

	id := f.newSession()
	if rec := postMessage(r, id, `{"message":"hello"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec := postMessage(r, id, `{"message":"hello"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
}

func TestHandleWebSocket_RunsTurnsPerFrame(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router, h := newTestRouter(t, f)
	srv := httptest.NewServer(router)
	defer srv.Close()

	id := f.newSession()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?" + identity.SessionQueryParam + "=" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	readTurn := func() []string {
		var texts []string
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			var frame struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			switch frame.Event {
			case EventDone:
				return texts
			case EventMessage:
				var m domain.Message
				if err := json.Unmarshal(frame.Data, &m); err != nil {
					t.Fatalf("decode message: %v", err)
				}
				texts = append(texts, m.Text)
			default:
				t.Fatalf("unexpected frame %s", data)
			}
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":"hello there"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	assertSequence(t, readTurn(), []string{MsgAcknowledge, MsgClarify})

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"message":"show details"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got := readTurn()
	if got[len(got)-1] != "Here are the details of your alert subscription." {
		t.Fatalf("unexpected second turn %q", got)
	}

	if h.conns.Len() != 1 {
		t.Fatalf("expected one registered connection, got %d", h.conns.Len())
	}
	go h.CloseSession(id)
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("connection should be closed after session invalidation")
	}
}

func TestHandleWebSocket_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	router, _ := newTestRouter(t, f)

	for _, target := range []string{"/api/ws?session_id=nope", "/api/ws?session_id=bad%20id"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", target, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no session id: status = %d, want 400", rec.Code)
	}
}

func TestWebsocketOriginPatterns(t *testing.T) {
	t.Parallel()

	got := websocketOriginPatterns([]string{"https://bank.example.com", " http://localhost:3000 ", ""})
	want := []string{"bank.example.com", "localhost:3000"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("patterns = %v, want %v", got, want)
	}
	if got := websocketOriginPatterns([]string{"https://a.example", "*"}); len(got) != 1 || got[0] != "*" {
		t.Errorf("wildcard should win, got %v", got)
	}
}
