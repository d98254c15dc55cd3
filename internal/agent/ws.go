package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/alertbot/internal/api"
	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/identity"
	"github.com/ashureev/alertbot/internal/session"
	"github.com/coder/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsInboxSize    = 8

	// EventDone marks the end of a turn on the WebSocket transport.
	EventDone = "done"
)

// wsFrame is the JSON envelope of every server-to-client WebSocket message.
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ConnRegistry tracks the live WebSocket connection of each chat session.
type ConnRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]*websocket.Conn)}
}

// Register makes conn the session's connection, closing any previous one.
func (m *ConnRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn
}

// Unregister forgets conn if it is still the session's connection.
func (m *ConnRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
	}
}

// CloseSession terminates the session's connection, if any.
func (m *ConnRegistry) CloseSession(sessionID string) {
	m.mu.Lock()
	conn, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("WebSocket session closed", "session_id", sessionID)
	}
}

// Len reports the number of live connections.
func (m *ConnRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// wsSink writes turn events as JSON frames on a shared connection.
type wsSink struct {
	conn *websocket.Conn
}

func newWSStream(conn *websocket.Conn, timeout time.Duration) *EventStream {
	return newEventStream(&wsSink{conn: conn}, timeout)
}

func (s *wsSink) writeMessage(msg domain.Message) error {
	return writeFrame(s.conn, wsFrame{Event: EventMessage, Data: msg})
}

func (s *wsSink) writeError(text string) error {
	return writeFrame(s.conn, wsFrame{Event: EventError, Data: text})
}

// writeClose ends the turn, not the connection.
func (s *wsSink) writeClose() error {
	return writeFrame(s.conn, wsFrame{Event: EventDone})
}

func writeFrame(conn *websocket.Conn, f wsFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// HandleWebSocket handles GET /api/ws. Each text frame {"message": "..."} runs
// one turn; turns on a connection are processed in order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		if identity.SessionIDSupplied(r) {
			api.Error(w, http.StatusNotFound, "session not found")
			return
		}
		api.Error(w, http.StatusBadRequest, "missing session id")
		return
	}
	if !h.agent.SessionExists(sessionID) {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := make(chan []byte, wsInboxSize)
	go h.readLoop(ctx, cancel, ws, incoming, sessionID)

	slog.Info("WebSocket chat connected", "session_id", sessionID, "ip", identity.IPFromRequest(r))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-incoming:
			if !ok {
				return
			}
			if !h.handleFrame(ctx, ws, identity.IPFromRequest(r), sessionID, data) {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, incoming chan<- []byte, sessionID string) {
	defer close(incoming)
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		select {
		case incoming <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame runs one turn for a client frame. It returns false when the
// connection should be dropped.
func (h *Handler) handleFrame(ctx context.Context, ws *websocket.Conn, clientIP, sessionID string, data []byte) bool {
	reject := func(msg string) bool {
		return writeFrame(ws, wsFrame{Event: EventError, Data: msg}) == nil
	}

	if !h.rateLimiter.Allow(clientIP) {
		return reject("rate limit exceeded")
	}

	var req MessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return reject("invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := h.validator.ValidateStruct(req); err != nil {
		return reject(api.ValidationMessage(err))
	}

	turn, err := h.agent.StartTurn(ctx, sessionID, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			reject("session not found")
		}
		return false
	}

	h.serveTurn(ctx, newWSStream(ws, h.streamTimeout), turn)
	return ctx.Err() == nil
}

// websocketOriginPatterns converts configured CORS origins into the host
// patterns websocket.Accept expects.
func websocketOriginPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
