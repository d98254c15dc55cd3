package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
)

// SSE event names.
const (
	EventMessage = "message"
	EventError   = "error"
)

// DefaultStreamTimeout is how long a stream may stay silent before it is timed out.
const DefaultStreamTimeout = 5 * time.Minute

var (
	// ErrStreamClosed is returned when emitting on a stream that has completed.
	ErrStreamClosed = errors.New("stream closed")
	// ErrStreamTimeout is the completion reason of a stream that went idle.
	ErrStreamTimeout = errors.New("stream idle timeout")

	errStreamingUnsupported = errors.New("streaming not supported")
)

// eventSink is the transport behind an EventStream.
type eventSink interface {
	writeMessage(msg domain.Message) error
	writeError(text string) error
	writeClose() error
}

// EventStream carries one turn's events to the client.
//
// Completion, idle timeout and transport errors all funnel into a single
// one-way transition guarded by mu, so no event is written after the
// completed flag has been observed as set.
type EventStream struct {
	mu        sync.Mutex
	sink      eventSink
	completed atomic.Bool
	done      chan struct{}
	reason    error
	timeout   time.Duration
	idle      *time.Timer
}

func newEventStream(sink eventSink, timeout time.Duration) *EventStream {
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	s := &EventStream{
		sink:    sink,
		done:    make(chan struct{}),
		timeout: timeout,
	}
	// The callback takes mu, so it cannot observe s.idle before it is set.
	s.mu.Lock()
	s.idle = time.AfterFunc(timeout, func() {
		s.CloseWithError(ErrStreamTimeout)
	})
	s.mu.Unlock()
	return s
}

// Send implements Stream.
func (s *EventStream) Send(msg domain.Message) error {
	return s.emit(func() error { return s.sink.writeMessage(msg) })
}

// SendError implements Stream.
func (s *EventStream) SendError(text string) error {
	return s.emit(func() error { return s.sink.writeError(text) })
}

func (s *EventStream) emit(write func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed.Load() {
		return ErrStreamClosed
	}
	if err := write(); err != nil {
		s.finishLocked(err)
		return err
	}
	s.idle.Reset(s.timeout)
	return nil
}

// Close implements Stream.
func (s *EventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed.Load() {
		return ErrStreamClosed
	}
	err := s.sink.writeClose()
	s.finishLocked(err)
	return err
}

// CloseWithError implements Stream. Calls after completion are ignored.
func (s *EventStream) CloseWithError(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(err)
}

// Completed implements Stream.
func (s *EventStream) Completed() bool {
	return s.completed.Load()
}

// Done implements Stream.
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream completed: nil for a normal close.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *EventStream) finishLocked(reason error) {
	if s.completed.Load() {
		return
	}
	s.reason = reason
	s.completed.Store(true)
	s.idle.Stop()
	close(s.done)
}

// sseSink writes server-sent events to an HTTP response.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEStream prepares w for server-sent events and returns the stream.
func NewSSEStream(w http.ResponseWriter, timeout time.Duration) (*EventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return newEventStream(&sseSink{w: w, flusher: flusher}, timeout), nil
}

func (s *sseSink) writeMessage(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}
	return s.write(EventMessage, string(data))
}

func (s *sseSink) writeError(text string) error {
	return s.write(EventError, text)
}

// writeClose is a no-op: the stream ends when the handler returns.
func (s *sseSink) writeClose() error {
	return nil
}

func (s *sseSink) write(event, data string) error {
	if err := writeSSE(s.w, event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func writeSSE(w io.Writer, event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
