package agent

import (
	"context"

	"github.com/ashureev/alertbot/internal/domain"
)

// Classifier turns a user utterance into a Classification.
// Implementations may call external services; an error is treated as UNKNOWN.
type Classifier interface {
	Classify(ctx context.Context, text string, history []domain.Message) (Classification, error)
}

// Validator checks whether a classification can be acted on given the session history.
// An error is treated as OTHER_FAILURE.
type Validator interface {
	Validate(ctx context.Context, c Classification, history []domain.Message) (Verdict, error)
}

// Executor performs the action behind a validated classification.
type Executor interface {
	Execute(ctx context.Context, c Classification, session domain.Session) (ActionResult, error)
}

// SessionStore is the subset of the session store the orchestrator relies on.
type SessionStore interface {
	Get(id string) (domain.Session, bool)
	Messages(id string) ([]domain.Message, bool)
	Append(id string, msg domain.Message) bool
}

// Stream is the outbound channel of a single turn.
//
// Once the stream has completed, for whatever reason, Send and SendError
// return ErrStreamClosed without writing anything.
type Stream interface {
	// Send emits a bot message as a "message" event.
	Send(msg domain.Message) error
	// SendError emits a plain-text "error" event.
	SendError(text string) error
	// Close completes the stream normally.
	Close() error
	// CloseWithError completes the stream with a failure.
	CloseWithError(err error)
	// Completed reports whether the stream has terminated.
	Completed() bool
	// Done is closed when the stream terminates.
	Done() <-chan struct{}
}

// Ensure the built-in implementations satisfy their interfaces.
var (
	_ Classifier = KeywordClassifier{}
	_ Classifier = (*RemoteClassifier)(nil)
	_ Validator  = RuleValidator{}
	_ Executor   = CannedExecutor{}
	_ Executor   = (*RemoteExecutor)(nil)
	_ Stream     = (*EventStream)(nil)
)
