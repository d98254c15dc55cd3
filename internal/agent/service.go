package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
	"github.com/ashureev/alertbot/internal/metrics"
	"github.com/ashureev/alertbot/internal/session"
)

// DefaultPacingDelay separates consecutive bot messages within a turn.
const DefaultPacingDelay = 2 * time.Second

// Pacer waits d between two emissions. It returns false when done closes
// first, meaning the stream completed and the turn must stop.
type Pacer func(done <-chan struct{}, d time.Duration) bool

// SleepPacer is the production Pacer.
func SleepPacer(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}

// Turn outcomes, used as metric labels and in logs.
const (
	OutcomeCompleted    = "completed"
	OutcomeUnknown      = "unknown_intent"
	OutcomeNeedMoreInfo = "need_more_info"
	OutcomeNotEligible  = "not_eligible"
	OutcomeFailed       = "validation_failed"
	OutcomeAborted      = "aborted"
	OutcomeError        = "error"
)

// ServiceConfig holds optional orchestrator settings.
type ServiceConfig struct {
	PacingDelay time.Duration
	Pacer       Pacer
	Now         func() time.Time
	Logger      *slog.Logger
}

// Service runs conversational turns against a session store.
type Service struct {
	sessions   SessionStore
	classifier Classifier
	validator  Validator
	executor   Executor

	pacing time.Duration
	pace   Pacer
	now    func() time.Time
	logger *slog.Logger

	locks turnLocks
}

// NewService creates the turn orchestrator.
func NewService(sessions SessionStore, classifier Classifier, validator Validator, executor Executor, cfg ServiceConfig) *Service {
	if cfg.Pacer == nil {
		cfg.Pacer = SleepPacer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PacingDelay < 0 {
		cfg.PacingDelay = 0
	}
	return &Service{
		sessions:   sessions,
		classifier: classifier,
		validator:  validator,
		executor:   executor,
		pacing:     cfg.PacingDelay,
		pace:       cfg.Pacer,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// Turn is an accepted user message holding its session's turn lock.
type Turn struct {
	SessionID   string
	UserMessage domain.Message
	release     func()
}

// Release frees the session for the next turn. It is safe to call twice.
func (t *Turn) Release() {
	if t != nil && t.release != nil {
		t.release()
	}
}

// SessionExists reports whether id names a live session.
func (s *Service) SessionExists(id string) bool {
	_, ok := s.sessions.Get(id)
	return ok
}

// StartTurn waits for any running turn on the session to finish, then
// records the user message. The returned Turn must be passed to RunTurn or
// released.
func (s *Service) StartTurn(ctx context.Context, sessionID, text string) (*Turn, error) {
	if !s.SessionExists(sessionID) {
		return nil, session.ErrNotFound
	}

	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for turn: %w", err)
	}

	msg := domain.Message{
		Text:      text,
		Sender:    domain.SenderUser,
		Timestamp: s.now(),
		SessionID: sessionID,
	}
	if !s.sessions.Append(sessionID, msg) {
		release()
		return nil, session.ErrNotFound
	}
	return &Turn{SessionID: sessionID, UserMessage: msg, release: release}, nil
}

// RunTurn drives the staged reply for turn over stream and releases the turn.
// It returns once the stream has completed or the worker has given up on it.
func (s *Service) RunTurn(ctx context.Context, stream Stream, turn *Turn) {
	defer turn.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stream.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	metrics.RecordTurnStart()
	outcome, err := s.runSafely(ctx, stream, turn)

	switch {
	case err == nil:
	case stream.Completed():
		s.logger.Debug("Turn stopped after stream completed", "session_id", turn.SessionID, "error", err)
		outcome = OutcomeAborted
	default:
		outcome = OutcomeError
		s.logger.Error("Turn failed", "session_id", turn.SessionID, "error", err)
		if sendErr := stream.SendError(MsgInternalError); sendErr != nil {
			stream.CloseWithError(err)
		} else if closeErr := stream.Close(); closeErr != nil {
			stream.CloseWithError(closeErr)
		}
	}

	elapsed := time.Since(start)
	metrics.RecordTurnEnd(outcome, elapsed.Seconds())
	s.logger.Info("Turn finished",
		"session_id", turn.SessionID,
		"outcome", outcome,
		"duration", elapsed,
	)
}

func (s *Service) runSafely(ctx context.Context, stream Stream, turn *Turn) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = OutcomeError, fmt.Errorf("turn panicked: %v", r)
		}
	}()
	return s.runStages(ctx, &turnRun{svc: s, stream: stream, sessionID: turn.SessionID}, turn)
}

func (s *Service) runStages(ctx context.Context, t *turnRun, turn *Turn) (string, error) {
	// Acknowledge.
	if err := t.say(MsgAcknowledge, true); err != nil {
		return OutcomeAborted, err
	}
	if !t.pause() {
		return OutcomeAborted, nil
	}

	// Re-entry or classification.
	history, ok := s.sessions.Messages(turn.SessionID)
	if !ok {
		return OutcomeError, session.ErrNotFound
	}
	classification, reentry := reentryClassification(history)
	if !reentry {
		if t.stream.Completed() {
			return OutcomeAborted, nil
		}
		classification = s.classify(ctx, turn.UserMessage.Text, history)
	}
	metrics.RecordIntent(string(classification.Intent), reentry)

	if !classification.Known() {
		if err := t.say(MsgClarify, false); err != nil {
			return OutcomeAborted, err
		}
		return OutcomeUnknown, t.close()
	}
	if !reentry {
		if err := t.say(classification.Summary, true); err != nil {
			return OutcomeAborted, err
		}
		if !t.pause() {
			return OutcomeAborted, nil
		}
	}

	// Validation.
	if err := t.say(MsgValidating, true); err != nil {
		return OutcomeAborted, err
	}
	if !t.pause() {
		return OutcomeAborted, nil
	}
	if history, ok = s.sessions.Messages(turn.SessionID); !ok {
		return OutcomeError, session.ErrNotFound
	}
	verdict := s.validate(ctx, classification, history)

	switch verdict.Kind {
	case VerdictOK:
		if err := t.say(MsgValidationOK, true); err != nil {
			return OutcomeAborted, err
		}
		if !t.pause() {
			return OutcomeAborted, nil
		}
	case VerdictNeedMoreInfo:
		if err := t.say(MsgNeedMoreInfoPrefix+verdict.MissingInfo, true); err != nil {
			return OutcomeAborted, err
		}
		return OutcomeNeedMoreInfo, t.close()
	case VerdictNotEligible:
		if err := t.say(MsgNotEligible, true); err != nil {
			return OutcomeAborted, err
		}
		return OutcomeNotEligible, t.close()
	default:
		if err := t.say(MsgValidationFailed, true); err != nil {
			return OutcomeAborted, err
		}
		return OutcomeFailed, t.close()
	}

	// Action.
	if t.stream.Completed() {
		return OutcomeAborted, nil
	}
	sess, ok := s.sessions.Get(turn.SessionID)
	if !ok {
		return OutcomeError, session.ErrNotFound
	}
	result, err := s.executor.Execute(ctx, classification, sess)
	if err != nil {
		return OutcomeError, fmt.Errorf("execute %s: %w", classification.Intent, err)
	}
	if err := t.say(result.Message, true); err != nil {
		return OutcomeAborted, err
	}
	return OutcomeCompleted, t.close()
}

func (s *Service) classify(ctx context.Context, text string, history []domain.Message) Classification {
	c, err := s.classifier.Classify(ctx, text, history)
	if err != nil {
		s.logger.Warn("Classification failed, treating as unknown", "error", err)
		return Unknown()
	}
	if c.Known() && c.Summary == "" {
		c.Summary = SummaryFor(c.Intent)
	}
	return c
}

func (s *Service) validate(ctx context.Context, c Classification, history []domain.Message) Verdict {
	v, err := s.validator.Validate(ctx, c, history)
	if err != nil {
		s.logger.Warn("Validation failed with error", "intent", c.Intent, "error", err)
		return Verdict{Kind: VerdictOtherFailure}
	}
	return v
}

// reentryClassification looks for the most recent bot summary in history
// and, when found, resumes that intent.
func reentryClassification(history []domain.Message) (Classification, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if !m.IsBot() {
			continue
		}
		if intent, ok := IntentFromSummary(m.Text); ok {
			return newClassification(intent), true
		}
	}
	return Classification{}, false
}

// turnRun carries per-turn emission state.
type turnRun struct {
	svc       *Service
	stream    Stream
	sessionID string
}

// say emits a bot message, appending it to the session first when persist is set.
func (t *turnRun) say(text string, persist bool) error {
	if t.stream.Completed() {
		return ErrStreamClosed
	}
	msg := domain.Message{
		Text:      text,
		Sender:    domain.SenderBot,
		Timestamp: t.svc.now(),
		SessionID: t.sessionID,
	}
	if persist {
		t.svc.sessions.Append(t.sessionID, msg)
	}
	return t.stream.Send(msg)
}

func (t *turnRun) pause() bool {
	return t.svc.pace(t.stream.Done(), t.svc.pacing)
}

func (t *turnRun) close() error {
	if err := t.stream.Close(); err != nil && !errors.Is(err, ErrStreamClosed) {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}
