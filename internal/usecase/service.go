package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/tracer"
)

// largeHistoryTokens is the estimated history size above which a turn logs
// a warning.
const largeHistoryTokens = 150_000

// ServiceDeps holds injected dependencies for the service.
type ServiceDeps struct {
	Agent    *Agent
	Sessions *SessionManager
	Locker   *SessionLocker
	Tokens   *TokenCounter   // optional, nil = no token estimates
	Bus      domain.EventBus // optional, nil = no events
	Logger   *slog.Logger
}

// Service is the caller-facing surface shared by every front end: submit a
// user turn, inspect sessions, delete them.
type Service struct {
	deps ServiceDeps
}

// NewService creates a service.
func NewService(deps ServiceDeps) *Service {
	if deps.Locker == nil {
		deps.Locker = NewSessionLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// SessionInfo describes one session.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	Status        string    `json:"status"`
	MessageCount  int       `json:"message_count"`
	TokenEstimate int       `json:"token_estimate"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Submit runs one user turn on the session, creating it when sessionID is
// unknown or empty. Numeric input selecting one of the session's numbered
// options is replaced by that option's text.
//
// Fatal failures (model unreachable, timeout, store unavailable) restore the
// session to its state before the turn. A cancelled turn or one stopped by
// the tool-turn cap keeps what it appended; the partial result is returned
// with the error.
func (s *Service) Submit(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.submit")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := domain.NewDomainError("Service.Submit", domain.ErrInvalidInput, "empty prompt")
		tracer.RecordError(span, err)
		return nil, err
	}

	if sessionID == "" {
		sessionID = generateULID(time.Now())
	} else if err := validateSessionID(sessionID); err != nil {
		err = invalidID("Service.Submit", err)
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.StringAttr("session.id", sessionID))

	// The session is resolved under the lock so a turn queued behind
	// DeleteSession starts a fresh session.
	unlock, err := s.deps.Locker.Lock(ctx, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError("Service.Submit", err, "session lock")
	}
	defer unlock()

	sess, created, err := s.deps.Sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	if created {
		s.publishEvent(ctx, domain.EventSessionCreated, sess.ID, nil)
	}
	if opt, ok := SelectOption(text, sess.Options()); ok {
		s.deps.Logger.Debug("numbered option selected", "session_id", sess.ID, "option", strings.TrimSpace(text))
		text = opt
	}
	s.warnIfLarge(sess)

	snap := sess.snapshot()
	res, turnErr := s.deps.Agent.RunTurn(ctx, sess, text)

	if turnErr != nil && !keepsPartialTurn(turnErr) {
		sess.restore(snap)
		s.deps.Logger.Error("turn failed", "session_id", sess.ID, "error", turnErr)
		tracer.RecordError(span, turnErr)
		return &TurnResult{SessionID: sess.ID}, turnErr
	}

	// Persist even when the caller has gone away.
	if err := s.deps.Sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
		sess.restore(snap)
		s.deps.Logger.Error("session save failed", "session_id", sess.ID, "error", err)
		tracer.RecordError(span, err)
		return &TurnResult{SessionID: sess.ID}, err
	}

	if turnErr != nil {
		s.deps.Logger.Warn("turn ended early", "session_id", sess.ID, "error", turnErr)
		tracer.RecordError(span, turnErr)
		return res, turnErr
	}
	tracer.SetOK(span)
	span.AddEvent("turn.completed", trace.WithAttributes(
		tracer.IntAttr("model_turns", res.ModelTurns),
		tracer.IntAttr("tool_turns", res.ToolTurns),
	))
	return res, nil
}

// keepsPartialTurn reports whether a failed turn's messages are persisted.
func keepsPartialTurn(err error) bool {
	return errors.Is(err, domain.ErrMaxIterations) || errors.Is(err, context.Canceled)
}

func (s *Service) warnIfLarge(sess *Session) {
	if s.deps.Tokens == nil {
		return
	}
	if n := s.deps.Tokens.CountMessages(sess.Messages()); n > largeHistoryTokens {
		s.deps.Logger.Warn("conversation history is large", "session_id", sess.ID, "tokens", n)
	}
}

// DeleteSession waits for an in-flight turn on the session, then removes it.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return invalidID("Service.DeleteSession", err)
	}
	unlock, err := s.deps.Locker.Lock(ctx, sessionID)
	if err != nil {
		return domain.NewDomainError("Service.DeleteSession", err, "session lock")
	}
	defer unlock()

	if err := s.deps.Sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.publishEvent(ctx, domain.EventSessionDeleted, sessionID, nil)
	s.deps.Logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Session returns information about one session.
func (s *Service) Session(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sum := sess.Summary()
	info := &SessionInfo{
		SessionID:    sum.ID,
		Status:       "active",
		MessageCount: sum.MessageCount,
		CreatedAt:    sum.CreatedAt,
		UpdatedAt:    sum.UpdatedAt,
	}
	if s.deps.Tokens != nil {
		info.TokenEstimate = s.deps.Tokens.CountMessages(sess.Messages())
	}
	return info, nil
}

// ListSessions returns every known session, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return s.deps.Sessions.List(ctx)
}

// ActiveSessions returns the number of sessions held in memory.
func (s *Service) ActiveSessions() int {
	return s.deps.Sessions.ActiveCount()
}

func (s *Service) publishEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.NewEvent(eventType, sessionID, payload))
}
