package cli

import (
	"context"
	"errors"
	"strings"

	"codegen-agent/internal/domain"
)

// FriendlyError is a user-facing rendering of a turn failure.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Code    domain.ErrorCode
	Raw     string
}

// Render formats the error as a short block of text.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString("\n    " + sym.Bullet + " " + h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{isErr(domain.ErrModelTimeout), constantError("Model Timed Out",
		"The model did not answer within the configured timeout. Nothing from this turn was kept.",
		"Try a smaller request", "Increase agent.model_timeout in config")},
	{isErr(domain.ErrMaxIterations), constantError("Tool Turn Limit Reached",
		"The model kept calling tools past the per-turn limit. Work done so far was saved.",
		"Ask it to continue where it stopped", "Increase agent.max_tool_turns in config")},
	{isErr(domain.ErrAuthInvalid), constantError("Authentication Failed",
		"The model provider rejected the API key.",
		"Check ANTHROPIC_API_KEY", "Run 'codegen-agent encrypt-secret' if the key is stored encrypted")},
	{isErr(domain.ErrRateLimit), constantError("Rate Limited",
		"The model provider is throttling requests.",
		"Wait a moment before retrying")},
	{isErr(domain.ErrContextOverflow), constantError("Conversation Too Long",
		"The conversation no longer fits in the model's context window.",
		"Start a new session", "Delete this session with 'codegen-agent sessions delete'")},
	{isErr(domain.ErrProviderUnavailable), constantError("Model Unavailable",
		"The model provider could not be reached.",
		"Check your network connection", "Try again shortly")},
	{isErr(domain.ErrStoreUnavailable), constantError("Session Not Saved",
		"The session store failed, so this turn was discarded.",
		"Check the sessions.path directory or database file")},
	{isErr(domain.ErrInvalidSessionID), constantError("Invalid Session",
		"The session id contains characters that are not allowed.",
		"Use letters, digits, '-' and '_' only")},
	{isErr(domain.ErrInvalidInput), constantError("Invalid Input",
		"The request was rejected before reaching the model.")},

	{containsAny("connection refused", "dial tcp", "no such host"), constantError("Connection Failed",
		"Could not reach the remote service.",
		"Check your internet connection", "Check if a proxy or firewall is blocking the connection")},
}

// Humanize converts a turn error into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug and check the log file"},
		Code:    domain.ErrorCodeOf(err),
		Raw:     err.Error(),
	}
}

// isCancelled reports whether err only says the user abandoned the turn.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints ...string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Code:    domain.ErrorCodeOf(err),
			Raw:     err.Error(),
		}
	}
}
