package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"codegen-agent/internal/domain"
)

// ErrorCategory tells the agent whether a failed model call may be retried.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	ErrorCategoryRetryable
	ErrorCategoryPermanent
)

// ClassifiedError is the verdict on one model call error.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // domain sentinel the error maps to, if any
	StatusCode int   // HTTP status parsed from the message, 0 if none
}

// ErrorClassifier decides which provider failures are transient. Only
// ErrorCategoryRetryable errors are retried.
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier { return &ErrorClassifier{} }

// statusPattern matches the "API error <status>:" prefix the providers emit.
var statusPattern = regexp.MustCompile(`API error (\d+):`)

type sentinelRule struct {
	target   error
	category ErrorCategory
	sentinel error
}

// Checked in order; the first match wins.
var sentinelRules = []sentinelRule{
	{context.Canceled, ErrorCategoryPermanent, nil},
	{domain.ErrModelTimeout, ErrorCategoryPermanent, nil},
	{domain.ErrProviderUnavailable, ErrorCategoryPermanent, domain.ErrProviderUnavailable},
	{domain.ErrRateLimit, ErrorCategoryRetryable, domain.ErrRateLimit},
	{domain.ErrContextOverflow, ErrorCategoryPermanent, domain.ErrContextOverflow},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent, domain.ErrAuthInvalid},
}

type textRule struct {
	phrases  []string
	category ErrorCategory
	sentinel error
}

var textRules = []textRule{
	{[]string{"rate limit", "too many requests", "overloaded"}, ErrorCategoryRetryable, domain.ErrRateLimit},
	{[]string{"context length", "token limit", "maximum context"}, ErrorCategoryPermanent, domain.ErrContextOverflow},
	{[]string{"connection refused", "no such host", "connection reset", "timeout", "deadline exceeded"}, ErrorCategoryRetryable, nil},
}

// overflowHints mark a 400 body as a context length problem.
var overflowHints = []string{"context", "token", "length", "too long", "maximum"}

// Classify maps err to a category, trying wrapped sentinels, then an HTTP
// status in the message, then known phrases.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	for _, r := range sentinelRules {
		if errors.Is(err, r.target) {
			return ClassifiedError{Original: err, Category: r.category, Sentinel: r.sentinel}
		}
	}

	msg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		category, sentinel := classifyStatus(status, msg)
		return ClassifiedError{Original: err, Category: category, Sentinel: sentinel, StatusCode: status}
	}

	for _, r := range textRules {
		if containsAnyOf(msg, r.phrases) {
			return ClassifiedError{Original: err, Category: r.category, Sentinel: r.sentinel}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func classifyStatus(status int, msg string) (ErrorCategory, error) {
	switch {
	case status == 429:
		return ErrorCategoryRetryable, domain.ErrRateLimit
	case status == 401, status == 403:
		return ErrorCategoryPermanent, domain.ErrAuthInvalid
	case status == 413:
		return ErrorCategoryPermanent, domain.ErrContextOverflow
	case status == 400 && containsAnyOf(msg, overflowHints):
		return ErrorCategoryPermanent, domain.ErrContextOverflow
	case status == 408, status >= 500 && status < 600:
		return ErrorCategoryRetryable, nil
	default:
		return ErrorCategoryPermanent, nil
	}
}

func containsAnyOf(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
