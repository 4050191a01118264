package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	// ErrProviderUnavailable is returned while a provider's circuit is open.
	ErrProviderUnavailable = fmt.Errorf("llm provider unavailable: %w", ErrProviderError)
	ErrToolNotFound        = fmt.Errorf("tool not found")
	ErrMissingArgument     = fmt.Errorf("required tool argument missing")
	ErrMaxIterations       = fmt.Errorf("agent reached max tool turns")
	ErrModelTimeout        = fmt.Errorf("model call timed out: %w", ErrTimeout)
	ErrSessionNotFound     = fmt.Errorf("session not found")
	ErrInvalidSessionID    = fmt.Errorf("invalid session id")
	ErrStoreUnavailable    = fmt.Errorf("session store unavailable")
	ErrPathOutsideSandbox  = fmt.Errorf("path is outside sandbox boundary")

	// ErrGatewayAuthFailed is returned for a missing or unknown bearer token.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Tool.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "registry", "store"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeMissingArgument     ErrorCode = "MISSING_ARGUMENT"
	CodeMaxIterations       ErrorCode = "MAX_TOOL_TURNS"
	CodeModelTimeout        ErrorCode = "MODEL_TIMEOUT"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeInvalidSessionID    ErrorCode = "INVALID_SESSION_ID"
	CodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	CodePathOutsideSandbox  ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeGatewayAuth         ErrorCode = "GATEWAY_AUTH"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeToolDuplicate ErrorCode = "TOOL_DUPLICATE"
	CodeStoreTimeout  ErrorCode = "STORE_TIMEOUT"

	// Category error codes, used when no specific code matches.
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:    CodeProviderNotFound,
	ErrProviderUnavailable: CodeProviderUnavailable,
	ErrToolNotFound:        CodeToolNotFound,
	ErrMissingArgument:     CodeMissingArgument,
	ErrMaxIterations:       CodeMaxIterations,
	ErrModelTimeout:        CodeModelTimeout,
	ErrSessionNotFound:     CodeSessionNotFound,
	ErrInvalidSessionID:    CodeInvalidSessionID,
	ErrStoreUnavailable:    CodeStoreUnavailable,
	ErrPathOutsideSandbox:  CodePathOutsideSandbox,
	ErrGatewayAuthFailed:   CodeGatewayAuth,
	ErrContextOverflow:     CodeContextOverflow,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrDuplicate: {
		"registry": CodeToolDuplicate,
	},
	ErrTimeout: {
		"store": CodeStoreTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels first: some wrap category sentinels (ErrModelTimeout wraps ErrTimeout).
	for _, sentinel := range specificity {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// specificity orders sentinels so wrapping sentinels win over what they wrap.
var specificity = []error{
	ErrModelTimeout,
	ErrProviderUnavailable,
	ErrGatewayAuthFailed,
	ErrProviderNotFound,
	ErrToolNotFound,
	ErrMissingArgument,
	ErrMaxIterations,
	ErrSessionNotFound,
	ErrInvalidSessionID,
	ErrStoreUnavailable,
	ErrPathOutsideSandbox,
	ErrContextOverflow,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrDuplicate,
	ErrTimeout,
	ErrInvalidInput,
	ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
