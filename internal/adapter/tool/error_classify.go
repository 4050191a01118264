package tool

import (
	"errors"
	"strings"
	"syscall"

	"codegen-agent/internal/domain"
)

// retryableSentinels lists errors that indicate transient failures worth
// retrying: contention on the workspace or a throttled write.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrRateLimit,
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.EINTR,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"resource temporarily unavailable",
	"too many open files",
	"device or resource busy",
	"interrupted system call",
	"deadline exceeded",
	"timeout",
}

// classifyToolError returns true if the error is transient and the tool call
// may succeed on retry. Returns false for nil, permanent, or unknown errors.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
