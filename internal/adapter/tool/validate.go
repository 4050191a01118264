package tool

import (
	"fmt"
	"strings"

	"codegen-agent/internal/domain"
)

// maxContentBytes bounds a single file written by a tool.
const maxContentBytes = 10 << 20

// missingArgError names an absent argument and matches domain.ErrMissingArgument.
type missingArgError string

func (e missingArgError) Error() string { return "'" + string(e) + "' is required" }
func (e missingArgError) Unwrap() error { return domain.ErrMissingArgument }

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return missingArgError(name)
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
//
//	if err := ValidateAll(RequireField("file_path", p.FilePath), ValidatePath("file_path", p.FilePath)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes.
// An empty value always passes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s exceeds maximum length of %d", name, max)
	}
	return nil
}

// ValidatePath rejects path arguments no filesystem accepts.
// An empty value is allowed (use RequireField to enforce presence).
func ValidatePath(name, value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("invalid %s: contains NUL byte", name)
	}
	return nil
}
