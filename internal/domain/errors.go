package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy. Row and field level
// validation failures are reported inside result structures and never cross
// the pipeline boundary as errors; these sentinels cover everything that
// does.
var (
	// ErrNotFound marks a missing entity or referenced row target. Never
	// retried.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict marks an optimistic version mismatch at commit time.
	// Retried locally a bounded number of times before surfacing.
	ErrConflict = errors.New("version conflict")

	// ErrForbidden marks a field or entity permission denial. Never
	// retried.
	ErrForbidden = errors.New("forbidden")

	// ErrPipelineAbort marks a structural failure before any row could be
	// evaluated; the whole run reports as ABORTED.
	ErrPipelineAbort = errors.New("pipeline aborted")
)

// NotFoundError builds a NotFound with entity context attached.
func NotFoundError(entityType, name string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entityType, name)
}

// ConflictError builds a Conflict carrying the versions that disagreed.
func ConflictError(entityType, name string, expected, actual Version) error {
	return fmt.Errorf("%w: %s %q expected version %s, found %s", ErrConflict, entityType, name, expected, actual)
}

// ForbiddenError builds a Forbidden with caller context attached.
func ForbiddenError(caller, entityType, name string) error {
	return fmt.Errorf("%w: %s may not modify %s %q", ErrForbidden, caller, entityType, name)
}

// ValidationError is a recoverable row or field level failure. It is
// captured into row results, not propagated.
type ValidationError struct {
	// Column is the 0-based offending column index, or -1 when the failure
	// is not tied to one column.
	Column  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column >= 0 {
		return fmt.Sprintf("column %d: %s", e.Column, e.Message)
	}
	return e.Message
}

// NewValidationError builds a row-level failure without column context.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Column: -1, Message: fmt.Sprintf(format, args...)}
}

// NewColumnError builds a failure naming the offending column.
func NewColumnError(column int, format string, args ...any) *ValidationError {
	return &ValidationError{Column: column, Message: fmt.Sprintf(format, args...)}
}
