package jobs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Errors returned to callers of the Manager.
var (
	ErrValidation   = eris.New("validation failed")
	ErrNotFound     = eris.New("job not found")
	ErrNotReady     = eris.New("job result not ready")
	ErrDuplicateJob = eris.New("job already exists")
)

// ValidationError describes a rejected submission. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
