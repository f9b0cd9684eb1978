package news

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any state was changed.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes rejected input and the identifiers involved.
type ValidationError struct {
	Reason string
	IDs    []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Reason, strings.Join(e.IDs, ", "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }
