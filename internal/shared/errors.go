package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates user input violates a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a document lifecycle precondition was not met.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrDuplicate indicates a unique business key is already taken.
	ErrDuplicate = errors.New("duplicate entry")
)

// ValidationError carries field level details alongside a sentinel.
type ValidationError struct {
	Err     error
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Details))
	for field, msg := range e.Details {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return e.Err.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError around ErrValidation.
func NewValidationError(details map[string]string) *ValidationError {
	return &ValidationError{Err: ErrValidation, Details: details}
}

// Invalid is shorthand for a single field violation.
func Invalid(field, message string) error {
	return NewValidationError(map[string]string{field: message})
}
