package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist yet
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable is returned when the persistence store cannot be reached
	ErrBackendUnavailable = errors.New("persistence backend unavailable")
)

// ValidationError reports an out-of-range or malformed input value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
