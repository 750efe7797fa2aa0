package types

import "fmt"

// ValidationError is a caller-facing error for malformed request input.
// The API layer maps it to a 400 response; it is always raised before any
// I/O is issued.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
