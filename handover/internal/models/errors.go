package models

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError through errors.Is.
var ErrInvalid = errors.New("invalid input")

// ValidationError reports a malformed candidate, decision or event that was
// rejected before any side effect took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
