package mutation

import (
	"errors"
	"fmt"
)

// ErrInProgress is returned by MutateAsync when the guard key is already held.
var ErrInProgress = errors.New("mutation already in progress")

// ValidationError rejects variables before any guard is taken or cache touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PanicError carries a panic recovered from an adapter function.
type PanicError struct {
	Stage string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Stage, e.Value)
}
