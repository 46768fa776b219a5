// Package apperr defines the error taxonomy shared by the terminology,
// matcher, curation and encounter packages.
//
// Callers test the kind with errors.Is against the sentinel values and pull
// details out with errors.As on the typed wrappers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrInputTooShort   = errors.New("input too short")
	ErrStateTransition = errors.New("illegal state transition")
)

// FieldError is a single field-level validation failure. Field uses the
// request's JSON path, e.g. "codes[1].mappingId".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem found in one request.
type ValidationError struct {
	Fields []FieldError
}

// Validation builds a ValidationError for a single field.
func Validation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// Add appends a field error.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

// OrNil returns nil when no field failed, so a collector can be returned
// directly as an error.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateTransitionError reports a curation transition that the current state
// does not allow.
type StateTransitionError struct {
	ID   string
	From string
	To   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("mapping %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error { return ErrStateTransition }

// NotFound wraps ErrNotFound with the kind and key of the missing entity.
func NotFound(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}

// Conflict wraps ErrConflict with a reason.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// InputTooShort wraps ErrInputTooShort.
func InputTooShort(min int) error {
	return fmt.Errorf("need at least %d significant characters: %w", min, ErrInputTooShort)
}
