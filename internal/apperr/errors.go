// Package apperr holds the error taxonomy shared by the invitation and
// enrolment services. Errors are matched with errors.Is; wrapping with
// github.com/pkg/errors keeps the sentinel reachable.
package apperr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidToken      = errors.New("invalid invitation token")
	ErrExpired           = errors.New("invitation expired")
	ErrAlreadyUsed       = errors.New("invitation already used")
	ErrInvalidTransition = errors.New("invalid invitation state transition")
	ErrValidation        = errors.New("validation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConflict          = errors.New("conflict")
)

// FieldErrors maps a form field to the message shown next to it.
type FieldErrors map[string]string

// ValidationError carries field-level messages. It matches ErrValidation.
type ValidationError struct {
	Fields FieldErrors
}

func NewValidationError(fields FieldErrors) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Field builds a ValidationError for a single field.
func Field(name, message string) *ValidationError {
	return &ValidationError{Fields: FieldErrors{name: message}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FieldsOf extracts field messages from err, if it carries any.
func FieldsOf(err error) (FieldErrors, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields, true
	}
	return nil, false
}
