package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal planning conditions. No Plan is produced when one of these is returned.
var (
	ErrNoActivePolicy     = errors.New("no active policy for as-of date")
	ErrInvalidAssumptions = errors.New("invalid tax assumptions")
	ErrEmptyScope         = errors.New("taxpayer scope references no accounts")
	ErrInvalidPolicy      = errors.New("invalid bucket policy")
	ErrInvalidGoal        = errors.New("invalid goal")
)

// Store errors
var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrPlanExists   = errors.New("plan already exists")
)

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation failures tied to one fatal kind
type ValidationErrors struct {
	Kind   error             `json:"-"`
	Errors []ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match the fatal kind
func (e *ValidationErrors) Unwrap() error {
	return e.Kind
}

// Add records a field failure
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any failure was recorded
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// OrNil returns the collection as an error, or nil when empty
func (e *ValidationErrors) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
