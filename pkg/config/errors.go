package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates the config file failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrMissingRequiredField indicates a required field is empty.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field holds a nonsensical value.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError carries the field path that failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config field %q: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field string, err error, detail string) *ValidationError {
	if detail != "" {
		err = fmt.Errorf("%w: %s", err, detail)
	}
	return &ValidationError{Field: field, Err: err}
}
