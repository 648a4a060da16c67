package taskdoc

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnsupportedField = errors.New("unsupported field")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidDue       = errors.New("invalid due")
	ErrInvalidType      = errors.New("invalid field type")
)

// FieldError reports a single rejected field of an edited document. It
// matches ErrInvalidInput and its Kind with errors.Is.
type FieldError struct {
	Field   string
	Kind    error
	Message string
}

func (e *FieldError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Field == "" {
		return fmt.Sprintf("%v", e.Kind)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Field)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidInput || (e.Kind != nil && target == e.Kind)
}

func unsupportedField(key string) *FieldError {
	return &FieldError{
		Field:   key,
		Kind:    ErrUnsupportedField,
		Message: "Unsupported field: " + key,
	}
}

// SchemaError wraps a schema validation failure.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return "document does not match schema: " + e.Err.Error()
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
