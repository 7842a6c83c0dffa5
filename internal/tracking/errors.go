package tracking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the expected outcome when a route has no active vehicle
// or a vehicle has never reported.
var ErrNotFound = errors.New("not found")

// FieldError describes one invalid input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned for malformed or out-of-range input. Nothing
// reaches the store when it is returned.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Reason
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// StorageError wraps a failed store read or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
