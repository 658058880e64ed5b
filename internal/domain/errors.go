// Package domain defines the job control-plane entities, ports, and errors.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UnsupportedError indicates an operation the target does not support.
// Loading result rows for an externally-submitted job is the canonical case.
type UnsupportedError struct {
	Message string
}

func (e *UnsupportedError) Error() string { return e.Message }

// WarningError indicates a benign but unsuccessful outcome, such as a cancel
// request for a job that already finished. It is reported, never swallowed.
type WarningError struct {
	JobID   JobID
	Message string
}

func (e *WarningError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnsupported creates an UnsupportedError with a formatted message.
func ErrUnsupported(format string, args ...interface{}) *UnsupportedError {
	return &UnsupportedError{Message: fmt.Sprintf(format, args...)}
}

// ErrJobWarning creates a WarningError for the given job.
func ErrJobWarning(id JobID, format string, args ...interface{}) *WarningError {
	return &WarningError{JobID: id, Message: fmt.Sprintf(format, args...)}
}
