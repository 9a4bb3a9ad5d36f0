// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrOrchestrationNotFound indicates an orchestration was not found by the given identifier.
	ErrOrchestrationNotFound = errors.New("orchestration not found")

	// ErrOrchestrationAlreadyExists indicates another orchestration already uses the name.
	ErrOrchestrationAlreadyExists = errors.New("orchestration already exists")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// OrchestrationError wraps orchestration-related errors with additional context.
type OrchestrationError struct {
	Op              string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	OrchestrationID string
	Err             error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s operation failed for orchestration %s: %v", e.Op, e.OrchestrationID, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for orchestration errors.
func (e *OrchestrationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOrchestrationError creates a new orchestration error with context.
func NewOrchestrationError(op, orchestrationID string, err error) *OrchestrationError {
	return &OrchestrationError{
		Op:              op,
		OrchestrationID: orchestrationID,
		Err:             err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsOrchestrationNotFound checks if an error indicates an orchestration was not found.
func IsOrchestrationNotFound(err error) bool {
	return errors.Is(err, ErrOrchestrationNotFound)
}

// IsOrchestrationAlreadyExists checks if an error indicates a name conflict.
func IsOrchestrationAlreadyExists(err error) bool {
	return errors.Is(err, ErrOrchestrationAlreadyExists)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
