// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest            = errors.New("invalid request")
	ErrOrchestrationNameRequired = errors.New("orchestration name is required")
	ErrStepNameRequired          = errors.New("step name is required")
	ErrDuplicateStepOrder        = errors.New("step order must be unique")
	ErrDuplicateStepName         = errors.New("step name must be unique")
	ErrInvalidInputSchema        = errors.New("invalid input schema")
	ErrInvalidInput              = errors.New("input does not match the orchestration input schema")

	// Business Logic Conflicts (409 Conflict).
	ErrOrchestrationNameTaken = errors.New("orchestration name is already in use")

	// Lookups (404 Not Found).
	ErrOrchestrationNotFound = persistence.ErrOrchestrationNotFound
	ErrExecutionNotFound     = persistence.ErrExecutionNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrOrchestrationNameRequired) ||
		errors.Is(err, ErrStepNameRequired) ||
		errors.Is(err, ErrDuplicateStepOrder) ||
		errors.Is(err, ErrDuplicateStepName) ||
		errors.Is(err, ErrInvalidInputSchema) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, persistence.ErrInvalidID)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrOrchestrationNameTaken) ||
		errors.Is(err, persistence.ErrOrchestrationAlreadyExists)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrOrchestrationNotFound) ||
		errors.Is(err, ErrExecutionNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
