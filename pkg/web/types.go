// Package web provides HTTP request and response types for the orchestration API.
package web

import "github.com/dukex/stepflow/pkg/models"

// CreateOrchestrationRequest represents the request body for creating a new orchestration.
type CreateOrchestrationRequest struct {
	Name        string                      `json:"name"                   validate:"required,min=1"`
	Description string                      `json:"description"`
	Tags        []string                    `json:"tags"`
	IsActive    *bool                       `json:"is_active,omitempty"`
	Steps       []*models.OrchestrationStep `json:"steps"                  validate:"dive,required"`
	InputSchema map[string]any              `json:"input_schema,omitempty"`
	CreatedBy   string                      `json:"created_by,omitempty"`
}

// UpdateOrchestrationRequest represents the request body for updating orchestration metadata.
// All fields are optional to support partial updates. Steps cannot be changed.
type UpdateOrchestrationRequest struct {
	Name        *string  `json:"name,omitempty"        validate:"omitempty,min=1"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty"`
}

// ExecuteOrchestrationRequest represents the request body for starting an execution.
type ExecuteOrchestrationRequest struct {
	Input           any               `json:"input"`
	RoleAssignments map[string]string `json:"role_assignments,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
}

// ExecutionAccepted is returned when an execution has been started.
type ExecutionAccepted struct {
	ExecutionID     string                 `json:"execution_id"`
	OrchestrationID string                 `json:"orchestration_id"`
	Status          models.ExecutionStatus `json:"status"`
}
