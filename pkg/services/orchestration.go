package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

type Orchestration struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewOrchestration creates a new orchestration service.
func NewOrchestration(persistence persistence.Persistence, logger *slog.Logger) *Orchestration {
	return &Orchestration{
		persistence: persistence,
		logger:      logger.With("module", "orchestration_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (o *Orchestration) HealthCheck(ctx context.Context) (string, bool) {
	if o.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := o.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateOrchestrationRequest describes a new orchestration. IsActive defaults to true.
type CreateOrchestrationRequest struct {
	Name        string
	Description string
	Tags        []string
	IsActive    *bool
	Steps       []*models.OrchestrationStep
	InputSchema map[string]any
	CreatedBy   string
}

// Create validates and stores a new orchestration. Steps get IDs and defaults and are
// stored sorted by their order.
func (o *Orchestration) Create(ctx context.Context, req CreateOrchestrationRequest) (*models.Orchestration, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, NewValidationError("CreateOrchestration", "NAME_REQUIRED", "orchestration name is required", ErrOrchestrationNameRequired)
	}

	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}

	if err := validateInputSchema(req.InputSchema); err != nil {
		return nil, err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	steps := make([]*models.OrchestrationStep, 0, len(req.Steps))

	for _, step := range req.Steps {
		copied := *step
		if copied.ID == "" {
			copied.ID = uuid.New().String()
		}

		copied.ApplyDefaults()
		steps = append(steps, &copied)
	}

	models.SortSteps(steps)

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	orchestration := &models.Orchestration{
		ID:          uuid.New().String(),
		Name:        name,
		Description: req.Description,
		Tags:        tags,
		IsActive:    isActive,
		Steps:       steps,
		InputSchema: req.InputSchema,
		CreatedBy:   req.CreatedBy,
	}

	if err := o.persistence.Orchestrations().Save(ctx, orchestration); err != nil {
		if persistence.IsOrchestrationAlreadyExists(err) {
			return nil, &ServiceError{Op: "CreateOrchestration", Code: "NAME_TAKEN", Message: fmt.Sprintf("orchestration %q already exists", name), Err: ErrOrchestrationNameTaken}
		}

		return nil, fmt.Errorf("failed to save orchestration: %w", err)
	}

	o.logger.InfoContext(ctx, "Created orchestration", "orchestration_id", orchestration.ID, "name", orchestration.Name, "steps", len(steps))

	return orchestration, nil
}

// ListOrchestrationsRequest filters List. Nil IsActive and empty Tags match everything.
type ListOrchestrationsRequest struct {
	Tags     []string
	IsActive *bool
}

// List returns orchestrations sharing any of the tags, most recently updated first.
func (o *Orchestration) List(ctx context.Context, req ListOrchestrationsRequest) ([]*models.Orchestration, error) {
	orchestrations, err := o.persistence.Orchestrations().List(ctx, persistence.ListOrchestrationsOptions{
		Tags:     req.Tags,
		IsActive: req.IsActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orchestrations: %w", err)
	}

	return orchestrations, nil
}

// Get finds an orchestration by ID, falling back to its name.
func (o *Orchestration) Get(ctx context.Context, idOrName string) (*models.Orchestration, error) {
	orchestration, err := o.persistence.Orchestrations().GetByID(ctx, idOrName)
	if err == nil {
		return orchestration, nil
	}

	if !persistence.IsOrchestrationNotFound(err) && !isInvalidID(err) {
		return nil, fmt.Errorf("failed to get orchestration: %w", err)
	}

	orchestration, err = o.persistence.Orchestrations().GetByName(ctx, idOrName)
	if err != nil {
		if persistence.IsOrchestrationNotFound(err) {
			return nil, ErrOrchestrationNotFound
		}

		return nil, fmt.Errorf("failed to get orchestration: %w", err)
	}

	return orchestration, nil
}

// UpdateOrchestrationRequest changes metadata. Nil fields are left unchanged; steps
// are never modified.
type UpdateOrchestrationRequest struct {
	Name        *string
	Description *string
	Tags        []string
	IsActive    *bool
}

func (o *Orchestration) Update(ctx context.Context, id string, req UpdateOrchestrationRequest) (*models.Orchestration, error) {
	orchestration, err := o.persistence.Orchestrations().GetByID(ctx, id)
	if err != nil {
		if persistence.IsOrchestrationNotFound(err) {
			return nil, ErrOrchestrationNotFound
		}

		return nil, fmt.Errorf("failed to get orchestration: %w", err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, NewValidationError("UpdateOrchestration", "NAME_REQUIRED", "orchestration name is required", ErrOrchestrationNameRequired)
		}

		orchestration.Name = name
	}

	if req.Description != nil {
		orchestration.Description = *req.Description
	}

	if req.Tags != nil {
		orchestration.Tags = req.Tags
	}

	if req.IsActive != nil {
		orchestration.IsActive = *req.IsActive
	}

	if err := o.persistence.Orchestrations().Save(ctx, orchestration); err != nil {
		if persistence.IsOrchestrationAlreadyExists(err) {
			return nil, &ServiceError{Op: "UpdateOrchestration", Code: "NAME_TAKEN", Message: fmt.Sprintf("orchestration %q already exists", orchestration.Name), Err: ErrOrchestrationNameTaken}
		}

		return nil, fmt.Errorf("failed to update orchestration: %w", err)
	}

	o.logger.InfoContext(ctx, "Updated orchestration", "orchestration_id", orchestration.ID)

	return orchestration, nil
}

// Delete removes the orchestration together with its executions.
func (o *Orchestration) Delete(ctx context.Context, id string) error {
	if err := o.persistence.Orchestrations().Delete(ctx, id); err != nil {
		if persistence.IsOrchestrationNotFound(err) {
			return ErrOrchestrationNotFound
		}

		return fmt.Errorf("failed to delete orchestration: %w", err)
	}

	o.logger.InfoContext(ctx, "Deleted orchestration", "orchestration_id", id)

	return nil
}

func validateSteps(steps []*models.OrchestrationStep) error {
	orders := make(map[int]string, len(steps))
	names := make(map[string]bool, len(steps))

	for i, step := range steps {
		if step == nil || strings.TrimSpace(step.Name) == "" {
			return NewValidationError("ValidateSteps", "STEP_NAME_REQUIRED", fmt.Sprintf("step %d has no name", i), ErrStepNameRequired)
		}

		if other, ok := orders[step.Order]; ok {
			return NewValidationError("ValidateSteps", "DUPLICATE_STEP_ORDER",
				fmt.Sprintf("steps %q and %q share order %d", other, step.Name, step.Order), ErrDuplicateStepOrder)
		}

		if names[step.Name] {
			return NewValidationError("ValidateSteps", "DUPLICATE_STEP_NAME", fmt.Sprintf("step name %q is used twice", step.Name), ErrDuplicateStepName)
		}

		if step.MaxRetries < 0 || step.RetryDelay < 0 || step.Timeout < 0 {
			return NewValidationError("ValidateSteps", "INVALID_STEP", fmt.Sprintf("step %q has a negative retry or timeout setting", step.Name), ErrInvalidRequest)
		}

		orders[step.Order] = step.Name
		names[step.Name] = true
	}

	return nil
}

func validateInputSchema(schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return NewValidationError("ValidateInputSchema", "INVALID_INPUT_SCHEMA", err.Error(), ErrInvalidInputSchema)
	}

	return nil
}

func isInvalidID(err error) bool {
	return errors.Is(err, persistence.ErrInvalidID)
}
