package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/orchestration"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultExecutionListLimit is used when List is called without a positive limit.
const DefaultExecutionListLimit = 50

type Execution struct {
	persistence persistence.Persistence
	runner      *orchestration.Runner
	logger      *slog.Logger
}

func NewExecution(persistence persistence.Persistence, runner *orchestration.Runner, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		runner:      runner,
		logger:      logger.With("module", "execution_service"),
	}
}

type ExecuteRequest struct {
	// OrchestrationID accepts the orchestration ID or its name.
	OrchestrationID string
	Input           any
	RoleAssignments map[string]string
	UserID          string
}

// Execute records a running execution and starts it in the background. The returned
// execution is the initial record; poll GetStatus for progress.
func (e *Execution) Execute(ctx context.Context, req ExecuteRequest) (*models.Execution, error) {
	orchestrations := NewOrchestration(e.persistence, e.logger)

	orch, err := orchestrations.Get(ctx, req.OrchestrationID)
	if err != nil {
		return nil, err
	}

	if err := validateInput(orch.InputSchema, req.Input); err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:              uuid.New().String(),
		OrchestrationID: orch.ID,
		Input:           req.Input,
		UserID:          req.UserID,
		Status:          models.ExecutionStatusRunning,
		Context:         map[string]any{"input": req.Input},
		StepLogs:        []models.StepLogEntry{},
		StartedAt:       time.Now().UTC(),
	}

	if err := e.persistence.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Started execution",
		"execution_id", execution.ID,
		"orchestration_id", orch.ID,
		"steps", len(orch.Steps),
	)

	started := *execution
	e.runner.Start(ctx, &started, orch, req.RoleAssignments)

	return execution, nil
}

// GetStatus returns the stored execution as it currently is.
func (e *Execution) GetStatus(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := e.persistence.Executions().GetByID(ctx, id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// List returns the most recently started executions of an orchestration.
func (e *Execution) List(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = DefaultExecutionListLimit
	}

	executions, err := e.persistence.Executions().ListByOrchestration(ctx, orchestrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

func validateInput(schema map[string]any, input any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(input))
	if err != nil {
		return NewValidationError("ValidateInput", "INVALID_INPUT", err.Error(), ErrInvalidInput)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return NewValidationError("ValidateInput", "INVALID_INPUT", strings.Join(messages, "; "), ErrInvalidInput)
}
