package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const executionColumns = `
			id
		  , orchestration_id
		  , input
		  , user_id
		  , status
		  , context
		  , step_logs
		  , output
		  , error
		  , started_at
		  , completed_at`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	doc, err := encodeExecution(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO executions (id, orchestration_id, input, user_id, status, context, step_logs, output, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.OrchestrationID,
		nullableJSON(doc.input),
		execution.UserID,
		execution.Status,
		doc.context,
		doc.stepLogs,
		nullableJSON(doc.output),
		cleanText(execution.Error),
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update locks the row, applies the partial update and writes it back in one transaction.
func (r *ExecutionRepository) Update(ctx context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, "SELECT"+executionColumns+"\n\t\tFROM executions WHERE id = $1 FOR UPDATE", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Update", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("Update", id, err)
	}

	update.Apply(execution)

	doc, err := encodeExecution(execution)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	query := `
		UPDATE executions SET
			status = $2,
			context = $3,
			step_logs = $4,
			output = $5,
			error = $6,
			completed_at = $7
		WHERE id = $1
	`

	_, err = tx.ExecContext(ctx, query,
		id,
		execution.Status,
		doc.context,
		doc.stepLogs,
		nullableJSON(doc.output),
		cleanText(execution.Error),
		execution.CompletedAt,
	)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+executionColumns+"\n\t\tFROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByOrchestration(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error) {
	query := "SELECT" + executionColumns + `
		FROM executions
		WHERE orchestration_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var bound any
	if limit > 0 {
		bound = limit
	}

	rows, err := r.db.QueryContext(ctx, query, orchestrationID, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type executionDocument struct {
	input    []byte
	context  []byte
	stepLogs []byte
	output   []byte
}

func encodeExecution(execution *models.Execution) (*executionDocument, error) {
	var (
		doc executionDocument
		err error
	)

	if doc.input, err = marshalJSONB(execution.Input); err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	runCtx := execution.Context
	if runCtx == nil {
		runCtx = map[string]any{}
	}

	if doc.context, err = marshalJSONB(runCtx); err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	logs := execution.StepLogs
	if logs == nil {
		logs = []models.StepLogEntry{}
	}

	if doc.stepLogs, err = marshalJSONB(logs); err != nil {
		return nil, fmt.Errorf("failed to marshal step logs: %w", err)
	}

	if execution.Output != nil {
		if doc.output, err = marshalJSONB(execution.Output); err != nil {
			return nil, fmt.Errorf("failed to marshal output: %w", err)
		}
	}

	return &doc, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		doc         executionDocument
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.OrchestrationID,
		&doc.input,
		&execution.UserID,
		&execution.Status,
		&doc.context,
		&doc.stepLogs,
		&doc.output,
		&execution.Error,
		&execution.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(doc.input) > 0 {
		if err := json.Unmarshal(doc.input, &execution.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}

	if err := json.Unmarshal(doc.context, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	if err := json.Unmarshal(doc.stepLogs, &execution.StepLogs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step logs: %w", err)
	}

	if len(doc.output) > 0 {
		if err := json.Unmarshal(doc.output, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	execution.StartedAt = execution.StartedAt.UTC()

	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		execution.CompletedAt = &completed
	}

	return &execution, nil
}
