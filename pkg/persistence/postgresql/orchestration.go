package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/lib/pq"
)

const orchestrationColumns = `
			id
		  , name
		  , description
		  , tags
		  , is_active
		  , steps
		  , input_schema
		  , created_by
		  , created_at
		  , updated_at`

// OrchestrationRepository handles orchestration-related database operations.
type OrchestrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewOrchestrationRepository creates a new orchestration repository.
func NewOrchestrationRepository(db *sql.DB, logger *slog.Logger) *OrchestrationRepository {
	return &OrchestrationRepository{db: db, logger: logger}
}

// Save upserts the orchestration. The stored CreatedAt is kept on updates.
func (r *OrchestrationRepository) Save(ctx context.Context, orchestration *models.Orchestration) error {
	now := time.Now().UTC()

	if orchestration.CreatedAt.IsZero() {
		orchestration.CreatedAt = now
	}

	orchestration.UpdatedAt = now

	tags := orchestration.Tags
	if tags == nil {
		tags = []string{}
	}

	steps := orchestration.Steps
	if steps == nil {
		steps = []*models.OrchestrationStep{}
	}

	stepsJSON, err := marshalJSONB(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var schemaJSON []byte
	if orchestration.InputSchema != nil {
		schemaJSON, err = marshalJSONB(orchestration.InputSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal input schema: %w", err)
		}
	}

	query := `
		INSERT INTO orchestrations (id, name, description, tags, is_active, steps, input_schema, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			is_active = EXCLUDED.is_active,
			steps = EXCLUDED.steps,
			input_schema = EXCLUDED.input_schema,
			created_by = EXCLUDED.created_by,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		orchestration.ID,
		orchestration.Name,
		orchestration.Description,
		pq.Array(tags),
		orchestration.IsActive,
		stepsJSON,
		nullableJSON(schemaJSON),
		orchestration.CreatedBy,
		orchestration.CreatedAt,
		orchestration.UpdatedAt,
	).Scan(&orchestration.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewOrchestrationError("Save", orchestration.ID, persistence.ErrOrchestrationAlreadyExists)
		}

		return persistence.NewOrchestrationError("Save", orchestration.ID, err)
	}

	orchestration.CreatedAt = orchestration.CreatedAt.UTC()

	return nil
}

func (r *OrchestrationRepository) GetByID(ctx context.Context, id string) (*models.Orchestration, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+orchestrationColumns+"\n\t\tFROM orchestrations WHERE id = $1", id)

	orchestration, err := scanOrchestration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOrchestrationError("GetByID", id, persistence.ErrOrchestrationNotFound)
		}

		return nil, persistence.NewOrchestrationError("GetByID", id, err)
	}

	return orchestration, nil
}

func (r *OrchestrationRepository) GetByName(ctx context.Context, name string) (*models.Orchestration, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+orchestrationColumns+"\n\t\tFROM orchestrations WHERE name = $1", name)

	orchestration, err := scanOrchestration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewOrchestrationError("GetByName", name, persistence.ErrOrchestrationNotFound)
		}

		return nil, persistence.NewOrchestrationError("GetByName", name, err)
	}

	return orchestration, nil
}

func (r *OrchestrationRepository) List(ctx context.Context, opts persistence.ListOrchestrationsOptions) ([]*models.Orchestration, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if len(opts.Tags) > 0 {
		args = append(args, pq.Array(opts.Tags))
		conditions = append(conditions, "tags && $"+strconv.Itoa(len(args)))
	}

	if opts.IsActive != nil {
		args = append(args, *opts.IsActive)
		conditions = append(conditions, "is_active = $"+strconv.Itoa(len(args)))
	}

	query := "SELECT" + orchestrationColumns + "\n\t\tFROM orchestrations"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY updated_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestrations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	orchestrations := make([]*models.Orchestration, 0)

	for rows.Next() {
		orchestration, err := scanOrchestration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orchestration: %w", err)
		}

		orchestrations = append(orchestrations, orchestration)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating orchestrations: %w", err)
	}

	return orchestrations, nil
}

// Delete removes the orchestration; executions go with it through ON DELETE CASCADE.
func (r *OrchestrationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM orchestrations WHERE id = $1", id)
	if err != nil {
		return persistence.NewOrchestrationError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewOrchestrationError("Delete", id, persistence.ErrOrchestrationNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrchestration(row scanner) (*models.Orchestration, error) {
	var (
		orchestration models.Orchestration
		tags          pq.StringArray
		stepsJSON     []byte
		schemaJSON    []byte
	)

	err := row.Scan(
		&orchestration.ID,
		&orchestration.Name,
		&orchestration.Description,
		&tags,
		&orchestration.IsActive,
		&stepsJSON,
		&schemaJSON,
		&orchestration.CreatedBy,
		&orchestration.CreatedAt,
		&orchestration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	orchestration.Tags = []string(tags)
	if orchestration.Tags == nil {
		orchestration.Tags = []string{}
	}

	if err := json.Unmarshal(stepsJSON, &orchestration.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &orchestration.InputSchema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
		}
	}

	orchestration.CreatedAt = orchestration.CreatedAt.UTC()
	orchestration.UpdatedAt = orchestration.UpdatedAt.UTC()

	return &orchestration, nil
}

// nullableJSON stores absent documents as SQL NULL rather than the JSON literal null.
func nullableJSON(data []byte) any {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	return data
}
