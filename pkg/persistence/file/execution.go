package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository stores executions under <root>/executions.
type ExecutionRepository struct {
	mu   sync.Mutex
	docs collection
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		docs: collection{dir: filepath.Join(root, "executions")},
	}
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing models.Execution

	found, err := r.docs.read(execution.ID, &existing)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if found {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err := r.docs.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Update(_ context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var execution models.Execution

	found, err := r.docs.read(id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("Update", id, persistence.ErrExecutionNotFound)
	}

	update.Apply(&execution)

	if err := r.docs.write(id, &execution); err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var execution models.Execution

	found, err := r.docs.read(id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (r *ExecutionRepository) ListByOrchestration(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executions, err := r.byOrchestration(ctx, orchestrationID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (r *ExecutionRepository) deleteByOrchestration(ctx context.Context, orchestrationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	executions, err := r.byOrchestration(ctx, orchestrationID)
	if err != nil {
		return err
	}

	for _, execution := range executions {
		if err := r.docs.remove(execution.ID); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExecutionRepository) byOrchestration(_ context.Context, orchestrationID string) ([]*models.Execution, error) {
	ids, err := r.docs.ids()
	if err != nil {
		return nil, err
	}

	result := make([]*models.Execution, 0)

	for _, id := range ids {
		var execution models.Execution

		found, err := r.docs.read(id, &execution)
		if err != nil {
			return nil, err
		}

		if found && execution.OrchestrationID == orchestrationID {
			result = append(result, &execution)
		}
	}

	return result, nil
}
