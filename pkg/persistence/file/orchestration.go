package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// OrchestrationRepository stores orchestrations under <root>/orchestrations.
type OrchestrationRepository struct {
	mu         sync.Mutex
	docs       collection
	executions *ExecutionRepository
}

func NewOrchestrationRepository(root string, executions *ExecutionRepository) *OrchestrationRepository {
	return &OrchestrationRepository{
		docs:       collection{dir: filepath.Join(root, "orchestrations")},
		executions: executions,
	}
}

// Save inserts or replaces an orchestration. It sets CreatedAt on first save and
// UpdatedAt on every save.
func (r *OrchestrationRepository) Save(ctx context.Context, orchestration *models.Orchestration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findByName(ctx, orchestration.Name)
	if err != nil {
		return persistence.NewOrchestrationError("Save", orchestration.ID, err)
	}

	if existing != nil && existing.ID != orchestration.ID {
		return persistence.NewOrchestrationError("Save", orchestration.ID, persistence.ErrOrchestrationAlreadyExists)
	}

	now := time.Now().UTC()
	if orchestration.CreatedAt.IsZero() {
		orchestration.CreatedAt = now
	}

	orchestration.UpdatedAt = now

	if err := r.docs.write(orchestration.ID, orchestration); err != nil {
		return persistence.NewOrchestrationError("Save", orchestration.ID, err)
	}

	return nil
}

func (r *OrchestrationRepository) GetByID(_ context.Context, id string) (*models.Orchestration, error) {
	var orchestration models.Orchestration

	found, err := r.docs.read(id, &orchestration)
	if err != nil {
		return nil, persistence.NewOrchestrationError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewOrchestrationError("GetByID", id, persistence.ErrOrchestrationNotFound)
	}

	return &orchestration, nil
}

func (r *OrchestrationRepository) GetByName(ctx context.Context, name string) (*models.Orchestration, error) {
	orchestration, err := r.findByName(ctx, name)
	if err != nil {
		return nil, persistence.NewOrchestrationError("GetByName", name, err)
	}

	if orchestration == nil {
		return nil, persistence.NewOrchestrationError("GetByName", name, persistence.ErrOrchestrationNotFound)
	}

	return orchestration, nil
}

func (r *OrchestrationRepository) List(ctx context.Context, opts persistence.ListOrchestrationsOptions) ([]*models.Orchestration, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orchestrations: %w", err)
	}

	result := make([]*models.Orchestration, 0, len(all))
	for _, orchestration := range all {
		if opts.Matches(orchestration) {
			result = append(result, orchestration)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	return result, nil
}

func (r *OrchestrationRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	if err := r.executions.deleteByOrchestration(ctx, id); err != nil {
		return persistence.NewOrchestrationError("Delete", id, err)
	}

	if err := r.docs.remove(id); err != nil {
		return persistence.NewOrchestrationError("Delete", id, err)
	}

	return nil
}

func (r *OrchestrationRepository) findByName(ctx context.Context, name string) (*models.Orchestration, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	for _, orchestration := range all {
		if orchestration.Name == name {
			return orchestration, nil
		}
	}

	return nil, nil
}

func (r *OrchestrationRepository) all(_ context.Context) ([]*models.Orchestration, error) {
	ids, err := r.docs.ids()
	if err != nil {
		return nil, err
	}

	result := make([]*models.Orchestration, 0, len(ids))

	for _, id := range ids {
		var orchestration models.Orchestration

		found, err := r.docs.read(id, &orchestration)
		if err != nil {
			return nil, err
		}

		if found {
			result = append(result, &orchestration)
		}
	}

	return result, nil
}
