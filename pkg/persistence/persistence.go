// Package persistence provides the storage abstraction for orchestrations and their executions.
package persistence

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

type Persistence interface {
	Orchestrations() OrchestrationRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListOrchestrationsOptions filters List. A nil IsActive matches both states and an
// empty Tags matches every orchestration; otherwise any shared tag matches.
type ListOrchestrationsOptions struct {
	Tags     []string
	IsActive *bool
}

// Matches reports whether the orchestration passes the filter.
func (o ListOrchestrationsOptions) Matches(orchestration *models.Orchestration) bool {
	if o.IsActive != nil && orchestration.IsActive != *o.IsActive {
		return false
	}

	if len(o.Tags) > 0 && !orchestration.HasAnyTag(o.Tags) {
		return false
	}

	return true
}

// OrchestrationRepository stores orchestration definitions. Names are unique.
type OrchestrationRepository interface {
	// Save inserts or replaces the orchestration with the same ID.
	Save(ctx context.Context, orchestration *models.Orchestration) error
	GetByID(ctx context.Context, id string) (*models.Orchestration, error)
	GetByName(ctx context.Context, name string) (*models.Orchestration, error)
	// List returns matching orchestrations, most recently updated first.
	List(ctx context.Context, opts ListOrchestrationsOptions) ([]*models.Orchestration, error)
	// Delete removes the orchestration and every execution that references it.
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	// Update applies a partial update and returns the stored result.
	Update(ctx context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error)
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// ListByOrchestration returns up to limit executions, most recently started first.
	ListByOrchestration(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error)
}
