package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockOrchestrationRepository is a mock implementation of persistence.OrchestrationRepository interface.
type MockOrchestrationRepository struct {
	mock.Mock
}

func (m *MockOrchestrationRepository) Save(ctx context.Context, orchestration *models.Orchestration) error {
	args := m.Called(ctx, orchestration)

	return args.Error(0)
}

func (m *MockOrchestrationRepository) GetByID(ctx context.Context, id string) (*models.Orchestration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Orchestration), args.Error(1)
}

func (m *MockOrchestrationRepository) GetByName(ctx context.Context, name string) (*models.Orchestration, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Orchestration), args.Error(1)
}

func (m *MockOrchestrationRepository) List(ctx context.Context, opts persistence.ListOrchestrationsOptions) ([]*models.Orchestration, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Orchestration), args.Error(1)
}

func (m *MockOrchestrationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Update(ctx context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ListByOrchestration(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, orchestrationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	OrchestrationRepo *MockOrchestrationRepository
	ExecutionRepo     *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		OrchestrationRepo: &MockOrchestrationRepository{},
		ExecutionRepo:     &MockExecutionRepository{},
	}
}

func (m *MockPersistence) Orchestrations() persistence.OrchestrationRepository {
	return m.OrchestrationRepo
}

func (m *MockPersistence) Executions() persistence.ExecutionRepository {
	return m.ExecutionRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
