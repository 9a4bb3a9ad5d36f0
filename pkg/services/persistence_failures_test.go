package services

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("connection refused")

func TestOrchestration_HealthCheckUnhealthy(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.On("HealthCheck", mock.Anything).Return(errBackendDown)

	message, ok := NewOrchestration(store, slog.Default()).HealthCheck(t.Context())

	assert.False(t, ok)
	assert.Equal(t, "Persistence layer is unhealthy: connection refused", message)
	store.AssertExpectations(t)
}

func TestOrchestration_GetFallsBackToName(t *testing.T) {
	tests := []struct {
		name      string
		byIDErr   error
		byName    *models.Orchestration
		byNameErr error
		wantErr   error
		wantName  bool
	}{
		{
			name:     "not found by id",
			byIDErr:  persistence.NewOrchestrationError("GetByID", "research", persistence.ErrOrchestrationNotFound),
			byName:   &models.Orchestration{ID: "1", Name: "research"},
			wantName: true,
		},
		{
			name:     "name is not a valid id",
			byIDErr:  persistence.NewOrchestrationError("GetByID", "research", persistence.ErrInvalidID),
			byName:   &models.Orchestration{ID: "1", Name: "research"},
			wantName: true,
		},
		{
			name:      "unknown name",
			byIDErr:   persistence.ErrOrchestrationNotFound,
			byNameErr: persistence.NewOrchestrationError("GetByName", "research", persistence.ErrOrchestrationNotFound),
			wantErr:   ErrOrchestrationNotFound,
			wantName:  true,
		},
		{
			name:    "backend failure is not retried by name",
			byIDErr: errBackendDown,
			wantErr: errBackendDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMockPersistence()
			store.OrchestrationRepo.On("GetByID", mock.Anything, "research").Return(nil, tt.byIDErr)

			if tt.wantName {
				if tt.byName != nil {
					store.OrchestrationRepo.On("GetByName", mock.Anything, "research").Return(tt.byName, nil)
				} else {
					store.OrchestrationRepo.On("GetByName", mock.Anything, "research").Return(nil, tt.byNameErr)
				}
			}

			got, err := NewOrchestration(store, slog.Default()).Get(t.Context(), "research")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "1", got.ID)
			}

			store.OrchestrationRepo.AssertExpectations(t)

			if !tt.wantName {
				store.OrchestrationRepo.AssertNotCalled(t, "GetByName", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOrchestration_CreateStorageFailure(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.OrchestrationRepo.On("Save", mock.Anything, mock.AnythingOfType("*models.Orchestration")).Return(errBackendDown)

	_, err := NewOrchestration(store, slog.Default()).Create(t.Context(), CreateOrchestrationRequest{Name: "research"})

	assert.ErrorIs(t, err, errBackendDown)
	assert.False(t, IsConflictError(err))
	assert.False(t, IsValidationError(err))
}
