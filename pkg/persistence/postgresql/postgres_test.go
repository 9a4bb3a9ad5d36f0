package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"executions", "orchestrations", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("stepflow_test"),
			postgres.WithUsername("stepflow"),
			postgres.WithPassword("stepflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func newOrchestration(name string, tags ...string) *models.Orchestration {
	return &models.Orchestration{
		ID:       uuid.NewString(),
		Name:     name,
		Tags:     tags,
		IsActive: true,
		Steps: []*models.OrchestrationStep{
			{
				ID:           uuid.NewString(),
				Name:         "fetch",
				Order:        1,
				StepType:     models.StepTypeSequential,
				InputMapping: map[string]any{"url": "{{input.url}}"},
				RetryDelay:   models.DefaultRetryDelay,
				Timeout:      models.DefaultStepTimeout,
				Condition:    &models.Condition{Field: "input.enabled", Operator: "equals", Value: true},
			},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"orchestrations", "executions", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table+" table should exist")
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestOrchestrationRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	orchestration := newOrchestration("research", "ai")
	orchestration.InputSchema = map[string]any{"type": "object"}

	err := p.Orchestrations().Save(ctx, orchestration)
	require.NoError(t, err)
	assert.False(t, orchestration.CreatedAt.IsZero())

	retrieved, err := p.Orchestrations().GetByID(ctx, orchestration.ID)
	require.NoError(t, err)

	assert.Equal(t, orchestration.Name, retrieved.Name)
	assert.Equal(t, []string{"ai"}, retrieved.Tags)
	assert.True(t, retrieved.IsActive)
	assert.Equal(t, map[string]any{"type": "object"}, retrieved.InputSchema)
	require.Len(t, retrieved.Steps, 1)
	assert.Equal(t, "fetch", retrieved.Steps[0].Name)
	assert.Equal(t, map[string]any{"url": "{{input.url}}"}, retrieved.Steps[0].InputMapping)
	require.NotNil(t, retrieved.Steps[0].Condition)
	assert.Equal(t, true, retrieved.Steps[0].Condition.Value)

	byName, err := p.Orchestrations().GetByName(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, orchestration.ID, byName.ID)

	_, err = p.Orchestrations().GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsOrchestrationNotFound(err))
}

func TestOrchestrationRepository_UpdateKeepsCreatedAt(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	orchestration := newOrchestration("research")
	require.NoError(t, p.Orchestrations().Save(ctx, orchestration))

	createdAt := orchestration.CreatedAt

	orchestration.CreatedAt = time.Time{}
	orchestration.Description = "updated"
	require.NoError(t, p.Orchestrations().Save(ctx, orchestration))

	assert.WithinDuration(t, createdAt, orchestration.CreatedAt, time.Millisecond)

	retrieved, err := p.Orchestrations().GetByID(ctx, orchestration.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", retrieved.Description)
}

func TestOrchestrationRepository_UniqueName(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	require.NoError(t, p.Orchestrations().Save(ctx, newOrchestration("research")))

	err := p.Orchestrations().Save(ctx, newOrchestration("research"))
	assert.ErrorIs(t, err, persistence.ErrOrchestrationAlreadyExists)
}

func TestOrchestrationRepository_List(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	a := newOrchestration("a", "ai", "docs")
	require.NoError(t, p.Orchestrations().Save(ctx, a))

	b := newOrchestration("b", "ops")
	b.IsActive = false
	require.NoError(t, p.Orchestrations().Save(ctx, b))

	c := newOrchestration("c")
	require.NoError(t, p.Orchestrations().Save(ctx, c))

	active := true

	tests := []struct {
		name string
		opts persistence.ListOrchestrationsOptions
		want []string
	}{
		{name: "all, most recently updated first", opts: persistence.ListOrchestrationsOptions{}, want: []string{"c", "b", "a"}},
		{name: "any tag", opts: persistence.ListOrchestrationsOptions{Tags: []string{"docs", "ops"}}, want: []string{"b", "a"}},
		{name: "active", opts: persistence.ListOrchestrationsOptions{IsActive: &active}, want: []string{"c", "a"}},
		{name: "active with tag", opts: persistence.ListOrchestrationsOptions{Tags: []string{"ops"}, IsActive: &active}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Orchestrations().List(ctx, tt.opts)
			require.NoError(t, err)

			names := make([]string, 0, len(result))
			for _, o := range result {
				names = append(names, o.Name)
			}

			assert.Equal(t, tt.want, names)
		})
	}
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	orchestration := newOrchestration("research")
	require.NoError(t, p.Orchestrations().Save(ctx, orchestration))

	execution := &models.Execution{
		ID:              uuid.NewString(),
		OrchestrationID: orchestration.ID,
		Input:           map[string]any{"url": "x"},
		UserID:          "user-1",
		Status:          models.ExecutionStatusRunning,
		Context:         map[string]any{"input": map[string]any{"url": "x"}},
		StepLogs:        []models.StepLogEntry{},
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, p.Executions().Create(ctx, execution))

	err := p.Executions().Create(ctx, execution)
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	status := models.ExecutionStatusCompleted
	completedAt := time.Now().UTC()

	updated, err := p.Executions().Update(ctx, execution.ID, models.ExecutionUpdate{
		Status: &status,
		StepLogs: []models.StepLogEntry{
			{StepID: "s1", StepName: "fetch", Status: models.StepLogStatusCompleted, StepOutput: "doc", Attempts: 1},
		},
		Context:     map[string]any{"fetch": "doc"},
		Output:      map[string]any{"fetch": "doc"},
		CompletedAt: &completedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, updated.Status)
	assert.Equal(t, "user-1", updated.UserID)

	retrieved, err := p.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, retrieved.Status)
	assert.Equal(t, map[string]any{"url": "x"}, retrieved.Input)
	assert.Equal(t, map[string]any{"fetch": "doc"}, retrieved.Output)
	require.Len(t, retrieved.StepLogs, 1)
	assert.Equal(t, "doc", retrieved.StepLogs[0].StepOutput)
	require.NotNil(t, retrieved.CompletedAt)
	assert.WithinDuration(t, completedAt, *retrieved.CompletedAt, time.Millisecond)

	_, err = p.Executions().Update(ctx, uuid.NewString(), models.ExecutionUpdate{Status: &status})
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListAndCascade(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	orchestration := newOrchestration("research")
	require.NoError(t, p.Orchestrations().Save(ctx, orchestration))

	base := time.Now().UTC()
	ids := make([]string, 0, 3)

	for i := range 3 {
		execution := &models.Execution{
			ID:              uuid.NewString(),
			OrchestrationID: orchestration.ID,
			Status:          models.ExecutionStatusRunning,
			StartedAt:       base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, p.Executions().Create(ctx, execution))

		ids = append(ids, execution.ID)
	}

	all, err := p.Executions().ListByOrchestration(ctx, orchestration.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	limited, err := p.Executions().ListByOrchestration(ctx, orchestration.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, p.Orchestrations().Delete(ctx, orchestration.ID))

	_, err = p.Executions().GetByID(ctx, ids[0])
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = p.Orchestrations().Delete(ctx, orchestration.ID)
	assert.True(t, persistence.IsOrchestrationNotFound(err))
}
