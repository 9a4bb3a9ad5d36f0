package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/orchestration"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workers"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolFunc func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	registry := workers.NewRegistry(slog.Default())
	registry.Register(models.DefaultRole, workers.Echo(models.DefaultRole))

	runner := orchestration.NewRunner(slog.Default(), store.Executions(), orchestration.NewStepExecutor(slog.Default(), registry, nil))
	t.Cleanup(runner.Wait)

	return NewServer(
		services.NewOrchestration(store, slog.Default()),
		services.NewExecution(store, runner, slog.Default()),
		slog.Default(),
		"test",
	)
}

func call(t *testing.T, handler toolFunc, args map[string]any) (string, bool) {
	t.Helper()

	request := mcp.CallToolRequest{}
	request.Params.Arguments = args

	result, err := handler(t.Context(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	return text.Text, result.IsError
}

func decode[T any](t *testing.T, payload string) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal([]byte(payload), &value))

	return value
}

const researchSteps = `[
	{"name": "fetch", "order": 1, "input_mapping": {"topic": "{{input.topic}}"}},
	{"name": "summarize", "order": 2, "input_mapping": {"text": "{{fetch}}"}}
]`

func TestServer_CreateAndGet(t *testing.T) {
	s := setupTestServer(t)

	text, isErr := call(t, s.handleCreateOrchestration, map[string]any{
		"name":         "research",
		"steps":        researchSteps,
		"tags":         "ai, research",
		"input_schema": `{"type":"object","required":["topic"]}`,
	})
	require.False(t, isErr, text)

	created := decode[models.Orchestration](t, text)
	assert.Equal(t, "research", created.Name)
	assert.Equal(t, []string{"ai", "research"}, created.Tags)
	assert.Equal(t, "mcp", created.CreatedBy)
	require.Len(t, created.Steps, 2)

	text, isErr = call(t, s.handleGetOrchestration, map[string]any{"orchestration": "research"})
	require.False(t, isErr, text)
	assert.Equal(t, created.ID, decode[models.Orchestration](t, text).ID)

	text, isErr = call(t, s.handleListOrchestrations, map[string]any{"tags": "ai", "active_only": true})
	require.False(t, isErr, text)
	assert.Len(t, decode[[]*models.Orchestration](t, text), 1)
}

func TestServer_ToolErrors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name    string
		handler toolFunc
		args    map[string]any
		want    string
	}{
		{
			name:    "create without name",
			handler: s.handleCreateOrchestration,
			args:    map[string]any{"steps": researchSteps},
			want:    "name parameter is required",
		},
		{
			name:    "create with malformed steps",
			handler: s.handleCreateOrchestration,
			args:    map[string]any{"name": "x", "steps": "{"},
			want:    "steps must be a JSON array",
		},
		{
			name:    "create with duplicate order",
			handler: s.handleCreateOrchestration,
			args:    map[string]any{"name": "x", "steps": `[{"name":"a","order":1},{"name":"b","order":1}]`},
			want:    "failed to create orchestration",
		},
		{
			name:    "get unknown orchestration",
			handler: s.handleGetOrchestration,
			args:    map[string]any{"orchestration": "missing"},
			want:    "failed to get orchestration",
		},
		{
			name:    "execute unknown orchestration",
			handler: s.handleExecuteOrchestration,
			args:    map[string]any{"orchestration": "missing"},
			want:    "failed to execute orchestration",
		},
		{
			name:    "execution status without id",
			handler: s.handleGetExecutionStatus,
			args:    map[string]any{},
			want:    "execution_id parameter is required",
		},
		{
			name:    "unknown execution",
			handler: s.handleGetExecutionStatus,
			args:    map[string]any{"execution_id": "missing"},
			want:    "failed to get execution",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, tt.handler, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestServer_ExecuteOrchestration(t *testing.T) {
	s := setupTestServer(t)

	_, isErr := call(t, s.handleCreateOrchestration, map[string]any{
		"name":         "research",
		"steps":        researchSteps,
		"input_schema": `{"type":"object","required":["topic"]}`,
	})
	require.False(t, isErr)

	text, isErr := call(t, s.handleExecuteOrchestration, map[string]any{"orchestration": "research", "input": "plain text"})
	assert.True(t, isErr)
	assert.Contains(t, text, "failed to execute orchestration")

	text, isErr = call(t, s.handleExecuteOrchestration, map[string]any{
		"orchestration":    "research",
		"input":            `{"topic":"go"}`,
		"role_assignments": `{"fetch":"general_worker"}`,
	})
	require.False(t, isErr, text)

	accepted := decode[map[string]any](t, text)
	assert.Equal(t, string(models.ExecutionStatusRunning), accepted["status"])

	executionID, ok := accepted["execution_id"].(string)
	require.True(t, ok)

	var execution models.Execution

	require.Eventually(t, func() bool {
		text, isErr := call(t, s.handleGetExecutionStatus, map[string]any{"execution_id": executionID})
		if isErr {
			return false
		}

		execution = decode[models.Execution](t, text)

		return execution.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Len(t, execution.StepLogs, 2)

	text, isErr = call(t, s.handleListExecutions, map[string]any{"orchestration": "research", "limit": float64(10)})
	require.False(t, isErr, text)
	assert.Len(t, decode[[]*models.Execution](t, text), 1)
}
