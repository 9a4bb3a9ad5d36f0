package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	engine, err := cmd.NewEngine(t.Context(), slog.Default(), cmd.EngineConfig{
		ServiceName: "stepflow-api-test",
		DatabaseURL: "file://" + t.TempDir(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, engine.Close(context.Background()))
	})

	return NewAPI(slog.Default(), engine).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_Endpoints(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/", wantStatus: http.StatusOK, wantBody: "Stepflow API"},
		{path: "/livez", wantStatus: http.StatusOK, wantBody: "OK"},
		{path: "/readyz", wantStatus: http.StatusOK, wantBody: "OK"},
		{path: "/health", wantStatus: http.StatusOK, wantBody: "Stepflow API is healthy"},
		{path: "/orchestrations", wantStatus: http.StatusOK, wantBody: `"total_count":0`},
		{path: "/orchestrations/missing", wantStatus: http.StatusNotFound, wantBody: "orchestration_not_found"},
		{path: "/executions/missing", wantStatus: http.StatusNotFound, wantBody: "execution_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, app, tt.path)

			assert.Equal(t, tt.wantStatus, status)
			assert.Contains(t, body, tt.wantBody)
		})
	}
}

func TestAPI_CreateOrchestration(t *testing.T) {
	app := setupTestApp(t)

	payload := `{"name":"research","steps":[{"name":"fetch","order":1}]}`

	req := httptest.NewRequest(http.MethodPost, "/orchestrations", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "research", created["name"])

	status, body := get(t, app, "/orchestrations/research")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, created["id"])
}

func TestSeedCommand(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "orchestrations.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
- name: research
  steps:
    - name: fetch
      order: 1
`), 0o600))

	args := []string{"seed", "--file", path, "--database-url", "file://" + filepath.Join(root, "data")}

	require.NoError(t, SeedCommand().Run(t.Context(), args))
	require.NoError(t, SeedCommand().Run(t.Context(), args))

	store := file.NewPersistence(filepath.Join(root, "data"))

	all, err := store.Orchestrations().List(t.Context(), persistence.ListOrchestrationsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "research", all[0].Name)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"writer", "critic"}, splitList(" writer, ,critic "))
	assert.Nil(t, splitList(""))
}
