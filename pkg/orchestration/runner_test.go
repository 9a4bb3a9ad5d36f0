package orchestration_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/orchestration"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/workers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

// scripted registers one worker per role. Test steps use their name as role.
type scripted map[string]func(prompt string) (string, error)

func (s scripted) registry() *workers.Registry {
	registry := workers.NewRegistry(slog.Default())

	for name, fn := range s {
		registry.Register(name, workers.WorkerFunc(func(_ context.Context, prompt string) (string, error) {
			return fn(prompt)
		}))
	}

	return registry
}

type harness struct {
	executions persistence.ExecutionRepository
	runner     *orchestration.Runner
}

func newHarness(t *testing.T, resolver workers.Resolver, opts ...orchestration.RunnerOption) *harness {
	t.Helper()

	tracer := noop.NewTracerProvider().Tracer("test")
	executions := file.NewPersistence(t.TempDir()).Executions()
	executor := orchestration.NewStepExecutor(slog.Default(), resolver, tracer)

	opts = append([]orchestration.RunnerOption{orchestration.WithTracer(tracer)}, opts...)

	return &harness{
		executions: executions,
		runner:     orchestration.NewRunner(slog.Default(), executions, executor, opts...),
	}
}

func (h *harness) newExecution(t *testing.T, orchestrationID string, input any) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		ID:              uuid.New().String(),
		OrchestrationID: orchestrationID,
		Input:           input,
		Status:          models.ExecutionStatusRunning,
		Context:         map[string]any{"input": input},
		StepLogs:        []models.StepLogEntry{},
		StartedAt:       time.Now().UTC(),
	}
	require.NoError(t, h.executions.Create(t.Context(), execution))

	return execution
}

func step(name string, order int) *models.OrchestrationStep {
	return &models.OrchestrationStep{
		ID:         "step-" + name,
		Name:       name,
		Order:      order,
		Role:       name,
		RetryDelay: 1,
		Timeout:    1000,
	}
}

func orchestrationOf(steps ...*models.OrchestrationStep) *models.Orchestration {
	return &models.Orchestration{
		ID:       "orch-1",
		Name:     "research",
		IsActive: true,
		Steps:    steps,
	}
}

func names(logs []models.StepLogEntry) []string {
	result := make([]string, 0, len(logs))
	for _, entry := range logs {
		result = append(result, entry.StepName)
	}

	return result
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{
		"fetch":     func(string) (string, error) { return "doc-text", nil },
		"summarize": func(string) (string, error) { return "short", nil },
	}.registry())

	summarize := step("summarize", 2)
	summarize.InputMapping = map[string]any{"text": "{{fetch}}"}

	orch := orchestrationOf(summarize, step("fetch", 1))
	execution := h.newExecution(t, orch.ID, map[string]any{"url": "x"})

	result := h.runner.Run(t.Context(), execution, orch, nil)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Empty(t, result.Error)
	assert.NotNil(t, result.CompletedAt)
	assert.Equal(t, map[string]any{
		"input":     map[string]any{"url": "x"},
		"fetch":     "doc-text",
		"summarize": "short",
	}, result.Context)
	assert.Equal(t, result.Context, result.Output)
	assert.Equal(t, []string{"fetch", "summarize"}, names(result.StepLogs))
	assert.Equal(t, map[string]any{"text": "doc-text"}, result.StepLogs[1].StepInput)

	stored, err := h.executions.GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, "short", stored.Context["summarize"])
}

func TestRunner_SequentialAbort(t *testing.T) {
	t.Parallel()

	var bCalls atomic.Int32

	h := newHarness(t, scripted{
		"a": func(string) (string, error) { return "", errors.New("boom") },
		"b": func(string) (string, error) { bCalls.Add(1); return "never", nil },
	}.registry())

	orch := orchestrationOf(step("a", 1), step("b", 2))
	execution := h.newExecution(t, orch.ID, "in")

	result := h.runner.Run(t.Context(), execution, orch, nil)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "Step a failed: boom", result.Error)
	assert.Equal(t, []string{"a"}, names(result.StepLogs))
	assert.Equal(t, int32(0), bCalls.Load())
	assert.NotContains(t, result.Context, "a")
	assert.Nil(t, result.Output)
}

func TestRunner_ParallelPartialCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{
		"a": func(string) (string, error) { return "from a", nil },
		"b": func(string) (string, error) { return "", errors.New("b broke") },
		"c": func(string) (string, error) { return "never", nil },
	}.registry())

	a := step("a", 1)
	a.ParallelGroup = "fanout"
	a.OutputMapping = map[string]any{"result_a": "{{output}}"}

	b := step("b", 2)
	b.ParallelGroup = "fanout"

	orch := orchestrationOf(a, b, step("c", 3))
	execution := h.newExecution(t, orch.ID, nil)

	result := h.runner.Run(t.Context(), execution, orch, nil)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "Step b failed: b broke", result.Error)
	require.Equal(t, []string{"a", "b"}, names(result.StepLogs))
	assert.Equal(t, models.StepLogStatusCompleted, result.StepLogs[0].Status)
	assert.Equal(t, models.StepLogStatusFailed, result.StepLogs[1].Status)
	assert.Equal(t, "from a", result.Context["result_a"])
}

func TestRunner_ParallelRunsConcurrently(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32

	slow := func(string) (string, error) {
		current := inFlight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)

		return "done", nil
	}

	h := newHarness(t, scripted{"a": slow, "b": slow, "c": slow}.registry())

	orch := orchestrationOf(step("a", 1), step("b", 2), step("c", 3))
	for _, s := range orch.Steps {
		s.ParallelGroup = "all"
	}

	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, nil)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, []string{"a", "b", "c"}, names(result.StepLogs))
	assert.Equal(t, int32(3), peak.Load())
}

func TestRunner_ParallelSameKeyLastWriterWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{
		"a": func(string) (string, error) { time.Sleep(30 * time.Millisecond); return "first", nil },
		"b": func(string) (string, error) { return "second", nil },
	}.registry())

	a := step("a", 1)
	a.ParallelGroup = "p"
	a.OutputMapping = map[string]any{"answer": "{{output}}"}

	b := step("b", 2)
	b.ParallelGroup = "p"
	b.OutputMapping = map[string]any{"answer": "{{output}}"}

	orch := orchestrationOf(a, b)
	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, nil)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "second", result.Context["answer"])
}

func TestRunner_SkipSemantics(t *testing.T) {
	t.Parallel()

	var skippedCalls atomic.Int32

	h := newHarness(t, scripted{
		"check":    func(string) (string, error) { return "low", nil },
		"escalate": func(string) (string, error) { skippedCalls.Add(1); return "escalated", nil },
		"report":   func(string) (string, error) { return "reported", nil },
	}.registry())

	escalate := step("escalate", 2)
	escalate.Condition = &models.Condition{Field: "check", Operator: "==", Value: "high"}

	orch := orchestrationOf(step("check", 1), escalate, step("report", 3))
	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, nil)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	require.Equal(t, []string{"check", "escalate", "report"}, names(result.StepLogs))
	assert.Equal(t, models.StepLogStatusSkipped, result.StepLogs[1].Status)
	assert.Equal(t, models.SkipReasonConditionNotMet, result.StepLogs[1].Reason)
	assert.Equal(t, int32(0), skippedCalls.Load())
	assert.NotContains(t, result.Context, "escalate")
	assert.Equal(t, "reported", result.Context["report"])
}

func TestRunner_ConditionSeesInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{"deep": func(string) (string, error) { return "deep dive", nil }}.registry())

	deep := step("deep", 1)
	deep.Condition = &models.Condition{Field: "input.depth", Operator: ">=", Value: 3}

	orch := orchestrationOf(deep)
	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, map[string]any{"depth": 5}), orch, nil)

	require.Len(t, result.StepLogs, 1)
	assert.Equal(t, models.StepLogStatusCompleted, result.StepLogs[0].Status)
}

func TestRunner_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{}.registry())

	t.Run("inactive orchestration", func(t *testing.T) {
		orch := orchestrationOf(step("a", 1))
		orch.IsActive = false

		execution := h.newExecution(t, orch.ID, nil)
		result := h.runner.Run(t.Context(), execution, orch, nil)

		assert.Equal(t, models.ExecutionStatusFailed, result.Status)
		assert.Equal(t, "Orchestration research is not active", result.Error)
		assert.Empty(t, result.StepLogs)
		assert.ErrorIs(t, &orchestration.InactiveError{Name: orch.Name}, orchestration.ErrOrchestrationInactive)
	})

	t.Run("missing orchestration", func(t *testing.T) {
		execution := h.newExecution(t, "gone", nil)
		result := h.runner.Run(t.Context(), execution, nil, nil)

		assert.Equal(t, models.ExecutionStatusFailed, result.Status)
		assert.Contains(t, result.Error, "gone")
		assert.Empty(t, result.StepLogs)
	})
}

func TestRunner_RoleAssignments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{
		"writer": func(string) (string, error) { return "written", nil },
		"draft":  func(string) (string, error) { return "drafted", nil },
	}.registry())

	orch := orchestrationOf(step("draft", 1))
	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, map[string]string{"draft": "writer"})

	assert.Equal(t, "written", result.Context["draft"])
}

func TestRunner_StartIsDetached(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	h := newHarness(t, scripted{
		"slow": func(string) (string, error) { <-release; return "finally", nil },
	}.registry())

	orch := orchestrationOf(step("slow", 1))
	execution := h.newExecution(t, orch.ID, nil)

	ctx, cancel := context.WithCancel(t.Context())
	h.runner.Start(ctx, execution, orch, nil)
	cancel()

	stored, err := h.executions.GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)

	close(release)

	assert.Eventually(t, func() bool {
		stored, err := h.executions.GetByID(t.Context(), execution.ID)

		return err == nil && stored.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	h.runner.Wait()
}

func TestRunner_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	h := newHarness(t, scripted{
		"a": func(string) (string, error) { return "ok", nil },
		"b": func(string) (string, error) { return "", errors.New("nope") },
	}.registry(), orchestration.WithPublisher(bus))

	orch := orchestrationOf(step("a", 1), step("b", 2))
	h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, nil)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionStepFinishedEvent,
		events.ExecutionStepFinishedEvent,
		events.ExecutionFailedEvent,
	}, bus.PublishedTypes())
}

func TestRunner_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	h := newHarness(t, scripted{"a": func(string) (string, error) { return "ok", nil }}.registry(), orchestration.WithPublisher(bus))

	orch := orchestrationOf(step("a", 1))
	result := h.runner.Run(t.Context(), h.newExecution(t, orch.ID, nil), orch, nil)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
}

func TestRunner_StoreFailureReturnsFailedSnapshot(t *testing.T) {
	t.Parallel()

	executions := &mocks.MockExecutionRepository{}
	executions.On("Update", mock.Anything, "exec-1", mock.Anything).Return(nil, errors.New("disk full"))

	tracer := noop.NewTracerProvider().Tracer("test")
	registry := scripted{"a": func(string) (string, error) { return "ok", nil }}.registry()
	runner := orchestration.NewRunner(slog.Default(), executions,
		orchestration.NewStepExecutor(slog.Default(), registry, tracer), orchestration.WithTracer(tracer))

	orch := orchestrationOf(step("a", 1))
	execution := &models.Execution{ID: "exec-1", OrchestrationID: orch.ID, Status: models.ExecutionStatusRunning}

	result := runner.Run(t.Context(), execution, orch, nil)

	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.Equal(t, "failed to store execution result: disk full", result.Error)
	assert.NotNil(t, result.CompletedAt)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	executions.AssertNumberOfCalls(t, "Update", 2)
}

// rejectFirstUpdate fails the first Update it sees and delegates everything else.
type rejectFirstUpdate struct {
	persistence.ExecutionRepository

	updates atomic.Int32
	first   models.ExecutionUpdate
}

func (r *rejectFirstUpdate) Update(ctx context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error) {
	if r.updates.Add(1) == 1 {
		r.first = update

		return nil, errors.New("invalid byte sequence for encoding \"UTF8\": 0x00")
	}

	return r.ExecutionRepository.Update(ctx, id, update)
}

func TestRunner_RejectedResultIsStoredAsFailed(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	h := newHarness(t, scripted{}.registry())

	executions := &rejectFirstUpdate{ExecutionRepository: h.executions}
	tracer := noop.NewTracerProvider().Tracer("test")
	runner := orchestration.NewRunner(slog.Default(), executions,
		orchestration.NewStepExecutor(slog.Default(), scripted{
			"a": func(string) (string, error) { return "bad\x00", nil },
		}.registry(), tracer),
		orchestration.WithTracer(tracer), orchestration.WithPublisher(bus))

	orch := orchestrationOf(step("a", 1))
	execution := h.newExecution(t, orch.ID, nil)

	result := runner.Run(t.Context(), execution, orch, nil)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)

	require.NotNil(t, executions.first.Status)
	assert.Equal(t, models.ExecutionStatusCompleted, *executions.first.Status)
	assert.Equal(t, int32(2), executions.updates.Load())

	stored, err := h.executions.GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "failed to store execution result")
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.Output)

	assert.Equal(t, events.ExecutionFailedEvent, bus.PublishedTypes()[len(bus.PublishedTypes())-1])
}

func TestRunner_WaitContextStopsAtDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	h := newHarness(t, scripted{
		"slow": func(string) (string, error) { <-release; return "late", nil },
	}.registry())

	orch := orchestrationOf(step("slow", 1))
	execution := h.newExecution(t, orch.ID, nil)

	h.runner.Start(t.Context(), execution, orch, nil)

	t.Cleanup(func() {
		close(release)
		h.runner.Wait()
	})

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := h.runner.WaitContext(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, []string{execution.ID}, h.runner.Running())
}

func TestRunner_WaitContextReturnsWhenRunsFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(t, scripted{"a": func(string) (string, error) { return "ok", nil }}.registry())

	orch := orchestrationOf(step("a", 1))
	execution := h.newExecution(t, orch.ID, nil)

	h.runner.Start(t.Context(), execution, orch, nil)

	require.NoError(t, h.runner.WaitContext(t.Context()))
	assert.Empty(t, h.runner.Running())

	stored, err := h.executions.GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}
