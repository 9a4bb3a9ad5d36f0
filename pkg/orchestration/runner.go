package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/condition"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrOrchestrationMissing fails a run whose orchestration could not be loaded.
	ErrOrchestrationMissing = errors.New("orchestration not found")
	// ErrOrchestrationInactive fails a run whose orchestration is switched off.
	ErrOrchestrationInactive = errors.New("orchestration is not active")
	// ErrRunPanicked marks a run aborted by an unexpected panic.
	ErrRunPanicked = errors.New("orchestration run panicked")
)

// StepFailedError aborts a run after a step exhausted its attempts.
type StepFailedError struct {
	StepName string
	Reason   string
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("Step %s failed: %s", e.StepName, e.Reason)
}

// InactiveError fails a run whose orchestration is switched off. It matches
// ErrOrchestrationInactive.
type InactiveError struct {
	Name string
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("Orchestration %s is not active", e.Name)
}

func (e *InactiveError) Is(target error) bool {
	return target == ErrOrchestrationInactive
}

// Runner executes orchestration runs and records their outcome.
type Runner struct {
	executions persistence.ExecutionRepository
	executor   *StepExecutor
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

type RunnerOption func(*Runner)

// WithPublisher publishes lifecycle events for every run.
func WithPublisher(publisher eventbus.EventPublisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func NewRunner(logger *slog.Logger, executions persistence.ExecutionRepository, executor *StepExecutor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executions: executions,
		executor:   executor,
		tracer:     otelhelper.Tracer(),
		logger:     logger.With("module", "orchestration_runner"),
		active:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start runs the orchestration in a background goroutine and returns immediately.
// The run keeps only the span of ctx, so it outlives the caller's request; its
// outcome is only observable through the execution repository.
func (r *Runner) Start(ctx context.Context, execution *models.Execution, orchestration *models.Orchestration, roleAssignments map[string]string) {
	runCtx := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))

	r.wg.Add(1)
	r.track(execution.ID)

	go func() {
		defer r.wg.Done()
		defer r.untrack(execution.ID)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.ErrorContext(runCtx, "Orchestration run aborted", "execution_id", execution.ID, "panic", rec)
			}
		}()

		r.Run(runCtx, execution, orchestration, roleAssignments)
	}()
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitContext is Wait bounded by ctx. When ctx ends first the runs still in flight
// are logged and ctx.Err() is returned; those runs keep going in the background.
func (r *Runner) WaitContext(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		running := r.Running()
		r.logger.WarnContext(ctx, "Stopped waiting for orchestration runs", "running", len(running), "execution_ids", running)

		return ctx.Err()
	}
}

// Running returns the IDs of runs started by Start that have not finished, sorted.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

func (r *Runner) track(id string) {
	r.mu.Lock()
	r.active[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

type runState struct {
	context map[string]any
	logs    []models.StepLogEntry
}

// Run executes the orchestration synchronously and persists the terminal state of
// execution. It returns the execution as stored, or as computed when the final
// update could not be stored. A nil orchestration fails the run.
func (r *Runner) Run(ctx context.Context, execution *models.Execution, orchestration *models.Orchestration, roleAssignments map[string]string) (result *models.Execution) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "orchestration.run",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.OrchestrationIDKey, execution.OrchestrationID),
	)
	defer span.End()

	logger := r.logger.With("execution_id", execution.ID, "orchestration_id", execution.OrchestrationID)

	state := &runState{
		context: map[string]any{"input": execution.Input},
		logs:    make([]models.StepLogEntry, 0),
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", ErrRunPanicked, rec)
			logger.ErrorContext(ctx, "Orchestration run panicked", "panic", rec)
			otelhelper.SetError(span, err)

			result = r.finish(ctx, logger, execution, state, err, started)
		}
	}()

	r.publish(ctx, logger, execution.ID, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, execution.OrchestrationID, execution.ID),
		Input:     execution.Input,
	})

	err := r.execute(ctx, logger, execution, orchestration, roleAssignments, state)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return r.finish(ctx, logger, execution, state, err, started)
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, execution *models.Execution, orchestration *models.Orchestration, roleAssignments map[string]string, state *runState) error {
	if orchestration == nil {
		return fmt.Errorf("%w: %s", ErrOrchestrationMissing, execution.OrchestrationID)
	}

	if !orchestration.IsActive {
		return &InactiveError{Name: orchestration.Name}
	}

	steps := make([]*models.OrchestrationStep, 0, len(orchestration.Steps))
	for _, step := range orchestration.Steps {
		if step != nil {
			steps = append(steps, step)
		}
	}

	models.SortSteps(steps)

	groups := GroupSteps(steps)
	logger.InfoContext(ctx, "Starting orchestration run", "orchestration_name", orchestration.Name, "steps", len(steps), "groups", len(groups))

	for _, group := range groups {
		var err error

		switch group.Type {
		case GroupParallel:
			err = r.runParallel(ctx, logger, execution, group, roleAssignments, state)
		default:
			err = r.runSequential(ctx, logger, execution, group, roleAssignments, state)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) runSequential(ctx context.Context, logger *slog.Logger, execution *models.Execution, group StepGroup, roleAssignments map[string]string, state *runState) error {
	for _, step := range group.Steps {
		if skipped, ok := skipEntry(step, state.context); ok {
			logger.InfoContext(ctx, "Skipping step", "step_name", step.Name, "reason", skipped.Reason)
			r.record(ctx, logger, execution, state, skipped)

			continue
		}

		entry := r.executor.Execute(ctx, step, state.context, roleFor(step, roleAssignments))
		r.record(ctx, logger, execution, state, entry)

		if entry.Status == models.StepLogStatusFailed {
			return &StepFailedError{StepName: step.Name, Reason: entry.Error}
		}

		ApplyOutput(step, entry.StepOutput, state.context)
	}

	return nil
}

// runParallel executes every step of the group concurrently against the context as
// it was when the group started. Output of completed steps is applied in declared
// order after all steps settle, so later steps win on key collisions; the run then
// aborts on the first failed step in declared order.
func (r *Runner) runParallel(ctx context.Context, logger *slog.Logger, execution *models.Execution, group StepGroup, roleAssignments map[string]string, state *runState) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "orchestration.parallel_group",
		attribute.String(otelhelper.GroupTypeKey, string(group.Type)),
		attribute.Int(otelhelper.GroupSizeKey, len(group.Steps)),
	)
	defer span.End()

	entries := make([]models.StepLogEntry, len(group.Steps))

	var g errgroup.Group

	for i, step := range group.Steps {
		if skipped, ok := skipEntry(step, state.context); ok {
			entries[i] = skipped

			continue
		}

		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(ctx, "Parallel step panicked", "step_name", step.Name, "panic", rec)

					entries[i] = models.StepLogEntry{
						StepID:   step.ID,
						StepName: step.Name,
						Status:   models.StepLogStatusFailed,
						Error:    fmt.Sprintf("step panicked: %v", rec),
					}
				}
			}()

			entries[i] = r.executor.Execute(ctx, step, state.context, roleFor(step, roleAssignments))

			return nil
		})
	}

	_ = g.Wait()

	var failed *StepFailedError

	for i, step := range group.Steps {
		entry := entries[i]
		r.record(ctx, logger, execution, state, entry)

		switch entry.Status {
		case models.StepLogStatusCompleted:
			ApplyOutput(step, entry.StepOutput, state.context)
		case models.StepLogStatusFailed:
			if failed == nil {
				failed = &StepFailedError{StepName: step.Name, Reason: entry.Error}
			}
		}
	}

	if failed != nil {
		otelhelper.SetFailure(span, failed.Error())

		return failed
	}

	return nil
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, execution *models.Execution, state *runState, entry models.StepLogEntry) {
	state.logs = append(state.logs, entry)

	r.publish(ctx, logger, execution.ID, events.ExecutionStepFinished{
		BaseEvent: events.NewBaseEvent(events.ExecutionStepFinishedEvent, execution.OrchestrationID, execution.ID),
		Step:      entry,
	})
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, execution *models.Execution, state *runState, runErr error, started time.Time) *models.Execution {
	completedAt := time.Now().UTC()

	update := models.ExecutionUpdate{
		Context:     state.context,
		StepLogs:    state.logs,
		CompletedAt: &completedAt,
	}

	status := models.ExecutionStatusCompleted
	if runErr != nil {
		status = models.ExecutionStatusFailed
		message := runErr.Error()
		update.Error = &message
	} else {
		update.Output = state.context
	}

	update.Status = &status

	stored, err := r.executions.Update(ctx, execution.ID, update)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store execution result", "status", status, "error", err)

		runErr = fmt.Errorf("failed to store execution result: %w", err)
		stored = r.storeFailure(ctx, logger, execution, runErr, completedAt)
	}

	duration := time.Since(started)

	if runErr != nil {
		logger.ErrorContext(ctx, "Orchestration run failed", "error", runErr, "duration_ms", duration.Milliseconds())
		r.publish(ctx, logger, execution.ID, events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.OrchestrationID, execution.ID),
			Error:     runErr.Error(),
			Duration:  duration,
		})

		return stored
	}

	logger.InfoContext(ctx, "Orchestration run completed", "steps", len(state.logs), "duration_ms", duration.Milliseconds())
	r.publish(ctx, logger, execution.ID, events.ExecutionCompleted{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, execution.OrchestrationID, execution.ID),
		Output:    state.context,
		Duration:  duration,
	})

	return stored
}

// storeFailure records a run whose full result could not be stored, so it never
// stays running. The patch carries no context, logs or output.
func (r *Runner) storeFailure(ctx context.Context, logger *slog.Logger, execution *models.Execution, storeErr error, completedAt time.Time) *models.Execution {
	status := models.ExecutionStatusFailed
	message := storeErr.Error()

	update := models.ExecutionUpdate{
		Status:      &status,
		CompletedAt: &completedAt,
		Error:       &message,
	}

	stored, err := r.executions.Update(ctx, execution.ID, update)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution as failed", "error", err)

		snapshot := *execution
		update.Apply(&snapshot)

		return &snapshot
	}

	return stored
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution event", "event_type", event.GetType(), "error", err)
	}
}

func skipEntry(step *models.OrchestrationStep, runCtx map[string]any) (models.StepLogEntry, bool) {
	if step.Condition == nil || condition.Evaluate(*step.Condition, runCtx) {
		return models.StepLogEntry{}, false
	}

	return models.StepLogEntry{
		StepID:   step.ID,
		StepName: step.Name,
		Status:   models.StepLogStatusSkipped,
		Reason:   models.SkipReasonConditionNotMet,
	}, true
}

// roleFor picks the role hint for a step: a run assignment, then the step's own role,
// then the general worker role.
func roleFor(step *models.OrchestrationStep, roleAssignments map[string]string) string {
	if role := roleAssignments[step.Name]; role != "" {
		return role
	}

	if step.Role != "" {
		return step.Role
	}

	return models.DefaultRole
}
