package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/workers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrStepTimeout is returned for an attempt that outlived the step timeout.
var ErrStepTimeout = errors.New("step execution timeout")

// StepExecutor runs a single step: input mapping, worker resolution, and the timed
// attempt loop.
type StepExecutor struct {
	resolver workers.Resolver
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewStepExecutor(logger *slog.Logger, resolver workers.Resolver, tracer trace.Tracer) *StepExecutor {
	if tracer == nil {
		tracer = otelhelper.Tracer()
	}

	return &StepExecutor{
		resolver: resolver,
		tracer:   tracer,
		logger:   logger.With("module", "step_executor"),
	}
}

// Execute runs step against runCtx and always returns a log entry; worker failures,
// timeouts and panics are retried and, once exhausted, reported as a failed entry.
// runCtx is only read.
func (e *StepExecutor) Execute(ctx context.Context, step *models.OrchestrationStep, runCtx map[string]any, role string) models.StepLogEntry {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "orchestration.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.RoleKey, role),
	)
	defer span.End()

	logger := e.logger.With("step_name", step.Name, "role", role)
	input := ResolveInput(step, runCtx)

	entry := models.StepLogEntry{
		StepID:    step.ID,
		StepName:  step.Name,
		StepInput: input,
	}

	prompt, err := promptFor(input)
	if err != nil {
		entry.Status = models.StepLogStatusFailed
		entry.Error = err.Error()

		otelhelper.SetError(span, err)

		return entry
	}

	maxRetries := max(step.MaxRetries, 0)
	retryDelay := time.Duration(max(step.RetryDelay, 0)) * time.Millisecond

	timeout := time.Duration(step.Timeout) * time.Millisecond
	if step.Timeout <= 0 {
		timeout = models.DefaultStepTimeout * time.Millisecond
	}

	var (
		attempts int
		output   string
	)

	operation := func() error {
		attempts++

		out, err := e.attempt(ctx, step, role, prompt, timeout)
		if err != nil {
			logger.WarnContext(ctx, "Step attempt failed", "attempt", attempts, "max_attempts", maxRetries+1, "error", err)

			return err
		}

		output = out

		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), uint64(maxRetries))

	started := time.Now()
	err = backoff.Retry(operation, backoff.WithContext(policy, ctx))
	entry.Duration = time.Since(started).Milliseconds()

	if err != nil {
		entry.Status = models.StepLogStatusFailed
		entry.Error = err.Error()
		entry.Attempts = maxRetries + 1

		logger.ErrorContext(ctx, "Step failed", "attempts", entry.Attempts, "error", err)
		otelhelper.SetError(span, err, attribute.Int(otelhelper.StepAttemptsKey, entry.Attempts))

		return entry
	}

	entry.Status = models.StepLogStatusCompleted
	entry.StepOutput = output
	entry.Attempts = attempts

	span.SetAttributes(attribute.Int(otelhelper.StepAttemptsKey, attempts))
	logger.InfoContext(ctx, "Step completed", "attempts", attempts, "duration_ms", entry.Duration)

	return entry
}

type attemptResult struct {
	output string
	err    error
}

// attempt invokes the worker once. The worker runs in its own goroutine so an attempt
// ends at the deadline even when the worker ignores its context.
func (e *StepExecutor) attempt(ctx context.Context, step *models.OrchestrationStep, role, prompt string, timeout time.Duration) (string, error) {
	worker, err := e.resolver.Resolve(ctx, role)
	if err != nil {
		return "", fmt.Errorf("no worker for step %s: %w", step.Name, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("worker panicked: %v", r)}
			}
		}()

		out, err := worker.Invoke(attemptCtx, prompt)
		done <- attemptResult{output: out, err: err}
	}()

	select {
	case result := <-done:
		if errors.Is(result.err, context.DeadlineExceeded) {
			return "", ErrStepTimeout
		}

		return result.output, result.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", ErrStepTimeout
		}

		return "", attemptCtx.Err()
	}
}

func promptFor(input any) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode step input: %w", err)
	}

	return string(raw), nil
}
