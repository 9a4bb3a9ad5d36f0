package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/orchestration"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workers"
	"go.opentelemetry.io/otel/trace"
)

// EngineConfig carries the settings shared by every binary that runs orchestrations.
type EngineConfig struct {
	ServiceName  string
	DatabaseURL  string
	EventBus     string
	KafkaBrokers string
	Tracing      bool
	Workers      WorkerConfig
}

// Engine bundles storage, workers, the runner and the services built on them.
type Engine struct {
	Persistence    persistence.Persistence
	Workers        *workers.Registry
	Runner         *orchestration.Runner
	Orchestrations *services.Orchestration
	Executions     *services.Execution

	eventBus        eventbus.EventBus
	shutdownTracing func(context.Context) error
	logger          *slog.Logger
}

// NewEngine wires the engine. Call Close to drain runs and release resources.
func NewEngine(ctx context.Context, logger *slog.Logger, config EngineConfig) (*Engine, error) {
	engine := &Engine{logger: logger}

	var tracer trace.Tracer

	if config.Tracing {
		t, shutdown, err := otelhelper.NewTracer(ctx, config.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}

		tracer = t
		engine.shutdownTracing = shutdown
	}

	p, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		engine.closeTracing(ctx)

		return nil, err
	}

	engine.Persistence = p

	bus, err := NewEventBus(logger, config.EventBus, config.KafkaBrokers, config.Tracing)
	if err != nil {
		_ = p.Close(ctx)
		engine.closeTracing(ctx)

		return nil, err
	}

	engine.eventBus = bus

	engine.Workers = NewWorkerRegistry(logger, config.Workers)

	runnerOpts := []orchestration.RunnerOption{}
	if bus != nil {
		runnerOpts = append(runnerOpts, orchestration.WithPublisher(bus))
	}

	if tracer != nil {
		runnerOpts = append(runnerOpts, orchestration.WithTracer(tracer))
	}

	executor := orchestration.NewStepExecutor(logger, engine.Workers, tracer)
	engine.Runner = orchestration.NewRunner(logger, p.Executions(), executor, runnerOpts...)
	engine.Orchestrations = services.NewOrchestration(p, logger)
	engine.Executions = services.NewExecution(p, engine.Runner, logger)

	logger.InfoContext(ctx, "Engine ready", "roles", engine.Workers.Roles(), "event_bus", config.EventBus)

	return engine, nil
}

// Close waits for in-flight runs, then closes the event bus, storage and tracing.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if err := e.Runner.WaitContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestration runs still in flight: %w", err))
	}

	if e.eventBus != nil {
		if err := e.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}

	if err := e.Persistence.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	e.closeTracing(ctx)

	return errors.Join(errs...)
}

func (e *Engine) closeTracing(ctx context.Context) {
	if e.shutdownTracing == nil {
		return
	}

	if err := e.shutdownTracing(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Failed to shut down tracing", "error", err)
	}
}
