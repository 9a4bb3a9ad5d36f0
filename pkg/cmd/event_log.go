package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
)

// SubscribeEventLog logs every execution lifecycle event delivered by bus until ctx
// ends or the bus is closed.
func SubscribeEventLog(ctx context.Context, logger *slog.Logger, bus eventbus.EventSubscriber) error {
	logger = logger.With("module", "execution_events")

	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionStepFinishedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
	} {
		if err := bus.Handle(eventType, logEvent(logger)); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to execution events: %w", err)
	}

	return nil
}

func logEvent(logger *slog.Logger) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case *events.ExecutionStarted:
			logger.InfoContext(ctx, "Execution started", "execution_id", e.ExecutionID, "orchestration_id", e.OrchestrationID)
		case *events.ExecutionStepFinished:
			logger.InfoContext(ctx, "Execution step finished",
				"execution_id", e.ExecutionID,
				"step", e.Step.StepName,
				"status", e.Step.Status,
				"attempts", e.Step.Attempts,
			)
		case *events.ExecutionCompleted:
			logger.InfoContext(ctx, "Execution completed", "execution_id", e.ExecutionID, "duration_ms", e.Duration.Milliseconds())
		case *events.ExecutionFailed:
			logger.WarnContext(ctx, "Execution failed", "execution_id", e.ExecutionID, "error", e.Error, "duration_ms", e.Duration.Milliseconds())
		default:
			logger.DebugContext(ctx, "Ignoring unknown execution event", "event", fmt.Sprintf("%T", event))
		}

		return nil
	}
}

// LogEvents subscribes the event log to the engine's event bus. It does nothing when
// events are disabled.
func (e *Engine) LogEvents(ctx context.Context) error {
	if e.eventBus == nil {
		return nil
	}

	return SubscribeEventLog(ctx, e.logger, e.eventBus)
}
