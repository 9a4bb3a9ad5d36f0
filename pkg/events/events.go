// Package events defines execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "stepflow.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent      EventType = "execution.started"
	ExecutionStepFinishedEvent EventType = "execution.step.finished"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionFailedEvent       EventType = "execution.failed"
)

type BaseEvent struct {
	ID              string         `json:"id"`
	Type            EventType      `json:"type"`
	Timestamp       time.Time      `json:"timestamp"`
	OrchestrationID string         `json:"orchestration_id"`
	ExecutionID     string         `json:"execution_id"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, orchestrationID, executionID string) BaseEvent {
	return BaseEvent{
		ID:              uuid.New().String(),
		Type:            eventType,
		Timestamp:       time.Now().UTC(),
		OrchestrationID: orchestrationID,
		ExecutionID:     executionID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	Input any `json:"input,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionStepFinished struct {
	BaseEvent

	Step models.StepLogEntry `json:"step"`
}

func (e ExecutionStepFinished) GetType() EventType {
	return ExecutionStepFinishedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}
