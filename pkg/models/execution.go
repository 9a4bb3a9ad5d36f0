package models

import "time"

// ExecutionStatus is the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepLogStatus is the outcome of a single step within a run.
type StepLogStatus string

const (
	StepLogStatusCompleted StepLogStatus = "completed"
	StepLogStatusFailed    StepLogStatus = "failed"
	StepLogStatusSkipped   StepLogStatus = "skipped"
)

// SkipReasonConditionNotMet is recorded on steps whose condition evaluated to false.
const SkipReasonConditionNotMet = "Condition not met"

// Execution is one run of an orchestration.
type Execution struct {
	ID              string          `json:"id"`
	OrchestrationID string          `json:"orchestration_id"`
	Input           any             `json:"input"`
	UserID          string          `json:"user_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Context         map[string]any  `json:"context"`
	StepLogs        []StepLogEntry  `json:"step_logs"`
	Output          map[string]any  `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run reached completed or failed.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// StepLogEntry records the outcome of one step.
type StepLogEntry struct {
	StepID     string        `json:"step_id"`
	StepName   string        `json:"step_name"`
	Status     StepLogStatus `json:"status"`
	StepInput  any           `json:"step_input,omitempty"`
	StepOutput any           `json:"step_output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Duration   int64         `json:"duration"`
	Attempts   int           `json:"attempts"`
}

// ExecutionUpdate is a partial update of an execution. Nil fields are left unchanged.
type ExecutionUpdate struct {
	Status      *ExecutionStatus
	Context     map[string]any
	StepLogs    []StepLogEntry
	Output      map[string]any
	Error       *string
	CompletedAt *time.Time
}

// Apply writes the non-nil fields of the update onto the execution.
func (u ExecutionUpdate) Apply(e *Execution) {
	if u.Status != nil {
		e.Status = *u.Status
	}

	if u.Context != nil {
		e.Context = u.Context
	}

	if u.StepLogs != nil {
		e.StepLogs = u.StepLogs
	}

	if u.Output != nil {
		e.Output = u.Output
	}

	if u.Error != nil {
		e.Error = *u.Error
	}

	if u.CompletedAt != nil {
		e.CompletedAt = u.CompletedAt
	}
}
