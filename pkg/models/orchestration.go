// Package models defines the core domain models for step-based orchestrations and their executions
package models

import (
	"sort"
	"time"
)

// StepType is a hint describing how a step is meant to run. Only the presence of a
// parallel group decides scheduling; the type is informational.
type StepType string

const (
	StepTypeSequential  StepType = "sequential"
	StepTypeParallel    StepType = "parallel"
	StepTypeConditional StepType = "conditional"
	StepTypeLoop        StepType = "loop"
)

const (
	// DefaultRetryDelay is the wait between attempts, in milliseconds.
	DefaultRetryDelay = 1000
	// DefaultStepTimeout bounds a single attempt, in milliseconds.
	DefaultStepTimeout = 300000
	// DefaultRole is the role hint used when neither the step nor the run names one.
	DefaultRole = "general_worker"
)

// Orchestration is a named, declarative list of steps.
type Orchestration struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"                   validate:"required,min=1"`
	Description string               `json:"description"`
	Tags        []string             `json:"tags"`
	IsActive    bool                 `json:"is_active"`
	Steps       []*OrchestrationStep `json:"steps"                  validate:"dive"`
	InputSchema map[string]any       `json:"input_schema,omitempty"`
	CreatedBy   string               `json:"created_by,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// OrchestrationStep is one declared unit of work.
type OrchestrationStep struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"                     validate:"required"`
	Description   string         `json:"description,omitempty"`
	Order         int            `json:"order"`
	StepType      StepType       `json:"step_type"                validate:"omitempty,oneof=sequential parallel conditional loop"`
	Condition     *Condition     `json:"condition,omitempty"`
	InputMapping  map[string]any `json:"input_mapping"`
	OutputMapping map[string]any `json:"output_mapping"`
	MaxRetries    int            `json:"max_retries"              validate:"gte=0"`
	RetryDelay    int            `json:"retry_delay"              validate:"gte=0"`
	Timeout       int            `json:"timeout"                  validate:"gte=0"`
	ParallelGroup string         `json:"parallel_group,omitempty"`
	Role          string         `json:"role,omitempty"`
}

// Condition gates a step on a value from the run context.
type Condition struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value,omitempty"`
}

// ApplyDefaults fills zero-valued step settings with their defaults.
func (s *OrchestrationStep) ApplyDefaults() {
	if s.StepType == "" {
		s.StepType = StepTypeSequential
	}

	if s.RetryDelay == 0 {
		s.RetryDelay = DefaultRetryDelay
	}

	if s.Timeout == 0 {
		s.Timeout = DefaultStepTimeout
	}
}

// IsParallel reports whether the step belongs to a parallel group.
func (s *OrchestrationStep) IsParallel() bool {
	return s.ParallelGroup != ""
}

// SortSteps orders steps by their declared order, keeping the slice order for ties.
func SortSteps(steps []*OrchestrationStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}

// HasAnyTag reports whether the orchestration carries at least one of the given tags.
func (o *Orchestration) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, tag := range o.Tags {
			if tag == want {
				return true
			}
		}
	}

	return false
}
