// Package orchestration runs orchestrations: it groups steps, executes them with
// retries and timeouts, and folds their output into the run context.
package orchestration

import "github.com/dukex/stepflow/pkg/models"

// GroupType tells the runner how to execute the steps of a group.
type GroupType string

const (
	GroupSequential GroupType = "sequential"
	GroupParallel   GroupType = "parallel"
)

// StepGroup is a maximal run of adjacent steps sharing an execution mode. Key is the
// parallel group tag, empty for sequential groups.
type StepGroup struct {
	Type  GroupType
	Key   string
	Steps []*models.OrchestrationStep
}

// GroupSteps partitions steps, in slice order, into sequential and parallel groups.
// Adjacent steps with the same non-empty ParallelGroup share a parallel group and
// adjacent untagged steps share a sequential one; any change of tag starts a new group.
func GroupSteps(steps []*models.OrchestrationStep) []StepGroup {
	groups := make([]StepGroup, 0, len(steps))

	for _, step := range steps {
		if step == nil {
			continue
		}

		if n := len(groups); n > 0 && groups[n-1].Key == step.ParallelGroup {
			groups[n-1].Steps = append(groups[n-1].Steps, step)

			continue
		}

		groupType := GroupSequential
		if step.IsParallel() {
			groupType = GroupParallel
		}

		groups = append(groups, StepGroup{
			Type:  groupType,
			Key:   step.ParallelGroup,
			Steps: []*models.OrchestrationStep{step},
		})
	}

	return groups
}
