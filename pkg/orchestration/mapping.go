package orchestration

import (
	"maps"
	"slices"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

// ResolveInput builds a step's input from the run context. Without an input mapping
// the step receives a copy of the whole context; otherwise string entries are resolved
// as templates against the context and other values pass through unchanged. An empty
// mapping yields an empty input.
func ResolveInput(step *models.OrchestrationStep, runCtx map[string]any) any {
	if step.InputMapping == nil {
		return maps.Clone(runCtx)
	}

	input := make(map[string]any, len(step.InputMapping))
	for key, value := range step.InputMapping {
		input[key] = resolveValue(value, runCtx)
	}

	return input
}

// ApplyOutput folds a completed step's output into the run context. Without an
// output mapping the raw output is stored under the step name; otherwise each entry
// is resolved against {output, context} and written to its key, in key order. An
// empty mapping discards the output.
func ApplyOutput(step *models.OrchestrationStep, output any, runCtx map[string]any) {
	if step.OutputMapping == nil {
		runCtx[step.Name] = output

		return
	}

	for _, key := range slices.Sorted(maps.Keys(step.OutputMapping)) {
		data := map[string]any{
			"output":  output,
			"context": runCtx,
		}

		runCtx[key] = resolveValue(step.OutputMapping[key], data)
	}
}

func resolveValue(value any, data any) any {
	if tmpl, ok := value.(string); ok {
		return template.Resolve(tmpl, data)
	}

	return value
}
