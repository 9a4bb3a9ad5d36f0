// Package definitions loads orchestration definitions from YAML files and seeds them into storage.
package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyDefinitions = errors.New("definitions: payload is empty")
	ErrMissingName      = errors.New("definitions: orchestration name is required")
	ErrDuplicateName    = errors.New("definitions: orchestration name is declared twice")
)

// Definition is the YAML form of an orchestration.
type Definition struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Tags        []string       `yaml:"tags"`
	IsActive    *bool          `yaml:"is_active"`
	InputSchema map[string]any `yaml:"input_schema"`
	CreatedBy   string         `yaml:"created_by"`
	Steps       []Step         `yaml:"steps"`
}

// Step is the YAML form of an orchestration step.
type Step struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Order         int            `yaml:"order"`
	StepType      string         `yaml:"step_type"`
	Condition     *Condition     `yaml:"condition"`
	InputMapping  map[string]any `yaml:"input_mapping"`
	OutputMapping map[string]any `yaml:"output_mapping"`
	MaxRetries    int            `yaml:"max_retries"`
	RetryDelay    int            `yaml:"retry_delay"`
	Timeout       int            `yaml:"timeout"`
	ParallelGroup string         `yaml:"parallel_group"`
	Role          string         `yaml:"role"`
}

type Condition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type document struct {
	Orchestrations []Definition `yaml:"orchestrations"`
}

// Parse decodes either a top-level list of definitions or a document with an
// "orchestrations" key.
func Parse(data []byte) ([]Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDefinitions
	}

	var defs []Definition

	if trimmed[0] == '-' {
		if err := yaml.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("definitions: decode: %w", err)
		}
	} else {
		var doc document
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("definitions: decode: %w", err)
		}

		defs = doc.Orchestrations
	}

	seen := make(map[string]struct{}, len(defs))

	for i := range defs {
		defs[i].Name = strings.TrimSpace(defs[i].Name)
		if defs[i].Name == "" {
			return nil, fmt.Errorf("definitions: entry %d: %w", i, ErrMissingName)
		}

		if _, ok := seen[defs[i].Name]; ok {
			return nil, fmt.Errorf("definitions: %s: %w", defs[i].Name, ErrDuplicateName)
		}

		seen[defs[i].Name] = struct{}{}
	}

	return defs, nil
}

// LoadFile reads and parses a definitions file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definitions: read %s: %w", path, err)
	}

	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return defs, nil
}

// Request converts the definition into a create request.
func (d Definition) Request() services.CreateOrchestrationRequest {
	steps := make([]*models.OrchestrationStep, 0, len(d.Steps))

	for _, s := range d.Steps {
		step := &models.OrchestrationStep{
			Name:          s.Name,
			Description:   s.Description,
			Order:         s.Order,
			StepType:      models.StepType(s.StepType),
			InputMapping:  s.InputMapping,
			OutputMapping: s.OutputMapping,
			MaxRetries:    s.MaxRetries,
			RetryDelay:    s.RetryDelay,
			Timeout:       s.Timeout,
			ParallelGroup: s.ParallelGroup,
			Role:          s.Role,
		}

		if s.Condition != nil {
			step.Condition = &models.Condition{
				Field:    s.Condition.Field,
				Operator: s.Condition.Operator,
				Value:    s.Condition.Value,
			}
		}

		steps = append(steps, step)
	}

	return services.CreateOrchestrationRequest{
		Name:        d.Name,
		Description: d.Description,
		Tags:        d.Tags,
		IsActive:    d.IsActive,
		Steps:       steps,
		InputSchema: d.InputSchema,
		CreatedBy:   d.CreatedBy,
	}
}

// SeedResult reports which definitions were created and which already existed.
type SeedResult struct {
	Created []string
	Skipped []string
}

// Seed creates every definition whose name is not stored yet. Existing orchestrations are
// left untouched, so seeding the same file twice is a no-op.
func Seed(ctx context.Context, logger *slog.Logger, svc *services.Orchestration, defs []Definition) (SeedResult, error) {
	var result SeedResult

	for _, def := range defs {
		_, err := svc.Get(ctx, def.Name)
		if err == nil {
			logger.InfoContext(ctx, "Orchestration already exists, skipping", "name", def.Name)
			result.Skipped = append(result.Skipped, def.Name)

			continue
		}

		if !services.IsNotFoundError(err) {
			return result, fmt.Errorf("failed to look up orchestration %s: %w", def.Name, err)
		}

		created, err := svc.Create(ctx, def.Request())
		if err != nil {
			return result, fmt.Errorf("failed to create orchestration %s: %w", def.Name, err)
		}

		logger.InfoContext(ctx, "Orchestration seeded", "name", created.Name, "id", created.ID)
		result.Created = append(result.Created, created.Name)
	}

	return result, nil
}
