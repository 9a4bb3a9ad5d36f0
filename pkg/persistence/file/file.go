// Package file provides file-based persistence for orchestrations and executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every record is one JSON document under <root>/<collection>/<id>.json.
type Persistence struct {
	root              string
	orchestrationRepo *OrchestrationRepository
	executionRepo     *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	executions := NewExecutionRepository(cleanRoot)

	return &Persistence{
		root:              cleanRoot,
		orchestrationRepo: NewOrchestrationRepository(cleanRoot, executions),
		executionRepo:     executions,
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists, creating it on first use.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0750); err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}

	if _, err := os.Stat(fp.root); err != nil {
		return err
	}

	return nil
}

func (fp *Persistence) Orchestrations() persistence.OrchestrationRepository {
	return fp.orchestrationRepo
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executionRepo
}

// validateID rejects identifiers that would escape the collection directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	return nil
}

type collection struct {
	dir string
}

func (c collection) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// read decodes the document into v. It reports false when the document does not exist.
func (c collection) read(id string, v any) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	body, err := os.ReadFile(c.path(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}

func (c collection) write(id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	// Write to a temp file and rename so readers never see a partial document.
	tmp := c.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, c.path(id))
}

func (c collection) remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(c.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// ids lists the stored document ids.
func (c collection) ids() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(match), ".json"))
	}

	return ids, nil
}
