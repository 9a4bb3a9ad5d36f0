// Package workers resolves role hints to the callables that produce step output.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
)

// ErrNoWorkerAvailable indicates no worker could be resolved for a role hint.
var ErrNoWorkerAvailable = errors.New("no available worker")

// Worker turns a prompt into output text.
type Worker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, prompt string) (string, error)

func (f WorkerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Resolver looks up a worker for a role hint.
type Resolver interface {
	Resolve(ctx context.Context, role string) (Worker, error)
}

// Registry is an in-process Resolver keyed by role name.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	workers map[string]Worker
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "worker_registry"),
		workers: make(map[string]Worker),
	}
}

// Register binds a worker to a role, replacing any previous binding.
func (r *Registry) Register(role string, worker Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers[role] = worker
	r.logger.Debug("Registered worker", "role", role)
}

// Roles returns the registered role names, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.workers))
	for role := range r.workers {
		roles = append(roles, role)
	}

	sort.Strings(roles)

	return roles
}

// Resolve returns the worker for role, falling back to the general worker role and
// then to the first registered role in name order.
func (r *Registry) Resolve(_ context.Context, role string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if role != "" {
		if worker, ok := r.workers[role]; ok {
			return worker, nil
		}
	}

	if worker, ok := r.workers[models.DefaultRole]; ok {
		return worker, nil
	}

	if len(r.workers) == 0 {
		return nil, fmt.Errorf("%w for role %q", ErrNoWorkerAvailable, role)
	}

	roles := make([]string, 0, len(r.workers))
	for name := range r.workers {
		roles = append(roles, name)
	}

	sort.Strings(roles)

	return r.workers[roles[0]], nil
}
