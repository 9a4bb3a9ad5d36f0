// Package redis provides a Redis persistence implementation for orchestrations and executions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
	rd "github.com/redis/go-redis/v9"
)

const (
	defaultNamespace = "stepflow"

	orchestrationKey   = "orchestration"
	orchestrationsKey  = "orchestrations"
	orchestrationNames = "orchestration_names"
	executionKey       = "execution"
	executionsKey      = "executions"

	// maxTxRetries bounds optimistic-lock retries on a watched key.
	maxTxRetries = 10
)

// Persistence stores JSON documents in Redis. Orchestrations are indexed by name in a
// hash and by update time in a sorted set; executions are indexed per orchestration
// by start time.
type Persistence struct {
	client    rd.UniversalClient
	namespace string
	logger    *slog.Logger

	orchestrations *OrchestrationRepository
	executions     *ExecutionRepository
}

// NewPersistence connects to the redis:// URL and verifies the connection.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := rd.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := rd.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newPersistence(client, defaultNamespace, logger), nil
}

func newPersistence(client rd.UniversalClient, namespace string, logger *slog.Logger) *Persistence {
	p := &Persistence{
		client:    client,
		namespace: namespace,
		logger:    logger.With("module", "redis"),
	}

	p.executions = &ExecutionRepository{base: p}
	p.orchestrations = &OrchestrationRepository{base: p}

	return p
}

func (p *Persistence) Orchestrations() persistence.OrchestrationRepository {
	return p.orchestrations
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}

func (p *Persistence) key(args ...string) string {
	return fmt.Sprintf("%s:%s", p.namespace, strings.Join(args, ":"))
}

// watch runs fn as an optimistic transaction over keys, retrying when a watched key
// changes underneath it.
func (p *Persistence) watch(ctx context.Context, fn func(tx *rd.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := p.client.Watch(ctx, fn, keys...)
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}

		return err
	}

	return rd.TxFailedErr
}

// getJSON decodes the document at key. It reports false when the key does not exist.
func getJSON(ctx context.Context, cmd rd.Cmdable, key string, v any) (bool, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, rd.Nil) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return true, nil
}

// mgetJSON decodes every existing document among keys, skipping missing ones.
func mgetJSON[T any](ctx context.Context, cmd rd.Cmdable, keys []string) ([]*T, error) {
	result := make([]*T, 0, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := cmd.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		doc := new(T)
		if err := json.Unmarshal([]byte(raw), doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}

		result = append(result, doc)
	}

	return result, nil
}
