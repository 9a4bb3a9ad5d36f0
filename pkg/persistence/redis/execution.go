package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	rd "github.com/redis/go-redis/v9"
)

type ExecutionRepository struct {
	base *Persistence
}

func (r *ExecutionRepository) docKey(id string) string {
	return r.base.key(executionKey, id)
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to encode execution: %w", err))
	}

	created, err := r.base.client.SetNX(ctx, r.docKey(execution.ID), data, 0).Result()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if !created {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	err = r.base.client.ZAdd(ctx, r.base.key(executionsKey, execution.OrchestrationID), rd.Z{
		Score:  float64(execution.StartedAt.UnixNano()),
		Member: execution.ID,
	}).Err()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, id string, update models.ExecutionUpdate) (*models.Execution, error) {
	key := r.docKey(id)

	var execution models.Execution

	err := r.base.watch(ctx, func(tx *rd.Tx) error {
		execution = models.Execution{}

		found, err := getJSON(ctx, tx, key, &execution)
		if err != nil {
			return err
		}

		if !found {
			return persistence.ErrExecutionNotFound
		}

		update.Apply(&execution)

		data, err := json.Marshal(&execution)
		if err != nil {
			return fmt.Errorf("failed to encode execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})

		return err
	}, key)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := getJSON(ctx, r.base.client, r.docKey(id), &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (r *ExecutionRepository) ListByOrchestration(ctx context.Context, orchestrationID string, limit int) ([]*models.Execution, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := r.base.client.ZRevRange(ctx, r.base.key(executionsKey, orchestrationID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.docKey(id))
	}

	executions, err := mgetJSON[models.Execution](ctx, r.base.client, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}
