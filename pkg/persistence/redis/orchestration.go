package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	rd "github.com/redis/go-redis/v9"
)

type OrchestrationRepository struct {
	base *Persistence
}

func (r *OrchestrationRepository) docKey(id string) string {
	return r.base.key(orchestrationKey, id)
}

// Save upserts the orchestration, keeping the name index consistent under concurrent
// writers through WATCH on the index.
func (r *OrchestrationRepository) Save(ctx context.Context, orchestration *models.Orchestration) error {
	namesKey := r.base.key(orchestrationNames)
	docKey := r.docKey(orchestration.ID)

	err := r.base.watch(ctx, func(tx *rd.Tx) error {
		ownerID, err := tx.HGet(ctx, namesKey, orchestration.Name).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}

		if err == nil && ownerID != orchestration.ID {
			return persistence.ErrOrchestrationAlreadyExists
		}

		var existing models.Orchestration

		found, err := getJSON(ctx, tx, docKey, &existing)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if found {
			orchestration.CreatedAt = existing.CreatedAt
		} else if orchestration.CreatedAt.IsZero() {
			orchestration.CreatedAt = now
		}

		orchestration.UpdatedAt = now

		data, err := json.Marshal(orchestration)
		if err != nil {
			return fmt.Errorf("failed to encode orchestration: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			if found && existing.Name != orchestration.Name {
				pipe.HDel(ctx, namesKey, existing.Name)
			}

			pipe.Set(ctx, docKey, data, 0)
			pipe.HSet(ctx, namesKey, orchestration.Name, orchestration.ID)
			pipe.ZAdd(ctx, r.base.key(orchestrationsKey), rd.Z{
				Score:  float64(now.UnixNano()),
				Member: orchestration.ID,
			})

			return nil
		})

		return err
	}, namesKey, docKey)
	if err != nil {
		return persistence.NewOrchestrationError("Save", orchestration.ID, err)
	}

	return nil
}

func (r *OrchestrationRepository) GetByID(ctx context.Context, id string) (*models.Orchestration, error) {
	var orchestration models.Orchestration

	found, err := getJSON(ctx, r.base.client, r.docKey(id), &orchestration)
	if err != nil {
		return nil, persistence.NewOrchestrationError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewOrchestrationError("GetByID", id, persistence.ErrOrchestrationNotFound)
	}

	return &orchestration, nil
}

func (r *OrchestrationRepository) GetByName(ctx context.Context, name string) (*models.Orchestration, error) {
	id, err := r.base.client.HGet(ctx, r.base.key(orchestrationNames), name).Result()
	if errors.Is(err, rd.Nil) {
		return nil, persistence.NewOrchestrationError("GetByName", name, persistence.ErrOrchestrationNotFound)
	}

	if err != nil {
		return nil, persistence.NewOrchestrationError("GetByName", name, err)
	}

	return r.GetByID(ctx, id)
}

func (r *OrchestrationRepository) List(ctx context.Context, opts persistence.ListOrchestrationsOptions) ([]*models.Orchestration, error) {
	ids, err := r.base.client.ZRevRange(ctx, r.base.key(orchestrationsKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list orchestrations: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.docKey(id))
	}

	all, err := mgetJSON[models.Orchestration](ctx, r.base.client, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list orchestrations: %w", err)
	}

	result := make([]*models.Orchestration, 0, len(all))
	for _, orchestration := range all {
		if opts.Matches(orchestration) {
			result = append(result, orchestration)
		}
	}

	return result, nil
}

// Delete removes the orchestration, its indexes and every execution that references it.
func (r *OrchestrationRepository) Delete(ctx context.Context, id string) error {
	orchestration, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	runsKey := r.base.key(executionsKey, id)

	executionIDs, err := r.base.client.ZRange(ctx, runsKey, 0, -1).Result()
	if err != nil {
		return persistence.NewOrchestrationError("Delete", id, err)
	}

	_, err = r.base.client.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, executionID := range executionIDs {
			pipe.Del(ctx, r.base.key(executionKey, executionID))
		}

		pipe.Del(ctx, runsKey, r.docKey(id))
		pipe.HDel(ctx, r.base.key(orchestrationNames), orchestration.Name)
		pipe.ZRem(ctx, r.base.key(orchestrationsKey), id)

		return nil
	})
	if err != nil {
		return persistence.NewOrchestrationError("Delete", id, err)
	}

	return nil
}
