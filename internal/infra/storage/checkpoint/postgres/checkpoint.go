package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/internal/infra/storage"
)

var _ collection.CheckpointRepository = (*CheckpointStore)(nil)

// CheckpointStore provides a PostgreSQL implementation of
// collection.CheckpointRepository, enabling resumable scans across
// process restarts and hosts.
type CheckpointStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewCheckpointStore creates a new PostgreSQL-backed checkpoint storage
// using the provided database connection.
func NewCheckpointStore(pool *pgxpool.Pool, tracer trace.Tracer) *CheckpointStore {
	return &CheckpointStore{pool: pool, tracer: tracer}
}

const upsertCheckpoint = `
INSERT INTO collection_checkpoints (resource, page, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (resource) DO UPDATE SET page = EXCLUDED.page, updated_at = EXCLUDED.updated_at
RETURNING updated_at`

// Save upserts the checkpoint for its resource.
func (p *CheckpointStore) Save(ctx context.Context, cp *collection.Checkpoint) error {
	dbAttrs := storage.Attributes(
		attribute.String("resource", cp.Resource),
		attribute.Int("page", cp.Page),
	)
	return storage.ExecuteAndTrace(ctx, p.tracer, "postgres.save_checkpoint", dbAttrs, func(ctx context.Context) error {
		if err := p.pool.QueryRow(ctx, upsertCheckpoint, cp.Resource, cp.Page).Scan(&cp.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

const getCheckpoint = `SELECT resource, page, updated_at FROM collection_checkpoints WHERE resource = $1`

// Load retrieves the checkpoint for resource. Returns nil if none exists.
func (p *CheckpointStore) Load(ctx context.Context, resource string) (*collection.Checkpoint, error) {
	var checkpoint *collection.Checkpoint
	dbAttrs := storage.Attributes(attribute.String("resource", resource))
	err := storage.ExecuteAndTrace(ctx, p.tracer, "postgres.load_checkpoint", dbAttrs, func(ctx context.Context) error {
		var cp collection.Checkpoint
		err := p.pool.QueryRow(ctx, getCheckpoint, resource).Scan(&cp.Resource, &cp.Page, &cp.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		checkpoint = &cp
		return nil
	})
	return checkpoint, err
}

const deleteCheckpoint = `DELETE FROM collection_checkpoints WHERE resource = $1`

// Delete removes the checkpoint for resource. It is not an error if none exists.
func (p *CheckpointStore) Delete(ctx context.Context, resource string) error {
	dbAttrs := storage.Attributes(attribute.String("resource", resource))
	return storage.ExecuteAndTrace(ctx, p.tracer, "postgres.delete_checkpoint", dbAttrs, func(ctx context.Context) error {
		if _, err := p.pool.Exec(ctx, deleteCheckpoint, resource); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		return nil
	})
}
