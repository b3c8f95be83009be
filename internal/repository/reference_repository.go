package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/metacat/internal/domain"
)

type referenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository wires the reference resolver backed by pgxpool.
// It reads from the same snapshot table the persistence collaborator
// writes, so foreign-key checks always see committed state.
func NewReferenceRepository(pool *pgxpool.Pool) ReferenceRepository {
	return &referenceRepository{pool: pool}
}

func (r *referenceRepository) Resolve(ctx context.Context, entityType, name string) (domain.EntityReference, error) {
	if r.pool == nil {
		return domain.EntityReference{}, fmt.Errorf("reference repository not initialized")
	}

	var ref domain.EntityReference
	err := r.pool.QueryRow(
		ctx,
		`SELECT name, path, COALESCE(fields->'displayName'->>'value', '')
		 FROM entity_snapshots
		 WHERE entity_type = $1 AND lower(name) = lower($2)`,
		entityType,
		name,
	).Scan(&ref.Name, &ref.Path, &ref.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntityReference{}, domain.NotFoundError(entityType, name)
		}
		return domain.EntityReference{}, fmt.Errorf("resolve %s %q: %w", entityType, name, err)
	}
	ref.Type = entityType
	return ref, nil
}
