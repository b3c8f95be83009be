package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/metacat/internal/domain"
)

type changeHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewChangeHistoryRepository wires the change record store backed by
// pgxpool.
func NewChangeHistoryRepository(pool *pgxpool.Pool) ChangeHistoryRepository {
	return &changeHistoryRepository{pool: pool}
}

func (r *changeHistoryRepository) LastRecord(ctx context.Context, entityType, name string) (domain.ChangeRecord, bool, error) {
	if r.pool == nil {
		return domain.ChangeRecord{}, false, fmt.Errorf("change history repository not initialized")
	}

	var (
		previousVersion string
		newVersion      string
		updateType      string
		changes         []byte
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT previous_version, new_version, update_type, changes
		 FROM change_records
		 WHERE entity_type = $1 AND lower(name) = lower($2)
		 ORDER BY recorded_at DESC
		 LIMIT 1`,
		entityType,
		name,
	).Scan(&previousVersion, &newVersion, &updateType, &changes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChangeRecord{}, false, nil
		}
		return domain.ChangeRecord{}, false, fmt.Errorf("load last change record for %s %q: %w", entityType, name, err)
	}

	record := domain.ChangeRecord{UpdateType: domain.UpdateType(updateType)}
	if record.PreviousVersion, err = domain.ParseVersion(previousVersion); err != nil {
		return domain.ChangeRecord{}, false, err
	}
	if record.NewVersion, err = domain.ParseVersion(newVersion); err != nil {
		return domain.ChangeRecord{}, false, err
	}
	if err := json.Unmarshal(changes, &record.Changes); err != nil {
		return domain.ChangeRecord{}, false, fmt.Errorf("decode change record for %s %q: %w", entityType, name, err)
	}
	return record, true, nil
}

func (r *changeHistoryRepository) Append(ctx context.Context, entityType, name string, record domain.ChangeRecord) error {
	if r.pool == nil {
		return fmt.Errorf("change history repository not initialized")
	}
	return appendChangeRecord(ctx, r.pool, entityType, name, record)
}

// appendChangeRecord runs the upsert on whichever querier the caller holds,
// so the snapshot repository can reuse it inside its commit transaction.
func appendChangeRecord(ctx context.Context, q querier, entityType, name string, record domain.ChangeRecord) error {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return fmt.Errorf("encode change record for %s %q: %w", entityType, name, err)
	}

	// Upsert on the version pair: a consolidated record replaces the one
	// already held for the same new version.
	_, err = q.Exec(
		ctx,
		`INSERT INTO change_records (entity_type, name, previous_version, new_version, update_type, changes, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (entity_type, name_key, new_version)
		 DO UPDATE SET previous_version = EXCLUDED.previous_version,
		               update_type = EXCLUDED.update_type,
		               changes = EXCLUDED.changes,
		               recorded_at = now()`,
		entityType,
		name,
		record.PreviousVersion.String(),
		record.NewVersion.String(),
		string(record.UpdateType),
		changes,
	)
	if err != nil {
		return fmt.Errorf("append change record for %s %q: %w", entityType, name, err)
	}
	return nil
}
