package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/metacat/internal/db"
	"github.com/rpattn/metacat/internal/domain"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type snapshotRepository struct {
	conn *db.Connection
}

// NewSnapshotRepository wires the persistence collaborator backed by the
// shared connection pool. Entity names compare case-insensitively.
func NewSnapshotRepository(conn *db.Connection) SnapshotRepository {
	return &snapshotRepository{conn: conn}
}

func (r *snapshotRepository) Load(ctx context.Context, entityType, name string) (domain.Snapshot, error) {
	if r.conn == nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot repository not initialized")
	}
	return loadSnapshot(ctx, r.conn.Pool, entityType, name)
}

func (r *snapshotRepository) Commit(ctx context.Context, expectedVersion domain.Version, snapshot domain.Snapshot) error {
	if r.conn == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}
	return commitSnapshot(ctx, r.conn.Pool, expectedVersion, snapshot)
}

// CommitWithRecord commits the snapshot and upserts its change record inside
// one transaction, so a record can never outlive a failed commit or a commit
// land without its record.
func (r *snapshotRepository) CommitWithRecord(ctx context.Context, expectedVersion domain.Version, snapshot domain.Snapshot, record domain.ChangeRecord) error {
	if r.conn == nil {
		return fmt.Errorf("snapshot repository not initialized")
	}
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := commitSnapshot(ctx, tx, expectedVersion, snapshot); err != nil {
			return err
		}
		return appendChangeRecord(ctx, tx, snapshot.EntityType, snapshot.Name, record)
	})
}

func (r *snapshotRepository) List(ctx context.Context, entityType string) ([]domain.Snapshot, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT name, version, fields, path, updated_at, updated_by
		 FROM entity_snapshots
		 WHERE entity_type = $1
		 ORDER BY name`,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", entityType, err)
	}
	defer rows.Close()

	snapshots := []domain.Snapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows, entityType)
		if err != nil {
			return nil, fmt.Errorf("scan %s entity: %w", entityType, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s entities: %w", entityType, err)
	}
	return snapshots, nil
}

func loadSnapshot(ctx context.Context, q querier, entityType, name string) (domain.Snapshot, error) {
	row := q.QueryRow(
		ctx,
		`SELECT name, version, fields, path, updated_at, updated_by
		 FROM entity_snapshots
		 WHERE entity_type = $1 AND lower(name) = lower($2)`,
		entityType,
		name,
	)
	snapshot, err := scanSnapshot(row, entityType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.NotFoundError(entityType, name)
		}
		return domain.Snapshot{}, fmt.Errorf("load %s %q: %w", entityType, name, err)
	}
	return snapshot, nil
}

func commitSnapshot(ctx context.Context, q querier, expectedVersion domain.Version, snapshot domain.Snapshot) error {
	fields, err := json.Marshal(snapshot.Fields)
	if err != nil {
		return fmt.Errorf("encode fields for %s %q: %w", snapshot.EntityType, snapshot.Name, err)
	}

	if expectedVersion.IsZero() {
		tag, err := q.Exec(
			ctx,
			`INSERT INTO entity_snapshots (entity_type, name, version, fields, path, updated_at, updated_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (entity_type, name_key) DO NOTHING`,
			snapshot.EntityType,
			snapshot.Name,
			snapshot.Version.String(),
			fields,
			snapshot.Path,
			snapshot.UpdatedAt,
			snapshot.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("insert %s %q: %w", snapshot.EntityType, snapshot.Name, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ConflictError(snapshot.EntityType, snapshot.Name, expectedVersion, snapshot.Version)
		}
		return nil
	}

	tag, err := q.Exec(
		ctx,
		`UPDATE entity_snapshots
		 SET version = $1, fields = $2, path = $3, updated_at = $4, updated_by = $5
		 WHERE entity_type = $6 AND lower(name) = lower($7) AND version = $8`,
		snapshot.Version.String(),
		fields,
		snapshot.Path,
		snapshot.UpdatedAt,
		snapshot.UpdatedBy,
		snapshot.EntityType,
		snapshot.Name,
		expectedVersion.String(),
	)
	if err != nil {
		return fmt.Errorf("commit %s %q: %w", snapshot.EntityType, snapshot.Name, err)
	}
	if tag.RowsAffected() == 0 {
		current, loadErr := loadSnapshot(ctx, q, snapshot.EntityType, snapshot.Name)
		if loadErr != nil {
			return loadErr
		}
		return domain.ConflictError(snapshot.EntityType, snapshot.Name, expectedVersion, current.Version)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner, entityType string) (domain.Snapshot, error) {
	var (
		snapshot  domain.Snapshot
		version   string
		fields    []byte
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&snapshot.Name, &version, &fields, &snapshot.Path, &updatedAt, &snapshot.UpdatedBy); err != nil {
		return domain.Snapshot{}, err
	}
	parsed, err := domain.ParseVersion(version)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshot.EntityType = entityType
	snapshot.Version = parsed
	snapshot.UpdatedAt = updatedAt.Time
	if err := json.Unmarshal(fields, &snapshot.Fields); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode fields: %w", err)
	}
	return snapshot, nil
}
