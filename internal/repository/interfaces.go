package repository

import (
	"context"

	"github.com/rpattn/metacat/internal/domain"
)

// SnapshotRepository is the persistence collaborator. The core never assumes
// cross-call atomicity beyond the single Commit described here.
type SnapshotRepository interface {
	// Load returns the current snapshot, or domain.ErrNotFound.
	Load(ctx context.Context, entityType, name string) (domain.Snapshot, error)

	// Commit stores the new snapshot if the persisted version still equals
	// expectedVersion, failing with domain.ErrConflict otherwise. Passing
	// domain.ZeroVersion creates the entity and fails with ErrConflict if
	// it already exists.
	Commit(ctx context.Context, expectedVersion domain.Version, snapshot domain.Snapshot) error

	// List returns all current snapshots of one type ordered by name, for
	// deterministic exports.
	List(ctx context.Context, entityType string) ([]domain.Snapshot, error)
}

// RecordCommitter commits a snapshot together with its change record in one
// storage transaction. Stores that implement it close the window where the
// snapshot commit lands but the record append fails; the merge engine
// prefers it over separate Commit and Append calls when available.
type RecordCommitter interface {
	CommitWithRecord(ctx context.Context, expectedVersion domain.Version, snapshot domain.Snapshot, record domain.ChangeRecord) error
}

// ChangeHistoryRepository stores change records per entity. Append upserts
// on (entityType, name, newVersion) so a consolidated record replaces the
// record already held for the same version.
type ChangeHistoryRepository interface {
	LastRecord(ctx context.Context, entityType, name string) (domain.ChangeRecord, bool, error)
	Append(ctx context.Context, entityType, name string, record domain.ChangeRecord) error
}

// ReferenceRepository resolves entity names to references, used by bulk
// validation for foreign-key and scope checks.
type ReferenceRepository interface {
	// Resolve returns the reference for a named entity, or domain.ErrNotFound.
	Resolve(ctx context.Context, entityType, name string) (domain.EntityReference, error)
}
