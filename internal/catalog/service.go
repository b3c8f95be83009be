// Package catalog exposes the engine's mutation surface: single-entity
// patches, synchronous bulk import/export, and their tracked asynchronous
// variants. The HTTP layer on top and the stores underneath are
// collaborators, not part of this package.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/auth"
	"github.com/rpattn/metacat/internal/bulk"
	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/job"
	"github.com/rpattn/metacat/internal/merge"
	"github.com/rpattn/metacat/internal/repository"
)

// Service is the core-exposed mutation surface.
type Service struct {
	registry  *Registry
	engine    *merge.Engine
	snapshots repository.SnapshotRepository
	resolver  repository.ReferenceRepository
	runner    *job.Runner

	parallelism int
}

// Option customizes the service.
type Option func(*Service)

// WithImportParallelism bounds concurrent row validation.
func WithImportParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewService wires the mutation surface over its collaborators.
func NewService(
	registry *Registry,
	engine *merge.Engine,
	snapshots repository.SnapshotRepository,
	resolver repository.ReferenceRepository,
	runner *job.Runner,
	opts ...Option,
) *Service {
	service := &Service{
		registry:    registry,
		engine:      engine,
		snapshots:   snapshots,
		resolver:    resolver,
		runner:      runner,
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ApplyPatch merges a requested snapshot into the named entity. Fails with
// domain.ErrNotFound, domain.ErrForbidden, or domain.ErrConflict (after the
// engine's bounded retries).
func (s *Service) ApplyPatch(ctx context.Context, entityType, name string, requested domain.Snapshot) (domain.Snapshot, domain.ChangeRecord, error) {
	def, err := s.registry.Lookup(entityType)
	if err != nil {
		return domain.Snapshot{}, domain.ChangeRecord{}, err
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return domain.Snapshot{}, domain.ChangeRecord{}, domain.ForbiddenError("anonymous", entityType, name)
	}
	requested.EntityType = entityType
	requested.Name = name
	if def.DerivePath != nil {
		requested.Path = def.DerivePath(requested)
	}
	result, err := s.engine.Apply(ctx, def.Descriptor, caller, requested)
	if err != nil {
		return domain.Snapshot{}, domain.ChangeRecord{}, err
	}
	return result.Snapshot, result.Record, nil
}

// Create persists a new entity with the type's creation defaults applied.
func (s *Service) Create(ctx context.Context, entityType string, snapshot domain.Snapshot) (domain.Snapshot, error) {
	def, err := s.registry.Lookup(entityType)
	if err != nil {
		return domain.Snapshot{}, err
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return domain.Snapshot{}, domain.ForbiddenError("anonymous", entityType, snapshot.Name)
	}
	snapshot.EntityType = entityType
	if def.Defaults != nil {
		snapshot = def.Defaults(snapshot)
	}
	if def.DerivePath != nil {
		snapshot.Path = def.DerivePath(snapshot)
	}
	return s.engine.Create(ctx, def.Descriptor, caller, snapshot)
}

// ImportCsv runs the bulk pipeline synchronously.
func (s *Service) ImportCsv(ctx context.Context, entityType string, req bulk.Request) (domain.ImportResult, error) {
	def, err := s.registry.Lookup(entityType)
	if err != nil {
		return domain.ImportResult{}, err
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return domain.ImportResult{}, domain.ForbiddenError("anonymous", entityType, "")
	}
	pipeline := bulk.NewPipeline(def.Contract, s.resolver, &rowApplier{service: s, def: def, caller: caller}, s.parallelism)
	return pipeline.Run(ctx, req)
}

// ExportCsv writes current entities in the contract's wire format, the
// inverse of import.
func (s *Service) ExportCsv(ctx context.Context, entityType, scopePath string) (string, error) {
	def, err := s.registry.Lookup(entityType)
	if err != nil {
		return "", err
	}
	return bulk.NewExporter(def.Contract, s.snapshots).ExportCsv(ctx, scopePath)
}

// ExportXlsx renders the export as a workbook.
func (s *Service) ExportXlsx(ctx context.Context, entityType, scopePath string) ([]byte, error) {
	def, err := s.registry.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	return bulk.NewExporter(def.Contract, s.snapshots).ExportXlsx(ctx, scopePath)
}

// SubmitImport starts the pipeline as a tracked asynchronous job and
// returns its identifier immediately.
func (s *Service) SubmitImport(ctx context.Context, entityType string, req bulk.Request) (uuid.UUID, error) {
	if _, err := s.registry.Lookup(entityType); err != nil {
		return uuid.Nil, err
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return uuid.Nil, domain.ForbiddenError("anonymous", entityType, "")
	}
	id := s.runner.SubmitImport(entityType, func(jobCtx context.Context) (domain.ImportResult, error) {
		return s.ImportCsv(auth.ContextWithCaller(jobCtx, caller), entityType, req)
	})
	return id, nil
}

// SubmitExport starts an export job.
func (s *Service) SubmitExport(ctx context.Context, entityType, scopePath string) (uuid.UUID, error) {
	if _, err := s.registry.Lookup(entityType); err != nil {
		return uuid.Nil, err
	}
	id := s.runner.SubmitExport(entityType, func(jobCtx context.Context) (string, error) {
		return s.ExportCsv(jobCtx, entityType, scopePath)
	})
	return id, nil
}

// JobStatus reads one job; repeated reads are idempotent.
func (s *Service) JobStatus(id uuid.UUID) (domain.BulkJob, error) {
	return s.runner.Status(id)
}

// CancelJob requests cooperative cancellation.
func (s *Service) CancelJob(id uuid.UUID) error {
	return s.runner.Cancel(id)
}

// rowApplier maps validated rows onto create or patch operations: a new
// name creates, an existing name patches. Apply failures surface per row.
type rowApplier struct {
	service *Service
	def     TypeDefinition
	caller  auth.Caller
}

func (a *rowApplier) ApplyRow(ctx context.Context, requested domain.Snapshot) error {
	_, err := a.service.snapshots.Load(ctx, requested.EntityType, requested.Name)
	switch {
	case err == nil:
		if a.def.DerivePath != nil {
			requested.Path = a.def.DerivePath(requested)
		}
		_, applyErr := a.service.engine.Apply(ctx, a.def.Descriptor, a.caller, requested)
		return applyErr
	case errors.Is(err, domain.ErrNotFound):
		snapshot := requested
		if a.def.Defaults != nil {
			snapshot = a.def.Defaults(snapshot)
		}
		if a.def.DerivePath != nil {
			snapshot.Path = a.def.DerivePath(snapshot)
		}
		_, createErr := a.service.engine.Create(ctx, a.def.Descriptor, a.caller, snapshot)
		return createErr
	default:
		return fmt.Errorf("load %s %q: %w", requested.EntityType, requested.Name, err)
	}
}
