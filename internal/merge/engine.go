// Package merge applies caller-submitted snapshots to persisted entities,
// producing consolidated change records and enforcing per-entity
// serialization with bounded optimistic retries.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rpattn/metacat/internal/auth"
	"github.com/rpattn/metacat/internal/diff"
	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

// Engine is the patch merge engine. All mutations to one entity funnel
// through a per-entity lock plus an optimistic version check at the
// persistence boundary.
type Engine struct {
	snapshots  repository.SnapshotRepository
	history    repository.ChangeHistoryRepository
	authorizer auth.Authorizer

	sessionWindow time.Duration
	retryBudget   int
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes engine behavior.
type Option func(*Engine)

// WithSessionWindow sets how long after the last applied patch a follow-up
// patch still consolidates into the same change record.
func WithSessionWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.sessionWindow = window
		}
	}
}

// WithRetryBudget sets how many times a conflicting commit is retried
// against a refreshed snapshot before the conflict surfaces.
func WithRetryBudget(retries int) Option {
	return func(e *Engine) {
		if retries >= 0 {
			e.retryBudget = retries
		}
	}
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires a merge engine over its collaborators.
func NewEngine(
	snapshots repository.SnapshotRepository,
	history repository.ChangeHistoryRepository,
	authorizer auth.Authorizer,
	opts ...Option,
) *Engine {
	engine := &Engine{
		snapshots:     snapshots,
		history:       history,
		authorizer:    authorizer,
		sessionWindow: 10 * time.Minute,
		retryBudget:   3,
		now:           time.Now,
		locks:         map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Result is the outcome of one applied patch.
type Result struct {
	Snapshot     domain.Snapshot
	Record       domain.ChangeRecord
	Consolidated bool
	// Updated is false for no-op patches, which touch nothing persisted.
	Updated bool
}

// Apply merges the requested snapshot into the persisted entity named by
// the request. The requested snapshot is complete: declared fields absent
// from it are deletions. Returns domain.ErrNotFound, domain.ErrForbidden,
// or domain.ErrConflict once the retry budget is exhausted.
func (e *Engine) Apply(ctx context.Context, desc domain.EntityDescriptor, caller auth.Caller, requested domain.Snapshot) (Result, error) {
	unlock := e.lockEntity(desc.EntityType, requested.Name)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= e.retryBudget; attempt++ {
		result, err := e.applyOnce(ctx, desc, caller, requested)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return Result{}, err
		}
		lastErr = err
		log.Printf("[merge] commit conflict on %s/%s, attempt %d/%d", desc.EntityType, requested.Name, attempt+1, e.retryBudget+1)
	}
	return Result{}, lastErr
}

// Create persists a brand new entity at the initial version. Creation does
// not write a change record; the first patch starts the history. Field
// rights are enforced exactly as on the patch path: a new entity diffs
// against the empty snapshot, so fields the caller may not set are dropped
// instead of persisted.
func (e *Engine) Create(ctx context.Context, desc domain.EntityDescriptor, caller auth.Caller, snapshot domain.Snapshot) (domain.Snapshot, error) {
	unlock := e.lockEntity(desc.EntityType, snapshot.Name)
	defer unlock()

	blank := domain.NewSnapshot(desc.EntityType, snapshot.Name)
	candidate, err := e.authorizedCandidate(ctx, desc, caller, blank, snapshot)
	if err != nil {
		return domain.Snapshot{}, err
	}

	candidate = candidate.WithVersion(domain.InitialVersion)
	candidate.UpdatedAt = e.now()
	candidate.UpdatedBy = caller.Name
	if err := e.snapshots.Commit(ctx, domain.ZeroVersion, candidate); err != nil {
		return domain.Snapshot{}, fmt.Errorf("create %s %q: %w", desc.EntityType, candidate.Name, err)
	}
	return candidate, nil
}

func (e *Engine) applyOnce(ctx context.Context, desc domain.EntityDescriptor, caller auth.Caller, requested domain.Snapshot) (Result, error) {
	current, err := e.snapshots.Load(ctx, desc.EntityType, requested.Name)
	if err != nil {
		return Result{}, err
	}

	candidate, err := e.authorizedCandidate(ctx, desc, caller, current, requested)
	if err != nil {
		return Result{}, err
	}

	record := diff.Record(desc, current, candidate)
	if record.UpdateType == domain.NoChange {
		record.PreviousVersion = current.Version
		record.NewVersion = current.Version
		return Result{Snapshot: current, Record: record}, nil
	}

	newVersion, consolidated, err := e.resolveVersion(ctx, desc, current, &record)
	if err != nil {
		return Result{}, err
	}

	candidate.Version = newVersion
	candidate.UpdatedAt = e.now()
	candidate.UpdatedBy = caller.Name

	// Stores that can commit the snapshot and its record transactionally
	// avoid the window where the commit lands but the append fails.
	if store, ok := e.snapshots.(repository.RecordCommitter); ok {
		if err := store.CommitWithRecord(ctx, current.Version, candidate, record); err != nil {
			return Result{}, err
		}
	} else {
		if err := e.snapshots.Commit(ctx, current.Version, candidate); err != nil {
			return Result{}, err
		}
		if err := e.history.Append(ctx, desc.EntityType, candidate.Name, record); err != nil {
			return Result{}, fmt.Errorf("append change record for %s %q: %w", desc.EntityType, candidate.Name, err)
		}
	}

	return Result{Snapshot: candidate, Record: record, Consolidated: consolidated, Updated: true}, nil
}

// authorizedCandidate builds the snapshot that would be persisted: the
// requested state with system-managed fields carried over and fields the
// caller may not modify silently reverted to their current values.
func (e *Engine) authorizedCandidate(ctx context.Context, desc domain.EntityDescriptor, caller auth.Caller, current, requested domain.Snapshot) (domain.Snapshot, error) {
	candidate := requested.Clone()
	candidate.EntityType = current.EntityType
	candidate.Name = current.Name

	touched := touchedFields(desc, current, requested)
	allowed, err := e.authorizer.CanModifyFields(ctx, caller, desc.EntityType, touched)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("authorize %s %q: %w", desc.EntityType, current.Name, err)
	}
	if len(touched) > 0 && len(allowed) == 0 {
		return domain.Snapshot{}, domain.ForbiddenError(caller.Name, desc.EntityType, current.Name)
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	for _, field := range desc.Fields {
		if field.SystemManaged {
			// Recomputed by the platform, never taken from the request.
			setOrClear(&candidate, field.Name, current.Field(field.Name))
			continue
		}
		if contains(touched, field.Name) && !allowedSet[field.Name] {
			setOrClear(&candidate, field.Name, current.Field(field.Name))
		}
	}
	return candidate, nil
}

// resolveVersion decides the version pair for the record, consolidating
// with the last persisted record when this is a same-version follow-up
// patch inside the session window.
func (e *Engine) resolveVersion(ctx context.Context, desc domain.EntityDescriptor, current domain.Snapshot, record *domain.ChangeRecord) (domain.Version, bool, error) {
	last, ok, err := e.history.LastRecord(ctx, desc.EntityType, current.Name)
	if err != nil {
		return domain.Version{}, false, fmt.Errorf("load change history for %s %q: %w", desc.EntityType, current.Name, err)
	}

	inSession := ok &&
		last.NewVersion.Equals(current.Version) &&
		record.UpdateType == domain.MinorUpdate &&
		e.now().Sub(current.UpdatedAt) <= e.sessionWindow

	if inSession {
		*record = domain.Consolidate(desc, last, *record)
		return current.Version, true, nil
	}

	record.PreviousVersion = current.Version
	if record.UpdateType == domain.MajorUpdate {
		record.NewVersion = current.Version.NextMajor()
	} else {
		record.NewVersion = current.Version.NextMinor()
	}
	return record.NewVersion, false, nil
}

// touchedFields lists declared fields whose requested value differs from
// the current one, the set the authorization collaborator rules on.
func touchedFields(desc domain.EntityDescriptor, current, requested domain.Snapshot) []string {
	record := diff.Record(desc, current, requested)
	var touched []string
	seen := map[string]bool{}
	for _, change := range record.Changes {
		if !seen[change.Field] {
			seen[change.Field] = true
			touched = append(touched, change.Field)
		}
	}
	return touched
}

func setOrClear(snapshot *domain.Snapshot, field string, value domain.FieldValue) {
	if value.IsSet() {
		snapshot.Fields[field] = value
	} else {
		delete(snapshot.Fields, field)
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *Engine) lockEntity(entityType, name string) func() {
	key := entityType + "/" + name
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
