// Package job executes bulk pipeline runs as tracked asynchronous jobs with
// stable identifiers, polling status, and immutable terminal results.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

// ImportFunc is one deferred import pipeline invocation.
type ImportFunc func(ctx context.Context) (domain.ImportResult, error)

// ExportFunc is one deferred export invocation.
type ExportFunc func(ctx context.Context) (string, error)

// Runner executes each submitted job on an independent goroutine. Submit
// never blocks on pipeline completion, and a failure inside one job never
// touches another.
type Runner struct {
	store   *Store
	now     func() time.Time
	cancels sync.Map // map[uuid.UUID]context.CancelFunc
}

// NewRunner wires a runner over its job store.
func NewRunner(store *Store) *Runner {
	return &Runner{store: store, now: time.Now}
}

// SubmitImport registers and starts an import job, returning immediately
// with its fresh identifier. Identical payloads submitted twice produce two
// independent jobs.
func (r *Runner) SubmitImport(entityType string, run ImportFunc) uuid.UUID {
	return r.submit(domain.JobImport, entityType, func(ctx context.Context, id uuid.UUID) error {
		result, err := run(ctx)
		if err != nil && !errors.Is(err, domain.ErrPipelineAbort) {
			return err
		}
		// An aborted pipeline still carries a reportable result; the run
		// completes and the result says ABORTED.
		return r.store.Update(id, func(job *domain.BulkJob) {
			job.State = domain.JobCompleted
			job.Result = &result
			job.CompletedAt = timePtr(r.now())
		})
	})
}

// SubmitExport registers and starts an export job.
func (r *Runner) SubmitExport(entityType string, run ExportFunc) uuid.UUID {
	return r.submit(domain.JobExport, entityType, func(ctx context.Context, id uuid.UUID) error {
		data, err := run(ctx)
		if err != nil {
			return err
		}
		return r.store.Update(id, func(job *domain.BulkJob) {
			job.State = domain.JobCompleted
			job.ExportData = data
			job.CompletedAt = timePtr(r.now())
		})
	})
}

// Status returns the job's current state; repeated reads are idempotent.
func (r *Runner) Status(id uuid.UUID) (domain.BulkJob, error) {
	return r.store.Get(id)
}

// Cancel requests cooperative cancellation of a pending or running job.
// The pipeline observes it between rows, never mid-row.
func (r *Runner) Cancel(id uuid.UUID) error {
	job, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("job %s in state %s cannot be cancelled", id, job.State)
	}
	if cancel, ok := r.cancels.LoadAndDelete(id); ok {
		cancel.(context.CancelFunc)()
	}
	return nil
}

// Remove purges a job from the registry, typically after its result has
// been collected.
func (r *Runner) Remove(id uuid.UUID) error {
	return r.store.Remove(id)
}

func (r *Runner) submit(kind domain.JobKind, entityType string, run func(ctx context.Context, id uuid.UUID) error) uuid.UUID {
	id := uuid.New()
	r.store.Insert(domain.BulkJob{
		ID:         id,
		Kind:       kind,
		EntityType: entityType,
		State:      domain.JobPending,
		CreatedAt:  r.now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.cancels.Store(id, cancel)

	go func() {
		defer func() {
			cancel()
			r.cancels.Delete(id)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[job] panic while processing job %s: %v", id, rec)
				r.fail(id, fmt.Errorf("panic: %v", rec))
			}
		}()

		_ = r.store.Update(id, func(job *domain.BulkJob) {
			job.State = domain.JobRunning
			job.StartedAt = timePtr(r.now())
		})

		if err := run(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("[job] job %s cancelled", id)
				_ = r.store.Update(id, func(job *domain.BulkJob) {
					job.State = domain.JobCancelled
					job.CompletedAt = timePtr(r.now())
				})
				return
			}
			r.fail(id, err)
		}
	}()

	return id
}

func (r *Runner) fail(id uuid.UUID, err error) {
	log.Printf("[job] job %s failed: %v", id, err)
	_ = r.store.Update(id, func(job *domain.BulkJob) {
		job.State = domain.JobFailed
		job.Error = err.Error()
		job.CompletedAt = timePtr(r.now())
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}
