package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

// Store is the process-scoped job registry: insert on submit, read on poll,
// delete on demand. Terminal results are immutable once set.
type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.BulkJob
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: map[uuid.UUID]domain.BulkJob{}}
}

// Insert registers a freshly submitted job.
func (s *Store) Insert(job domain.BulkJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a copy of the job, or domain.ErrNotFound.
func (s *Store) Get(id uuid.UUID) (domain.BulkJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.BulkJob{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

// Update applies fn to the stored job under the lock. Updates against a
// terminal job are dropped, keeping terminal results immutable.
func (s *Store) Update(id uuid.UUID, fn func(*domain.BulkJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if job.State.Terminal() {
		return nil
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}

// Remove deletes a job from the registry.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// List returns all known jobs, newest first.
func (s *Store) List() []domain.BulkJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BulkJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
