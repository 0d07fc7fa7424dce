package core

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errCancelObserved is returned by SetStatus(processing) when cancellation
// was requested before the job started.
var errCancelObserved = fmt.Errorf("%w: cancellation requested", ErrInvalidTransition)

// jobRecord is the authoritative, mutable state of one export job.
// All fields are guarded by Registry.mu.
type jobRecord struct {
	id              string
	filters         Filters
	columns         []string
	format          FormatOptions
	status          JobStatus
	progress        Progress
	totalKnown      bool
	err             string
	createdAt       time.Time
	completedAt     *time.Time
	cancelRequested bool

	// cancelCh is closed on the first RequestCancel so a job waiting for
	// admission can stop waiting.
	cancelCh chan struct{}
}

func (r *jobRecord) snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:              r.id,
		Filters:         r.filters,
		Columns:         slices.Clone(r.columns),
		Format:          r.format,
		Status:          r.status,
		Progress:        r.progress,
		Error:           r.err,
		CreatedAt:       r.createdAt,
		CancelRequested: r.cancelRequested,
	}
	if r.filters.MinLTV != nil {
		v := *r.filters.MinLTV
		s.Filters.MinLTV = &v
	}
	if r.completedAt != nil {
		t := *r.completedAt
		s.CompletedAt = &t
	}
	return s
}

// Registry is the in-memory store of export jobs for the life of the process.
// Every read and write goes through mu, so snapshots are never torn.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*jobRecord),
		now:  time.Now,
	}
}

// Create registers a new pending job and returns its snapshot.
func (r *Registry) Create(filters Filters, columns []string, format FormatOptions) JobSnapshot {
	rec := &jobRecord{
		id:        uuid.New().String(),
		filters:   filters,
		columns:   slices.Clone(columns),
		format:    format,
		status:    StatusPending,
		createdAt: r.now(),
		cancelCh:  make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[rec.id] = rec
	r.mu.Unlock()

	return rec.snapshot()
}

// Get returns a snapshot of the job, or ErrNotFound.
func (r *Registry) Get(id string) (JobSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return JobSnapshot{}, ErrNotFound
	}
	return rec.snapshot(), nil
}

// List returns snapshots of all jobs, oldest first.
func (r *Registry) List() []JobSnapshot {
	r.mu.RLock()
	out := make([]JobSnapshot, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CountByStatus returns how many jobs are currently in status.
func (r *Registry) CountByStatus(status JobStatus) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.jobs {
		if rec.status == status {
			n++
		}
	}
	return n
}

// SetStatus moves a job along pending -> processing -> terminal.
// Entering processing is refused once cancellation has been requested.
// Entering a terminal status stamps completedAt exactly once.
func (r *Registry) SetStatus(id string, status JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	return r.transitionLocked(rec, status)
}

func (r *Registry) transitionLocked(rec *jobRecord, status JobStatus) error {
	if rec.status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, rec.status)
	}

	switch status {
	case StatusProcessing:
		if rec.status != StatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.status, status)
		}
		if rec.cancelRequested {
			return errCancelObserved
		}
	case StatusCompleted:
		if rec.status != StatusProcessing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.status, status)
		}
	case StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	rec.status = status
	if status.IsTerminal() {
		t := r.now()
		rec.completedAt = &t
	}
	return nil
}

// SetTotal records the row count. It can be set only once per job.
func (r *Registry) SetTotal(id string, total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.totalKnown {
		return fmt.Errorf("%w: total already set", ErrInvalidTransition)
	}
	if total < 0 {
		total = 0
	}
	rec.progress.TotalRows = total
	rec.totalKnown = true
	return nil
}

// AddProcessed advances processedRows by n, never past totalRows.
// Returns the new processed count.
func (r *Registry) AddProcessed(id string, n int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	if n > 0 {
		rec.progress.ProcessedRows = min(rec.progress.ProcessedRows+n, rec.progress.TotalRows)
	}
	return rec.progress.ProcessedRows, nil
}

// Fail records msg and moves the job to failed in one step.
func (r *Registry) Fail(id, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.transitionLocked(rec, StatusFailed); err != nil {
		return err
	}
	rec.err = msg
	return nil
}

// RequestCancel flags a non-terminal job for cancellation.
// It is a no-op for terminal jobs. Returns ErrNotFound for unknown IDs.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.status.IsTerminal() || rec.cancelRequested {
		return nil
	}
	rec.cancelRequested = true
	close(rec.cancelCh)
	return nil
}

// CancelRequested reports the cooperative cancellation flag.
func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	return ok && rec.cancelRequested
}

// cancelSignal returns a channel closed when cancellation is requested.
func (r *Registry) cancelSignal(id string) <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.jobs[id]; ok {
		return rec.cancelCh
	}
	return nil
}

// Remove deletes a job record. Returns false if it did not exist.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// RemoveCompletedBefore deletes terminal jobs whose completedAt is before
// cutoff and returns their IDs.
func (r *Registry) RemoveCompletedBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, rec := range r.jobs {
		if rec.completedAt != nil && rec.completedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}
