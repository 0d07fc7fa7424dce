package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize is the number of rows fetched per page.
const DefaultPageSize = 1000

// ArtifactExt is the file extension of every export artifact.
const ArtifactExt = ".csv"

// partialExt marks an artifact that is still being written.
const partialExt = ".part"

// ServiceConfig holds export engine settings.
// All fields have sensible defaults if zero values are provided.
type ServiceConfig struct {
	StorageDir    string         // Directory holding artifacts (default: ./exports)
	MaxConcurrent int            // Processing capacity (default: 10)
	PageSize      int            // Rows per page (default: 1000)
	Pagination    PaginationMode // keyset or offset (default: keyset)
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.StorageDir == "" {
		c.StorageDir = "./exports"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrentExports
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Pagination != PaginateOffset {
		c.Pagination = PaginateKeyset
	}
	return c
}

// Service provides the export engine: submission, status, cancellation and
// artifact lookup. Each submitted job runs in its own goroutine, gated by
// the admission controller.
type Service struct {
	registry  *Registry
	admission *Admission
	source    RowSource
	cfg       ServiceConfig

	// ctx bounds every query a job issues; it is cancelled only when
	// Shutdown runs out of time.
	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a Service reading from source and writing artifacts to
// cfg.StorageDir, which is created if missing.
func NewService(source RowSource, cfg ServiceConfig) (*Service, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		registry:  NewRegistry(),
		admission: NewAdmission(cfg.MaxConcurrent),
		source:    source,
		cfg:       cfg,
		ctx:       ctx,
		stop:      stop,
		tasks:     make(map[string]chan struct{}),
	}, nil
}

// Submit validates the request, creates a pending job and schedules it.
// It never waits for admission; the returned status is always pending.
func (s *Service) Submit(ctx context.Context, rawFilters map[string]string, columns []string, format FormatOptions) (SubmitResult, error) {
	filters, err := ParseFilters(rawFilters)
	if err != nil {
		return SubmitResult{}, err
	}
	cols, err := ParseColumns(columns)
	if err != nil {
		return SubmitResult{}, err
	}
	format = format.withDefaults()
	if err := format.Validate(); err != nil {
		return SubmitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SubmitResult{}, ErrShuttingDown
	}

	job := s.registry.Create(filters, cols, format)

	done := make(chan struct{})
	s.tasks[job.ID] = done
	s.wg.Add(1)
	go s.run(job.ID, done)

	meta := RequestMetaFromContext(ctx)
	slog.InfoContext(ctx, "export submitted",
		"export_id", job.ID,
		"client_ip", meta.IPAddress,
		"user_agent", meta.UserAgent,
		"columns", len(cols),
		"country_code", filters.CountryCode,
		"subscription_tier", filters.SubscriptionTier,
	)

	return SubmitResult{ID: job.ID, Status: job.Status}, nil
}

// GetStatus returns a snapshot of the job, or ErrNotFound.
func (s *Service) GetStatus(id string) (JobSnapshot, error) {
	return s.registry.Get(id)
}

// List returns snapshots of all known jobs.
func (s *Service) List() []JobSnapshot {
	return s.registry.List()
}

// RequestCancel flags a pending or processing job for cancellation.
// It is a no-op for terminal jobs and returns ErrNotFound for unknown IDs,
// which callers that want pure idempotence may ignore.
func (s *Service) RequestCancel(id string) error {
	if err := s.registry.RequestCancel(id); err != nil {
		return err
	}
	slog.Info("export cancellation requested", "export_id", id)
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (JobSnapshot, error) {
	s.mu.Lock()
	done, running := s.tasks[id]
	s.mu.Unlock()

	if running {
		select {
		case <-done:
		case <-ctx.Done():
			return JobSnapshot{}, ctx.Err()
		}
	}
	return s.registry.Get(id)
}

// Remove deletes a terminal job and its artifact.
func (s *Service) Remove(id string) error {
	job, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: export is %s", ErrInvalidTransition, job.Status)
	}
	s.removeArtifact(id)
	s.registry.Remove(id)
	return nil
}

// ArtifactPath returns where the artifact for id lives.
func (s *Service) ArtifactPath(id string) string {
	return filepath.Join(s.cfg.StorageDir, filepath.Base(id)+ArtifactExt)
}

// JobCounts returns how many known jobs are in each status.
func (s *Service) JobCounts() map[JobStatus]int {
	counts := make(map[JobStatus]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = s.registry.CountByStatus(st)
	}
	return counts
}

// AdmissionStatus reports the admission controller state.
func (s *Service) AdmissionStatus() AdmissionStatus {
	return s.admission.Status()
}

// Shutdown stops accepting jobs, asks every running job to cancel and waits
// for them to finish. If ctx expires first, in-flight queries are aborted.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.registry.RequestCancel(id)
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.stop()
		return nil
	case <-ctx.Done():
		s.stop()
		<-drained
		return ctx.Err()
	}
}

// run is the task body for one job. Every exit path leaves the job terminal
// and releases the admission slot.
func (s *Service) run(id string, done chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
		close(done)
	}()

	logger := slog.With("export_id", id)

	if err := s.admission.Acquire(s.ctx, s.registry.cancelSignal(id)); err != nil {
		if errors.Is(err, ErrAdmissionCancelled) {
			s.finishCancelled(logger, id)
			return
		}
		s.finishFailed(logger, id, err)
		return
	}
	defer s.admission.Release()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in export", "panic", r)
			s.finishFailed(logger, id, fmt.Errorf("internal error: %v", r))
		}
	}()

	s.runExport(logger, id)
}

// finishCancelled removes any artifact and marks the job cancelled.
func (s *Service) finishCancelled(logger *slog.Logger, id string) {
	s.removeArtifact(id)
	if err := s.registry.SetStatus(id, StatusCancelled); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("could not mark export cancelled", "error", err)
		return
	}
	logger.Info("export cancelled")
}

// finishFailed removes any artifact and records cause on the job.
func (s *Service) finishFailed(logger *slog.Logger, id string, cause error) {
	s.removeArtifact(id)
	if err := s.registry.Fail(id, cause.Error()); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("could not mark export failed", "error", err, "cause", cause)
		return
	}
	logger.Error("export failed", "error", cause, "user_message", FormatUserError(cause))
}

// removeArtifact deletes both the final and the in-progress file.
func (s *Service) removeArtifact(id string) {
	path := s.ArtifactPath(id)
	for _, p := range []string{path, path + partialExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("could not remove artifact", "export_id", id, "path", p, "error", err)
		}
	}
}

// removeExpired deletes terminal jobs that finished before cutoff, along
// with their artifacts. Returns the number of jobs removed.
func (s *Service) removeExpired(cutoff time.Time) int {
	ids := s.registry.RemoveCompletedBefore(cutoff)
	for _, id := range ids {
		s.removeArtifact(id)
	}
	return len(ids)
}

// orphanArtifacts lists artifact files in the storage directory that no
// registered job owns, e.g. those left by a previous process. Only files
// named after a job ID count as artifacts.
func (s *Service) orphanArtifacts() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ArtifactExt) || strings.HasSuffix(name, ArtifactExt+partialExt)) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(name, partialExt), ArtifactExt)
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		if _, err := s.registry.Get(id); errors.Is(err, ErrNotFound) {
			orphans = append(orphans, filepath.Join(s.cfg.StorageDir, name))
		}
	}
	return orphans, nil
}
