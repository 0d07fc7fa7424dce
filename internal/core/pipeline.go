package core

// pipeline.go runs one admitted export job:
//
//  1. Move the job to processing (refused if cancellation is already flagged)
//  2. Count matching rows and fix totalRows
//  3. Write the header, then page through rows in ascending key order,
//     checking the cancellation flag before every page fetch
//  4. Publish processedRows after every page
//  5. Flush, fsync and rename the in-progress file into place, then complete
//
// Any query or write error fails the job. Cancellation and failure both
// delete the in-progress file, so only completed jobs leave an artifact.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// runExport drives a job from pending to a terminal state.
// The caller holds an admission slot for the duration.
func (s *Service) runExport(logger *slog.Logger, id string) {
	job, err := s.registry.Get(id)
	if err != nil {
		logger.Warn("export vanished before start", "error", err)
		return
	}

	if err := s.registry.SetStatus(id, StatusProcessing); err != nil {
		if errors.Is(err, errCancelObserved) {
			s.finishCancelled(logger, id)
			return
		}
		s.finishFailed(logger, id, err)
		return
	}

	start := time.Now()
	logger.Info("export started", "pagination", s.cfg.Pagination, "page_size", s.cfg.PageSize)

	cancelled, err := s.extract(job)
	switch {
	case err != nil:
		s.finishFailed(logger, id, err)
	case cancelled:
		s.finishCancelled(logger, id)
	default:
		if err := s.registry.SetStatus(id, StatusCompleted); err != nil {
			s.finishFailed(logger, id, err)
			return
		}
		snap, _ := s.registry.Get(id)
		logger.Info("export completed",
			"rows", snap.Progress.ProcessedRows,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// extract writes the artifact for job. It returns cancelled=true if the
// cancellation flag was observed at a page boundary.
func (s *Service) extract(job JobSnapshot) (cancelled bool, err error) {
	ctx := s.ctx
	finalPath := s.ArtifactPath(job.ID)
	partPath := finalPath + partialExt

	total, err := s.source.Count(ctx, job.Filters)
	if err != nil {
		return false, err
	}
	if err := s.registry.SetTotal(job.ID, total); err != nil {
		return false, err
	}

	file, err := os.Create(partPath)
	if err != nil {
		return false, fmt.Errorf("create artifact: %w", err)
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	w := NewCSVWriter(file, job.Format)
	if err := w.WriteHeader(job.Columns); err != nil {
		return false, fmt.Errorf("write header: %w", err)
	}

	req := PageRequest{
		Filters:  job.Filters,
		Columns:  job.Columns,
		Limit:    s.cfg.PageSize,
		Mode:     s.cfg.Pagination,
		AfterKey: FirstKey,
	}

	var processed int64
	for processed < total {
		if s.registry.CancelRequested(job.ID) {
			return true, nil
		}

		page, err := s.source.FetchPage(ctx, req)
		if err != nil {
			return false, err
		}

		rows := page.Rows
		if remaining := total - processed; int64(len(rows)) > remaining {
			rows = rows[:remaining]
		}
		if err := w.WriteRows(rows); err != nil {
			return false, fmt.Errorf("write rows: %w", err)
		}
		if err := w.Flush(); err != nil {
			return false, fmt.Errorf("flush artifact: %w", err)
		}

		if processed, err = s.registry.AddProcessed(job.ID, int64(len(rows))); err != nil {
			return false, err
		}

		req.AfterKey = page.LastKey
		req.Offset += int64(len(page.Rows))
		if len(page.Rows) < req.Limit {
			break
		}
	}

	if s.registry.CancelRequested(job.ID) {
		return true, nil
	}

	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("flush artifact: %w", err)
	}
	if err := file.Sync(); err != nil {
		return false, fmt.Errorf("sync artifact: %w", err)
	}
	err = file.Close()
	file = nil
	if err != nil {
		return false, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return false, fmt.Errorf("finalize artifact: %w", err)
	}
	return false, nil
}
