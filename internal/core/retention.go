package core

// retention.go removes old exports on a cron schedule.
//
// Each sweep:
//  1. Removes terminal jobs that finished more than MaxAge ago, with their files
//  2. Deletes artifact files no registered job owns (left by an earlier
//     process, since the registry does not survive restarts) once they are
//     older than MaxAge
//
// A failed sweep is logged and retried on the next tick.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig holds configuration for the retention sweeper.
type RetentionConfig struct {
	Schedule string        // Cron expression or descriptor (default: "@every 1h")
	MaxAge   time.Duration // Age after which exports are removed (default: 24h)
}

// RetentionSweeper periodically removes expired exports.
type RetentionSweeper struct {
	service *Service
	cfg     RetentionConfig
	cron    *cron.Cron
	now     func() time.Time
}

// NewRetentionSweeper validates the schedule and returns an unstarted sweeper.
func NewRetentionSweeper(service *Service, cfg RetentionConfig) (*RetentionSweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	rs := &RetentionSweeper{
		service: service,
		cfg:     cfg,
		cron:    cron.New(),
		now:     time.Now,
	}
	if _, err := rs.cron.AddFunc(cfg.Schedule, func() { rs.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	return rs, nil
}

// Start runs the sweeper until ctx is cancelled.
func (rs *RetentionSweeper) Start(ctx context.Context) {
	slog.Info("retention sweeper started",
		"schedule", rs.cfg.Schedule,
		"max_age", rs.cfg.MaxAge.String(),
	)
	rs.cron.Start()

	<-ctx.Done()
	<-rs.cron.Stop().Done()
	slog.Info("retention sweeper stopped")
}

// SweepResult summarises one sweep.
type SweepResult struct {
	JobsRemoved    int
	OrphansRemoved int
}

// Sweep performs one retention pass.
func (rs *RetentionSweeper) Sweep() SweepResult {
	start := rs.now()
	cutoff := start.Add(-rs.cfg.MaxAge)

	var res SweepResult
	res.JobsRemoved = rs.service.removeExpired(cutoff)

	orphans, err := rs.service.orphanArtifacts()
	if err != nil {
		slog.Error("retention scan failed", "error", err)
	}
	for _, path := range orphans {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("could not remove orphan artifact", "path", path, "error", err)
			continue
		}
		res.OrphansRemoved++
	}

	slog.Info("retention sweep completed",
		"jobs_removed", res.JobsRemoved,
		"orphans_removed", res.OrphansRemoved,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}
