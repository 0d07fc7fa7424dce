package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewRetentionSweeper_InvalidSchedule(t *testing.T) {
	svc := newTestService(t, &memSource{}, ServiceConfig{})
	if _, err := NewRetentionSweeper(svc, RetentionConfig{Schedule: "every now and then"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestNewRetentionSweeper_Defaults(t *testing.T) {
	svc := newTestService(t, &memSource{}, ServiceConfig{})
	rs, err := NewRetentionSweeper(svc, RetentionConfig{})
	if err != nil {
		t.Fatalf("NewRetentionSweeper failed: %v", err)
	}
	if rs.cfg.Schedule != "@every 1h" || rs.cfg.MaxAge != 24*time.Hour {
		t.Errorf("defaults = %+v", rs.cfg)
	}
}

func TestRetentionSweeper_Sweep(t *testing.T) {
	svc, oldID := completedExport(t, 10)

	// A second, fresh export that must survive.
	res, _ := svc.Submit(context.Background(), nil, nil, FormatOptions{})
	waitTerminal(t, svc, res.ID)

	// Age the first job past the cutoff.
	svc.registry.mu.Lock()
	past := time.Now().Add(-48 * time.Hour)
	svc.registry.jobs[oldID].completedAt = &past
	svc.registry.mu.Unlock()

	// Orphans from an earlier process: one stale, one fresh. Old files not
	// named after a job ID belong to someone else and are left alone.
	stale := filepath.Join(svc.cfg.StorageDir, uuid.NewString()+ArtifactExt)
	fresh := filepath.Join(svc.cfg.StorageDir, uuid.NewString()+ArtifactExt+partialExt)
	unrelated := filepath.Join(svc.cfg.StorageDir, "notes.txt")
	foreign := filepath.Join(svc.cfg.StorageDir, "report.csv")
	for _, p := range []string{stale, fresh, unrelated, foreign} {
		if err := os.WriteFile(p, []byte("id\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []string{stale, unrelated, foreign} {
		os.Chtimes(p, past, past)
	}

	rs, err := NewRetentionSweeper(svc, RetentionConfig{MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewRetentionSweeper failed: %v", err)
	}

	got := rs.Sweep()
	if got.JobsRemoved != 1 || got.OrphansRemoved != 1 {
		t.Errorf("Sweep = %+v, want 1 job and 1 orphan", got)
	}

	if _, err := svc.GetStatus(oldID); !errors.Is(err, ErrNotFound) {
		t.Error("expired job should be removed from the registry")
	}
	if _, err := os.Stat(svc.ArtifactPath(oldID)); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired artifact should be deleted")
	}
	if _, err := svc.GetStatus(res.ID); err != nil {
		t.Error("fresh job should remain")
	}
	if _, err := os.Stat(svc.ArtifactPath(res.ID)); err != nil {
		t.Error("fresh artifact should remain")
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale orphan should be deleted")
	}
	for _, p := range []string{fresh, unrelated, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should remain: %v", filepath.Base(p), err)
		}
	}
}

func TestRetentionSweeper_StartStops(t *testing.T) {
	svc := newTestService(t, &memSource{}, ServiceConfig{})
	rs, err := NewRetentionSweeper(svc, RetentionConfig{Schedule: "@every 1h"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		rs.Start(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
