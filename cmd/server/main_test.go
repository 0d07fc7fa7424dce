package main

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/JonMunkholm/exporter/internal/config"
	"github.com/JonMunkholm/exporter/internal/core"
	"github.com/JonMunkholm/exporter/internal/web"
)

// stuckSource reports rows but never returns a page until its query
// context ends.
type stuckSource struct{}

func (stuckSource) Count(ctx context.Context, f core.Filters) (int64, error) {
	return 5, nil
}

func (stuckSource) FetchPage(ctx context.Context, req core.PageRequest) (core.Page, error) {
	<-ctx.Done()
	return core.Page{}, ctx.Err()
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: port},
	}
}

func newService(t *testing.T, src core.RowSource) *core.Service {
	t.Helper()
	svc, err := core.NewService(src, core.ServiceConfig{StorageDir: t.TempDir(), MaxConcurrent: 1})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestServe_ListenerFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	svc := newService(t, stuckSource{})
	server := web.NewServer(svc, testConfig(port))

	done := make(chan error, 1)
	go func() { done <- serve(server, make(chan os.Signal)) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("serve should report the listener error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the listener failed")
	}
	shutdown(server, svc, time.Second)
}

func TestServe_Signal(t *testing.T) {
	svc := newService(t, stuckSource{})
	server := web.NewServer(svc, testConfig(0))

	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM
	if err := serve(server, sigCh); err != nil {
		t.Errorf("serve after signal = %v, want nil", err)
	}
	shutdown(server, svc, time.Second)
}

func TestShutdown_DrainsExports(t *testing.T) {
	svc := newService(t, stuckSource{})
	server := web.NewServer(svc, testConfig(0))

	res, err := svc.Submit(context.Background(), nil, nil, core.FormatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := svc.GetStatus(res.ID)
		if job.Status == core.StatusProcessing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export never started, status %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdown(server, svc, 100*time.Millisecond)

	job, _ := svc.GetStatus(res.ID)
	if !job.Status.IsTerminal() {
		t.Errorf("export status after shutdown = %s, want terminal", job.Status)
	}
	if _, err := svc.Submit(context.Background(), nil, nil, core.FormatOptions{}); !errors.Is(err, core.ErrShuttingDown) {
		t.Errorf("Submit after shutdown = %v, want ErrShuttingDown", err)
	}
	if got := svc.AdmissionStatus().Active; got != 0 {
		t.Errorf("active slots after shutdown = %d, want 0", got)
	}
}
