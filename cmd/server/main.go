package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JonMunkholm/exporter/internal/config"
	"github.com/JonMunkholm/exporter/internal/core"
	"github.com/JonMunkholm/exporter/internal/database"
	"github.com/JonMunkholm/exporter/internal/logging"
	"github.com/JonMunkholm/exporter/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	closeLog, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		slog.Warn("log file unavailable, logging to console only", "error", err)
	}
	defer closeLog()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"export_max_concurrent", cfg.Export.MaxConcurrent,
		"export_page_size", cfg.Export.PageSize,
		"export_pagination", cfg.Export.Pagination,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	service, err := core.NewService(
		core.NewPostgresSource(pool, cfg.Export.Table),
		core.ServiceConfig{
			StorageDir:    cfg.Export.StoragePath,
			MaxConcurrent: cfg.Export.MaxConcurrent,
			PageSize:      cfg.Export.PageSize,
			Pagination:    core.PaginationMode(strings.ToLower(cfg.Export.Pagination)),
		},
	)
	if err != nil {
		return err
	}

	// Background jobs stop when this context is cancelled
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	sweeperDone := make(chan struct{})
	if cfg.Retention.Enabled {
		sweeper, err := core.NewRetentionSweeper(service, core.RetentionConfig{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		})
		if err != nil {
			return err
		}
		go func() {
			defer close(sweeperDone)
			sweeper.Start(jobCtx)
		}()
	} else {
		close(sweeperDone)
	}

	server := web.NewServer(service, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// A listener failure still drains exports so the pool can close
	exitErr := serve(server, sigCh)
	shutdown(server, service, cfg.Server.ShutdownTimeout)

	cancelJobs()
	<-sweeperDone
	return exitErr
}

// serve runs the HTTP server until it fails or a signal arrives.
// It returns the listener error, if any.
func serve(server *web.Server, sigCh <-chan os.Signal) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			return err
		}
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	}
	return nil
}

// shutdown stops taking requests, then cancels and drains exports.
func shutdown(server *web.Server, service *core.Service, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop taking requests first so no new exports arrive mid-drain
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	status := service.AdmissionStatus()
	slog.Info("cancelling exports", "active", status.Active)
	if err := service.Shutdown(ctx); err != nil {
		slog.Warn("exports did not stop in time; in-flight queries aborted", "error", err)
	} else {
		slog.Info("all exports stopped")
	}
}
