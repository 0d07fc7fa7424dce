// Package logging provides structured logging configuration using log/slog.
//
// This package integrates with chi's RequestID middleware to propagate
// request IDs through structured log entries, and can mirror every record
// to a JSON log file alongside the console output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// When file is non-empty, records are also appended to it as JSON. The
// returned cleanup closes the file and is safe to call when file is empty.
func Setup(level, format, file string) (cleanup func() error, err error) {
	cleanup = func() error { return nil }

	if file == "" {
		slog.SetDefault(slog.New(NewHandler(os.Stdout, level, format)))
		return cleanup, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.SetDefault(slog.New(NewHandler(os.Stdout, level, format)))
		return cleanup, fmt.Errorf("open log file: %w", err)
	}

	slog.SetDefault(slog.New(NewFanoutHandler(os.Stdout, f, level, format)))
	return f.Close, nil
}

// NewHandler builds a console handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewFanoutHandler sends each record to a console handler on console and a
// JSON handler on file.
func NewFanoutHandler(console, file io.Writer, level, format string) slog.Handler {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: parseLevel(level)})
	return slogmulti.Fanout(NewHandler(console, level, format), fileHandler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns a logger enriched with request context.
//
// When called with a request context that contains a chi RequestID,
// the returned logger automatically includes request_id in all log entries.
//
// Usage:
//
//	func handleStatus(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("status requested", "export_id", id)
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a request logger with additional structured fields.
//
// Usage:
//
//	logger := logging.WithFields(ctx, "export_id", id)
//	logger.Info("download started", "mode", "range")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
