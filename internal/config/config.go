// Package config provides centralized configuration management for the exporter.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Export    ExportConfig
	Retention RetentionConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Seed      SeedConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 3000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"3000"`

	// ReadTimeout is the maximum duration for reading the request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout bounds writing a response (default: 0, downloads may be large)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is how long to drain requests and jobs on exit (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for API requests (default: 60s).
	// Downloads are exempt.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ExportConfig holds export engine settings.
type ExportConfig struct {
	// StoragePath is the directory artifacts are written to (default: ./exports)
	StoragePath string `env:"EXPORT_STORAGE_PATH" default:"./exports"`

	// MaxConcurrent is how many exports may process at once (default: 10)
	MaxConcurrent int `env:"EXPORT_MAX_CONCURRENT" default:"10"`

	// PageSize is the number of rows fetched per query (default: 1000)
	PageSize int `env:"EXPORT_PAGE_SIZE" default:"1000"`

	// Pagination selects keyset or offset paging (default: keyset)
	Pagination string `env:"EXPORT_PAGINATION" default:"keyset"`

	// Table is the source table (default: users)
	Table string `env:"EXPORT_TABLE" default:"users"`
}

// RetentionConfig holds artifact retention settings.
type RetentionConfig struct {
	// Enabled controls whether old exports are swept (default: true)
	Enabled bool `env:"RETENTION_ENABLED" default:"true"`

	// Schedule is a cron expression or descriptor (default: @every 1h)
	Schedule string `env:"RETENTION_SCHEDULE" default:"@every 1h"`

	// MaxAge is how long a finished export is kept (default: 24h)
	MaxAge time.Duration `env:"RETENTION_MAX_AGE" default:"24h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// SubmitLimit is requests per minute for export submission (default: 10)
	SubmitLimit int `env:"RATE_LIMIT_SUBMIT" default:"10"`

	// TrustedProxies lists proxy CIDRs whose forwarding headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on /exports routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, also receives every record as JSON
	File string `env:"LOG_FILE"`
}

// SeedConfig holds fixture generator settings.
type SeedConfig struct {
	// Rows is the number of users to insert (default: 100000)
	Rows int `env:"SEED_ROWS" default:"100000"`

	// BatchSize is rows per COPY batch (default: 50000)
	BatchSize int `env:"SEED_BATCH_SIZE" default:"50000"`

	// Workers is the number of concurrent COPY batches (default: 4)
	Workers int `env:"SEED_WORKERS" default:"4"`

	// RandomSeed fixes the generated data; 0 seeds from the clock
	RandomSeed uint64 `env:"SEED_RANDOM_SEED" default:"0"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
