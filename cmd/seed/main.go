// Command seed creates the users table and fills it with random rows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/exporter/internal/config"
	"github.com/JonMunkholm/exporter/internal/database"
	"github.com/JonMunkholm/exporter/internal/logging"
	"github.com/JonMunkholm/exporter/internal/seed"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	rows       int
	batchSize  int
	workers    int
	table      string
	randSeed   uint64
	schemaOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the export source table with random users",
	Long: `Seed creates the users table (if missing) and inserts random users in
parallel COPY batches.

Defaults come from SEED_ROWS, SEED_BATCH_SIZE, SEED_WORKERS and EXPORT_TABLE;
flags override them.

Examples:
  seed --rows 10000000
  seed --rows 50000 --workers 8 --seed 42
  seed --schema-only`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSeed,
}

func init() {
	f := rootCmd.Flags()
	f.IntVarP(&rows, "rows", "n", 0, "number of users to insert (default SEED_ROWS)")
	f.IntVar(&batchSize, "batch-size", 0, "rows per COPY batch (default SEED_BATCH_SIZE)")
	f.IntVarP(&workers, "workers", "w", 0, "concurrent batches (default SEED_WORKERS)")
	f.StringVar(&table, "table", "", "target table (default EXPORT_TABLE)")
	f.Uint64Var(&randSeed, "seed", 0, "random seed; 0 uses the clock")
	f.BoolVar(&schemaOnly, "schema-only", false, "create the table and indexes, insert nothing")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	closeLog, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		slog.Warn("log file unavailable, logging to console only", "error", err)
	}
	defer closeLog()

	opts := seedOptions(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := seed.EnsureSchema(ctx, pool, opts.Table); err != nil {
		return err
	}
	slog.Info("schema ready", "table", opts.Table)
	if schemaOnly {
		return nil
	}

	slog.Info("seeding", "rows", opts.Rows, "batch_size", opts.BatchSize, "workers", opts.Workers)
	n, err := seed.Run(ctx, pool, opts)
	if err != nil {
		return fmt.Errorf("seeded %d of %d rows: %w", n, opts.Rows, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d rows into %s\n", n, opts.Table)
	return nil
}

// seedOptions merges config defaults with explicitly set flags.
func seedOptions(cmd *cobra.Command, cfg *config.Config) seed.Options {
	opts := seed.Options{
		Table:     cfg.Export.Table,
		Rows:      cfg.Seed.Rows,
		BatchSize: cfg.Seed.BatchSize,
		Workers:   cfg.Seed.Workers,
		Seed:      cfg.Seed.RandomSeed,
	}
	f := cmd.Flags()
	if f.Changed("rows") {
		opts.Rows = rows
	}
	if f.Changed("batch-size") {
		opts.BatchSize = batchSize
	}
	if f.Changed("workers") {
		opts.Workers = workers
	}
	if f.Changed("table") {
		opts.Table = table
	}
	if f.Changed("seed") {
		opts.Seed = randSeed
	}
	return opts
}

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
