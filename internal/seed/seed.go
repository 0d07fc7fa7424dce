// Package seed fills the users table with random fixture rows.
//
// Rows are generated in batches and written with COPY. Batches run
// concurrently, each with its own random source, so a fixed seed always
// produces the same set of rows regardless of scheduling.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"
)

// DB is the subset of *pgxpool.Pool the seeder needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var (
	names     = []string{"John", "Jane", "Alice", "Bob", "Charlie", "Diana", "Eve", "Frank"}
	domains   = []string{"gmail.com", "yahoo.com", "outlook.com", "example.com"}
	countries = []string{"US", "CA", "GB", "AU", "DE", "FR", "JP", "CN"}
	tiers     = []string{"free", "premium", "enterprise"}
)

// Columns are the columns each generated row fills, in COPY order.
var Columns = []string{"name", "email", "signup_date", "country_code", "subscription_tier", "lifetime_value"}

// signupWindow is how far back generated signup dates reach.
const signupWindow = 3 * 365 * 24 * time.Hour

// User is one generated row.
type User struct {
	Name             string
	Email            string
	SignupDate       time.Time
	CountryCode      string
	SubscriptionTier string
	LifetimeValue    float64
}

// values returns the row in Columns order.
func (u User) values() []any {
	return []any{u.Name, u.Email, u.SignupDate, u.CountryCode, u.SubscriptionTier, u.LifetimeValue}
}

// Generator produces random users. It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
	now time.Time
}

// NewGenerator returns a generator seeded with seed. Signup dates fall in
// the window ending at now.
func NewGenerator(seed uint64, now time.Time) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), now: now}
}

func pick[T any](r *rand.Rand, from []T) T {
	return from[r.IntN(len(from))]
}

// Next returns a new random user.
func (g *Generator) Next() User {
	name := pick(g.rng, names) + strconv.Itoa(g.rng.IntN(1000))
	return User{
		Name:             name,
		Email:            name + strconv.Itoa(g.rng.IntN(10000)) + "@" + pick(g.rng, domains),
		SignupDate:       g.now.Add(-time.Duration(g.rng.Int64N(int64(signupWindow)))).Truncate(time.Second),
		CountryCode:      pick(g.rng, countries),
		SubscriptionTier: pick(g.rng, tiers),
		LifetimeValue:    math.Round(g.rng.Float64()*1000*100) / 100,
	}
}

// Batch returns n users.
func (g *Generator) Batch(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = g.Next().values()
	}
	return rows
}

// Options controls a seeding run.
type Options struct {
	Table     string // Target table (default: users)
	Rows      int    // Total rows to insert
	BatchSize int    // Rows per COPY (default: 50000)
	Workers   int    // Concurrent batches (default: 4)
	Seed      uint64 // Random seed; 0 picks one from the clock
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = "users"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50000
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Seed == 0 {
		o.Seed = uint64(time.Now().UnixNano())
	}
	return o
}

// batchSizes splits total into batches of at most size rows.
func batchSizes(total, size int) []int {
	var out []int
	for total > 0 {
		n := min(size, total)
		out = append(out, n)
		total -= n
	}
	return out
}

// Schema returns the DDL that creates table and its filter indexes.
func Schema(table string) []string {
	t := pgx.Identifier{table}.Sanitize()
	idx := func(col string) string {
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgx.Identifier{table + "_" + col + "_idx"}.Sanitize(), t, pgx.Identifier{col}.Sanitize())
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	signup_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	country_code CHAR(2) NOT NULL,
	subscription_tier TEXT NOT NULL,
	lifetime_value NUMERIC(10,2) NOT NULL DEFAULT 0
)`, t),
		idx("country_code"),
		idx("subscription_tier"),
		idx("lifetime_value"),
	}
}

// EnsureSchema creates the table and indexes if they are missing.
func EnsureSchema(ctx context.Context, db DB, table string) error {
	for _, stmt := range Schema(table) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Run inserts opts.Rows generated users and returns how many were written.
// The first failing batch cancels the rest.
func Run(ctx context.Context, db DB, opts Options) (int64, error) {
	opts = opts.withDefaults()
	if opts.Rows <= 0 {
		return 0, nil
	}

	start := time.Now()
	table := pgx.Identifier{opts.Table}
	now := time.Now().UTC()

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, n := range batchSizes(opts.Rows, opts.BatchSize) {
		seed := opts.Seed + uint64(i)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows := NewGenerator(seed, now).Batch(n)
			copied, err := db.CopyFrom(gctx, table, Columns, pgx.CopyFromRows(rows))
			if err != nil {
				return fmt.Errorf("copy batch %d: %w", i, err)
			}
			total := inserted.Add(copied)
			slog.Info("seeded batch",
				"batch", i,
				"rows", copied,
				"inserted", total,
				"percent", fmt.Sprintf("%.2f", float64(total)/float64(opts.Rows)*100),
			)
			return nil
		})
	}

	err := g.Wait()
	slog.Info("seeding finished",
		"inserted", inserted.Load(),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return inserted.Load(), err
}
