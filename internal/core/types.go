package core

import (
	"context"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// AllStatuses lists every job status in lifecycle order.
var AllStatuses = []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AllColumns is the allowed export column list, in default output order.
var AllColumns = []string{
	"id",
	"name",
	"email",
	"signup_date",
	"country_code",
	"subscription_tier",
	"lifetime_value",
}

// KeyColumn is the stable unique key used to order pages.
const KeyColumn = "id"

// FormatOptions controls how the artifact is delimited and quoted.
type FormatOptions struct {
	Delimiter rune
	Quote     rune
}

// DefaultFormatOptions returns comma-delimited, double-quoted output.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{Delimiter: ',', Quote: '"'}
}

// Progress tracks extraction progress of one job.
type Progress struct {
	ProcessedRows int64 `json:"processedRows"`
	TotalRows     int64 `json:"totalRows"`
}

// Percent returns min(100, round(processed/total*100)), or 0 if total is 0.
func (p Progress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	pct := int(math.Round(float64(p.ProcessedRows) / float64(p.TotalRows) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// JobSnapshot is a read-only copy of a job record.
// The registry owns the authoritative record; callers only ever see snapshots.
type JobSnapshot struct {
	ID              string
	Filters         Filters
	Columns         []string
	Format          FormatOptions
	Status          JobStatus
	Progress        Progress
	Error           string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	CancelRequested bool
}

// Percent reports the job's completion percentage.
// A completed job with nothing to export reports 100.
func (j JobSnapshot) Percent() int {
	if j.Status == StatusCompleted && j.Progress.TotalRows == 0 {
		return 100
	}
	return j.Progress.Percent()
}

// SubmitResult is returned by Service.Submit.
type SubmitResult struct {
	ID     string    `json:"exportId"`
	Status JobStatus `json:"status"`
}

// PaginationMode selects how the pipeline walks the result set.
type PaginationMode string

const (
	// PaginateKeyset pages by the last-seen key (WHERE id > $n).
	PaginateKeyset PaginationMode = "keyset"
	// PaginateOffset pages by LIMIT/OFFSET.
	PaginateOffset PaginationMode = "offset"
)
