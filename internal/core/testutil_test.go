package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// memRow is one row of the in-memory users table.
type memRow struct {
	ID               int64
	Name             string
	Email            string
	SignupDate       time.Time
	CountryCode      string
	SubscriptionTier string
	LifetimeValue    float64
}

func (r memRow) value(col string) any {
	switch col {
	case "id":
		return r.ID
	case "name":
		return r.Name
	case "email":
		return r.Email
	case "signup_date":
		return r.SignupDate
	case "country_code":
		return r.CountryCode
	case "subscription_tier":
		return r.SubscriptionTier
	case "lifetime_value":
		return r.LifetimeValue
	}
	return nil
}

func (r memRow) matches(f Filters) bool {
	if f.CountryCode != "" && r.CountryCode != f.CountryCode {
		return false
	}
	if f.SubscriptionTier != "" && r.SubscriptionTier != f.SubscriptionTier {
		return false
	}
	if f.MinLTV != nil && r.LifetimeValue < *f.MinLTV {
		return false
	}
	return true
}

// memSource is a RowSource over a slice of rows sorted by ID.
type memSource struct {
	mu       sync.Mutex
	rows     []memRow
	countErr error
	fetchErr error
	failAt   int // fail the n-th fetch (1-based) with fetchErr; 0 fails all when fetchErr is set
	fetches  int

	// gate, when non-nil, must yield a value before each fetch returns.
	gate chan struct{}
	// onFetch is called at the start of every fetch.
	onFetch func()
}

func (m *memSource) Count(ctx context.Context, f Filters) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, r := range m.rows {
		if r.matches(f) {
			n++
		}
	}
	return n, nil
}

func (m *memSource) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	if m.onFetch != nil {
		m.onFetch()
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil && (m.failAt == 0 || m.failAt == m.fetches) {
		return Page{}, m.fetchErr
	}

	page := Page{LastKey: req.AfterKey}
	var skipped int64
	for _, r := range m.rows {
		if !r.matches(req.Filters) {
			continue
		}
		if req.Mode == PaginateOffset {
			if skipped < req.Offset {
				skipped++
				continue
			}
		} else if r.ID <= req.AfterKey {
			continue
		}
		if len(page.Rows) == req.Limit {
			break
		}
		vals := make([]any, len(req.Columns))
		for i, c := range req.Columns {
			vals[i] = r.value(c)
		}
		page.Rows = append(page.Rows, vals)
		page.LastKey = r.ID
	}
	return page, nil
}

func (m *memSource) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// makeRows builds n US rows with ascending IDs starting at 1, cycling tiers.
func makeRows(n int, tiers ...string) []memRow {
	if len(tiers) == 0 {
		tiers = []string{"free", "premium", "enterprise"}
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]memRow, n)
	for i := range rows {
		rows[i] = memRow{
			ID:               int64(i + 1),
			Name:             fmt.Sprintf("User%d", i+1),
			Email:            fmt.Sprintf("user%d@example.com", i+1),
			SignupDate:       base.Add(time.Duration(i) * time.Hour),
			CountryCode:      "US",
			SubscriptionTier: tiers[i%len(tiers)],
			LifetimeValue:    float64(i%1000) + 0.25,
		}
	}
	return rows
}

func newTestService(t *testing.T, src RowSource, cfg ServiceConfig) *Service {
	t.Helper()
	if cfg.StorageDir == "" {
		cfg.StorageDir = t.TempDir()
	}
	svc, err := NewService(src, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

func waitTerminal(t *testing.T, svc *Service, id string) JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) failed: %v", id, err)
	}
	if !job.Status.IsTerminal() {
		t.Fatalf("job %s not terminal after Wait: %s", id, job.Status)
	}
	return job
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// parseDelimited reads text written by CSVWriter back into records.
func parseDelimited(data string, delim, quote rune) ([][]string, error) {
	var (
		records [][]string
		record  []string
		field   strings.Builder
		quoted  bool
		inField bool
	)
	runes := []rune(data)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quoted:
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					field.WriteRune(quote)
					i++
				} else {
					quoted = false
				}
				continue
			}
			field.WriteRune(r)
		case r == quote && !inField:
			quoted = true
			inField = true
		case r == delim:
			record = append(record, field.String())
			field.Reset()
			inField = false
		case r == '\n':
			record = append(record, field.String())
			records = append(records, record)
			record = nil
			field.Reset()
			inField = false
		default:
			field.WriteRune(r)
			inField = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quoted field")
	}
	if inField || len(record) > 0 {
		return nil, errors.New("missing trailing newline")
	}
	return records, nil
}
