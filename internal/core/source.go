package core

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// DefaultTable is the source table exported by default.
const DefaultTable = "users"

// FirstKey precedes every key, so "id > FirstKey" matches all rows.
const FirstKey int64 = math.MinInt64

// PageRequest describes one page fetch.
type PageRequest struct {
	Filters Filters
	Columns []string
	Limit   int

	// Mode selects keyset (AfterKey) or offset (Offset) paging.
	// The first keyset page uses FirstKey.
	Mode     PaginationMode
	AfterKey int64
	Offset   int64
}

// Page is one batch of rows in ascending key order.
// Each row holds values for the requested columns, in order.
type Page struct {
	Rows    [][]any
	LastKey int64
}

// RowSource counts and pages through rows matching a filter set.
type RowSource interface {
	Count(ctx context.Context, filters Filters) (int64, error)
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// PostgresSource reads rows from a PostgreSQL table through pgx.
type PostgresSource struct {
	db    DBTX
	table string
}

// NewPostgresSource creates a source over table (DefaultTable if empty).
func NewPostgresSource(db DBTX, table string) *PostgresSource {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSource{db: db, table: table}
}

// Count returns the number of rows matching filters.
func (s *PostgresSource) Count(ctx context.Context, filters Filters) (int64, error) {
	wb := NewWhereBuilder()
	filters.Apply(wb)
	whereClause, args := wb.Build()

	query := "SELECT COUNT(*) FROM " + quoteIdentifier(s.table) + whereClause

	var total int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

// FetchPage returns up to req.Limit rows ordered by KeyColumn.
func (s *PostgresSource) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	query, args := s.pageQuery(req)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	page := Page{LastKey: req.AfterKey}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Page{}, fmt.Errorf("read row values: %w", err)
		}
		key, err := keyValue(values[0])
		if err != nil {
			return Page{}, err
		}
		page.LastKey = key
		page.Rows = append(page.Rows, values[1:])
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("rows error: %w", err)
	}
	return page, nil
}

// pageQuery builds the SELECT for one page. The key column is always
// selected first so keyset paging can advance even when it is not exported.
func (s *PostgresSource) pageQuery(req PageRequest) (string, []interface{}) {
	wb := NewWhereBuilder()
	req.Filters.Apply(wb)
	if req.Mode != PaginateOffset {
		wb.AddAfter(KeyColumn, req.AfterKey)
	}
	whereClause, args := wb.Build()

	cols := append([]string{KeyColumn}, req.Columns...)
	argIndex := wb.NextArgIndex()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s ORDER BY %s LIMIT $%d",
		strings.Join(quoteColumns(cols), ", "),
		quoteIdentifier(s.table),
		whereClause,
		quoteIdentifier(KeyColumn),
		argIndex,
	)
	args = append(args, req.Limit)

	if req.Mode == PaginateOffset {
		fmt.Fprintf(&b, " OFFSET $%d", argIndex+1)
		args = append(args, req.Offset)
	}
	return b.String(), args
}

func keyValue(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int32:
		return int64(k), nil
	case int:
		return int64(k), nil
	default:
		return 0, fmt.Errorf("unexpected %s type %T", KeyColumn, v)
	}
}
