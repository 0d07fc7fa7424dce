package core

// serializer.go writes delimited text with a configurable delimiter and quote
// character. Records are written as they arrive and flushed per page, so
// memory use is bounded by the page size rather than the export size.
//
// Quoting rule: a field is wrapped in quote characters when it contains the
// delimiter, the quote character, CR or LF, or begins with a space. Inside a
// quoted field the quote character is doubled. Reading the output back with
// the same delimiter and quote yields the original fields.

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// CSVWriter streams records to an io.Writer.
type CSVWriter struct {
	w     *bufio.Writer
	delim rune
	quote rune
}

// NewCSVWriter creates a writer using opts (zero values take the defaults).
func NewCSVWriter(w io.Writer, opts FormatOptions) *CSVWriter {
	opts = opts.withDefaults()
	return &CSVWriter{
		w:     bufio.NewWriter(w),
		delim: opts.Delimiter,
		quote: opts.Quote,
	}
}

// WriteHeader writes the column names as the first record.
func (c *CSVWriter) WriteHeader(columns []string) error {
	return c.WriteRecord(columns)
}

// WriteRecord writes one record terminated by "\n".
func (c *CSVWriter) WriteRecord(fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if _, err := c.w.WriteRune(c.delim); err != nil {
				return err
			}
		}
		if err := c.writeField(field); err != nil {
			return err
		}
	}
	return c.w.WriteByte('\n')
}

// WriteRows formats and writes a batch of rows.
func (c *CSVWriter) WriteRows(rows [][]any) error {
	record := make([]string, 0, 8)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, FormatValue(v))
		}
		if err := c.WriteRecord(record); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (c *CSVWriter) Flush() error {
	return c.w.Flush()
}

func (c *CSVWriter) writeField(field string) error {
	if !c.needsQuotes(field) {
		_, err := c.w.WriteString(field)
		return err
	}

	if _, err := c.w.WriteRune(c.quote); err != nil {
		return err
	}
	for _, r := range field {
		if r == c.quote {
			if _, err := c.w.WriteRune(c.quote); err != nil {
				return err
			}
		}
		if _, err := c.w.WriteRune(r); err != nil {
			return err
		}
	}
	_, err := c.w.WriteRune(c.quote)
	return err
}

func (c *CSVWriter) needsQuotes(field string) bool {
	if field == "" {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(field); r == ' ' || r == '\t' {
		return true
	}
	return strings.ContainsRune(field, c.delim) ||
		strings.ContainsRune(field, c.quote) ||
		strings.ContainsAny(field, "\r\n")
}

// FormatValue renders a database value as artifact text.
// NULL becomes the empty string; numerics keep their exact decimal text.
func FormatValue(v any) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(time.RFC3339)

	case pgtype.Numeric:
		if !val.Valid {
			return ""
		}
		dv, err := val.Value()
		if err != nil || dv == nil {
			return ""
		}
		return fmt.Sprint(dv)

	case pgtype.Text:
		if !val.Valid {
			return ""
		}
		return val.String

	case pgtype.Timestamptz:
		if !val.Valid {
			return ""
		}
		return val.Time.UTC().Format(time.RFC3339)

	case pgtype.Date:
		if !val.Valid {
			return ""
		}
		return val.Time.Format("2006-01-02")

	default:
		return fmt.Sprintf("%v", v)
	}
}
