package core

// filters.go turns untrusted submission parameters into a parameterized
// predicate.
//
// Only the keys in filterWhitelist can ever reach SQL, and only as a fixed
// (column, operator) pair with the value bound as a $n argument. Unknown
// keys are dropped without error; known keys with bad values are rejected
// with a *ValidationError before a job is created.

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
)

// compareOp is one of the operators a whitelisted filter may use.
type compareOp string

const (
	opEq  compareOp = "="
	opGte compareOp = ">="
	opGt  compareOp = ">"
)

// Filter keys accepted on submission.
const (
	FilterCountryCode      = "country_code"
	FilterSubscriptionTier = "subscription_tier"
	FilterMinLTV           = "min_ltv"
)

// Filters is the validated set of whitelisted predicates for one export.
type Filters struct {
	CountryCode      string   `json:"country_code,omitempty"`
	SubscriptionTier string   `json:"subscription_tier,omitempty"`
	MinLTV           *float64 `json:"min_ltv,omitempty"`
}

// filterInput mirrors Filters as raw strings for validation.
type filterInput struct {
	CountryCode      string `json:"country_code" validate:"omitempty,iso3166_1_alpha2"`
	SubscriptionTier string `json:"subscription_tier" validate:"omitempty,oneof=free premium enterprise"`
	MinLTV           string `json:"min_ltv" validate:"omitempty,numeric"`
}

type columnInput struct {
	Columns []string `json:"columns" validate:"omitempty,unique,dive,oneof=id name email signup_date country_code subscription_tier lifetime_value"`
}

type formatInput struct {
	Delimiter string `json:"delimiter" validate:"omitempty,len=1"`
	Quote     string `json:"quoteChar" validate:"omitempty,len=1"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts the first validator failure into a *ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i > 0 {
		field = field[:i]
	}
	reason := fe.Tag()
	switch fe.Tag() {
	case "iso3166_1_alpha2":
		reason = fmt.Sprintf("%q is not an ISO 3166-1 alpha-2 country code", fe.Value())
	case "oneof":
		reason = fmt.Sprintf("%q must be one of: %s", fe.Value(), fe.Param())
	case "numeric":
		reason = fmt.Sprintf("%q is not a number", fe.Value())
	case "unique":
		reason = "duplicate entries"
	case "len":
		reason = "must be a single character"
	}
	return &ValidationError{Field: field, Reason: reason}
}

// ParseFilters validates raw filter parameters.
// Unrecognized keys are ignored; recognized keys with invalid values fail.
func ParseFilters(raw map[string]string) (Filters, error) {
	in := filterInput{
		CountryCode:      strings.ToUpper(strings.TrimSpace(raw[FilterCountryCode])),
		SubscriptionTier: strings.ToLower(strings.TrimSpace(raw[FilterSubscriptionTier])),
		MinLTV:           strings.TrimSpace(raw[FilterMinLTV]),
	}
	if err := validate.Struct(in); err != nil {
		return Filters{}, validationError(err)
	}

	f := Filters{
		CountryCode:      in.CountryCode,
		SubscriptionTier: in.SubscriptionTier,
	}
	if in.MinLTV != "" {
		v, err := strconv.ParseFloat(in.MinLTV, 64)
		if err != nil {
			return Filters{}, &ValidationError{Field: FilterMinLTV, Reason: fmt.Sprintf("%q is not a number", in.MinLTV)}
		}
		f.MinLTV = &v
	}
	return f, nil
}

// ParseColumns validates the requested column list.
// An empty list selects AllColumns.
func ParseColumns(raw []string) ([]string, error) {
	cols := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return slices.Clone(AllColumns), nil
	}
	if err := validate.Struct(columnInput{Columns: cols}); err != nil {
		return nil, validationError(err)
	}
	return cols, nil
}

// ParseFormatOptions validates delimiter and quote overrides.
// Empty strings keep the defaults.
func ParseFormatOptions(delimiter, quote string) (FormatOptions, error) {
	if err := validate.Struct(formatInput{Delimiter: delimiter, Quote: quote}); err != nil {
		return FormatOptions{}, validationError(err)
	}
	opts := DefaultFormatOptions()
	if delimiter != "" {
		opts.Delimiter = []rune(delimiter)[0]
	}
	if quote != "" {
		opts.Quote = []rune(quote)[0]
	}
	return opts, opts.Validate()
}

// Validate checks that the options can produce a parseable artifact.
func (o FormatOptions) Validate() error {
	for _, c := range []struct {
		field string
		r     rune
	}{{"delimiter", o.Delimiter}, {"quoteChar", o.Quote}} {
		if c.r == 0 || c.r == '\r' || c.r == '\n' {
			return &ValidationError{Field: c.field, Reason: "must be a printable character"}
		}
	}
	if o.Delimiter == o.Quote {
		return &ValidationError{Field: "quoteChar", Reason: "must differ from delimiter"}
	}
	return nil
}

// withDefaults fills zero-valued options.
func (o FormatOptions) withDefaults() FormatOptions {
	d := DefaultFormatOptions()
	if o.Delimiter == 0 {
		o.Delimiter = d.Delimiter
	}
	if o.Quote == 0 {
		o.Quote = d.Quote
	}
	return o
}

// Apply adds the filters to wb as bound conditions.
func (f Filters) Apply(wb *WhereBuilder) {
	wb.Add("country_code", f.CountryCode)
	wb.Add("subscription_tier", f.SubscriptionTier)
	if f.MinLTV != nil {
		wb.AddCompare("lifetime_value", opGte, *f.MinLTV)
	}
}

// WhereBuilder assembles a WHERE clause with positional arguments.
// Column names are sanitized identifiers; values are never inlined.
type WhereBuilder struct {
	conditions []string
	args       []interface{}
	argIndex   int
}

// NewWhereBuilder returns an empty builder starting at $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.AddCompare(column, opEq, value)
}

// AddCompare appends "column <op> $n".
func (wb *WhereBuilder) AddCompare(column string, op compareOp, value interface{}) {
	wb.conditions = append(wb.conditions,
		fmt.Sprintf("%s %s $%d", quoteIdentifier(column), op, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// AddAfter appends "column > $n" for keyset pagination.
func (wb *WhereBuilder) AddAfter(column string, key int64) {
	wb.AddCompare(column, opGt, key)
}

// Build returns the clause (with a leading " WHERE ") and its arguments.
// Returns "" and nil when no conditions were added.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), slices.Clone(wb.args)
}

// NextArgIndex returns the next free positional argument index.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// quoteIdentifier safely quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteColumns quotes each column name.
func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdentifier(c)
	}
	return out
}
