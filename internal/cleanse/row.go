package cleanse

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("db"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// timestampLayouts are tried in order; values without a zone are UTC.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// columns maps standardized header names to cell positions.
type columns map[string]int

// standardize lowercases and trims header names and checks that every
// required column is present.
func standardize(t *source.RawTable, required []string) (columns, error) {
	cols := make(columns, len(t.Header))
	for i, h := range t.Header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", t.Entity, ErrMissingColumn, strings.Join(missing, ", "))
	}
	return cols, nil
}

// rowReader reads typed cells from one raw row and keeps the first failure.
type rowReader struct {
	entity source.Entity
	cols   columns
	cells  []string
	line   int
	key    string
	err    *ValidationError
}

func (r *rowReader) str(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r *rowReader) fail(field, reason string) {
	if r.err != nil {
		return
	}
	r.err = &ValidationError{Entity: r.entity, Line: r.line, Key: r.key, Field: field, Reason: reason}
}

func (r *rowReader) requiredTimestamp(col string) time.Time {
	s := r.str(col)
	if s == "" {
		r.fail(col, "is required")
		return time.Time{}
	}
	t, err := parseTimestamp(s)
	if err != nil {
		r.fail(col, err.Error())
	}
	return t
}

func (r *rowReader) optionalTimestamp(col string) *time.Time {
	s := r.str(col)
	if s == "" {
		return nil
	}
	t, err := parseTimestamp(s)
	if err != nil {
		r.fail(col, err.Error())
		return nil
	}
	return &t
}

func (r *rowReader) amount(col string) decimal.Decimal {
	s := r.str(col)
	if s == "" {
		r.fail(col, "is required")
		return decimal.Zero
	}
	d, err := money.Parse(s)
	if err != nil {
		r.fail(col, fmt.Sprintf("unparseable amount %q", s))
	}
	return d
}

func (r *rowReader) integer(col string) int64 {
	s := r.str(col)
	if s == "" {
		r.fail(col, "is required")
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(col, fmt.Sprintf("unparseable integer %q", s))
	}
	return n
}

// measure reads an optional numeric attribute; empty cells become zero.
func (r *rowReader) measure(col string) float64 {
	s := r.str(col)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, fmt.Sprintf("unparseable number %q", s))
		return 0
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		r.fail(col, fmt.Sprintf("non-finite number %q", s))
		return 0
	}
	return f
}

// check runs struct-level rules declared with validate tags.
func (r *rowReader) check(row any) {
	if r.err != nil {
		return
	}
	err := validate.Struct(row)
	if err == nil {
		return
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		r.fail(fe.Field(), reason)
		return
	}
	r.fail("row", err.Error())
}
