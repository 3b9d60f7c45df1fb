package suiteql

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Executor runs a query against the remote ledger and returns every row.
type Executor interface {
	Execute(ctx context.Context, q Query) ([]Row, error)
}

// PageExecutor returns a single window of a result set.
type PageExecutor interface {
	ExecutePage(ctx context.Context, q Query, offset, limit int) ([]Row, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, q Query) ([]Row, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, q Query) ([]Row, error) {
	return f(ctx, q)
}

// Row is a single result row keyed by lower-cased column name.
type Row map[string]any

// Get returns the raw value for col, matching case-insensitively.
func (r Row) Get(col string) (any, bool) {
	if v, ok := r[col]; ok {
		return v, true
	}
	v, ok := r[strings.ToLower(col)]
	return v, ok
}

// String returns the column as text; missing and null values are "".
func (r Row) String(col string) string {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Int64 returns the column as an integer.
func (r Row) Int64(col string) (int64, bool) {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d.IntPart(), true
		}
		return 0, false
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(r.String(col)), 10, 64)
		return n, err == nil
	}
}

// OptInt64 returns the column as an integer pointer, nil when absent.
func (r Row) OptInt64(col string) *int64 {
	n, ok := r.Int64(col)
	if !ok {
		return nil
	}
	return &n
}

// Decimal returns the column as a decimal. Null and unparsable values are
// reported through ok.
func (r Row) Decimal(col string) (decimal.Decimal, bool) {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return decimal.Zero, false
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	}
	raw := strings.TrimSpace(r.String(col))
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Bool reads the ledger's 'T'/'F' flags.
func (r Row) Bool(col string) bool {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	switch strings.ToUpper(strings.TrimSpace(r.String(col))) {
	case "T", "TRUE", "Y", "1":
		return true
	}
	return false
}

var dateLayouts = []string{"2006-01-02", "1/2/2006", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05"}

// Time parses a date column. Remote dates are expected as YYYY-MM-DD but the
// ledger's default M/D/YYYY rendering is accepted too.
func (r Row) Time(col string) (time.Time, bool) {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return time.Time{}, false
	}
	if t, isTime := v.(time.Time); isTime {
		return t.UTC(), true
	}
	raw := strings.TrimSpace(r.String(col))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
