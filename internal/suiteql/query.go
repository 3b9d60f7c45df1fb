package suiteql

import (
	"strings"
	"time"
)

// Query is a parameterized statement for the remote ledger. Every value is
// carried in Args and referenced by a '?' placeholder in Text.
type Query struct {
	// Name labels the query in logs and metrics.
	Name    string
	Text    string
	Args    []any
	Timeout time.Duration
	// Book is the accounting book the statement is scoped to; nil means the
	// executor default.
	Book *int64
}

// Builder assembles a statement and its arguments in placeholder order.
type Builder struct {
	sb   strings.Builder
	args []any
}

// Write appends a fragment with its arguments. The fragment must contain
// exactly one '?' per argument.
func (b *Builder) Write(fragment string, args ...any) *Builder {
	b.sb.WriteString(fragment)
	b.args = append(b.args, args...)
	return b
}

// Line appends a fragment followed by a newline.
func (b *Builder) Line(fragment string, args ...any) *Builder {
	b.Write(fragment, args...)
	b.sb.WriteByte('\n')
	return b
}

// Build returns the accumulated query.
func (b *Builder) Build(name string, timeout time.Duration) Query {
	return Query{
		Name:    name,
		Text:    strings.TrimSpace(b.sb.String()),
		Args:    append([]any(nil), b.args...),
		Timeout: timeout,
	}
}

// Where collects AND-ed conditions and their arguments.
type Where struct {
	conds []string
	args  []any
}

// Add appends a condition with its arguments.
func (w *Where) Add(cond string, args ...any) *Where {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
	return w
}

// In appends "column IN (?, ...)" for values. An empty list produces a
// condition that matches nothing.
func (w *Where) In(column string, values ...any) *Where {
	if len(values) == 0 {
		return w.Add("1 = 0")
	}
	return w.Add(column+" IN ("+Placeholders(len(values))+")", values...)
}

// NotIn appends "column NOT IN (?, ...)". An empty list adds nothing.
func (w *Where) NotIn(column string, values ...any) *Where {
	if len(values) == 0 {
		return w
	}
	return w.Add(column+" NOT IN ("+Placeholders(len(values))+")", values...)
}

// Len returns the number of conditions.
func (w *Where) Len() int {
	return len(w.conds)
}

// WriteTo appends the WHERE clause to b.
func (w *Where) WriteTo(b *Builder) {
	if len(w.conds) == 0 {
		return
	}
	b.Line("WHERE "+strings.Join(w.conds, "\n  AND "), w.args...)
}

// Placeholders returns n comma separated placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Strings converts values to a []any for In.
func Strings[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// Int64s converts values to a []any for In.
func Int64s(values []int64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
