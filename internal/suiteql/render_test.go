package suiteql

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRenderBindsTypedLiterals(t *testing.T) {
	var w Where
	w.In("a.acctnumber", Strings([]string{"4010", "O'Neil"})...)
	w.Add("ap.enddate <= ?", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	w.Add("tal.accountingbook = ?", int64(2))
	w.Add("t.posting = ?", true)
	var b Builder
	b.Line("SELECT a.acctnumber, SUM(tal.amount * ?) AS amt", decimal.RequireFromString("-1.5"))
	b.Line("FROM TransactionAccountingLine tal")
	w.WriteTo(&b)
	q := b.Build("test", time.Second)

	got, err := Render(q)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"SUM(tal.amount * -1.5)",
		"a.acctnumber IN ('4010', 'O''Neil')",
		"ap.enddate <= TO_DATE('2025-01-31', 'YYYY-MM-DD')",
		"tal.accountingbook = 2",
		"t.posting = 'T'",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("rendered query missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "?") {
		t.Fatalf("unbound placeholder left in %s", got)
	}
}

func TestRenderIgnoresPlaceholdersInsideLiterals(t *testing.T) {
	q := Query{Name: "q", Text: "SELECT '?' AS mark, ? AS v", Args: []any{int64(7)}}
	got, err := Render(q)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "SELECT '?' AS mark, 7 AS v" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderArgCountMismatch(t *testing.T) {
	if _, err := Render(Query{Text: "SELECT ?, ?", Args: []any{1}}); !errors.Is(err, ErrArgCount) {
		t.Fatalf("expected ErrArgCount, got %v", err)
	}
	if _, err := Render(Query{Text: "SELECT 1", Args: []any{1}}); !errors.Is(err, ErrArgCount) {
		t.Fatalf("expected ErrArgCount for surplus args, got %v", err)
	}
}

func TestLiteralRejectsComposite(t *testing.T) {
	if _, err := Literal([]int{1}); err == nil {
		t.Fatalf("expected slice literal to be rejected")
	}
	var nilID *int64
	if got, _ := Literal(nilID); got != "NULL" {
		t.Fatalf("expected NULL for nil id, got %s", got)
	}
}

func TestWhereEmptyInMatchesNothing(t *testing.T) {
	var w Where
	w.In("t.subsidiary")
	var b Builder
	b.Line("SELECT 1 FROM Transaction t")
	w.WriteTo(&b)
	if q := b.Build("empty", 0); !strings.Contains(q.Text, "WHERE 1 = 0") || len(q.Args) != 0 {
		t.Fatalf("unexpected query %+v", q)
	}
}

func TestWhereNotIn(t *testing.T) {
	var w Where
	w.Add("t.posting = ?", true)
	w.NotIn("a.accttype", Strings([]string{"Income", "Expense"})...)
	w.NotIn("a.acctnumber")
	var b Builder
	b.Line("SELECT 1 FROM Account a")
	w.WriteTo(&b)
	q := b.Build("not_in", 0)
	if !strings.Contains(q.Text, "AND a.accttype NOT IN (?, ?)") || strings.Contains(q.Text, "a.acctnumber") {
		t.Fatalf("unexpected query %q", q.Text)
	}
	if len(q.Args) != 3 || q.Args[1] != "Income" || q.Args[2] != "Expense" {
		t.Fatalf("unexpected args %v", q.Args)
	}
}

func TestRowAccessors(t *testing.T) {
	row := Row{"amt": "12.345", "id": "42", "posting": "T", "startdate": "2025-01-01", "legacy": "1/31/2025"}
	if d, ok := row.Decimal("amt"); !ok || !d.Equal(decimal.RequireFromString("12.345")) {
		t.Fatalf("unexpected decimal %s %v", d, ok)
	}
	if id, ok := row.Int64("ID"); !ok || id != 42 {
		t.Fatalf("unexpected id %d %v", id, ok)
	}
	if !row.Bool("posting") || row.Bool("missing") {
		t.Fatalf("unexpected bool handling")
	}
	if day, ok := row.Time("legacy"); !ok || day.Day() != 31 {
		t.Fatalf("unexpected legacy date %s", day)
	}
	if _, ok := row.Decimal("missing"); ok {
		t.Fatalf("missing decimal must report !ok")
	}
	if row.OptInt64("missing") != nil {
		t.Fatalf("expected nil pointer for missing id")
	}
}
