// Package pgmirror executes ledger queries against a PostgreSQL replica of
// the remote ledger tables.
package pgmirror

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/platform/db"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Pool is the subset of *pgxpool.Pool used by the executor.
type Pool interface {
	db.Beginner
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Options tune the executor.
type Options struct {
	Logger         *slog.Logger
	Observer       suiteql.Observer
	PageSize       int
	DefaultTimeout time.Duration
}

// Executor implements suiteql.Executor over pgx.
type Executor struct {
	pool           Pool
	logger         *slog.Logger
	observer       suiteql.Observer
	pageSize       int
	defaultTimeout time.Duration
}

// New constructs an executor bound to pool.
func New(pool Pool, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 5000
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Executor{pool: pool, logger: logger, observer: opts.Observer, pageSize: pageSize, defaultTimeout: timeout}
}

// Execute runs every page of q inside one read-only snapshot.
func (e *Executor) Execute(ctx context.Context, q suiteql.Query) ([]suiteql.Row, error) {
	ctx, cancel := e.withTimeout(ctx, q)
	defer cancel()

	var rows []suiteql.Row
	err := db.WithReadTx(ctx, e.pool, func(tx pgx.Tx) error {
		var err error
		rows, err = suiteql.Paginate(ctx, pager{exec: e, q: tx}, q, e.pageSize, 0)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// ExecutePage fetches a single window outside of a snapshot.
func (e *Executor) ExecutePage(ctx context.Context, q suiteql.Query, offset, limit int) ([]suiteql.Row, error) {
	ctx, cancel := e.withTimeout(ctx, q)
	defer cancel()
	return e.page(ctx, e.pool, q, offset, limit)
}

type pager struct {
	exec *Executor
	q    querier
}

func (p pager) ExecutePage(ctx context.Context, q suiteql.Query, offset, limit int) ([]suiteql.Row, error) {
	return p.exec.page(ctx, p.q, q, offset, limit)
}

func (e *Executor) withTimeout(ctx context.Context, q suiteql.Query) (context.Context, context.CancelFunc) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Executor) page(ctx context.Context, conn querier, q suiteql.Query, offset, limit int) ([]suiteql.Row, error) {
	start := time.Now()
	rows, err := e.query(ctx, conn, q, offset, limit)
	if err != nil {
		err = mapError(err)
	}
	if e.observer != nil {
		kind := "ok"
		if err != nil {
			kind = string(suiteql.KindOf(err))
		}
		e.observer.ObserveQuery(q.Name, kind, time.Since(start))
	}
	if err != nil {
		e.logger.Warn("mirror query failed", slog.String("query", q.Name), slog.Int("offset", offset), slog.Any("error", err))
	}
	return rows, err
}

func (e *Executor) query(ctx context.Context, conn querier, q suiteql.Query, offset, limit int) ([]suiteql.Row, error) {
	text, n, err := Rebind(q.Text)
	if err != nil {
		return nil, err
	}
	if n != len(q.Args) {
		return nil, fmt.Errorf("%w: %s", suiteql.ErrArgCount, q.Name)
	}
	args := make([]any, 0, len(q.Args)+2)
	for _, a := range q.Args {
		args = append(args, bindArg(a))
	}
	text = fmt.Sprintf("%s\nLIMIT $%d OFFSET $%d", text, n+1, n+2)
	args = append(args, limit, offset)

	rs, err := conn.Query(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	fields := rs.FieldDescriptions()
	var out []suiteql.Row
	for rs.Next() {
		values, err := rs.Values()
		if err != nil {
			return nil, err
		}
		row := make(suiteql.Row, len(fields))
		for i, f := range fields {
			row[strings.ToLower(f.Name)] = normalise(values[i])
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Rebind converts '?' placeholders outside string literals into $n form and
// returns the number of placeholders.
func Rebind(text string) (string, int, error) {
	var sb strings.Builder
	sb.Grow(len(text) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	if inQuote {
		return "", 0, errors.New("pgmirror: unterminated string literal")
	}
	return sb.String(), n, nil
}

// bindArg maps ledger flag and amount types onto mirror column types.
func bindArg(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return "T"
		}
		return "F"
	case decimal.Decimal:
		return t.String()
	default:
		return v
	}
}

func normalise(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		val, err := t.Value()
		if err != nil || val == nil {
			return nil
		}
		if s, ok := val.(string); ok {
			return s
		}
		return val
	case driver.Valuer:
		val, err := t.Value()
		if err != nil {
			return nil
		}
		return val
	case [16]byte:
		return fmt.Sprintf("%x", t)
	default:
		return v
	}
}

// mapError translates Postgres failures into suiteql error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var qerr *suiteql.Error
	if errors.As(err, &qerr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := suiteql.KindOther
		switch pgErr.Code {
		case "42P01", "42883", "3F000":
			kind = suiteql.KindFeatureUnavailable
		case "42501", "28000", "28P01":
			kind = suiteql.KindPermissionDenied
		case "53300", "57P03", "55P03":
			kind = suiteql.KindRateLimited
		}
		return &suiteql.Error{Kind: kind, Detail: pgErr.Code + ": " + pgErr.Message, Err: err}
	}
	return &suiteql.Error{Kind: suiteql.KindOther, Err: err}
}
