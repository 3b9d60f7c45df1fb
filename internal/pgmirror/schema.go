package pgmirror

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// Execer runs DDL; *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the mirror tables and the consolidate function when
// they are missing.
func EnsureSchema(ctx context.Context, conn Execer) error {
	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pgmirror: ensure schema: %w", err)
	}
	return nil
}
