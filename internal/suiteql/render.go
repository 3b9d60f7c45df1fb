package suiteql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrArgCount indicates a mismatch between placeholders and bound args.
var ErrArgCount = errors.New("suiteql: placeholder count does not match args")

// Render substitutes bound args into the statement as typed literals. Quoted
// regions in text are copied verbatim so a literal '?' inside a string is not
// treated as a placeholder.
func Render(q Query) (string, error) {
	var sb strings.Builder
	sb.Grow(len(q.Text) + len(q.Args)*8)
	next := 0
	inQuote := false
	for i := 0; i < len(q.Text); i++ {
		c := q.Text[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			if next >= len(q.Args) {
				return "", fmt.Errorf("%w: %s", ErrArgCount, q.Name)
			}
			lit, err := Literal(q.Args[next])
			if err != nil {
				return "", fmt.Errorf("suiteql: render %s arg %d: %w", q.Name, next, err)
			}
			sb.WriteString(lit)
			next++
		default:
			sb.WriteByte(c)
		}
	}
	if next != len(q.Args) {
		return "", fmt.Errorf("%w: %s", ErrArgCount, q.Name)
	}
	return sb.String(), nil
}

// Literal renders a single value. Only scalar types are accepted.
func Literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(t), nil
	case bool:
		if t {
			return "'T'", nil
		}
		return "'F'", nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case *int64:
		if t == nil {
			return "NULL", nil
		}
		return strconv.FormatInt(*t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case decimal.Decimal:
		return t.String(), nil
	case time.Time:
		return "TO_DATE('" + t.Format("2006-01-02") + "', 'YYYY-MM-DD')", nil
	case fmt.Stringer:
		return quote(t.String()), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
