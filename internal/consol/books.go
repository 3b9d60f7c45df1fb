package consol

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Book is an accounting book.
type Book struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
}

// BooksResult lists accounting books. FeatureEnabled is false when the
// account has no multi-book accounting, in which case only the primary book
// is listed.
type BooksResult struct {
	Books          []Book `json:"books"`
	FeatureEnabled bool   `json:"feature_enabled"`
}

// Books lists active accounting books, primary first.
func (s *Service) Books(ctx context.Context) (BooksResult, error) {
	var b suiteql.Builder
	b.Line("SELECT id, name, isprimary FROM AccountingBook")
	b.Line("WHERE isinactive = ?", false)
	b.Line("ORDER BY isprimary DESC, id")
	rows, err := s.exec.Execute(ctx, b.Build("accounting_books", 0))
	if err != nil {
		if suiteql.IsFeatureUnavailable(err) {
			s.logger.Info("accounting books unavailable, primary book only", slog.Any("error", err))
			return BooksResult{Books: []Book{{ID: PrimaryBook, Name: "Primary Book", Primary: true}}}, nil
		}
		return BooksResult{}, componentErr("accounting_books", err)
	}
	out := BooksResult{FeatureEnabled: true, Books: make([]Book, 0, len(rows))}
	for _, row := range rows {
		id, ok := row.Int64("id")
		if !ok {
			continue
		}
		out.Books = append(out.Books, Book{ID: id, Name: row.String("name"), Primary: row.Bool("isprimary")})
	}
	return out, nil
}
