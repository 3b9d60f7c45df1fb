package suiteql

import (
	"context"
	"fmt"
)

// DefaultPageSize matches the remote single response row cap.
const DefaultPageSize = 1000

// Paginate walks a result set page by page until a page comes back shorter
// than requested. maxRows bounds the total; zero means unbounded.
func Paginate(ctx context.Context, exec PageExecutor, q Query, pageSize, maxRows int) ([]Row, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var out []Row
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := exec.ExecutePage(ctx, q, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("suiteql: %s page at offset %d: %w", q.Name, offset, err)
		}
		out = append(out, page...)
		if maxRows > 0 && len(out) >= maxRows {
			return out[:maxRows], nil
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}
