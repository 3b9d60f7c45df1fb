// Package dimension resolves subsidiary and segment names to ledger ids.
package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// ErrUnknownDimension is returned for dimensions outside the supported set.
var ErrUnknownDimension = errors.New("dimension: unknown dimension")

var tables = map[ledger.Dimension]string{
	ledger.DimSubsidiary: "Subsidiary",
	ledger.DimDepartment: "Department",
	ledger.DimClass:      "Classification",
	ledger.DimLocation:   "Location",
}

// Resolver maps user supplied names to ids through the shared dimension cache.
type Resolver struct {
	exec   suiteql.Executor
	cache  *cache.Layer
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	values map[ledger.Dimension][]ledger.DimensionValue
}

// NewResolver constructs a Resolver.
func NewResolver(exec suiteql.Executor, layer *cache.Layer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{exec: exec, cache: layer, logger: logger, values: make(map[ledger.Dimension][]ledger.DimensionValue)}
}

// Resolve maps raw, a name or a numeric id, onto an id. The boolean is false
// when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, dim ledger.Dimension, raw string) (int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	if _, ok := tables[dim]; !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownDimension, dim)
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, true, nil
	}
	key := Normalize(raw)
	if key == "" {
		return 0, false, nil
	}
	if v, ok := r.cache.Dimensions.Get(cache.DimensionKey(dim, key)); ok {
		return v.ID, true, nil
	}
	values, err := r.load(ctx, dim)
	if err != nil {
		return 0, false, err
	}
	if v, ok := r.cache.Dimensions.Get(cache.DimensionKey(dim, key)); ok {
		return v.ID, true, nil
	}
	if v, ok := uniquePartialMatch(values, key); ok {
		r.cache.Dimensions.Set(cache.DimensionKey(dim, key), v)
		return v.ID, true, nil
	}
	return 0, false, nil
}

// ResolveFilters resolves every populated filter. Values that cannot be
// resolved are dropped and reported as warnings instead of failing the call.
func (r *Resolver) ResolveFilters(ctx context.Context, in ledger.FilterInput) (ledger.Filters, []string) {
	var (
		out      ledger.Filters
		warnings []string
	)
	for _, dim := range ledger.Dimensions() {
		raw := in.Value(dim)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		id, ok, err := r.Resolve(ctx, dim, raw)
		switch {
		case err != nil:
			r.logger.Warn("dimension lookup failed, filter dropped", slog.String("dimension", string(dim)), slog.String("value", raw), slog.Any("error", err))
			warnings = append(warnings, fmt.Sprintf("%s %q could not be looked up; filter dropped", dim, raw))
		case !ok:
			r.logger.Warn("dimension value not found, filter dropped", slog.String("dimension", string(dim)), slog.String("value", raw))
			warnings = append(warnings, fmt.Sprintf("%s %q not found; filter dropped", dim, raw))
		default:
			out = out.With(dim, id)
		}
	}
	return out, warnings
}

// Name returns the display name for an id.
func (r *Resolver) Name(ctx context.Context, dim ledger.Dimension, id int64) (string, bool, error) {
	if v, ok := r.cache.Dimensions.Get(cache.DimensionIDKey(dim, id)); ok {
		return v.Name, true, nil
	}
	if _, err := r.load(ctx, dim); err != nil {
		return "", false, err
	}
	if v, ok := r.cache.Dimensions.Get(cache.DimensionIDKey(dim, id)); ok {
		return v.Name, true, nil
	}
	return "", false, nil
}

// List returns every active value of dim ordered by name. A dimension table
// missing from the account yields an empty list.
func (r *Resolver) List(ctx context.Context, dim ledger.Dimension) ([]ledger.DimensionValue, error) {
	values, err := r.load(ctx, dim)
	if err != nil {
		return nil, err
	}
	return append([]ledger.DimensionValue(nil), values...), nil
}

func (r *Resolver) load(ctx context.Context, dim ledger.Dimension) ([]ledger.DimensionValue, error) {
	table, ok := tables[dim]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDimension, dim)
	}
	r.mu.RLock()
	values, loaded := r.values[dim]
	r.mu.RUnlock()
	if loaded {
		return values, nil
	}

	v, err, _ := r.group.Do(string(dim), func() (interface{}, error) {
		var b suiteql.Builder
		b.Line("SELECT id, name, fullname")
		b.Line("FROM " + table)
		b.Line("WHERE isinactive = ?", false)
		b.Line("ORDER BY name")
		rows, err := r.exec.Execute(ctx, b.Build("dimension_"+string(dim), 0))
		if err != nil {
			if suiteql.IsFeatureUnavailable(err) {
				r.logger.Info("dimension table unavailable", slog.String("dimension", string(dim)))
				rows = nil
			} else {
				return nil, fmt.Errorf("dimension: load %s: %w", dim, err)
			}
		}
		out := make([]ledger.DimensionValue, 0, len(rows))
		for _, row := range rows {
			id, ok := row.Int64("id")
			if !ok {
				continue
			}
			value := ledger.DimensionValue{ID: id, Name: row.String("name"), FullName: row.String("fullname")}
			out = append(out, value)
			r.cache.Dimensions.Set(cache.DimensionIDKey(dim, id), value)
			for _, label := range []string{value.Name, value.FullName, LeafName(value.FullName)} {
				if key := Normalize(label); key != "" {
					r.cache.Dimensions.Set(cache.DimensionKey(dim, key), value)
				}
			}
		}
		r.mu.Lock()
		r.values[dim] = out
		r.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ledger.DimensionValue), nil
}

func uniquePartialMatch(values []ledger.DimensionValue, key string) (ledger.DimensionValue, bool) {
	var (
		found ledger.DimensionValue
		n     int
	)
	for _, v := range values {
		if strings.Contains(Normalize(v.Name), key) || strings.Contains(Normalize(v.FullName), key) {
			found = v
			n++
		}
	}
	return found, n == 1
}
