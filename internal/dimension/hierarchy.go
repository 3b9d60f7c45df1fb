package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// ErrNoRoot is returned when the subsidiary table has no parentless entry.
var ErrNoRoot = errors.New("dimension: no root subsidiary")

// HierarchyResolver expands a subsidiary into the set it consolidates.
type HierarchyResolver struct {
	exec   suiteql.Executor
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	subs    []ledger.Subsidiary
	members map[int64][]int64
}

// NewHierarchyResolver constructs a HierarchyResolver.
func NewHierarchyResolver(exec suiteql.Executor, logger *slog.Logger) *HierarchyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HierarchyResolver{exec: exec, logger: logger, members: make(map[int64][]int64)}
}

// Subsidiaries returns every active subsidiary ordered by id.
func (h *HierarchyResolver) Subsidiaries(ctx context.Context) ([]ledger.Subsidiary, error) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	if subs != nil {
		return subs, nil
	}

	v, err, _ := h.group.Do("subsidiaries", func() (interface{}, error) {
		var b suiteql.Builder
		b.Line("SELECT id, name, parent, iselimination, currency")
		b.Line("FROM Subsidiary")
		b.Line("WHERE isinactive = ?", false)
		b.Line("ORDER BY id")
		rows, err := h.exec.Execute(ctx, b.Build("subsidiary_hierarchy", 0))
		if err != nil {
			return nil, fmt.Errorf("dimension: load subsidiaries: %w", err)
		}
		out := make([]ledger.Subsidiary, 0, len(rows))
		for _, row := range rows {
			id, ok := row.Int64("id")
			if !ok {
				continue
			}
			out = append(out, ledger.Subsidiary{
				ID:            id,
				Name:          row.String("name"),
				ParentID:      row.OptInt64("parent"),
				IsElimination: row.Bool("iselimination"),
				Currency:      row.String("currency"),
			})
		}
		h.mu.Lock()
		h.subs = out
		h.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ledger.Subsidiary), nil
}

// HierarchyOf returns id and every descendant, sorted. For the root it
// returns every subsidiary, eliminations included. When the subsidiary table
// cannot be read the answer degrades to {id} and is not cached.
func (h *HierarchyResolver) HierarchyOf(ctx context.Context, id int64) []int64 {
	members, _ := h.Lookup(ctx, id)
	return members
}

// Lookup is HierarchyOf that also reports whether the answer was degraded.
func (h *HierarchyResolver) Lookup(ctx context.Context, id int64) ([]int64, bool) {
	h.mu.RLock()
	cached, ok := h.members[id]
	h.mu.RUnlock()
	if ok {
		return append([]int64(nil), cached...), false
	}

	subs, err := h.Subsidiaries(ctx)
	if err != nil {
		h.logger.Warn("subsidiary hierarchy unavailable, using single subsidiary", slog.Int64("subsidiary", id), slog.Any("error", err))
		return []int64{id}, true
	}
	members := Expand(subs, id)

	h.mu.Lock()
	h.members[id] = members
	h.mu.Unlock()
	return append([]int64(nil), members...), false
}

// Root returns the parentless subsidiary with the lowest id.
func (h *HierarchyResolver) Root(ctx context.Context) (ledger.Subsidiary, error) {
	subs, err := h.Subsidiaries(ctx)
	if err != nil {
		return ledger.Subsidiary{}, err
	}
	for _, s := range subs {
		if s.IsRoot() {
			return s, nil
		}
	}
	return ledger.Subsidiary{}, ErrNoRoot
}

// Expand computes the consolidation set of id over subs.
func Expand(subs []ledger.Subsidiary, id int64) []int64 {
	children := make(map[int64][]int64, len(subs))
	var target *ledger.Subsidiary
	for i := range subs {
		s := subs[i]
		if s.ID == id {
			target = &subs[i]
		}
		if s.ParentID != nil {
			children[*s.ParentID] = append(children[*s.ParentID], s.ID)
		}
	}

	if target != nil && target.IsRoot() {
		all := make([]int64, 0, len(subs))
		for _, s := range subs {
			all = append(all, s.ID)
		}
		sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
		return all
	}

	seen := map[int64]struct{}{id: {}}
	out := []int64{id}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
