// Package suiteqltest provides a scripted executor for tests.
package suiteqltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Handler answers one query.
type Handler func(q suiteql.Query) ([]suiteql.Row, error)

// Fake routes queries to handlers by Query.Name and records every call.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []suiteql.Query
	// Fallback answers queries without a named handler; nil fails them.
	Fallback Handler
}

// New constructs an empty fake.
func New() *Fake {
	return &Fake{handlers: make(map[string]Handler)}
}

// On registers h for queries named name.
func (f *Fake) On(name string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
	return f
}

// Rows registers a fixed answer.
func (f *Fake) Rows(name string, rows ...suiteql.Row) *Fake {
	return f.On(name, func(suiteql.Query) ([]suiteql.Row, error) { return rows, nil })
}

// Fail registers a fixed error.
func (f *Fake) Fail(name string, err error) *Fake {
	return f.On(name, func(suiteql.Query) ([]suiteql.Row, error) { return nil, err })
}

// Execute implements suiteql.Executor.
func (f *Fake) Execute(ctx context.Context, q suiteql.Query) ([]suiteql.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, q)
	h, ok := f.handlers[q.Name]
	fallback := f.Fallback
	f.mu.Unlock()
	if !ok {
		h = fallback
	}
	if h == nil {
		return nil, &suiteql.Error{Kind: suiteql.KindOther, Detail: fmt.Sprintf("no handler for query %q", q.Name)}
	}
	return h(q)
}

// Calls returns the recorded queries.
func (f *Fake) Calls() []suiteql.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]suiteql.Query(nil), f.calls...)
}

// Count returns how often a named query ran.
func (f *Fake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.calls {
		if q.Name == name {
			n++
		}
	}
	return n
}

// Last returns the latest call of a named query.
func (f *Fake) Last(name string) (suiteql.Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Name == name {
			return f.calls[i], true
		}
	}
	return suiteql.Query{}, false
}
