package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

func newTestExecutor(concurrency int) (*Executor, *[]time.Duration) {
	e := New(Options{Concurrency: concurrency, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	var mu sync.Mutex
	waits := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return nil
	}
	return e, waits
}

func TestRateLimitedTaskRetriesWithLinearBackoff(t *testing.T) {
	e, waits := newTestExecutor(2)
	var calls atomic.Int32
	tasks := []Task[int]{{
		Name: "net_income",
		Run: func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, &suiteql.Error{Kind: suiteql.KindRateLimited}
		},
	}}
	res := Collect(context.Background(), e, tasks)["net_income"]

	require.Error(t, res.Err)
	require.True(t, suiteql.IsRateLimited(res.Err))
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, 4, res.Attempts)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, *waits)

	var taskErr *TaskError
	require.ErrorAs(t, res.Err, &taskErr)
	require.Equal(t, "net_income", taskErr.Task)
}

func TestRateLimitedTaskRecovers(t *testing.T) {
	e, waits := newTestExecutor(2)
	var calls atomic.Int32
	res := Collect(context.Background(), e, []Task[string]{{
		Name: "assets",
		Run: func(ctx context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", &suiteql.Error{Kind: suiteql.KindRateLimited}
			}
			return "done", nil
		},
	}})["assets"]
	require.NoError(t, res.Err)
	require.Equal(t, "done", res.Value)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	e, waits := newTestExecutor(2)
	var calls atomic.Int32
	res := Collect(context.Background(), e, []Task[int]{{
		Name: "equity",
		Run: func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, &suiteql.Error{Kind: suiteql.KindPermissionDenied}
		},
	}})["equity"]
	require.True(t, suiteql.IsPermissionDenied(res.Err))
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, *waits)
}

func TestTimedOutTaskIsAbandoned(t *testing.T) {
	e, _ := newTestExecutor(2)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	results := Collect(context.Background(), e, []Task[int]{
		{
			Name:    "hung",
			Timeout: 20 * time.Millisecond,
			Run: func(ctx context.Context) (int, error) {
				<-release
				return 1, nil
			},
		},
		{
			Name: "fast",
			Run:  func(ctx context.Context) (int, error) { return 7, nil },
		},
	})
	require.Less(t, time.Since(start), 2*time.Second)
	require.ErrorIs(t, results["hung"].Err, ErrTimeout)
	require.NoError(t, results["fast"].Err)
	require.Equal(t, 7, results["fast"].Value)
}

func TestConcurrencyIsBounded(t *testing.T) {
	e, _ := newTestExecutor(2)
	var inflight, peak atomic.Int32
	tasks := make([]Task[int], 6)
	for i := range tasks {
		tasks[i] = Task[int]{
			Name: string(rune('a' + i)),
			Run: func(ctx context.Context) (int, error) {
				n := inflight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inflight.Add(-1)
				return int(n), nil
			},
		}
	}
	results := Collect(context.Background(), e, tasks)
	require.Len(t, results, 6)
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.NoError(t, FirstError(tasks, results))
}

func TestFirstErrorFollowsTaskOrder(t *testing.T) {
	e, _ := newTestExecutor(3)
	boom := errors.New("boom")
	tasks := []Task[int]{
		{Name: "ok", Run: func(ctx context.Context) (int, error) { return 1, nil }},
		{Name: "bad", Run: func(ctx context.Context) (int, error) { return 0, boom }},
	}
	results := Collect(context.Background(), e, tasks)
	require.ErrorIs(t, FirstError(tasks, results), boom)
	require.Equal(t, 1, results["ok"].Value)
}

func TestNoRetryTaskFailsOnFirstRateLimit(t *testing.T) {
	e, waits := newTestExecutor(1)
	var calls atomic.Int32
	res := Collect(context.Background(), e, []Task[int]{{
		Name:    "balance_sheet",
		NoRetry: true,
		Run: func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, &suiteql.Error{Kind: suiteql.KindRateLimited}
		},
	}})["balance_sheet"]

	require.True(t, suiteql.IsRateLimited(res.Err))
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, *waits)
}
