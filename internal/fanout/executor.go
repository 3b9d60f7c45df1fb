// Package fanout dispatches independent ledger queries through a bounded pool.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// ErrTimeout marks a task abandoned after its deadline.
var ErrTimeout = errors.New("fanout: task timed out")

// DefaultBackoff is the wait before each rate limited retry.
var DefaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

const (
	defaultConcurrency = 3
	defaultTimeout     = 90 * time.Second
)

// Task is one named unit of work.
type Task[T any] struct {
	Name string
	// Timeout bounds each attempt; zero uses the executor default.
	Timeout time.Duration
	// NoRetry disables rate limit retries for tasks whose inner queries
	// already retry.
	NoRetry bool
	Run     func(ctx context.Context) (T, error)
}

// Result is the outcome of a task.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// TaskError names the task that failed.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("fanout: task %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Observer receives task outcomes.
type Observer interface {
	ObserveTask(name, outcome string, attempts int, elapsed time.Duration)
}

// Options configure an Executor.
type Options struct {
	Concurrency    int
	DefaultTimeout time.Duration
	Backoff        []time.Duration
	Logger         *slog.Logger
	Observer       Observer
}

// Executor runs tasks with bounded concurrency, per-attempt timeouts and
// rate limit retries.
type Executor struct {
	limit          int
	defaultTimeout time.Duration
	backoff        []time.Duration
	logger         *slog.Logger
	observer       Observer
	sleep          func(ctx context.Context, d time.Duration) error
}

// New constructs an executor. Concurrency is clamped to at least one.
func New(opts Options) *Executor {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		limit:          limit,
		defaultTimeout: timeout,
		backoff:        backoff,
		logger:         logger,
		observer:       opts.Observer,
		sleep:          sleepCtx,
	}
}

// Concurrency returns the pool size.
func (e *Executor) Concurrency() int {
	return e.limit
}

// Collect runs every task and returns results keyed by task name. A failing
// task never cancels its siblings.
func Collect[T any](ctx context.Context, e *Executor, tasks []Task[T]) map[string]Result[T] {
	results := make([]Result[T], len(tasks))
	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = run(ctx, e, task)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result[T], len(tasks))
	for i, task := range tasks {
		out[task.Name] = results[i]
	}
	return out
}

// FirstError returns the first failure in tasks order, or nil.
func FirstError[T any](tasks []Task[T], results map[string]Result[T]) error {
	for _, task := range tasks {
		if err := results[task.Name].Err; err != nil {
			return err
		}
	}
	return nil
}

func run[T any](ctx context.Context, e *Executor, task Task[T]) Result[T] {
	start := time.Now()
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	logger := e.logger.With(slog.String("task", task.Name))

	var (
		value    T
		err      error
		attempts int
	)
	for {
		attempts++
		value, err = attempt(ctx, task, timeout)
		if err == nil || task.NoRetry || !suiteql.IsRateLimited(err) || attempts > len(e.backoff) {
			break
		}
		wait := e.backoff[attempts-1]
		logger.Warn("rate limited, retrying", slog.Int("attempt", attempts), slog.Duration("backoff", wait))
		if serr := e.sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		logger.Error("task failed", slog.Int("attempts", attempts), slog.Duration("elapsed", elapsed), slog.Any("error", err))
		err = &TaskError{Task: task.Name, Attempts: attempts, Err: err}
	}
	if e.observer != nil {
		e.observer.ObserveTask(task.Name, outcome, attempts, elapsed)
	}
	return Result[T]{Value: value, Err: err, Attempts: attempts, Elapsed: elapsed}
}

type outcome[T any] struct {
	value T
	err   error
}

// attempt runs fn once. When the deadline passes first the call is abandoned;
// its goroutine finishes in the background and its result is dropped.
func attempt[T any](ctx context.Context, task Task[T], timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := task.Run(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return string(suiteql.KindOf(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
