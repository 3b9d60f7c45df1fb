package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glbridge/jobs"
)

// Enqueuer submits warm-up tasks; *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueBalanceWarmup(ctx context.Context, payload jobs.BalanceWarmupPayload) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector *asynq.Inspector
	closers   []func() error
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts, err := jobs.RedisOpt(redisAddr)
	if err != nil {
		return nil, err
	}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{
		client:    client,
		inspector: inspector,
		closers:   []func() error{client.Close, inspector.Close},
	}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closeFn := range c.closers {
		if closeErr := closeFn(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// WarmupOptions defines the flags of the warmup command.
type WarmupOptions struct {
	Payload jobs.BalanceWarmupPayload
	Stdout  io.Writer
	Stderr  io.Writer
}

// WarmupCommand enqueues a balance warm-up task. Empty accounts and periods
// fall back to the worker defaults.
func (c *JobsCLI) WarmupCommand(ctx context.Context, opts WarmupOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if c == nil || c.client == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "warmup: client not configured")
		return ExitFailed
	}
	info, err := c.client.EnqueueBalanceWarmup(ctx, opts.Payload)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "warmup: %v\n", err)
		return ExitFailed
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	return ExitOK
}

// QueueCommand prints the stats of the default queue.
func (c *JobsCLI) QueueCommand(_ context.Context, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(stderr, "queue: inspector not configured")
		return ExitFailed
	}
	stats, err := jobs.InspectQueue(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
		return ExitFailed
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		_, _ = fmt.Fprintf(stderr, "queue: encode json: %v\n", err)
		return ExitFailed
	}
	return ExitOK
}
