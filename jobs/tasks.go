package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glbridge/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceWarmup refreshes a grid of balances into the cache.
	TaskBalanceWarmup = "balance:warmup"

	warmupTimeout  = 15 * time.Minute
	warmupMaxRetry = 3
)

// Period tokens resolved against the job clock when the task runs.
const (
	PeriodCurrent  = "current"
	PeriodPrevious = "previous"
)

// BalanceWarmupPayload names the grid a warm-up refreshes. Empty accounts or
// periods fall back to the job defaults.
type BalanceWarmupPayload struct {
	Accounts []string           `json:"accounts,omitempty"`
	Periods  []string           `json:"periods,omitempty"`
	Filters  ledger.FilterInput `json:"filters"`
	Book     *int64             `json:"book,omitempty"`
}

// NewBalanceWarmupTask constructs an Asynq task with a fresh task id.
func NewBalanceWarmupTask(payload BalanceWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceWarmup, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(warmupMaxRetry),
		asynq.Timeout(warmupTimeout),
	), nil
}

// NewScheduledWarmupTask builds the payload-less task used for cron entries.
// No task id is set so each tick enqueues a new task.
func NewScheduledWarmupTask() (*asynq.Task, error) {
	data, err := json.Marshal(BalanceWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceWarmup, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(warmupMaxRetry),
		asynq.Timeout(warmupTimeout),
	), nil
}
