package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glbridge/internal/consol"
	jobmetrics "github.com/odyssey-erp/glbridge/internal/jobs"
	"github.com/odyssey-erp/glbridge/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ErrNothingToWarm is returned when neither the payload nor the defaults name
// a grid.
var ErrNothingToWarm = errors.New("balance warmup: no accounts or periods configured")

// Refresher recomputes a balance grid and replaces the cached one.
type Refresher interface {
	Refresh(ctx context.Context, req consol.BatchRequest) (consol.BatchResult, error)
}

// BalanceWarmupJob refreshes the balances spreadsheets ask for first thing in
// the day, so the first refresh is served from the cache.
type BalanceWarmupJob struct {
	Service  Refresher
	Defaults BalanceWarmupPayload
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewBalanceWarmupJob constructs the job handler.
func NewBalanceWarmupJob(service Refresher, defaults BalanceWarmupPayload, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceWarmupJob {
	return &BalanceWarmupJob{
		Service:  service,
		Defaults: defaults,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the balance warm-up job.
func (j *BalanceWarmupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("balance warmup: dependencies not configured")
	}
	var payload BalanceWarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("balance warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	req, err := j.request(payload)
	if err != nil {
		j.log().Warn("skip balance warmup", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskBalanceWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	res, err := j.Service.Refresh(ctx, req)
	if err != nil {
		resultErr = err
		if errors.Is(err, consol.ErrInvalidRequest) {
			j.log().Warn("invalid warmup request", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		j.log().Error("refresh balances", slog.Any("error", err))
		return resultErr
	}

	cells := (len(res.Balances) + len(res.Errors)) * distinct(req.Periods)
	outcome := "cached"
	if len(res.Errors) > 0 {
		// a grid with failed accounts is not cached at all
		outcome = "failed"
	}
	j.metrics().AddWarmedCells(TaskBalanceWarmup, outcome, cells)
	for _, warning := range res.Warnings {
		j.log().Warn("warmup warning", slog.String("warning", warning))
	}
	if len(res.Errors) > 0 {
		resultErr = fmt.Errorf("balance warmup: %d of %d accounts failed", len(res.Errors), len(req.Accounts))
		j.log().Error("partial warmup", slog.Int("failed_accounts", len(res.Errors)), slog.Any("error", resultErr))
		return resultErr
	}

	j.log().Info("warmed balance cache",
		slog.Int("accounts", len(req.Accounts)),
		slog.Int("periods", len(req.Periods)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// request merges the payload with the job defaults and resolves relative
// period tokens.
func (j *BalanceWarmupJob) request(payload BalanceWarmupPayload) (consol.BatchRequest, error) {
	accounts := payload.Accounts
	if len(accounts) == 0 {
		accounts = j.Defaults.Accounts
	}
	periods := payload.Periods
	if len(periods) == 0 {
		periods = j.Defaults.Periods
	}
	if len(accounts) == 0 || len(periods) == 0 {
		return consol.BatchRequest{}, ErrNothingToWarm
	}
	filters := payload.Filters
	if filters == (ledger.FilterInput{}) {
		filters = j.Defaults.Filters
	}
	book := payload.Book
	if book == nil {
		book = j.Defaults.Book
	}
	return consol.BatchRequest{
		Accounts: accounts,
		Periods:  ResolvePeriodTokens(periods, j.now()),
		Filters:  filters,
		Book:     book,
	}, nil
}

// ResolvePeriodTokens replaces "current" and "previous" with the names of the
// month containing now and the month before it.
func ResolvePeriodTokens(periods []string, now time.Time) []string {
	out := make([]string, 0, len(periods))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, p := range periods {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case PeriodCurrent:
			out = append(out, month.Format("Jan 2006"))
		case PeriodPrevious:
			out = append(out, month.AddDate(0, -1, 0).Format("Jan 2006"))
		default:
			out = append(out, p)
		}
	}
	return out
}

func distinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[strings.TrimSpace(v)] = struct{}{}
	}
	return len(seen)
}

func (j *BalanceWarmupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BalanceWarmupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceWarmup))
	}
	return slog.Default().With(slog.String("job", TaskBalanceWarmup))
}

func (j *BalanceWarmupJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *BalanceWarmupJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
