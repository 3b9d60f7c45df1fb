package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/glbridge/internal/consol"
	jobmetrics "github.com/odyssey-erp/glbridge/internal/jobs"
	"github.com/odyssey-erp/glbridge/internal/ledger"
)

type stubRefresher struct {
	calls []consol.BatchRequest
	res   consol.BatchResult
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, req consol.BatchRequest) (consol.BatchResult, error) {
	s.calls = append(s.calls, req)
	return s.res, s.err
}

func newTestJob(t *testing.T, svc Refresher, defaults BalanceWarmupPayload) (*BalanceWarmupJob, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	job := NewBalanceWarmupJob(svc, defaults, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(reg))
	job.WithClock(func() time.Time { return time.Date(2025, time.March, 14, 6, 0, 0, 0, time.UTC) })
	return job, reg
}

func warmupTask(t *testing.T, payload BalanceWarmupPayload) *asynq.Task {
	t.Helper()
	task, err := NewBalanceWarmupTask(payload)
	require.NoError(t, err)
	return task
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestWarmupUsesDefaultsAndResolvesPeriodTokens(t *testing.T) {
	book := int64(2)
	svc := &stubRefresher{res: consol.BatchResult{Balances: consol.Balances{
		"1000": {"Mar 2025": decimal.NewFromInt(1), "Feb 2025": decimal.NewFromInt(2)},
		"4010": {"Mar 2025": decimal.NewFromInt(3), "Feb 2025": decimal.NewFromInt(4)},
	}}}
	job, reg := newTestJob(t, svc, BalanceWarmupPayload{
		Accounts: []string{"1000", "4010"},
		Periods:  []string{PeriodCurrent, PeriodPrevious},
		Filters:  ledger.FilterInput{Subsidiary: "Parent Co"},
		Book:     &book,
	})

	err := job.Handle(context.Background(), warmupTask(t, BalanceWarmupPayload{}))
	require.NoError(t, err)
	require.Len(t, svc.calls, 1)
	req := svc.calls[0]
	require.Equal(t, []string{"1000", "4010"}, req.Accounts)
	require.Equal(t, []string{"Mar 2025", "Feb 2025"}, req.Periods)
	require.Equal(t, "Parent Co", req.Filters.Subsidiary)
	require.EqualValues(t, 2, *req.Book)

	require.Equal(t, 4.0, counterValue(t, reg, "glbridge_warmup_cells_total", map[string]string{"outcome": "cached"}))
	require.Equal(t, 1.0, counterValue(t, reg, "glbridge_jobs_total", map[string]string{"status": "success"}))
}

func TestWarmupPayloadOverridesDefaults(t *testing.T) {
	svc := &stubRefresher{res: consol.BatchResult{Balances: consol.Balances{}}}
	job, _ := newTestJob(t, svc, BalanceWarmupPayload{Accounts: []string{"1000"}, Periods: []string{"Jan 2025"}})

	err := job.Handle(context.Background(), warmupTask(t, BalanceWarmupPayload{
		Accounts: []string{"6000"},
		Periods:  []string{"Dec 2024"},
		Filters:  ledger.FilterInput{Department: "Sales"},
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"6000"}, svc.calls[0].Accounts)
	require.Equal(t, []string{"Dec 2024"}, svc.calls[0].Periods)
	require.Equal(t, "Sales", svc.calls[0].Filters.Department)
	require.Nil(t, svc.calls[0].Book)
}

func TestWarmupWithoutGridSkipsRetry(t *testing.T) {
	svc := &stubRefresher{}
	job, _ := newTestJob(t, svc, BalanceWarmupPayload{})

	err := job.Handle(context.Background(), warmupTask(t, BalanceWarmupPayload{Accounts: []string{"1000"}}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, ErrNothingToWarm)
	require.Empty(t, svc.calls)
}

func TestWarmupMalformedPayloadSkipsRetry(t *testing.T) {
	job, _ := newTestJob(t, &stubRefresher{}, BalanceWarmupPayload{})
	err := job.Handle(context.Background(), asynq.NewTask(TaskBalanceWarmup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWarmupPartialFailureIsRetried(t *testing.T) {
	svc := &stubRefresher{res: consol.BatchResult{
		Balances: consol.Balances{"4010": {"Jan 2025": decimal.Zero}},
		Errors:   map[string]string{"1000": "balance_sheet: rate limited"},
	}}
	job, reg := newTestJob(t, svc, BalanceWarmupPayload{})

	err := job.Handle(context.Background(), warmupTask(t, BalanceWarmupPayload{
		Accounts: []string{"1000", "4010"},
		Periods:  []string{"Jan 2025"},
	}))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), "1 of 2 accounts failed")
	require.Equal(t, 2.0, counterValue(t, reg, "glbridge_warmup_cells_total", map[string]string{"outcome": "failed"}))
	require.Equal(t, 1.0, counterValue(t, reg, "glbridge_jobs_failures_total", nil))
}

func TestWarmupInvalidRequestSkipsRetry(t *testing.T) {
	svc := &stubRefresher{err: errors.Join(consol.ErrInvalidRequest, errors.New("Periods failed required"))}
	job, _ := newTestJob(t, svc, BalanceWarmupPayload{})

	err := job.Handle(context.Background(), warmupTask(t, BalanceWarmupPayload{Accounts: []string{"1000"}, Periods: []string{" "}}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestResolvePeriodTokensAcrossYearBoundary(t *testing.T) {
	now := time.Date(2025, time.January, 31, 23, 0, 0, 0, time.UTC)
	got := ResolvePeriodTokens([]string{"Current", " previous ", "Q4 2024"}, now)
	require.Equal(t, []string{"Jan 2025", "Dec 2024", "Q4 2024"}, got)
}

func TestClientEnqueuesWarmupTask(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	info, err := client.EnqueueBalanceWarmup(context.Background(), BalanceWarmupPayload{
		Accounts: []string{"1000"},
		Periods:  []string{PeriodCurrent},
	})
	require.NoError(t, err)
	require.Equal(t, TaskBalanceWarmup, info.Type)
	require.Equal(t, QueueDefault, info.Queue)
	require.Equal(t, warmupMaxRetry, info.MaxRetry)
	require.NotEmpty(t, info.ID)

	var payload BalanceWarmupPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	require.Equal(t, []string{"1000"}, payload.Accounts)
}
