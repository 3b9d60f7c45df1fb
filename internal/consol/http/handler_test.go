package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/platform/httpx"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
	"github.com/odyssey-erp/glbridge/internal/suiteql/suiteqltest"
	"github.com/odyssey-erp/glbridge/jobs"
)

func init() {
	if err := SetupCacheMetrics(prometheus.NewRegistry()); err != nil {
		panic(err)
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger() *suiteqltest.Fake {
	fake := suiteqltest.New()
	fake.Rows("subsidiary_hierarchy",
		suiteql.Row{"id": "1", "name": "Parent Co", "parent": nil, "iselimination": "F", "currency": "USD"},
		suiteql.Row{"id": "2", "name": "Celigo India", "parent": "1", "iselimination": "F", "currency": "INR"},
	)
	periods := map[string]suiteql.Row{
		"Jan 2025": {"id": "101", "periodname": "Jan 2025", "startdate": "2025-01-01", "enddate": "2025-01-31"},
		"Feb 2025": {"id": "102", "periodname": "Feb 2025", "startdate": "2025-02-01", "enddate": "2025-02-28"},
	}
	accounts := map[string]suiteql.Row{
		"1000": {"acctnumber": "1000", "acctname": "Operating Cash", "fullname": "Cash : Operating Cash", "accttype": "Bank"},
		"4010": {"acctnumber": "4010", "acctname": "Product Revenue", "fullname": "Revenue : Product Revenue", "accttype": "Income"},
	}
	fake.On("periods_by_name", func(q suiteql.Query) ([]suiteql.Row, error) {
		var rows []suiteql.Row
		for _, arg := range q.Args {
			if name, ok := arg.(string); ok {
				if row, known := periods[name]; known {
					rows = append(rows, row)
				}
			}
		}
		return rows, nil
	})
	fake.On("accounts_by_number", func(q suiteql.Query) ([]suiteql.Row, error) {
		var rows []suiteql.Row
		for _, arg := range q.Args {
			if number, ok := arg.(string); ok {
				if row, known := accounts[number]; known {
					rows = append(rows, row)
				}
			}
		}
		return rows, nil
	})
	fake.Rows("fiscal_year", suiteql.Row{"id": "100", "periodname": "FY 2025", "startdate": "2025-01-01", "enddate": "2025-12-31"})
	return fake
}

func newTestRouter(t *testing.T, fake *suiteqltest.Fake, opts Options) http.Handler {
	t.Helper()
	svc := consol.NewService(consol.Deps{
		Executor:  fake,
		Pool:      fanout.New(fanout.Options{Logger: newTestLogger()}),
		AccountID: "TSTDRV123",
		Logger:    newTestLogger(),
	})
	h, err := NewHandler(newTestLogger(), svc, opts)
	require.NoError(t, err)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestBatchReturnsNumbersAndNullsForFailedAccounts(t *testing.T) {
	fake := newLedger()
	fake.Rows("is_activity", suiteql.Row{"account": "4010", "period": "Jan 2025", "amount": "12500.75"})
	fake.Fail("bs_cumulative", &suiteql.Error{Kind: suiteql.KindOther, Detail: "backend unavailable"})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodPost, "/batch/balance", consol.BatchRequest{
		Accounts: []string{"4010", "1000"},
		Periods:  []string{"Jan 2025"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var vm BatchVM
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &vm))
	require.NotNil(t, vm.Balances["4010"]["Jan 2025"])
	require.InDelta(t, 12500.75, *vm.Balances["4010"]["Jan 2025"], 1e-9)
	require.Contains(t, vm.Balances, "1000")
	require.Nil(t, vm.Balances["1000"]["Jan 2025"], "failed accounts must be null, not zero")
	require.Contains(t, vm.Errors["1000"], "balance_sheet")
	require.Equal(t, "Product Revenue", vm.AccountNames["4010"])
	require.False(t, vm.Cached)

	raw := map[string]any{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	cell := raw["balances"].(map[string]any)["1000"].(map[string]any)["Jan 2025"]
	require.Nil(t, cell)
}

func TestBatchRejectsInvalidBodies(t *testing.T) {
	router := newTestRouter(t, newLedger(), Options{})

	req := httptest.NewRequest(http.MethodPost, "/batch/balance", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/batch/balance", consol.BatchRequest{Accounts: []string{"4010"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeProblem(t, rr).Detail, "Periods")
}

func TestBalanceMapsPermissionDeniedToForbidden(t *testing.T) {
	fake := newLedger()
	fake.Fail("bs_cumulative", &suiteql.Error{Kind: suiteql.KindPermissionDenied, Status: 403, Detail: "no access to TransactionAccountingLine"})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodGet, "/balance?account=1000&period=Jan%202025", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "Permission Denied", decodeProblem(t, rr).Title)
}

func TestBalanceComponentFailureIsBadGateway(t *testing.T) {
	fake := newLedger()
	fake.Fail("is_activity", &suiteql.Error{Kind: suiteql.KindOther, Status: 500})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodGet, "/balance?account=4010&period=Jan%202025", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, decodeProblem(t, rr).Detail, "income_statement")
}

func TestBalanceServesValueAndValidatesBook(t *testing.T) {
	fake := newLedger()
	fake.Rows("is_activity", suiteql.Row{"account": "4010", "period": "Feb 2025", "amount": "-42.5"})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodGet, "/balance?account=4010&period=Feb%202025", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var vm BalanceVM
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &vm))
	require.InDelta(t, -42.5, vm.Balance, 1e-9)

	rr = do(t, router, http.MethodGet, "/balance?account=4010&period=Feb%202025", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &vm))
	require.True(t, vm.Cached)

	rr = do(t, router, http.MethodGet, "/balance?account=4010&period=Feb%202025&book=zero", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/balance?period=Feb%202025", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAccountLookups(t *testing.T) {
	router := newTestRouter(t, newLedger(), Options{})

	rr := do(t, router, http.MethodGet, "/account/4010/name", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"account":"4010","name":"Product Revenue"}`, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/account/1000/type", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"account":"1000","type":"Bank","classification":"balance_sheet"}`, rr.Body.String())

	rr = do(t, router, http.MethodGet, "/account/9999/name", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodGet, "/accounts?type=Bank,NotAType", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLookups(t *testing.T) {
	fake := newLedger()
	fake.Rows("dimension_department",
		suiteql.Row{"id": "13", "name": "Sales", "fullname": "Sales"},
		suiteql.Row{"id": "14", "name": "Support", "fullname": "Operations : Support"},
	)
	fake.Fail("dimension_class", &suiteql.Error{Kind: suiteql.KindFeatureUnavailable, Status: 400})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodGet, "/lookups/departments", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Dimension string `json:"dimension"`
		Count     int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "department", body.Dimension)
	require.Equal(t, 2, body.Count)

	rr = do(t, router, http.MethodGet, "/lookups/class", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"count":0`)

	rr = do(t, router, http.MethodGet, "/lookups/widgets", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportXLSX(t *testing.T) {
	fake := newLedger()
	fake.Rows("is_activity", suiteql.Row{"account": "4010", "period": "Jan 2025", "amount": "12500.75"})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodPost, "/batch/balance/export.xlsx", consol.BatchRequest{
		Accounts: []string{"4010"},
		Periods:  []string{"Jan 2025", "Feb 2025"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), ".xlsx")

	book, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Balances")
	require.NoError(t, err)
	require.Equal(t, []string{"Account", "Name", "Type", "Jan 2025", "Feb 2025", "Error"}, rows[0])
	require.Equal(t, "4010", rows[1][0])
}

func TestExportIsRateLimited(t *testing.T) {
	fake := newLedger()
	fake.Rows("is_activity")
	router := newTestRouter(t, fake, Options{ExportLimit: 1})
	req := consol.BatchRequest{Accounts: []string{"4010"}, Periods: []string{"Jan 2025"}}

	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/batch/balance/export.xlsx", req).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodPost, "/batch/balance/export.xlsx", req).Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/batch/balance", req).Code, "grid reads are not export limited")
}

type stubEnqueuer struct {
	payloads []jobs.BalanceWarmupPayload
}

func (s *stubEnqueuer) EnqueueBalanceWarmup(_ context.Context, payload jobs.BalanceWarmupPayload) (*asynq.TaskInfo, error) {
	s.payloads = append(s.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func TestWarmupEnqueuesWhenQueueConfigured(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newTestRouter(t, newLedger(), Options{Warmup: enq})

	rr := do(t, router, http.MethodPost, "/cache/warmup", jobs.BalanceWarmupPayload{Periods: []string{"current"}})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.JSONEq(t, `{"task_id":"task-1","queue":"default"}`, rr.Body.String())
	require.Equal(t, []string{"current"}, enq.payloads[0].Periods)

	req := httptest.NewRequest(http.MethodPost, "/cache/warmup", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, "an empty body falls back to the job defaults")
}

func TestWarmupRunsInlineWithoutQueue(t *testing.T) {
	fake := newLedger()
	fake.Rows("is_activity", suiteql.Row{"account": "4010", "period": "Jan 2025", "amount": "10"})
	router := newTestRouter(t, fake, Options{})

	rr := do(t, router, http.MethodPost, "/cache/warmup", jobs.BalanceWarmupPayload{
		Accounts: []string{"4010"},
		Periods:  []string{"Jan 2025"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/batch/balance", consol.BatchRequest{Accounts: []string{"4010"}, Periods: []string{"Jan 2025"}})
	var vm BatchVM
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &vm))
	require.True(t, vm.Cached, "warm-up must populate the cache")
	require.Equal(t, 1, fake.Count("is_activity"))
}

func TestHealthReportsBackendAndCache(t *testing.T) {
	router := newTestRouter(t, newLedger(), Options{Backend: "suiteql"})
	rr := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"backend":"suiteql"`)
	require.Contains(t, rr.Body.String(), `"balances":0`)
}
