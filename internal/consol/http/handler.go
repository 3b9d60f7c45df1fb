package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/platform/httpx"
	"github.com/odyssey-erp/glbridge/jobs"
)

const (
	maxBodyBytes       = 1 << 20
	defaultExportLimit = 10
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var errBadQuery = errors.New("consol http: invalid query parameter")

// WarmupEnqueuer hands warm-up requests to the job queue.
type WarmupEnqueuer interface {
	EnqueueBalanceWarmup(ctx context.Context, payload jobs.BalanceWarmupPayload) (*asynq.TaskInfo, error)
}

// Options tune the handler.
type Options struct {
	// Backend names the ledger backend reported by /health.
	Backend string
	// ExportLimit caps XLSX exports per client per minute.
	ExportLimit int
	// Warmup queues warm-ups; when nil they run inline.
	Warmup WarmupEnqueuer
}

// Handler wires the balance endpoints used by spreadsheet clients.
type Handler struct {
	logger    *slog.Logger
	service   *consol.Service
	backend   string
	warmup    WarmupEnqueuer
	rateLimit func(http.Handler) http.Handler
	now       func() time.Time
}

// NewHandler constructs the balance handler.
func NewHandler(logger *slog.Logger, service *consol.Service, opts Options) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("consol handler: service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.ExportLimit
	if limit <= 0 {
		limit = defaultExportLimit
	}
	limiter := httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:    logger,
		service:   service,
		backend:   opts.Backend,
		warmup:    opts.Warmup,
		rateLimit: limiter,
		now:       time.Now,
	}, nil
}

// MountRoutes registers the balance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/batch/balance", h.handleBatch)
	r.Get("/balance", h.handleBalance)
	r.Get("/equity", h.handleEquity)
	r.Get("/account/{number}/name", h.handleAccountName)
	r.Get("/account/{number}/type", h.handleAccountType)
	r.Get("/accounts", h.handleAccounts)
	r.Get("/periods", h.handlePeriods)
	r.Get("/budget", h.handleBudget)
	r.Get("/transactions", h.handleTransactions)
	r.Get("/lookups/all", h.handleLookupsAll)
	r.Get("/lookups/{dimension}", h.handleLookup)
	r.Get("/books", h.handleBooks)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/batch/balance/export.xlsx", h.handleExportXLSX)
		r.Post("/cache/warmup", h.handleWarmup)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": h.backend,
		"cache":   h.service.Cache().Stats(),
	})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req consol.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Batch(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordBatch("batch", req, res)
	httpx.JSON(w, http.StatusOK, FromBatch(req.Periods, res))
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	var req consol.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Batch(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordBatch("export", req, res)
	var buf bytes.Buffer
	if err := consol.WriteXLSX(&buf, req.Periods, res); err != nil {
		h.logger.Error("render xlsx", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Export Failed", "")
		return
	}
	filename := fmt.Sprintf("balances-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	book, err := bookParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.service.Balance(r.Context(), consol.BalanceRequest{
		Account: strings.TrimSpace(q.Get("account")),
		Period:  strings.TrimSpace(q.Get("period")),
		Filters: filterParams(r),
		Book:    book,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	recordGrid("balance", res.Cached, 1, 0)
	httpx.JSON(w, http.StatusOK, BalanceVM{
		Account:  res.Account,
		Period:   res.Period,
		Balance:  res.Value.InexactFloat64(),
		Cached:   res.Cached,
		Warnings: res.Warnings,
	})
}

func (h *Handler) handleEquity(w http.ResponseWriter, r *http.Request) {
	book, err := bookParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.Equity(r.Context(), consol.EquityRequest{
		Period:  strings.TrimSpace(r.URL.Query().Get("period")),
		Filters: filterParams(r),
		Book:    book,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, FromEquity(res))
}

func (h *Handler) handleAccountName(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	name, err := h.service.AccountName(r.Context(), number)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"account": number, "name": name})
}

func (h *Handler) handleAccountType(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	t, err := h.service.AccountType(r.Context(), number)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account":        number,
		"type":           t,
		"classification": ledger.Classify(t).String(),
	})
}

func (h *Handler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	var types []ledger.AccountType
	for _, raw := range listParam(r, "type") {
		t, ok := ledger.ParseAccountType(raw)
		if !ok {
			h.respondError(w, r, fmt.Errorf("%w: unknown account type %q", errBadQuery, raw))
			return
		}
		types = append(types, t)
	}
	accounts, err := h.service.ListAccounts(r.Context(), types)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accountVMs(accounts), "count": len(accounts)})
}

func (h *Handler) handlePeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.Periods().List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periodVMs(periods), "count": len(periods)})
}

func (h *Handler) handleBudget(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := strings.TrimSpace(q.Get("from_period"))
	if from == "" {
		from = strings.TrimSpace(q.Get("period"))
	}
	res, err := h.service.Budget(r.Context(), consol.BudgetRequest{
		Account:    strings.TrimSpace(q.Get("account")),
		FromPeriod: from,
		ToPeriod:   strings.TrimSpace(q.Get("to_period")),
		Category:   q.Get("category"),
		Filters:    filterParams(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, BudgetVM{
		Account:        res.Account,
		Amount:         res.Amount.InexactFloat64(),
		FeatureEnabled: res.FeatureEnabled,
		Warnings:       res.Warnings,
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	book, err := bookParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.service.Transactions(r.Context(), consol.TransactionsRequest{
		Account: strings.TrimSpace(q.Get("account")),
		Period:  strings.TrimSpace(q.Get("period")),
		Filters: filterParams(r),
		Book:    book,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, FromTransactions(res))
}

func (h *Handler) handleLookupsAll(w http.ResponseWriter, r *http.Request) {
	out := make(map[ledger.Dimension][]ledger.DimensionValue, len(ledger.Dimensions()))
	for _, dim := range ledger.Dimensions() {
		values, err := h.service.Dimensions().List(r.Context(), dim)
		if err != nil {
			h.respondError(w, r, &consol.ComponentError{Component: "lookups_" + string(dim), Err: err})
			return
		}
		out[dim] = values
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "dimension")
	dim, ok := ledger.ParseDimension(raw)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Unknown Dimension", fmt.Sprintf("dimension %q is not supported", raw))
		return
	}
	values, err := h.service.Dimensions().List(r.Context(), dim)
	if err != nil {
		h.respondError(w, r, &consol.ComponentError{Component: "lookups_" + string(dim), Err: err})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dimension": dim, "values": values, "count": len(values)})
}

func (h *Handler) handleBooks(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Books(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleWarmup(w http.ResponseWriter, r *http.Request) {
	var payload jobs.BalanceWarmupPayload
	if r.ContentLength != 0 {
		if !h.decode(w, r, &payload) {
			return
		}
	}
	if h.warmup != nil {
		info, err := h.warmup.EnqueueBalanceWarmup(r.Context(), payload)
		if err != nil {
			h.logger.Error("enqueue warmup", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "warm-up could not be queued")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
		return
	}

	req := consol.BatchRequest{
		Accounts: payload.Accounts,
		Periods:  jobs.ResolvePeriodTokens(payload.Periods, h.now().UTC()),
		Filters:  payload.Filters,
		Book:     payload.Book,
	}
	res, err := h.service.Refresh(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordBatch("warmup", req, res)
	httpx.JSON(w, http.StatusOK, FromBatch(req.Periods, res))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target, maxBodyBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return false
	}
	return true
}

func (h *Handler) recordBatch(endpoint string, req consol.BatchRequest, res consol.BatchResult) {
	periods := len(req.Periods)
	recordGrid(endpoint, res.Cached, (len(res.Balances)+len(res.Errors))*periods, len(res.Errors)*periods)
}

func filterParams(r *http.Request) ledger.FilterInput {
	q := r.URL.Query()
	return ledger.FilterInput{
		Subsidiary: strings.TrimSpace(q.Get("subsidiary")),
		Department: strings.TrimSpace(q.Get("department")),
		Class:      strings.TrimSpace(q.Get("class")),
		Location:   strings.TrimSpace(q.Get("location")),
	}
}

func bookParam(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("book"))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: book must be a positive integer", errBadQuery)
	}
	return &id, nil
}

// listParam accepts repeated and comma separated values.
func listParam(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
