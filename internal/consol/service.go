package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/consol/fx"
	"github.com/odyssey-erp/glbridge/internal/dimension"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Bucket task names; they double as component names in batch errors.
const (
	bucketIncomeStatement = "income_statement"
	bucketBalanceSheet    = "balance_sheet"
)

// PrimaryBook is the accounting book used when none is requested.
const PrimaryBook int64 = 1

// BuildObserver records how long balance grids take to build.
type BuildObserver interface {
	ObserveBuild(kind string, shared bool, elapsed time.Duration)
}

// BatchRequest asks for a grid of balances.
type BatchRequest struct {
	Accounts []string           `json:"accounts" validate:"required,min=1,dive,required"`
	Periods  []string           `json:"periods" validate:"required,min=1,dive,required"`
	Filters  ledger.FilterInput `json:"filters"`
	Book     *int64             `json:"book,omitempty" validate:"omitempty,gte=1"`
}

// BatchResult is a balance grid plus the metadata a spreadsheet needs to
// render it. Accounts listed in Errors have no balances.
type BatchResult struct {
	Balances     Balances                      `json:"balances"`
	AccountTypes map[string]ledger.AccountType `json:"account_types"`
	AccountNames map[string]string             `json:"account_names"`
	Errors       map[string]string             `json:"errors,omitempty"`
	Warnings     []string                      `json:"warnings,omitempty"`
	Cached       bool                          `json:"cached"`
	Partition    string                        `json:"-"`
}

// BalanceRequest asks for one account and period.
type BalanceRequest struct {
	Account string             `validate:"required"`
	Period  string             `validate:"required"`
	Filters ledger.FilterInput `validate:"-"`
	Book    *int64             `validate:"omitempty,gte=1"`
}

// BalanceResult is a single balance.
type BalanceResult struct {
	Account  string          `json:"account"`
	Period   string          `json:"period"`
	Value    decimal.Decimal `json:"value"`
	Cached   bool            `json:"cached"`
	Warnings []string        `json:"warnings,omitempty"`
}

// EquityRequest asks for the derived equity of one period.
type EquityRequest struct {
	Period  string             `validate:"required"`
	Filters ledger.FilterInput `validate:"-"`
	Book    *int64             `validate:"omitempty,gte=1"`
}

// Deps wires a Service.
type Deps struct {
	Executor    suiteql.Executor
	Cache       *cache.Layer
	Dimensions  *dimension.Resolver
	Hierarchy   *dimension.HierarchyResolver
	Pool        *fanout.Executor
	Policy      fx.Policy
	DefaultBook int64
	// AccountID is the remote account used to build transaction deep links.
	AccountID string
	// BuildTimeout bounds a shared grid computation, which outlives the
	// request that started it. Zero means DefaultBuildTimeout.
	BuildTimeout time.Duration
	Observer     BuildObserver
	Logger       *slog.Logger
}

// DefaultBuildTimeout bounds a shared grid computation.
const DefaultBuildTimeout = 5 * time.Minute

// Service answers balance questions for spreadsheet clients.
type Service struct {
	exec        suiteql.Executor
	cache       *cache.Layer
	dimensions  *dimension.Resolver
	hierarchy   *dimension.HierarchyResolver
	planner     *Planner
	periods     *PeriodResolver
	accounts    *AccountDirectory
	cumulative  *CumulativeCalculator
	equity      *EquityCalculator
	pool        *fanout.Executor
	validate    *validator.Validate
	builds      singleflight.Group
	defaultBook int64
	accountID   string
	buildTTL    time.Duration
	observer    BuildObserver
	logger      *slog.Logger
}

// NewService constructs the service and its calculators.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	layer := deps.Cache
	if layer == nil {
		layer = cache.New(cache.Options{})
	}
	pool := deps.Pool
	if pool == nil {
		pool = fanout.New(fanout.Options{Logger: logger})
	}
	hierarchy := deps.Hierarchy
	if hierarchy == nil {
		hierarchy = dimension.NewHierarchyResolver(deps.Executor, logger)
	}
	dims := deps.Dimensions
	if dims == nil {
		dims = dimension.NewResolver(deps.Executor, layer, logger)
	}
	policy := deps.Policy
	if policy == (fx.Policy{}) {
		policy = fx.DefaultPolicy()
	}
	book := deps.DefaultBook
	if book <= 0 {
		book = PrimaryBook
	}
	buildTTL := deps.BuildTimeout
	if buildTTL <= 0 {
		buildTTL = DefaultBuildTimeout
	}

	planner := NewPlanner(hierarchy, policy, logger)
	periods := NewPeriodResolver(deps.Executor, layer, logger)
	return &Service{
		exec:        deps.Executor,
		cache:       layer,
		dimensions:  dims,
		hierarchy:   hierarchy,
		planner:     planner,
		periods:     periods,
		accounts:    NewAccountDirectory(deps.Executor, layer, logger),
		cumulative:  NewCumulativeCalculator(planner, deps.Executor, pool, logger),
		equity:      NewEquityCalculator(planner, deps.Executor, pool, periods, layer, logger),
		pool:        pool,
		validate:    validator.New(),
		defaultBook: book,
		accountID:   deps.AccountID,
		buildTTL:    buildTTL,
		observer:    deps.Observer,
		logger:      logger,
	}
}

// Cache exposes the cache layer for health and warm-up reporting.
func (s *Service) Cache() *cache.Layer {
	return s.cache
}

// Dimensions exposes the dimension resolver for lookup endpoints.
func (s *Service) Dimensions() *dimension.Resolver {
	return s.dimensions
}

// Periods exposes the period resolver for lookup endpoints.
func (s *Service) Periods() *PeriodResolver {
	return s.periods
}

// Batch returns the requested grid, served from the balance cache when every
// cell is present and computed otherwise. A fully successful computation
// replaces the balance cache.
func (s *Service) Batch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	return s.batch(ctx, req, false)
}

// Refresh recomputes the grid regardless of cached values.
func (s *Service) Refresh(ctx context.Context, req BatchRequest) (BatchResult, error) {
	return s.batch(ctx, req, true)
}

func (s *Service) batch(ctx context.Context, req BatchRequest, force bool) (BatchResult, error) {
	if err := s.validateRequest(req); err != nil {
		return BatchResult{}, err
	}
	accounts := dedupe(req.Accounts)
	periodNames := dedupe(req.Periods)
	book := s.bookOf(req.Book)
	filters, warnings := s.dimensions.ResolveFilters(ctx, req.Filters)
	partition := filters.Hash(book)

	if !force {
		if values, ok := s.cache.Balances.GetBatch(partition, accounts, periodNames); ok {
			res := s.newResult(partition, warnings)
			res.Balances = values
			res.Cached = true
			s.annotate(ctx, &res, accounts)
			return res, nil
		}
	}

	key := buildKey(partition, accounts, periodNames)
	start := time.Now()
	// Callers share the build, so it must not die with the first caller's
	// request. Each caller still stops waiting when its own context ends.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.builds.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(buildCtx, s.buildTTL)
		defer cancel()
		res, _, err := s.compute(ctx, accounts, periodNames, filters, book)
		if err != nil {
			return BatchResult{}, err
		}
		if len(res.Errors) == 0 {
			s.cache.Balances.Replace(partition, res.Balances)
		}
		return res, nil
	})

	var out singleflight.Result
	select {
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	case out = <-ch:
	}
	if s.observer != nil {
		s.observer.ObserveBuild("batch", out.Shared, time.Since(start))
	}
	if out.Err != nil {
		return BatchResult{}, out.Err
	}
	res := out.Val.(BatchResult)
	res.Warnings = append(append([]string(nil), warnings...), res.Warnings...)
	return res, nil
}

// Balance returns one balance, computing and caching it on a miss. A failed
// computation is an error, never a zero.
func (s *Service) Balance(ctx context.Context, req BalanceRequest) (BalanceResult, error) {
	if err := s.validateRequest(req); err != nil {
		return BalanceResult{}, err
	}
	book := s.bookOf(req.Book)
	filters, warnings := s.dimensions.ResolveFilters(ctx, req.Filters)
	partition := filters.Hash(book)
	out := BalanceResult{Account: req.Account, Period: req.Period, Warnings: warnings}

	if v, ok := s.cache.Balances.Get(partition, req.Account, req.Period); ok {
		out.Value = v
		out.Cached = true
		return out, nil
	}

	res, failures, err := s.compute(ctx, []string{req.Account}, []string{req.Period}, filters, book)
	if err != nil {
		return BalanceResult{}, err
	}
	for _, bucket := range []string{bucketIncomeStatement, bucketBalanceSheet} {
		if cerr := failures[bucket]; cerr != nil {
			return BalanceResult{}, componentErr(bucket, cerr)
		}
	}
	out.Value = res.Balances[req.Account][req.Period]
	out.Warnings = append(out.Warnings, res.Warnings...)
	s.cache.Balances.Put(partition, req.Account, req.Period, out.Value)
	return out, nil
}

// Equity computes retained earnings, net income and CTA for a period.
func (s *Service) Equity(ctx context.Context, req EquityRequest) (EquityResult, error) {
	if err := s.validateRequest(req); err != nil {
		return EquityResult{}, err
	}
	book := s.bookOf(req.Book)
	filters, warnings := s.dimensions.ResolveFilters(ctx, req.Filters)
	periods, pw, err := s.periods.Resolve(ctx, []string{req.Period})
	if err != nil {
		return EquityResult{}, err
	}
	scope, sw := s.planner.Scope(ctx, filters, book)
	start := time.Now()
	res, err := s.equity.Compute(ctx, periods[0], scope)
	if s.observer != nil {
		s.observer.ObserveBuild("equity", false, time.Since(start))
	}
	if err != nil {
		return EquityResult{}, err
	}
	all := append(append(append([]string(nil), warnings...), pw...), sw...)
	res.Warnings = append(all, res.Warnings...)
	return res, nil
}

// AccountName returns the display name of an account.
func (s *Service) AccountName(ctx context.Context, number string) (string, error) {
	acct, err := s.accounts.Get(ctx, strings.TrimSpace(number))
	if err != nil {
		return "", err
	}
	return acct.Name, nil
}

// AccountType returns the type code of an account.
func (s *Service) AccountType(ctx context.Context, number string) (ledger.AccountType, error) {
	acct, err := s.accounts.Get(ctx, strings.TrimSpace(number))
	if err != nil {
		return "", err
	}
	return acct.Type, nil
}

// ListAccounts returns active accounts, optionally narrowed by type.
func (s *Service) ListAccounts(ctx context.Context, types []ledger.AccountType) ([]ledger.Account, error) {
	return s.accounts.List(ctx, types)
}

// compute runs the income statement and balance sheet buckets concurrently.
// A failing bucket marks its accounts in Errors and leaves the other intact;
// the failures are also returned keyed by bucket.
func (s *Service) compute(ctx context.Context, accounts, periodNames []string, filters ledger.Filters, book int64) (BatchResult, map[string]error, error) {
	periods, warnings, err := s.periods.Resolve(ctx, periodNames)
	if err != nil {
		return BatchResult{}, nil, err
	}
	known, err := s.accounts.Load(ctx, accounts)
	if err != nil {
		return BatchResult{}, nil, err
	}
	scope, sw := s.planner.Scope(ctx, filters, book)
	warnings = append(warnings, sw...)

	var incomeAccts, balanceAccts, unknown []string
	for _, number := range accounts {
		acct, ok := known[number]
		switch {
		case !ok:
			unknown = append(unknown, number)
		case acct.Classification() == ledger.IncomeStatement:
			incomeAccts = append(incomeAccts, number)
		default:
			balanceAccts = append(balanceAccts, number)
		}
	}
	if len(unknown) > 0 {
		s.logger.Warn("accounts not found, reported as zero", slog.Any("accounts", unknown))
		warnings = append(warnings, fmt.Sprintf("accounts not found: %s", strings.Join(unknown, ", ")))
	}
	if len(balanceAccts) > 0 {
		warnings = append(warnings, CumulativeWarnings(periods)...)
	}

	var tasks []fanout.Task[Balances]
	if len(incomeAccts) > 0 {
		tasks = append(tasks, s.incomeTask(incomeAccts, periods, scope))
	}
	if len(balanceAccts) > 0 {
		tasks = append(tasks, s.balanceTask(balanceAccts, periods, scope))
	}
	results := fanout.Collect(ctx, s.pool, tasks)

	res := s.newResult(scope.Partition(), warnings)
	failures := make(map[string]error)
	buckets := map[string][]string{bucketIncomeStatement: incomeAccts, bucketBalanceSheet: balanceAccts}
	for _, task := range tasks {
		r := results[task.Name]
		if r.Err != nil {
			failures[task.Name] = r.Err
			s.logger.Error("balance bucket failed", slog.String("bucket", task.Name), slog.Int("accounts", len(buckets[task.Name])), slog.Any("error", r.Err))
			for _, number := range buckets[task.Name] {
				res.Errors[number] = task.Name + ": " + r.Err.Error()
			}
			continue
		}
		for _, number := range buckets[task.Name] {
			res.Balances[number] = zeroFill(r.Value[number], periods)
		}
	}
	for _, number := range unknown {
		res.Balances[number] = zeroFill(nil, periods)
	}
	for _, acct := range known {
		res.AccountTypes[acct.Number] = acct.Type
		res.AccountNames[acct.Number] = acct.Name
	}
	return res, failures, nil
}

func (s *Service) incomeTask(accounts []string, periods []ledger.Period, scope Scope) fanout.Task[Balances] {
	return fanout.Task[Balances]{
		Name:    bucketIncomeStatement,
		Timeout: PeriodQueryTimeout,
		Run: func(ctx context.Context) (Balances, error) {
			q, err := s.planner.PlanQuery(PlanRequest{
				Name:           "is_activity",
				Classification: ledger.IncomeStatement,
				Accounts:       accounts,
				Periods:        periods,
				FlipSigns:      true,
				Timeout:        PeriodQueryTimeout,
				Scope:          scope,
			})
			if err != nil {
				return nil, err
			}
			rows, err := s.exec.Execute(ctx, q)
			if err != nil {
				return nil, err
			}
			return sumByAccountPeriod(rows)
		},
	}
}

func (s *Service) balanceTask(accounts []string, periods []ledger.Period, scope Scope) fanout.Task[Balances] {
	return fanout.Task[Balances]{
		Name:    bucketBalanceSheet,
		Timeout: InceptionQueryTimeout,
		NoRetry: true,
		Run: func(ctx context.Context) (Balances, error) {
			return s.cumulative.Compute(ctx, CumulativeRequest{Accounts: accounts, Periods: periods, Scope: scope})
		},
	}
}

func (s *Service) newResult(partition string, warnings []string) BatchResult {
	return BatchResult{
		Balances:     make(Balances),
		AccountTypes: make(map[string]ledger.AccountType),
		AccountNames: make(map[string]string),
		Errors:       make(map[string]string),
		Warnings:     append([]string(nil), warnings...),
		Partition:    partition,
	}
}

// annotate fills account metadata for a cached grid. Metadata is optional on
// this path so lookup failures only warn.
func (s *Service) annotate(ctx context.Context, res *BatchResult, accounts []string) {
	known, err := s.accounts.Load(ctx, accounts)
	if err != nil {
		s.logger.Warn("account metadata unavailable for cached batch", slog.Any("error", err))
		res.Warnings = append(res.Warnings, "account names and types unavailable")
		return
	}
	for _, acct := range known {
		res.AccountTypes[acct.Number] = acct.Type
		res.AccountNames[acct.Number] = acct.Name
	}
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fieldErr := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
	}
	return nil
}

func (s *Service) bookOf(book *int64) int64 {
	if book != nil && *book > 0 {
		return *book
	}
	return s.defaultBook
}

func zeroFill(values map[string]decimal.Decimal, periods []ledger.Period) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(periods))
	for _, p := range periods {
		out[p.Name] = values[p.Name]
	}
	return out
}

func buildKey(partition string, accounts, periods []string) string {
	a := append([]string(nil), accounts...)
	p := append([]string(nil), periods...)
	sort.Strings(a)
	sort.Strings(p)
	return partition + "|" + strings.Join(a, ",") + "|" + strings.Join(p, ",")
}
