package consol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/consol/fx"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Pseudo account keys under which derived equity values are cached.
const (
	RetainedEarningsKey = "__RETAINED_EARNINGS__"
	NetIncomeKey        = "__NET_INCOME__"
	CTAKey              = "__CTA__"
)

// Aggregate names, also used as failing component names.
const (
	aggTotalAssets      = "total_assets"
	aggTotalLiabilities = "total_liabilities"
	aggPostedEquity     = "posted_equity"
	aggPriorPL          = "prior_years_pl"
	aggPostedRE         = "posted_retained_earnings"
	aggCurrentPL        = "current_year_pl"
)

// EquityResult carries the derived equity values of one period and the
// aggregates they were computed from.
type EquityResult struct {
	Period           string            `json:"period"`
	FiscalYear       ledger.FiscalYear `json:"-"`
	TotalAssets      decimal.Decimal   `json:"total_assets"`
	TotalLiabilities decimal.Decimal   `json:"total_liabilities"`
	PostedEquity     decimal.Decimal   `json:"posted_equity"`
	RetainedEarnings decimal.Decimal   `json:"retained_earnings"`
	NetIncome        decimal.Decimal   `json:"net_income"`
	CTA              decimal.Decimal   `json:"cta"`
	Warnings         []string          `json:"warnings,omitempty"`
}

// EquityCalculator computes retained earnings, net income and the CTA plug.
type EquityCalculator struct {
	planner *Planner
	exec    suiteql.Executor
	pool    *fanout.Executor
	periods *PeriodResolver
	cache   *cache.Layer
	logger  *slog.Logger
}

// NewEquityCalculator constructs an EquityCalculator.
func NewEquityCalculator(planner *Planner, exec suiteql.Executor, pool *fanout.Executor, periods *PeriodResolver, layer *cache.Layer, logger *slog.Logger) *EquityCalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EquityCalculator{planner: planner, exec: exec, pool: pool, periods: periods, cache: layer, logger: logger}
}

// Compute runs the six aggregates concurrently. Any failing aggregate fails
// the whole computation with a ComponentError naming it.
func (c *EquityCalculator) Compute(ctx context.Context, period ledger.Period, scope Scope) (EquityResult, error) {
	fy := c.periods.FiscalYear(ctx, period, scope.Book)
	beforeFY := fy.StartDate.AddDate(0, 0, -1)
	fyStart := fy.StartDate

	result := EquityResult{Period: period.Name, FiscalYear: fy}
	if period.Synthesised() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("period %q not found; equity computed without currency translation", period.Name))
	}

	plans := []PlanRequest{
		{
			Name:           aggTotalAssets,
			Classification: ledger.BalanceSheet,
			Types:          ledger.TypesOf(ledger.FamilyAsset),
			AsOf:           period.EndDate,
			RatePeriod:     &period,
		},
		{
			Name:           aggTotalLiabilities,
			Classification: ledger.BalanceSheet,
			Types:          ledger.TypesOf(ledger.FamilyLiability),
			AsOf:           period.EndDate,
			RatePeriod:     &period,
		},
		{
			Name:             aggPostedEquity,
			Classification:   ledger.BalanceSheet,
			Types:            ledger.TypesOf(ledger.FamilyEquity),
			AsOf:             period.EndDate,
			RatePeriod:       &period,
			RetainedEarnings: ExcludeRetainedEarnings,
		},
		{
			Name:           aggPriorPL,
			Classification: ledger.BalanceSheet,
			Types:          ledger.IncomeStatementTypes(),
			AsOf:           beforeFY,
			Method:         fx.MethodAverage,
		},
		{
			Name:             aggPostedRE,
			Classification:   ledger.BalanceSheet,
			Types:            ledger.TypesOf(ledger.FamilyEquity),
			AsOf:             period.EndDate,
			RatePeriod:       &period,
			RetainedEarnings: OnlyRetainedEarnings,
		},
		{
			Name:           aggCurrentPL,
			Classification: ledger.BalanceSheet,
			Types:          ledger.IncomeStatementTypes(),
			AsOf:           period.EndDate,
			From:           &fyStart,
			Method:         fx.MethodAverage,
		},
	}

	tasks := make([]fanout.Task[decimal.Decimal], 0, len(plans))
	for _, req := range plans {
		req.Total = true
		req.Scope = scope
		req.Timeout = InceptionQueryTimeout
		q, err := c.planner.PlanQuery(req)
		if err != nil {
			return EquityResult{}, componentErr(req.Name, err)
		}
		tasks = append(tasks, c.totalTask(q))
	}

	results := fanout.Collect(ctx, c.pool, tasks)
	for _, task := range tasks {
		if err := results[task.Name].Err; err != nil {
			return EquityResult{}, componentErr(task.Name, err)
		}
	}

	// Ledger amounts are debit-positive; credit-normal families are negated.
	result.TotalAssets = results[aggTotalAssets].Value
	result.TotalLiabilities = results[aggTotalLiabilities].Value.Neg()
	result.PostedEquity = results[aggPostedEquity].Value.Neg()
	prior := results[aggPriorPL].Value.Neg()
	postedRE := results[aggPostedRE].Value.Neg()
	result.NetIncome = results[aggCurrentPL].Value.Neg()
	result.RetainedEarnings = prior.Add(postedRE)
	result.CTA = PlugCTA(result.TotalAssets, result.TotalLiabilities, result.PostedEquity, result.RetainedEarnings, result.NetIncome)

	partition := scope.Partition()
	c.cache.Balances.Put(partition, RetainedEarningsKey, period.Name, result.RetainedEarnings)
	c.cache.Balances.Put(partition, NetIncomeKey, period.Name, result.NetIncome)
	c.cache.Balances.Put(partition, CTAKey, period.Name, result.CTA)

	c.logger.Info("derived equity computed",
		slog.String("period", period.Name),
		slog.Int64("target", scope.Target),
		slog.String("fiscal_year", fy.Name),
		slog.String("cta", result.CTA.String()))
	return result, nil
}

// PlugCTA is the residual that balances the sheet:
// (assets - liabilities) - posted equity - retained earnings - net income.
func PlugCTA(assets, liabilities, postedEquity, retainedEarnings, netIncome decimal.Decimal) decimal.Decimal {
	return assets.Sub(liabilities).Sub(postedEquity).Sub(retainedEarnings).Sub(netIncome)
}

func (c *EquityCalculator) totalTask(q suiteql.Query) fanout.Task[decimal.Decimal] {
	return fanout.Task[decimal.Decimal]{
		Name:    q.Name,
		Timeout: q.Timeout,
		Run: func(ctx context.Context) (decimal.Decimal, error) {
			start := time.Now()
			rows, err := c.exec.Execute(ctx, q)
			if err != nil {
				return decimal.Zero, err
			}
			total, err := singleTotal(rows)
			c.logger.Debug("equity aggregate", slog.String("aggregate", q.Name), slog.Duration("elapsed", time.Since(start)))
			return total, err
		},
	}
}

// singleTotal expects exactly one row carrying the SUM.
func singleTotal(rows []suiteql.Row) (decimal.Decimal, error) {
	if len(rows) != 1 {
		return decimal.Zero, fmt.Errorf("%w: expected 1 row, got %d", ErrMalformedAggregate, len(rows))
	}
	return rowAmount(rows[0])
}
