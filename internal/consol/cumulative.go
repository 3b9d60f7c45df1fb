package consol

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/consol/fx"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// snapEpsilon is the magnitude below which running totals are reported as zero.
var snapEpsilon = decimal.New(1, -2)

// Balances maps account -> period -> amount.
type Balances map[string]map[string]decimal.Decimal

// CumulativeRequest asks for balance sheet balances as of each period end.
type CumulativeRequest struct {
	Accounts []string
	Periods  []ledger.Period
	Scope    Scope
}

// CumulativeCalculator derives balance sheet balances from one opening
// balance and one activity query folded by a running sum.
type CumulativeCalculator struct {
	planner *Planner
	exec    suiteql.Executor
	pool    *fanout.Executor
	logger  *slog.Logger
}

// NewCumulativeCalculator constructs a CumulativeCalculator.
func NewCumulativeCalculator(planner *Planner, exec suiteql.Executor, pool *fanout.Executor, logger *slog.Logger) *CumulativeCalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CumulativeCalculator{planner: planner, exec: exec, pool: pool, logger: logger}
}

// Compute returns a balance for every requested account and period. Periods
// are processed chronologically regardless of input order, and the running
// total also absorbs activity of posting periods between the requested ones.
func (c *CumulativeCalculator) Compute(ctx context.Context, req CumulativeRequest) (Balances, error) {
	if len(req.Accounts) == 0 || len(req.Periods) == 0 {
		return Balances{}, nil
	}
	periods := append([]ledger.Period(nil), req.Periods...)
	ledger.SortPeriods(periods)

	if len(periods) == 1 {
		return c.direct(ctx, req.Accounts, periods[0], req.Scope)
	}

	earliest, latest := periods[0], periods[len(periods)-1]
	openingPlan, err := c.planner.PlanQuery(PlanRequest{
		Name:           "bs_opening",
		Classification: ledger.BalanceSheet,
		Accounts:       req.Accounts,
		ExcludeTypes:   ledger.IncomeStatementTypes(),
		AsOf:           earliest.StartDate.AddDate(0, 0, -1),
		RatePeriod:     &earliest,
		FlipSigns:      true,
		Timeout:        InceptionQueryTimeout,
		Scope:          req.Scope,
	})
	if err != nil {
		return nil, err
	}
	// The opening balance cannot be translated without a period id, so the
	// activity stays untranslated too and the running sum is in one currency.
	var activityMethod fx.Method
	if earliest.Synthesised() {
		activityMethod = fx.MethodNone
	}
	from := earliest.StartDate
	activityPlan, err := c.planner.PlanQuery(PlanRequest{
		Name:           "bs_activity",
		Classification: ledger.IncomeStatement,
		Accounts:       req.Accounts,
		ExcludeTypes:   ledger.IncomeStatementTypes(),
		From:           &from,
		AsOf:           latest.EndDate,
		Method:         activityMethod,
		FlipSigns:      true,
		Timeout:        CumulativeQueryTimeout,
		Scope:          req.Scope,
	})
	if err != nil {
		return nil, err
	}

	tasks := []fanout.Task[[]suiteql.Row]{
		c.queryTask(openingPlan),
		c.queryTask(activityPlan),
	}
	results := fanout.Collect(ctx, c.pool, tasks)
	if err := fanout.FirstError(tasks, results); err != nil {
		return nil, err
	}

	opening, err := sumByAccount(results[openingPlan.Name].Value)
	if err != nil {
		return nil, err
	}
	activityRows := results[activityPlan.Name].Value
	activity, err := sumByAccountPeriod(activityRows)
	if err != nil {
		return nil, err
	}
	calendar, err := foldCalendar(periods, activityRows)
	if err != nil {
		return nil, err
	}
	return project(Fold(req.Accounts, calendar, opening, activity), periods), nil
}

// CumulativeWarnings describes degradations of a multi-period balance sheet
// grid: when the earliest period is missing from the accounting calendar
// every balance of the grid is reported untranslated. A single synthesised
// period is already reported by the period resolver.
func CumulativeWarnings(periods []ledger.Period) []string {
	if len(periods) < 2 {
		return nil
	}
	sorted := append([]ledger.Period(nil), periods...)
	ledger.SortPeriods(sorted)
	if !sorted[0].Synthesised() {
		return nil
	}
	return []string{fmt.Sprintf("balance sheet balances are untranslated: period %q is not in the accounting calendar", sorted[0].Name)}
}

// foldCalendar merges the requested periods with every other posting period
// that carried activity, in chronological order. An unrequested period sorts
// before a requested one starting the same day so its activity is included.
func foldCalendar(requested []ledger.Period, rows []suiteql.Row) ([]ledger.Period, error) {
	type entry struct {
		period    ledger.Period
		requested bool
	}
	seen := make(map[string]bool, len(requested))
	entries := make([]entry, 0, len(requested))
	for _, p := range requested {
		seen[p.Name] = true
		entries = append(entries, entry{period: p, requested: true})
	}
	for _, row := range rows {
		name := row.String("period")
		if name == "" || seen[name] {
			continue
		}
		start, ok := row.Time("period_start")
		if !ok {
			return nil, fmt.Errorf("%w: period %q without start date", ErrMalformedAggregate, name)
		}
		seen[name] = true
		entries = append(entries, entry{period: ledger.Period{Name: name, StartDate: start}})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.period.StartDate.Equal(b.period.StartDate) {
			return !a.requested && b.requested
		}
		return a.period.StartDate.Before(b.period.StartDate)
	})
	out := make([]ledger.Period, len(entries))
	for i, e := range entries {
		out[i] = e.period
	}
	return out, nil
}

// project keeps only the named periods of a folded grid.
func project(folded Balances, periods []ledger.Period) Balances {
	out := make(Balances, len(folded))
	for account, row := range folded {
		kept := make(map[string]decimal.Decimal, len(periods))
		for _, p := range periods {
			kept[p.Name] = row[p.Name]
		}
		out[account] = kept
	}
	return out
}

func (c *CumulativeCalculator) direct(ctx context.Context, accounts []string, period ledger.Period, scope Scope) (Balances, error) {
	plan, err := c.planner.PlanQuery(PlanRequest{
		Name:           "bs_cumulative",
		Classification: ledger.BalanceSheet,
		Accounts:       accounts,
		ExcludeTypes:   ledger.IncomeStatementTypes(),
		AsOf:           period.EndDate,
		RatePeriod:     &period,
		FlipSigns:      true,
		Timeout:        InceptionQueryTimeout,
		Scope:          scope,
	})
	if err != nil {
		return nil, err
	}
	task := c.queryTask(plan)
	res := fanout.Collect(ctx, c.pool, []fanout.Task[[]suiteql.Row]{task})[task.Name]
	if res.Err != nil {
		return nil, res.Err
	}
	totals, err := sumByAccount(res.Value)
	if err != nil {
		return nil, err
	}
	out := make(Balances, len(accounts))
	for _, account := range accounts {
		out[account] = map[string]decimal.Decimal{period.Name: snap(totals[account])}
	}
	return out, nil
}

func (c *CumulativeCalculator) queryTask(q suiteql.Query) fanout.Task[[]suiteql.Row] {
	return fanout.Task[[]suiteql.Row]{
		Name:    q.Name,
		Timeout: q.Timeout,
		Run: func(ctx context.Context) ([]suiteql.Row, error) {
			return c.exec.Execute(ctx, q)
		},
	}
}

// Fold walks periods in order per account, seeding the running total with
// the opening balance and adding each period's activity.
func Fold(accounts []string, periods []ledger.Period, opening map[string]decimal.Decimal, activity Balances) Balances {
	out := make(Balances, len(accounts))
	for _, account := range accounts {
		running := opening[account]
		row := make(map[string]decimal.Decimal, len(periods))
		for _, p := range periods {
			running = snap(running.Add(activity[account][p.Name]))
			row[p.Name] = running
		}
		out[account] = row
	}
	return out
}

func snap(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(snapEpsilon) {
		return decimal.Zero
	}
	return d
}

func sumByAccount(rows []suiteql.Row) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		account := row.String("account")
		if account == "" {
			continue
		}
		amount, err := rowAmount(row)
		if err != nil {
			return nil, err
		}
		out[account] = out[account].Add(amount)
	}
	return out, nil
}

func sumByAccountPeriod(rows []suiteql.Row) (Balances, error) {
	out := make(Balances)
	for _, row := range rows {
		account := row.String("account")
		period := row.String("period")
		if account == "" || period == "" {
			continue
		}
		amount, err := rowAmount(row)
		if err != nil {
			return nil, err
		}
		if out[account] == nil {
			out[account] = make(map[string]decimal.Decimal)
		}
		out[account][period] = out[account][period].Add(amount)
	}
	return out, nil
}

// rowAmount reads the amount column. SQL NULL sums are zero; anything else
// that is not numeric is a malformed result.
func rowAmount(row suiteql.Row) (decimal.Decimal, error) {
	raw, ok := row.Get("amount")
	if !ok || raw == nil {
		return decimal.Zero, nil
	}
	amount, ok := row.Decimal("amount")
	if !ok {
		if row.String("amount") == "" {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrMalformedAggregate, row.String("amount"))
	}
	return amount, nil
}
