package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/glbridge/internal/consol/fx"
	"github.com/odyssey-erp/glbridge/internal/dimension"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Per-shape query timeouts.
const (
	PeriodQueryTimeout     = 90 * time.Second
	CumulativeQueryTimeout = 120 * time.Second
	InceptionQueryTimeout  = 180 * time.Second
)

var errNoAccountScope = errors.New("consol: plan needs accounts or account types")

// segmentColumns is the allow-list of segment filter columns.
var segmentColumns = map[ledger.Dimension]string{
	ledger.DimDepartment: "tl.department",
	ledger.DimClass:      "tl.class",
	ledger.DimLocation:   "tl.location",
}

// Scope fixes the consolidation target and filters shared by every query of
// one request.
type Scope struct {
	Target       int64
	Subsidiaries []int64
	Filters      ledger.Filters
	Book         int64
}

// NeedsSegmentJoin reports whether the transaction line table must be joined
// to apply department, class or location filters.
func (s Scope) NeedsSegmentJoin() bool {
	return s.Filters.HasSegments()
}

// Partition is the cache partition for the scope.
func (s Scope) Partition() string {
	return s.Filters.Hash(s.Book)
}

// RetainedEarningsFilter narrows a plan to or away from retained earnings.
type RetainedEarningsFilter int

const (
	AnyAccounts RetainedEarningsFilter = iota
	OnlyRetainedEarnings
	ExcludeRetainedEarnings
)

// PlanRequest describes one ledger aggregate.
type PlanRequest struct {
	Name string
	// Classification selects the query shape: IncomeStatement plans are
	// period-scoped, BalanceSheet plans are cumulative.
	Classification ledger.Classification
	Accounts       []string
	Types          []ledger.AccountType
	// ExcludeTypes keeps rows of any type outside the list, so type codes
	// the ledger package does not know still reach the plan.
	ExcludeTypes []ledger.AccountType
	// Periods are the requested periods of a period-scoped plan. A
	// period-scoped plan without Periods covers every posting period between
	// From and AsOf and also returns each period's start date.
	Periods []ledger.Period
	// AsOf closes a cumulative window; From optionally opens it.
	AsOf time.Time
	From *time.Time
	// RatePeriod is the reporting period whose rate a closing-method plan
	// uses. A nil ID leaves amounts untranslated.
	RatePeriod *ledger.Period
	// Method overrides the policy method for the classification.
	Method           fx.Method
	FlipSigns        bool
	Total            bool
	RetainedEarnings RetainedEarningsFilter
	Timeout          time.Duration
	Scope            Scope
}

// Planner builds parameterized ledger queries.
type Planner struct {
	hierarchy *dimension.HierarchyResolver
	policy    fx.Policy
	logger    *slog.Logger
}

// NewPlanner constructs a Planner.
func NewPlanner(hierarchy *dimension.HierarchyResolver, policy fx.Policy, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{hierarchy: hierarchy, policy: policy, logger: logger}
}

// Scope resolves the consolidation target and its subsidiary set. Without a
// subsidiary filter the root subsidiary is the target.
func (p *Planner) Scope(ctx context.Context, filters ledger.Filters, book int64) (Scope, []string) {
	var warnings []string
	var target int64
	if filters.Subsidiary != nil {
		target = *filters.Subsidiary
	} else {
		root, err := p.hierarchy.Root(ctx)
		if err != nil {
			p.logger.Warn("root subsidiary unavailable, consolidating subsidiary 1", slog.Any("error", err))
			warnings = append(warnings, "root subsidiary could not be determined; subsidiary 1 assumed")
			target = 1
		} else {
			target = root.ID
		}
	}
	members, degraded := p.hierarchy.Lookup(ctx, target)
	if degraded {
		warnings = append(warnings, fmt.Sprintf("subsidiary hierarchy unavailable; only subsidiary %d included", target))
	}
	return Scope{Target: target, Subsidiaries: members, Filters: filters, Book: book}, warnings
}

// PlanQuery renders the request into a bound query.
func (p *Planner) PlanQuery(req PlanRequest) (suiteql.Query, error) {
	if len(req.Accounts) == 0 && len(req.Types) == 0 {
		return suiteql.Query{}, errNoAccountScope
	}
	periodScoped := req.Classification == ledger.IncomeStatement
	ranged := periodScoped && len(req.Periods) == 0 && req.From != nil && !req.AsOf.IsZero()
	if periodScoped && len(req.Periods) == 0 && !req.Total && !ranged {
		return suiteql.Query{}, fmt.Errorf("%w: period-scoped plan without periods or date range", ErrInvalidRequest)
	}
	if ranged && req.From.After(req.AsOf) {
		return suiteql.Query{}, fmt.Errorf("%w: date range starts after it ends", ErrInvalidRequest)
	}
	if !periodScoped && req.AsOf.IsZero() {
		return suiteql.Query{}, fmt.Errorf("%w: cumulative plan without as-of date", ErrInvalidRequest)
	}
	for _, t := range append(append([]ledger.AccountType(nil), req.Types...), req.ExcludeTypes...) {
		if !t.Known() {
			return suiteql.Query{}, fmt.Errorf("%w: account type %q", ErrInvalidRequest, t)
		}
	}

	method := req.Method
	if method == "" {
		method = p.policy.MethodFor(req.Classification)
	}

	var b suiteql.Builder
	amount, amountArgs := amountExpr(method, req)
	switch {
	case req.Total:
		b.Line("SELECT SUM("+amount+") AS amount", amountArgs...)
	case ranged:
		b.Line("SELECT a.acctnumber AS account, ap.periodname AS period, ap.startdate AS period_start, SUM("+amount+") AS amount", amountArgs...)
	case periodScoped:
		b.Line("SELECT a.acctnumber AS account, ap.periodname AS period, SUM("+amount+") AS amount", amountArgs...)
	default:
		b.Line("SELECT a.acctnumber AS account, SUM("+amount+") AS amount", amountArgs...)
	}
	b.Line("FROM Transaction t")
	b.Line("INNER JOIN TransactionAccountingLine tal ON tal.transaction = t.id")
	if req.Scope.NeedsSegmentJoin() {
		b.Line("INNER JOIN TransactionLine tl ON tl.transaction = t.id AND tl.id = tal.transactionline")
	}
	b.Line("INNER JOIN Account a ON a.id = tal.account")
	b.Line("INNER JOIN AccountingPeriod ap ON ap.id = t.postingperiod")

	var w suiteql.Where
	w.Add("t.posting = ?", true)
	w.Add("tal.posting = ?", true)
	w.Add("tal.accountingbook = ?", req.Scope.Book)
	w.In("t.subsidiary", suiteql.Int64s(req.Scope.Subsidiaries)...)
	if len(req.Accounts) > 0 {
		w.In("a.acctnumber", suiteql.Strings(req.Accounts)...)
	}
	if len(req.Types) > 0 {
		w.In("a.accttype", suiteql.Strings(req.Types)...)
	}
	if len(req.ExcludeTypes) > 0 {
		w.NotIn("a.accttype", suiteql.Strings(req.ExcludeTypes)...)
	}
	switch req.RetainedEarnings {
	case OnlyRetainedEarnings:
		w.Add("(a.accttype = ? OR LOWER(a.fullname) LIKE ?)", string(ledger.TypeRetainedEarnings), "%"+ledger.RetainedEarningsName+"%")
	case ExcludeRetainedEarnings:
		w.Add("a.accttype <> ?", string(ledger.TypeRetainedEarnings))
		w.Add("LOWER(COALESCE(a.fullname, '')) NOT LIKE ?", "%"+ledger.RetainedEarningsName+"%")
	}
	for _, dim := range []ledger.Dimension{ledger.DimDepartment, ledger.DimClass, ledger.DimLocation} {
		if id := req.Scope.Filters.Get(dim); id != nil {
			w.Add(segmentColumns[dim]+" = ?", *id)
		}
	}
	switch {
	case ranged:
		w.Add("ap.startdate >= ?", *req.From)
		w.Add("ap.enddate <= ?", req.AsOf)
	case periodScoped:
		if len(req.Periods) > 0 {
			w.In("ap.periodname", periodNames(req.Periods)...)
		}
	default:
		w.Add("ap.enddate <= ?", req.AsOf)
		if req.From != nil {
			w.Add("ap.startdate >= ?", *req.From)
		}
	}
	w.WriteTo(&b)

	switch {
	case req.Total:
	case ranged:
		b.Line("GROUP BY a.acctnumber, ap.periodname, ap.startdate")
		b.Line("ORDER BY a.acctnumber, ap.startdate")
	case periodScoped:
		b.Line("GROUP BY a.acctnumber, ap.periodname")
		b.Line("ORDER BY a.acctnumber, ap.periodname")
	default:
		b.Line("GROUP BY a.acctnumber")
		b.Line("ORDER BY a.acctnumber")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = PeriodQueryTimeout
		if !periodScoped {
			timeout = CumulativeQueryTimeout
		}
	}
	name := req.Name
	if name == "" {
		name = req.Classification.String()
	}
	q := b.Build(name, timeout)
	book := req.Scope.Book
	q.Book = &book
	return q, nil
}

// amountExpr returns the translated, optionally signed amount expression
// and its arguments in placeholder order.
func amountExpr(method fx.Method, req PlanRequest) (string, []any) {
	var args []any
	expr := "tal.amount"
	switch method {
	case fx.MethodAverage:
		expr = "BUILTIN.CONSOLIDATE(tal.amount, 'LEDGER', 'DEFAULT', 'DEFAULT', ?, t.postingperiod, 'DEFAULT')"
		args = append(args, req.Scope.Target)
	case fx.MethodClosing:
		if req.RatePeriod != nil && req.RatePeriod.ID != nil {
			expr = "BUILTIN.CONSOLIDATE(tal.amount, 'LEDGER', 'DEFAULT', 'DEFAULT', ?, ?, 'DEFAULT')"
			args = append(args, req.Scope.Target, *req.RatePeriod.ID)
		}
	}
	expr = "COALESCE(" + expr + ", 0)"
	if req.FlipSigns {
		flipped := ledger.FlippedTypes()
		expr = "CASE WHEN a.accttype IN (" + suiteql.Placeholders(len(flipped)) + ") THEN -1 ELSE 1 END * " + expr
		args = append(suiteql.Strings(flipped), args...)
	}
	return expr, args
}

func periodNames(periods []ledger.Period) []any {
	out := make([]any, len(periods))
	for i, p := range periods {
		out[i] = p.Name
	}
	return out
}
