package consol

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// BudgetRequest asks for the budgeted amount of an account over a period
// range. ToPeriod defaults to FromPeriod.
type BudgetRequest struct {
	Account    string             `validate:"required"`
	FromPeriod string             `validate:"required"`
	ToPeriod   string             `validate:"-"`
	Category   string             `validate:"-"`
	Filters    ledger.FilterInput `validate:"-"`
}

// BudgetResult is a budget total. FeatureEnabled is false when the account
// has no budget table, in which case Amount is zero.
type BudgetResult struct {
	Account        string          `json:"account"`
	Amount         decimal.Decimal `json:"amount"`
	FeatureEnabled bool            `json:"feature_enabled"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// Budget sums budget lines for the account between the two periods
// inclusive, by period start date.
func (s *Service) Budget(ctx context.Context, req BudgetRequest) (BudgetResult, error) {
	if err := s.validateRequest(req); err != nil {
		return BudgetResult{}, err
	}
	to := strings.TrimSpace(req.ToPeriod)
	if to == "" {
		to = req.FromPeriod
	}
	periods, warnings, err := s.periods.Resolve(ctx, []string{req.FromPeriod, to})
	if err != nil {
		return BudgetResult{}, err
	}
	filters, fw := s.dimensions.ResolveFilters(ctx, req.Filters)
	warnings = append(fw, warnings...)
	out := BudgetResult{Account: req.Account, FeatureEnabled: true, Warnings: warnings}

	first, last := periods[0], periods[len(periods)-1]
	var b suiteql.Builder
	b.Line("SELECT SUM(b.amount) AS amount")
	b.Line("FROM Budget b")
	b.Line("INNER JOIN Account a ON a.id = b.account")
	b.Line("INNER JOIN AccountingPeriod ap ON ap.id = b.accountingperiod")
	var w suiteql.Where
	w.Add("a.acctnumber = ?", req.Account)
	w.Add("ap.startdate >= ?", first.StartDate)
	w.Add("ap.enddate <= ?", last.EndDate)
	budgetColumns := map[ledger.Dimension]string{
		ledger.DimSubsidiary: "b.subsidiary",
		ledger.DimDepartment: "b.department",
		ledger.DimClass:      "b.class",
		ledger.DimLocation:   "b.location",
	}
	for _, dim := range ledger.Dimensions() {
		if id := filters.Get(dim); id != nil {
			w.Add(budgetColumns[dim]+" = ?", *id)
		}
	}
	if category := strings.TrimSpace(req.Category); category != "" {
		b.Line("INNER JOIN BudgetCategory bc ON bc.id = b.category")
		w.Add("bc.name = ?", category)
	}
	w.WriteTo(&b)

	rows, err := s.exec.Execute(ctx, b.Build("budget", PeriodQueryTimeout))
	if err != nil {
		if suiteql.IsFeatureUnavailable(err) {
			s.logger.Info("budget table unavailable, reporting zero", slog.String("account", req.Account), slog.Any("error", err))
			out.FeatureEnabled = false
			return out, nil
		}
		return BudgetResult{}, componentErr("budget", err)
	}
	if len(rows) > 0 {
		amount, err := rowAmount(rows[0])
		if err != nil {
			return BudgetResult{}, componentErr("budget", err)
		}
		out.Amount = amount
	}
	return out, nil
}
