package consol

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// PeriodResolver looks up accounting periods and fiscal years.
type PeriodResolver struct {
	exec   suiteql.Executor
	cache  *cache.Layer
	logger *slog.Logger

	mu     sync.RWMutex
	byName map[string]ledger.Period
}

// NewPeriodResolver constructs a PeriodResolver.
func NewPeriodResolver(exec suiteql.Executor, layer *cache.Layer, logger *slog.Logger) *PeriodResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodResolver{exec: exec, cache: layer, logger: logger, byName: make(map[string]ledger.Period)}
}

// Resolve returns the named periods in chronological order. Names missing
// from the period table are synthesised from the label and reported in the
// warnings; labels that name no month fail the call.
func (r *PeriodResolver) Resolve(ctx context.Context, names []string) ([]ledger.Period, []string, error) {
	wanted := dedupe(names)
	var missing []string
	r.mu.RLock()
	for _, name := range wanted {
		if _, ok := r.byName[name]; !ok {
			missing = append(missing, name)
		}
	}
	r.mu.RUnlock()

	var warnings []string
	if len(missing) > 0 {
		if err := r.load(ctx, missing); err != nil {
			r.logger.Warn("period lookup failed, using calendar months", slog.Any("periods", missing), slog.Any("error", err))
			warnings = append(warnings, "period table unavailable; calendar month boundaries used without currency translation")
		}
	}

	out := make([]ledger.Period, 0, len(wanted))
	for _, name := range wanted {
		r.mu.RLock()
		p, ok := r.byName[name]
		r.mu.RUnlock()
		if ok {
			out = append(out, p)
			continue
		}
		synth, err := ledger.SynthesisePeriod(name)
		if err != nil {
			return nil, warnings, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		r.logger.Warn("period missing from period table, synthesised", slog.String("period", name))
		warnings = append(warnings, fmt.Sprintf("period %q not found; computed from calendar month without currency translation", name))
		out = append(out, synth)
	}
	ledger.SortPeriods(out)
	return out, warnings, nil
}

func (r *PeriodResolver) load(ctx context.Context, names []string) error {
	var b suiteql.Builder
	b.Line("SELECT id, periodname, TO_CHAR(startdate, 'YYYY-MM-DD') AS startdate, TO_CHAR(enddate, 'YYYY-MM-DD') AS enddate")
	b.Line("FROM AccountingPeriod")
	var w suiteql.Where
	w.In("periodname", suiteql.Strings(names)...)
	w.Add("isyear = ?", false)
	w.Add("isquarter = ?", false)
	w.WriteTo(&b)
	rows, err := r.exec.Execute(ctx, b.Build("periods_by_name", 0))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		p, ok := periodFromRow(row)
		if ok {
			r.byName[p.Name] = p
		}
	}
	return nil
}

// List returns every posting period, newest first.
func (r *PeriodResolver) List(ctx context.Context) ([]ledger.Period, error) {
	var b suiteql.Builder
	b.Line("SELECT id, periodname, TO_CHAR(startdate, 'YYYY-MM-DD') AS startdate, TO_CHAR(enddate, 'YYYY-MM-DD') AS enddate")
	b.Line("FROM AccountingPeriod")
	b.Line("WHERE isyear = ? AND isquarter = ?", false, false)
	b.Line("ORDER BY startdate DESC")
	rows, err := r.exec.Execute(ctx, b.Build("periods_list", 0))
	if err != nil {
		return nil, componentErr("periods", err)
	}
	out := make([]ledger.Period, 0, len(rows))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if p, ok := periodFromRow(row); ok {
			r.byName[p.Name] = p
			out = append(out, p)
		}
	}
	return out, nil
}

// FiscalYear returns the fiscal year containing period for book. When the
// calendar cannot be read the calendar year is assumed and not cached.
func (r *PeriodResolver) FiscalYear(ctx context.Context, period ledger.Period, book int64) ledger.FiscalYear {
	key := cache.FiscalYearKey(period.Name, book)
	if fy, ok := r.cache.FiscalYears.Get(key); ok {
		return fy
	}
	fy, err := r.fetchFiscalYear(ctx, period.EndDate)
	if err != nil {
		r.logger.Warn("fiscal year lookup failed, assuming calendar year", slog.String("period", period.Name), slog.Any("error", err))
		return ledger.CalendarFiscalYear(period.EndDate)
	}
	r.cache.FiscalYears.Set(key, fy)
	return fy
}

func (r *PeriodResolver) fetchFiscalYear(ctx context.Context, day time.Time) (ledger.FiscalYear, error) {
	var b suiteql.Builder
	b.Line("SELECT id, periodname, TO_CHAR(startdate, 'YYYY-MM-DD') AS startdate, TO_CHAR(enddate, 'YYYY-MM-DD') AS enddate")
	b.Line("FROM AccountingPeriod")
	b.Line("WHERE isyear = ? AND startdate <= ? AND enddate >= ?", true, day, day)
	b.Line("ORDER BY startdate DESC")
	rows, err := r.exec.Execute(ctx, b.Build("fiscal_year", 0))
	if err != nil {
		return ledger.FiscalYear{}, err
	}
	if len(rows) == 0 {
		return ledger.FiscalYear{}, fmt.Errorf("consol: no fiscal year contains %s", day.Format("2006-01-02"))
	}
	p, ok := periodFromRow(rows[0])
	if !ok {
		return ledger.FiscalYear{}, fmt.Errorf("%w: fiscal year row", ErrMalformedAggregate)
	}
	return ledger.FiscalYear{Name: p.Name, StartDate: p.StartDate, EndDate: p.EndDate}, nil
}

func periodFromRow(row suiteql.Row) (ledger.Period, bool) {
	name := row.String("periodname")
	start, okStart := row.Time("startdate")
	end, okEnd := row.Time("enddate")
	if name == "" || !okStart || !okEnd {
		return ledger.Period{}, false
	}
	return ledger.Period{Name: name, StartDate: start, EndDate: end, ID: row.OptInt64("id")}, true
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
