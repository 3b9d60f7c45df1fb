package consol

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
	"github.com/odyssey-erp/glbridge/internal/suiteql/suiteqltest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func period(id int64, name, start, end string) ledger.Period {
	return ledger.Period{Name: name, StartDate: day(start), EndDate: day(end), ID: &id}
}

// ledgerFixture scripts the reference data every computation reads: a three
// subsidiary tree, two months of 2025, a calendar fiscal year and a small
// chart of accounts.
type ledgerFixture struct {
	fake     *suiteqltest.Fake
	periods  map[string]suiteql.Row
	accounts map[string]suiteql.Row
}

func newLedgerFixture() *ledgerFixture {
	f := &ledgerFixture{
		fake: suiteqltest.New(),
		periods: map[string]suiteql.Row{
			"Jan 2025": {"id": "101", "periodname": "Jan 2025", "startdate": "2025-01-01", "enddate": "2025-01-31"},
			"Feb 2025": {"id": "102", "periodname": "Feb 2025", "startdate": "2025-02-01", "enddate": "2025-02-28"},
			"Mar 2025": {"id": "103", "periodname": "Mar 2025", "startdate": "2025-03-01", "enddate": "2025-03-31"},
		},
		accounts: map[string]suiteql.Row{
			"1000": {"acctnumber": "1000", "acctname": "Operating Cash", "fullname": "Cash : Operating Cash", "accttype": "Bank"},
			"1500": {"acctnumber": "1500", "acctname": "Contract Assets", "fullname": "Contract Assets", "accttype": "ContractAsset"},
			"2000": {"acctnumber": "2000", "acctname": "Accounts Payable", "fullname": "Accounts Payable", "accttype": "AcctPay"},
			"4010": {"acctnumber": "4010", "acctname": "Product Revenue", "fullname": "Revenue : Product Revenue", "accttype": "Income"},
			"6000": {"acctnumber": "6000", "acctname": "Salaries", "fullname": "Salaries", "accttype": "Expense"},
		},
	}
	f.fake.Rows("subsidiary_hierarchy",
		suiteql.Row{"id": "1", "name": "Parent Co", "parent": nil, "iselimination": "F", "currency": "USD"},
		suiteql.Row{"id": "2", "name": "Celigo India", "parent": "1", "iselimination": "F", "currency": "INR"},
		suiteql.Row{"id": "3", "name": "Elimination", "parent": "1", "iselimination": "T", "currency": "USD"},
	)
	f.fake.On("periods_by_name", func(q suiteql.Query) ([]suiteql.Row, error) {
		var rows []suiteql.Row
		for _, arg := range q.Args {
			if name, ok := arg.(string); ok {
				if row, known := f.periods[name]; known {
					rows = append(rows, row)
				}
			}
		}
		return rows, nil
	})
	f.fake.On("accounts_by_number", func(q suiteql.Query) ([]suiteql.Row, error) {
		var rows []suiteql.Row
		for _, arg := range q.Args {
			if number, ok := arg.(string); ok {
				if row, known := f.accounts[number]; known {
					rows = append(rows, row)
				}
			}
		}
		return rows, nil
	})
	f.fake.Rows("fiscal_year", suiteql.Row{"id": "100", "periodname": "FY 2025", "startdate": "2025-01-01", "enddate": "2025-12-31"})
	return f
}

// newInstantPool retries rate limited tasks without waiting.
func newInstantPool() *fanout.Executor {
	return fanout.New(fanout.Options{
		Backoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Logger:  discardLogger(),
	})
}

func (f *ledgerFixture) service() *Service {
	return f.serviceWith(fanout.New(fanout.Options{Logger: discardLogger()}))
}

func (f *ledgerFixture) serviceWith(pool *fanout.Executor) *Service {
	return NewService(Deps{
		Executor:  f.fake,
		Pool:      pool,
		AccountID: "TSTDRV123",
		Logger:    discardLogger(),
	})
}

// posting is one ledger line of a postingTable.
type posting struct {
	account string
	typ     ledger.AccountType
	period  ledger.Period
	amount  string
}

// postingTable answers balance queries from individual postings, applying
// the account list, type restriction, period names or date bounds, sign flip
// and grouping the rendered statement asks for.
type postingTable []posting

func (t postingTable) answer(q suiteql.Query) ([]suiteql.Row, error) {
	strs := make(map[string]bool)
	var dates []time.Time
	for _, arg := range q.Args {
		switch v := arg.(type) {
		case string:
			strs[v] = true
		case time.Time:
			dates = append(dates, v)
		}
	}
	lower, upper := dateBounds(q.Text, dates)
	flip := strings.Contains(q.Text, "CASE WHEN a.accttype IN")
	byPeriod := strings.Contains(q.Text, "ap.periodname AS period")
	withStart := strings.Contains(q.Text, "AS period_start")
	excludeIS := strings.Contains(q.Text, "a.accttype NOT IN")
	typeIn := strings.Contains(q.Text, "AND a.accttype IN")
	namesIn := strings.Contains(q.Text, "ap.periodname IN")

	type key struct{ account, period string }
	sums := make(map[key]decimal.Decimal)
	starts := make(map[string]time.Time)
	var order []key
	for _, p := range t {
		switch {
		case !strs[p.account]:
			continue
		case excludeIS && ledger.Classify(p.typ) == ledger.IncomeStatement:
			continue
		case typeIn && !strs[string(p.typ)]:
			continue
		case namesIn && !strs[p.period.Name]:
			continue
		case lower != nil && p.period.StartDate.Before(*lower):
			continue
		case upper != nil && p.period.EndDate.After(*upper):
			continue
		}
		amount := dec(p.amount)
		if flip && ledger.SignFlip(p.typ) {
			amount = amount.Neg()
		}
		k := key{account: p.account}
		if byPeriod {
			k.period = p.period.Name
			starts[p.period.Name] = p.period.StartDate
		}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] = sums[k].Add(amount)
	}
	rows := make([]suiteql.Row, 0, len(order))
	for _, k := range order {
		row := suiteql.Row{"account": k.account, "amount": sums[k].String()}
		if byPeriod {
			row["period"] = k.period
		}
		if withStart {
			row["period_start"] = starts[k.period].Format("2006-01-02")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// dateBounds pairs the date arguments with the start and end conditions in
// the order they appear in text.
func dateBounds(text string, dates []time.Time) (lower, upper *time.Time) {
	li := strings.Index(text, "ap.startdate >= ?")
	ui := strings.Index(text, "ap.enddate <= ?")
	next := 0
	take := func() *time.Time {
		if next >= len(dates) {
			return nil
		}
		d := dates[next]
		next++
		return &d
	}
	switch {
	case li >= 0 && ui >= 0 && li < ui:
		lower, upper = take(), take()
	case li >= 0 && ui >= 0:
		upper, lower = take(), take()
	case li >= 0:
		lower = take()
	case ui >= 0:
		upper = take()
	}
	return lower, upper
}
