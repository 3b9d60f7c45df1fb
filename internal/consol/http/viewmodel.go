package http

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/ledger"
)

// BatchVM is the JSON grid returned to spreadsheet clients. A cell is null
// when its account failed; clients must not render it as zero.
type BatchVM struct {
	Balances     map[string]map[string]*float64 `json:"balances"`
	AccountTypes map[string]ledger.AccountType  `json:"account_types"`
	AccountNames map[string]string              `json:"account_names"`
	Errors       map[string]string              `json:"errors,omitempty"`
	Warnings     []string                       `json:"warnings,omitempty"`
	Cached       bool                           `json:"cached"`
}

// FromBatch maps a service grid into the view model. Every requested account
// gets a row, failed ones with null cells.
func FromBatch(periods []string, res consol.BatchResult) BatchVM {
	vm := BatchVM{
		Balances:     make(map[string]map[string]*float64, len(res.Balances)+len(res.Errors)),
		AccountTypes: res.AccountTypes,
		AccountNames: res.AccountNames,
		Errors:       res.Errors,
		Warnings:     res.Warnings,
		Cached:       res.Cached,
	}
	for account, cells := range res.Balances {
		row := make(map[string]*float64, len(cells))
		for period, v := range cells {
			row[period] = amount(v)
		}
		vm.Balances[account] = row
	}
	for account := range res.Errors {
		row := make(map[string]*float64, len(periods))
		for _, period := range periods {
			row[period] = nil
		}
		vm.Balances[account] = row
	}
	return vm
}

// BalanceVM is a single balance cell.
type BalanceVM struct {
	Account  string   `json:"account"`
	Period   string   `json:"period"`
	Balance  float64  `json:"balance"`
	Cached   bool     `json:"cached"`
	Warnings []string `json:"warnings,omitempty"`
}

// EquityVM carries the derived equity figures of one period.
type EquityVM struct {
	Period           string   `json:"period"`
	TotalAssets      float64  `json:"total_assets"`
	TotalLiabilities float64  `json:"total_liabilities"`
	PostedEquity     float64  `json:"posted_equity"`
	RetainedEarnings float64  `json:"retained_earnings"`
	NetIncome        float64  `json:"net_income"`
	CTA              float64  `json:"cta"`
	Warnings         []string `json:"warnings,omitempty"`
}

// FromEquity maps the calculator result into the view model.
func FromEquity(res consol.EquityResult) EquityVM {
	return EquityVM{
		Period:           res.Period,
		TotalAssets:      res.TotalAssets.InexactFloat64(),
		TotalLiabilities: res.TotalLiabilities.InexactFloat64(),
		PostedEquity:     res.PostedEquity.InexactFloat64(),
		RetainedEarnings: res.RetainedEarnings.InexactFloat64(),
		NetIncome:        res.NetIncome.InexactFloat64(),
		CTA:              res.CTA.InexactFloat64(),
		Warnings:         res.Warnings,
	}
}

// AccountVM is one row of the chart of accounts.
type AccountVM struct {
	Number   string             `json:"number"`
	Name     string             `json:"name"`
	FullName string             `json:"full_name"`
	Type     ledger.AccountType `json:"type"`
}

// PeriodVM is one posting period.
type PeriodVM struct {
	ID        *int64 `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// BudgetVM is a budget total.
type BudgetVM struct {
	Account        string   `json:"account"`
	Amount         float64  `json:"amount"`
	FeatureEnabled bool     `json:"feature_enabled"`
	Warnings       []string `json:"warnings,omitempty"`
}

// TransactionVM is one drill-down row.
type TransactionVM struct {
	ID          int64   `json:"transaction_id"`
	Number      string  `json:"transaction_number"`
	Type        string  `json:"transaction_type"`
	Date        string  `json:"transaction_date"`
	EntityName  string  `json:"entity_name,omitempty"`
	Memo        string  `json:"memo,omitempty"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
	Net         float64 `json:"net_amount"`
	AccountName string  `json:"account_name"`
	URL         string  `json:"url,omitempty"`
}

// TransactionsVM lists drill-down rows.
type TransactionsVM struct {
	Transactions []TransactionVM `json:"transactions"`
	Count        int             `json:"count"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// FromTransactions maps service drill-down rows into the view model.
func FromTransactions(res consol.TransactionsResult) TransactionsVM {
	vm := TransactionsVM{Transactions: make([]TransactionVM, 0, len(res.Transactions)), Count: res.Count, Warnings: res.Warnings}
	for _, t := range res.Transactions {
		vm.Transactions = append(vm.Transactions, TransactionVM{
			ID:          t.ID,
			Number:      t.Number,
			Type:        t.Type,
			Date:        t.Date,
			EntityName:  t.EntityName,
			Memo:        t.Memo,
			Debit:       t.Debit.InexactFloat64(),
			Credit:      t.Credit.InexactFloat64(),
			Net:         t.Net.InexactFloat64(),
			AccountName: t.AccountName,
			URL:         t.URL,
		})
	}
	return vm
}

func accountVMs(accounts []ledger.Account) []AccountVM {
	out := make([]AccountVM, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountVM{Number: a.Number, Name: a.Name, FullName: a.FullName, Type: a.Type})
	}
	return out
}

func periodVMs(periods []ledger.Period) []PeriodVM {
	out := make([]PeriodVM, 0, len(periods))
	for _, p := range periods {
		out = append(out, PeriodVM{
			ID:        p.ID,
			Name:      p.Name,
			StartDate: p.StartDate.Format("2006-01-02"),
			EndDate:   p.EndDate.Format("2006-01-02"),
		})
	}
	return out
}

func amount(v decimal.Decimal) *float64 {
	f := v.InexactFloat64()
	return &f
}
