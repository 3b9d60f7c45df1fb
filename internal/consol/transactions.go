package consol

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// recordPaths maps record types to the path segment of their entry form.
var recordPaths = map[string]string{
	"invoice":       "custinvc",
	"bill":          "vendorbill",
	"journalentry":  "journal",
	"journal":       "journal",
	"payment":       "custpymt",
	"vendorpayment": "vendpymt",
	"creditmemo":    "custcred",
	"vendorcredit":  "vendcred",
	"check":         "check",
	"deposit":       "deposit",
	"cashsale":      "cashsale",
	"cashrefund":    "cashrfnd",
	"expensereport": "exprept",
}

// TransactionsRequest asks for the postings behind one balance cell.
type TransactionsRequest struct {
	Account string             `validate:"required"`
	Period  string             `validate:"required"`
	Filters ledger.FilterInput `validate:"-"`
	Book    *int64             `validate:"omitempty,gte=1"`
}

// Transaction is one posted transaction summed over its lines for an account.
type Transaction struct {
	ID          int64           `json:"transaction_id"`
	Number      string          `json:"transaction_number"`
	Type        string          `json:"transaction_type"`
	RecordType  string          `json:"record_type"`
	Date        string          `json:"transaction_date"`
	EntityID    *int64          `json:"entity_id,omitempty"`
	EntityName  string          `json:"entity_name,omitempty"`
	Memo        string          `json:"memo,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Net         decimal.Decimal `json:"net_amount"`
	AccountName string          `json:"account_name"`
	URL         string          `json:"url,omitempty"`
}

// TransactionsResult lists the drill-down rows of a balance cell.
type TransactionsResult struct {
	Transactions []Transaction `json:"transactions"`
	Count        int           `json:"count"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Transactions lists the transactions posting to an account within a period.
// Amounts are in transaction currency and unsigned by account type.
func (s *Service) Transactions(ctx context.Context, req TransactionsRequest) (TransactionsResult, error) {
	if err := s.validateRequest(req); err != nil {
		return TransactionsResult{}, err
	}
	filters, warnings := s.dimensions.ResolveFilters(ctx, req.Filters)
	book := s.bookOf(req.Book)

	var b suiteql.Builder
	b.Line("SELECT t.id AS transaction_id, t.tranid AS transaction_number, t.trandisplayname AS transaction_type,")
	b.Line("  t.recordtype AS record_type, TO_CHAR(t.trandate, 'YYYY-MM-DD') AS transaction_date,")
	b.Line("  e.entityid AS entity_name, e.id AS entity_id, t.memo,")
	b.Line("  SUM(COALESCE(tal.debit, 0)) AS debit, SUM(COALESCE(tal.credit, 0)) AS credit,")
	b.Line("  a.accountsearchdisplayname AS account_name")
	b.Line("FROM Transaction t")
	b.Line("INNER JOIN TransactionAccountingLine tal ON tal.transaction = t.id")
	if filters.HasSegments() {
		b.Line("INNER JOIN TransactionLine tl ON tl.transaction = t.id AND tl.id = tal.transactionline")
	}
	b.Line("INNER JOIN Account a ON a.id = tal.account")
	b.Line("INNER JOIN AccountingPeriod ap ON ap.id = t.postingperiod")
	b.Line("LEFT JOIN Entity e ON e.id = t.entity")

	var w suiteql.Where
	w.Add("t.posting = ?", true)
	w.Add("tal.posting = ?", true)
	w.Add("tal.accountingbook = ?", book)
	w.Add("a.acctnumber = ?", req.Account)
	w.Add("ap.periodname = ?", req.Period)
	if filters.Subsidiary != nil {
		w.Add("t.subsidiary = ?", *filters.Subsidiary)
	}
	for _, dim := range []ledger.Dimension{ledger.DimDepartment, ledger.DimClass, ledger.DimLocation} {
		if id := filters.Get(dim); id != nil {
			w.Add(segmentColumns[dim]+" = ?", *id)
		}
	}
	w.WriteTo(&b)
	b.Line("GROUP BY t.id, t.tranid, t.trandisplayname, t.recordtype, t.trandate, e.entityid, e.id, t.memo, a.accountsearchdisplayname")
	b.Line("ORDER BY t.trandate, t.tranid")

	rows, err := s.exec.Execute(ctx, b.Build("transactions", PeriodQueryTimeout))
	if err != nil {
		return TransactionsResult{}, componentErr("transactions", err)
	}
	out := TransactionsResult{Transactions: make([]Transaction, 0, len(rows)), Warnings: warnings}
	for _, row := range rows {
		tx, err := s.transactionFromRow(row)
		if err != nil {
			return TransactionsResult{}, componentErr("transactions", err)
		}
		out.Transactions = append(out.Transactions, tx)
	}
	out.Count = len(out.Transactions)
	return out, nil
}

func (s *Service) transactionFromRow(row suiteql.Row) (Transaction, error) {
	id, _ := row.Int64("transaction_id")
	debit, err := optionalAmount(row, "debit")
	if err != nil {
		return Transaction{}, err
	}
	credit, err := optionalAmount(row, "credit")
	if err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		ID:          id,
		Number:      row.String("transaction_number"),
		Type:        row.String("transaction_type"),
		RecordType:  row.String("record_type"),
		Date:        row.String("transaction_date"),
		EntityID:    row.OptInt64("entity_id"),
		EntityName:  row.String("entity_name"),
		Memo:        row.String("memo"),
		Debit:       debit,
		Credit:      credit,
		Net:         debit.Sub(credit),
		AccountName: row.String("account_name"),
	}
	tx.URL = TransactionURL(s.accountID, tx.RecordType, tx.ID)
	return tx, nil
}

// TransactionURL builds the deep link to a transaction's entry form. It is
// empty without an account id.
func TransactionURL(accountID, recordType string, id int64) string {
	if accountID == "" || id == 0 {
		return ""
	}
	kind := strings.ToLower(strings.TrimSpace(recordType))
	if path, ok := recordPaths[kind]; ok {
		kind = path
	}
	host := strings.ToLower(strings.ReplaceAll(accountID, "_", "-"))
	return fmt.Sprintf("https://%s.app.netsuite.com/app/accounting/transactions/%s.nl?id=%d", host, kind, id)
}

func optionalAmount(row suiteql.Row, col string) (decimal.Decimal, error) {
	raw, ok := row.Get(col)
	if !ok || raw == nil || row.String(col) == "" {
		return decimal.Zero, nil
	}
	v, ok := row.Decimal(col)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrMalformedAggregate, col, row.String(col))
	}
	return v, nil
}
