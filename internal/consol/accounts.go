package consol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// AccountDirectory loads account metadata through the account cache.
type AccountDirectory struct {
	exec   suiteql.Executor
	cache  *cache.Layer
	logger *slog.Logger
}

// NewAccountDirectory constructs an AccountDirectory.
func NewAccountDirectory(exec suiteql.Executor, layer *cache.Layer, logger *slog.Logger) *AccountDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountDirectory{exec: exec, cache: layer, logger: logger}
}

// Load returns metadata for every known account among numbers. Accounts
// absent from the chart are omitted from the result.
func (d *AccountDirectory) Load(ctx context.Context, numbers []string) (map[string]ledger.Account, error) {
	wanted := dedupe(numbers)
	out := make(map[string]ledger.Account, len(wanted))
	var missing []string
	for _, number := range wanted {
		if acct, ok := d.cache.Accounts.Get(number); ok {
			out[number] = acct
			continue
		}
		missing = append(missing, number)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var b suiteql.Builder
	b.Line("SELECT a.acctnumber, a.acctname, a.fullname, a.accttype")
	b.Line("FROM Account a")
	var w suiteql.Where
	w.In("a.acctnumber", suiteql.Strings(missing)...)
	w.WriteTo(&b)
	rows, err := d.exec.Execute(ctx, b.Build("accounts_by_number", 0))
	if err != nil {
		return nil, componentErr("accounts", err)
	}
	for _, row := range rows {
		acct, ok := accountFromRow(row)
		if !ok {
			continue
		}
		d.cache.Accounts.Set(acct.Number, acct)
		out[acct.Number] = acct
	}
	return out, nil
}

// Get returns one account or ErrAccountNotFound.
func (d *AccountDirectory) Get(ctx context.Context, number string) (ledger.Account, error) {
	accounts, err := d.Load(ctx, []string{number})
	if err != nil {
		return ledger.Account{}, err
	}
	acct, ok := accounts[number]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return acct, nil
}

// List returns active accounts ordered by number, optionally narrowed to
// the given types.
func (d *AccountDirectory) List(ctx context.Context, types []ledger.AccountType) ([]ledger.Account, error) {
	for _, t := range types {
		if !t.Known() {
			return nil, fmt.Errorf("%w: account type %q", ErrInvalidRequest, t)
		}
	}
	var b suiteql.Builder
	b.Line("SELECT a.acctnumber, a.acctname, a.fullname, a.accttype")
	b.Line("FROM Account a")
	var w suiteql.Where
	w.Add("a.isinactive = ?", false)
	if len(types) > 0 {
		w.In("a.accttype", suiteql.Strings(types)...)
	}
	w.WriteTo(&b)
	b.Line("ORDER BY a.acctnumber")
	rows, err := d.exec.Execute(ctx, b.Build("accounts_list", 0))
	if err != nil {
		return nil, componentErr("accounts", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		if acct, ok := accountFromRow(row); ok {
			d.cache.Accounts.Set(acct.Number, acct)
			out = append(out, acct)
		}
	}
	return out, nil
}

func accountFromRow(row suiteql.Row) (ledger.Account, bool) {
	number := row.String("acctnumber")
	if number == "" {
		return ledger.Account{}, false
	}
	t, _ := ledger.ParseAccountType(row.String("accttype"))
	return ledger.Account{
		Number:   number,
		Name:     row.String("acctname"),
		FullName: row.String("fullname"),
		Type:     t,
	}, true
}
