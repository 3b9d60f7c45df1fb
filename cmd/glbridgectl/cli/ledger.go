package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/ledger"
)

// Exit codes shared by the ledger commands.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitPartial = 10
)

// Ledger is the subset of the balance service the CLI drives.
type Ledger interface {
	Batch(ctx context.Context, req consol.BatchRequest) (consol.BatchResult, error)
	Equity(ctx context.Context, req consol.EquityRequest) (consol.EquityResult, error)
}

// LedgerCLI runs balance queries in-process against the configured backend.
type LedgerCLI struct {
	ledger Ledger
}

// NewLedgerCLI wraps a balance service.
func NewLedgerCLI(l Ledger) (*LedgerCLI, error) {
	if l == nil {
		return nil, errors.New("ledger cli: service required")
	}
	return &LedgerCLI{ledger: l}, nil
}

// GridOptions defines the flags shared by balance and export.
type GridOptions struct {
	Accounts   []string
	Periods    []string
	Filters    ledger.FilterInput
	Book       int64
	JSONOutput bool
	Output     string
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *GridOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o GridOptions) request() consol.BatchRequest {
	req := consol.BatchRequest{Accounts: o.Accounts, Periods: o.Periods, Filters: o.Filters}
	if o.Book > 0 {
		book := o.Book
		req.Book = &book
	}
	return req
}

// BalanceCommand prints a balance grid. Accounts that failed make the
// command exit with ExitPartial.
func (c *LedgerCLI) BalanceCommand(ctx context.Context, opts GridOptions) int {
	opts.defaults()
	res, err := c.ledger.Batch(ctx, opts.request())
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "balance: %v\n", err)
		return ExitFailed
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "balance: encode json: %v\n", err)
			return ExitFailed
		}
	} else {
		renderGrid(opts.Stdout, opts.Periods, res)
	}
	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(opts.Stderr, "warning: %s\n", w)
	}
	if len(res.Errors) > 0 {
		return ExitPartial
	}
	return ExitOK
}

// ExportCommand writes a balance grid to an XLSX workbook.
func (c *LedgerCLI) ExportCommand(ctx context.Context, opts GridOptions) int {
	opts.defaults()
	if strings.TrimSpace(opts.Output) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "export: --out is required")
		return ExitFailed
	}
	res, err := c.ledger.Batch(ctx, opts.request())
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "export: %v\n", err)
		return ExitFailed
	}
	f, err := os.Create(opts.Output)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "export: %v\n", err)
		return ExitFailed
	}
	if err := consol.WriteXLSX(f, opts.Periods, res); err != nil {
		_ = f.Close()
		_, _ = fmt.Fprintf(opts.Stderr, "export: %v\n", err)
		return ExitFailed
	}
	if err := f.Close(); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "export: %v\n", err)
		return ExitFailed
	}
	_, _ = fmt.Fprintf(opts.Stdout, "wrote %d accounts x %d periods to %s\n", len(res.Balances)+len(res.Errors), len(opts.Periods), opts.Output)
	if len(res.Errors) > 0 {
		return ExitPartial
	}
	return ExitOK
}

// EquityOptions defines the flags of the equity command.
type EquityOptions struct {
	Period     string
	Filters    ledger.FilterInput
	Book       int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// EquityCommand prints the derived equity figures of one period.
func (c *LedgerCLI) EquityCommand(ctx context.Context, opts EquityOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	req := consol.EquityRequest{Period: opts.Period, Filters: opts.Filters}
	if opts.Book > 0 {
		book := opts.Book
		req.Book = &book
	}
	res, err := c.ledger.Equity(ctx, req)
	if err != nil {
		component := consol.ComponentOf(err)
		if component != "" {
			_, _ = fmt.Fprintf(opts.Stderr, "equity: %s failed: %v\n", component, err)
		} else {
			_, _ = fmt.Fprintf(opts.Stderr, "equity: %v\n", err)
		}
		return ExitFailed
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "equity: encode json: %v\n", err)
			return ExitFailed
		}
		return ExitOK
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintf(tw, "Period\t%s\t\n", res.Period)
	_, _ = fmt.Fprintf(tw, "Total assets\t%s\t\n", res.TotalAssets.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "Total liabilities\t%s\t\n", res.TotalLiabilities.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "Posted equity\t%s\t\n", res.PostedEquity.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "Retained earnings\t%s\t\n", res.RetainedEarnings.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "Net income\t%s\t\n", res.NetIncome.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "CTA\t%s\t\n", res.CTA.StringFixed(2))
	_ = tw.Flush()
	for _, w := range res.Warnings {
		_, _ = fmt.Fprintf(opts.Stderr, "warning: %s\n", w)
	}
	return ExitOK
}

func renderGrid(w io.Writer, periods []string, res consol.BatchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Account\tName\t%s\n", strings.Join(periods, "\t"))

	accounts := make([]string, 0, len(res.Balances)+len(res.Errors))
	for account := range res.Balances {
		accounts = append(accounts, account)
	}
	for account := range res.Errors {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		cells := make([]string, 0, len(periods))
		if msg, failed := res.Errors[account]; failed {
			cells = append(cells, "ERROR: "+msg)
		} else {
			row := res.Balances[account]
			for _, p := range periods {
				cells = append(cells, row[p].StringFixed(2))
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", account, res.AccountNames[account], strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}
