// Command glbridgectl runs balance queries against the configured ledger
// backend and manages the warm-up queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/glbridge/cmd/glbridgectl/cli"
	"github.com/odyssey-erp/glbridge/internal/app"
	"github.com/odyssey-erp/glbridge/internal/ledger"
	"github.com/odyssey-erp/glbridge/jobs"
)

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		if exit, ok := err.(exitError); ok {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitFailed)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "glbridgectl",
		Short:         "Query consolidated GL balances and manage cache warm-ups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBalanceCmd(), newExportCmd(), newEquityCmd(), newWarmupCmd(), newQueueCmd())
	return root
}

type gridFlags struct {
	accounts []string
	periods  []string
	filters  ledger.FilterInput
	book     int64
	json     bool
}

func (f *gridFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.accounts, "account", "a", nil, "account numbers (repeat or comma separate)")
	cmd.Flags().StringSliceVarP(&f.periods, "period", "p", nil, "period names such as \"Jan 2025\"")
	bindFilters(cmd, &f.filters)
	cmd.Flags().Int64Var(&f.book, "book", 0, "accounting book id (default: configured book)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("period")
}

func bindFilters(cmd *cobra.Command, filters *ledger.FilterInput) {
	cmd.Flags().StringVar(&filters.Subsidiary, "subsidiary", "", "subsidiary name or id")
	cmd.Flags().StringVar(&filters.Department, "department", "", "department name or id")
	cmd.Flags().StringVar(&filters.Class, "class", "", "class name or id")
	cmd.Flags().StringVar(&filters.Location, "location", "", "location name or id")
}

// withLedger builds the engine from configuration and runs fn against it.
func withLedger(cmd *cobra.Command, fn func(*cli.LedgerCLI) int) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	engine, err := app.NewEngine(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer engine.Close()
	ledgerCLI, err := cli.NewLedgerCLI(engine.Service)
	if err != nil {
		return err
	}
	if code := fn(ledgerCLI); code != cli.ExitOK {
		return exitError{code: code}
	}
	return nil
}

func newBalanceCmd() *cobra.Command {
	var flags gridFlags
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a balance grid for accounts by period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(c *cli.LedgerCLI) int {
				return c.BalanceCommand(cmd.Context(), cli.GridOptions{
					Accounts:   flags.accounts,
					Periods:    flags.periods,
					Filters:    flags.filters,
					Book:       flags.book,
					JSONOutput: flags.json,
					Stdout:     cmd.OutOrStdout(),
					Stderr:     cmd.ErrOrStderr(),
				})
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.json, "json", false, "print JSON instead of a table")
	return cmd
}

func newExportCmd() *cobra.Command {
	var flags gridFlags
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a balance grid to an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(c *cli.LedgerCLI) int {
				return c.ExportCommand(cmd.Context(), cli.GridOptions{
					Accounts: flags.accounts,
					Periods:  flags.periods,
					Filters:  flags.filters,
					Book:     flags.book,
					Output:   out,
					Stdout:   cmd.OutOrStdout(),
					Stderr:   cmd.ErrOrStderr(),
				})
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "balances.xlsx", "workbook path")
	return cmd
}

func newEquityCmd() *cobra.Command {
	var (
		period  string
		filters ledger.FilterInput
		book    int64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "equity",
		Short: "Print retained earnings, net income and CTA for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, func(c *cli.LedgerCLI) int {
				return c.EquityCommand(cmd.Context(), cli.EquityOptions{
					Period:     period,
					Filters:    filters,
					Book:       book,
					JSONOutput: asJSON,
					Stdout:     cmd.OutOrStdout(),
					Stderr:     cmd.ErrOrStderr(),
				})
			})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "period name such as \"Dec 2024\"")
	bindFilters(cmd, &filters)
	cmd.Flags().Int64Var(&book, "book", 0, "accounting book id (default: configured book)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

// withJobs connects to the queue named by REDIS_ADDR.
func withJobs(fn func(*cli.JobsCLI) int) error {
	cfg, err := app.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()
	if code := fn(jobsCLI); code != cli.ExitOK {
		return exitError{code: code}
	}
	return nil
}

func newWarmupCmd() *cobra.Command {
	var payload jobs.BalanceWarmupPayload
	var book int64
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Enqueue a balance cache warm-up",
		Long: "Enqueue a balance cache warm-up. Periods accept \"current\" and \"previous\"; " +
			"omitted accounts and periods use the worker's WARMUP_* defaults.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if book > 0 {
				payload.Book = &book
			}
			return withJobs(func(c *cli.JobsCLI) int {
				return c.WarmupCommand(cmd.Context(), cli.WarmupOptions{
					Payload: payload,
					Stdout:  cmd.OutOrStdout(),
					Stderr:  cmd.ErrOrStderr(),
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&payload.Accounts, "account", "a", nil, "account numbers")
	cmd.Flags().StringSliceVarP(&payload.Periods, "period", "p", nil, "period names or current/previous")
	bindFilters(cmd, &payload.Filters)
	cmd.Flags().Int64Var(&book, "book", 0, "accounting book id")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Print warm-up queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(func(c *cli.JobsCLI) int {
				return c.QueueCommand(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
}
