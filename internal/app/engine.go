package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/glbridge/internal/cache"
	"github.com/odyssey-erp/glbridge/internal/consol"
	"github.com/odyssey-erp/glbridge/internal/fanout"
	"github.com/odyssey-erp/glbridge/internal/observability"
	"github.com/odyssey-erp/glbridge/internal/pgmirror"
	"github.com/odyssey-erp/glbridge/internal/platform/db"
	"github.com/odyssey-erp/glbridge/internal/suiteql"
)

// Engine bundles the balance service with the resources backing it.
type Engine struct {
	Service  *consol.Service
	Backend  string
	Executor suiteql.Executor
	closers  []func()
}

// Close releases backend connections.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// NewEngine builds the executor for the configured backend and the service
// on top of it. Metrics may be nil.
func NewEngine(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ledgerMetrics := metrics.Ledger()

	engine := &Engine{Backend: cfg.LedgerBackend}
	switch cfg.LedgerBackend {
	case BackendSuiteQL:
		engine.Executor = suiteql.NewClient(cfg.Credentials(), suiteql.Options{
			Logger:         logger,
			Observer:       ledgerMetrics,
			DefaultTimeout: cfg.NetSuiteQueryTimeout,
		})
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "glbridge"})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		engine.closers = append(engine.closers, pool.Close)
		if err := pgmirror.EnsureSchema(ctx, pool); err != nil {
			engine.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		engine.Executor = pgmirror.New(pool, pgmirror.Options{
			Logger:         logger,
			Observer:       ledgerMetrics,
			DefaultTimeout: cfg.NetSuiteQueryTimeout,
		})
	default:
		return nil, fmt.Errorf("engine: unknown ledger backend %q", cfg.LedgerBackend)
	}

	service, err := NewService(cfg, engine.Executor, logger, metrics)
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.Service = service
	logger.Info("ledger engine ready",
		slog.String("backend", engine.Backend),
		slog.Int("concurrency", cfg.FanoutConcurrency),
		slog.Duration("balance_ttl", cfg.BalanceCacheTTL))
	return engine, nil
}

// NewService wires the cache, fanout pool and observers around exec.
func NewService(cfg *Config, exec suiteql.Executor, logger *slog.Logger, metrics *observability.Metrics) (*consol.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ledgerMetrics := metrics.Ledger()
	cacheOpts := cache.Options{BalanceTTL: cfg.BalanceCacheTTL}
	if metrics != nil {
		cacheMetrics, err := cache.NewMetrics(metrics.Registerer())
		if err != nil {
			return nil, fmt.Errorf("engine: cache metrics: %w", err)
		}
		cacheOpts.Observer = cacheMetrics
	}
	return consol.NewService(consol.Deps{
		Executor: exec,
		Cache:    cache.New(cacheOpts),
		Pool: fanout.New(fanout.Options{
			Concurrency:    cfg.FanoutConcurrency,
			DefaultTimeout: cfg.FanoutTaskTimeout,
			Logger:         logger,
			Observer:       ledgerMetrics,
		}),
		DefaultBook:  cfg.DefaultAccountingBook,
		AccountID:    cfg.NetSuiteAccountID,
		BuildTimeout: cfg.AppRequestTimeout,
		Observer:     ledgerMetrics,
		Logger:       logger,
	}), nil
}

// Credentials returns the token based auth secrets of the remote account.
func (c *Config) Credentials() suiteql.Credentials {
	return suiteql.Credentials{
		AccountID:      c.NetSuiteAccountID,
		ConsumerKey:    c.NetSuiteConsumerKey,
		ConsumerSecret: c.NetSuiteConsumerSecret,
		TokenID:        c.NetSuiteTokenID,
		TokenSecret:    c.NetSuiteTokenSecret,
	}
}
