package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/glbridge/internal/app"
	consolhttp "github.com/odyssey-erp/glbridge/internal/consol/http"
	"github.com/odyssey-erp/glbridge/internal/observability"
	platformcache "github.com/odyssey-erp/glbridge/internal/platform/cache"
	"github.com/odyssey-erp/glbridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()
	if err := consolhttp.SetupCacheMetrics(metrics.Registerer()); err != nil {
		logger.Warn("grid metrics", slog.Any("error", err))
	}

	engine, err := app.NewEngine(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build ledger engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer engine.Close()

	handlerOpts := consolhttp.Options{
		Backend:     engine.Backend,
		ExportLimit: cfg.ExportRateLimit,
	}
	var jobHandler *jobs.Handler
	workerErr := make(chan error, 1)

	if cfg.WorkerEnabled {
		redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer closeRedis(logger, redisClient)

		redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
		if err != nil {
			logger.Error("redis options", slog.Any("error", err))
			os.Exit(1)
		}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		handlerOpts.Warmup = client

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, redisClient, logger)

		worker, err := newWorker(cfg, logger, metrics, engine, redisOpts)
		if err != nil {
			logger.Error("init worker", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			workerErr <- worker.Run(ctx)
		}()
	}

	consolHandler, err := consolhttp.NewHandler(logger, engine.Service, handlerOpts)
	if err != nil {
		logger.Error("init balance handler", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		ConsolHandler: consolHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-workerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker run", slog.Any("error", err))
		}
		stop()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func newWorker(cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics, engine *app.Engine, redisOpts asynq.RedisClientOpt) (*jobs.Worker, error) {
	defaults := jobs.BalanceWarmupPayload{
		Accounts: cfg.WarmupAccounts,
		Periods:  cfg.WarmupPeriods,
	}
	warmup := jobs.NewBalanceWarmupJob(engine.Service, defaults, logger, metrics.Jobs())

	var cron []jobs.CronRegistration
	if cfg.WarmupCron != "" {
		task, err := jobs.NewScheduledWarmupTask()
		if err != nil {
			return nil, err
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.WarmupCron, Task: task})
	}

	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBalanceWarmup, Handler: warmup.Handle},
		},
		Cron: cron,
	})
}

func closeRedis(logger *slog.Logger, client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
