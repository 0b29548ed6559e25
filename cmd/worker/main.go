package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	conversionCache := products.NewConversionCache(redisClient, cfg.ConversionCacheTTL)
	productsService := products.NewService(products.NewRepository(pool), conversionCache, logger)

	sweepTask, err := jobs.NewRetireSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build retire sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewConversionWarmupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRetireSweep, Handler: jobs.NewRetireSweepHandler(pool, logger)},
			{Type: jobs.TaskConversionWarmup, Handler: jobs.NewConversionWarmupHandler(productsService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RetireSweepSchedule, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.WarmupSchedule, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
