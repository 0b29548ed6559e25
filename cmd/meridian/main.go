package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/integration"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/categories"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/locations"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/units"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	hooks := integration.NewHooks(jobClient, logger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, logger, hooks)
	ledgerService.AllowNegativeByDefault(cfg.LedgerAllowNegative)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, metrics)

	conversionCache := products.NewConversionCache(redisClient, cfg.ConversionCacheTTL)
	productsService := products.NewService(products.NewRepository(pool), conversionCache, logger)
	productsHandler := products.NewHandler(logger, productsService)

	unitsHandler := units.NewHandler(logger, units.NewService(units.NewRepository(pool)))
	locationsHandler := locations.NewHandler(logger, locations.NewService(locations.NewRepository(pool)))
	categoriesHandler := categories.NewHandler(logger, categories.NewService(categories.NewRepository(pool)))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		LedgerHandler:     ledgerHandler,
		ProductsHandler:   productsHandler,
		UnitsHandler:      unitsHandler,
		LocationsHandler:  locationsHandler,
		CategoriesHandler: categoriesHandler,
		JobsHandler:       jobsHandler,
		Pool:              pool,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
