package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/batchline-erp/batchline-erp/internal/app"
	"github.com/batchline-erp/batchline-erp/internal/auth"
	"github.com/batchline-erp/batchline-erp/internal/formula"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/materials"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/packaging"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/products"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/suppliers"
	"github.com/batchline-erp/batchline-erp/internal/observability"
	"github.com/batchline-erp/batchline-erp/internal/platform/cache"
	"github.com/batchline-erp/batchline-erp/internal/platform/db"
	"github.com/batchline-erp/batchline-erp/internal/shared"
	"github.com/batchline-erp/batchline-erp/internal/stock"
	"github.com/batchline-erp/batchline-erp/jobs"
)

// formulaPort adapts the formula service to the conversion engine's view of
// product formulas.
type formulaPort struct {
	service *formula.Service
}

func (p formulaPort) Entries(ctx context.Context, productID int64) ([]stock.FormulaEntry, error) {
	rows, err := p.service.GetFormula(ctx, productID)
	if err != nil {
		return nil, err
	}
	entries := make([]stock.FormulaEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, stock.FormulaEntry{MaterialID: row.MaterialID, QtyPerUnit: row.Quantity})
	}
	return entries, nil
}

func (p formulaPort) Weight(ctx context.Context, productID int64) (float64, error) {
	return p.service.Weight(ctx, productID)
}

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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Bearer tokens and the formula weight cache live in redis.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	authRepo := auth.NewRepository(dbpool)
	tokenStore := auth.NewTokenStore(redisClient, cfg.AuthTokenTTL)
	authService := auth.NewService(authRepo, tokenStore)
	authHandler := auth.NewHandler(logger, authService)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	suppliersService := suppliers.NewService(suppliers.NewRepository(dbpool))
	materialsService := materials.NewService(materials.NewRepository(dbpool))
	packagingService := packaging.NewService(packaging.NewRepository(dbpool))
	productsService := products.NewService(products.NewRepository(dbpool))

	weightCache := formula.NewWeightCache(redisClient, cfg.FormulaCacheTTL)
	formulaService := formula.NewService(formula.NewRepository(dbpool), weightCache)

	stockRepo := stock.NewRepository(dbpool, cfg.LockTimeout)
	stockService := stock.NewService(
		stockRepo,
		formulaPort{service: formulaService},
		productsService,
		formulaService,
		auditLogger,
		idempotencyStore,
		metrics,
		stock.ServiceConfig{PackagingPerRun: cfg.PackagingConsumption == app.PackagingPerRun},
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthService:      authService,
		AuthHandler:      authHandler,
		StockHandler:     stock.NewHandler(logger, stockService),
		FormulaHandler:   formula.NewHandler(logger, formulaService),
		SuppliersHandler: suppliers.NewHandler(logger, suppliersService),
		MaterialsHandler: materials.NewHandler(logger, materialsService),
		PackagingHandler: packaging.NewHandler(logger, packagingService),
		ProductsHandler:  products.NewHandler(logger, productsService),
		JobsHandler:      jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
