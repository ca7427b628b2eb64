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

	"github.com/routefare/routefare/internal/app"
	"github.com/routefare/routefare/internal/ledger"
	"github.com/routefare/routefare/internal/notify"
	"github.com/routefare/routefare/internal/observability"
	"github.com/routefare/routefare/internal/platform/cache"
	"github.com/routefare/routefare/internal/platform/db"
	"github.com/routefare/routefare/internal/policy"
	"github.com/routefare/routefare/internal/receipt"
	"github.com/routefare/routefare/internal/shared"
	"github.com/routefare/routefare/internal/tariff"
	"github.com/routefare/routefare/internal/webhook"
	"github.com/routefare/routefare/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	auditLogger := shared.NewAuditLogger(dbpool, logger)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	dispatcher := notify.NewDispatcher(queueClient)

	ledgerRepo := ledger.NewRepository(dbpool)
	tariffSource := tariff.NewSource(dbpool, cfg.DefaultTariff)
	reconciler := ledger.NewReconciler(ledgerRepo, auditLogger, dispatcher, logger)
	generator := ledger.NewGenerator(ledgerRepo, tariffSource, ledger.GeneratorConfig{
		DueDay:        cfg.DueDay,
		DefaultTariff: cfg.DefaultTariff,
	}, logger)
	adjuster := ledger.NewAdjuster(ledgerRepo, auditLogger, logger)

	pdfClient := receipt.NewClient(cfg.GotenbergURL)
	receipts := receipt.NewRenderer(pdfClient, cfg.ReceiptDir)

	policyRepo := policy.NewRepository(dbpool)
	policyProvider := policy.NewProvider(policyRepo, redisClient, cfg.PolicyCacheTTL, logger)

	ledgerHandler := ledger.NewHandler(logger, ledgerRepo, reconciler, generator, adjuster, receipts)
	policyHandler := policy.NewHandler(logger, policyRepo, policyProvider, auditLogger)
	webhookHandler := webhook.NewHandler(logger, cfg.WebhookSecret, reconciler)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		LedgerHandler:  ledgerHandler,
		PolicyHandler:  policyHandler,
		WebhookHandler: webhookHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
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
