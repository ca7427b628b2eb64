package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/routefare/routefare/internal/app"
	"github.com/routefare/routefare/internal/ledger"
	"github.com/routefare/routefare/internal/notify"
	"github.com/routefare/routefare/internal/platform/cache"
	"github.com/routefare/routefare/internal/platform/db"
	"github.com/routefare/routefare/internal/policy"
	"github.com/routefare/routefare/internal/tariff"
	"github.com/routefare/routefare/jobs"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

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

	ledgerRepo := ledger.NewRepository(pool)
	tariffSource := tariff.NewSource(pool, cfg.DefaultTariff)
	policyRepo := policy.NewRepository(pool)
	policyProvider := policy.NewProvider(policyRepo, redisClient, cfg.PolicyCacheTTL, logger)

	fallback := ledger.AccrualPolicy{
		DailyRate:  cfg.FallbackDailyRate,
		GraceDays:  cfg.FallbackGraceDays,
		MaxLateFee: cfg.FallbackMaxLateFee,
	}
	accruer := ledger.NewAccruer(ledgerRepo, policyProvider, fallback, logger)
	generator := ledger.NewGenerator(ledgerRepo, tariffSource, ledger.GeneratorConfig{
		DueDay:        cfg.DueDay,
		DefaultTariff: cfg.DefaultTariff,
	}, logger)

	accrualJob := jobs.NewFeeAccrualJob(accruer, logger, nil)
	generationJob := jobs.NewDueGenerationJob(generator, logger, nil)
	reminderJob := jobs.NewDueReminderScanJob(accruer, dispatcher, logger, nil)

	accrualTask, err := jobs.NewFeeAccrualTask(time.Now().UTC())
	if err != nil {
		logger.Error("build accrual task", slog.Any("error", err))
		os.Exit(1)
	}
	generationTask, err := jobs.NewDueGenerationTask(jobs.DueGenerationPayload{})
	if err != nil {
		logger.Error("build generation task", slog.Any("error", err))
		os.Exit(1)
	}
	reminderTask, err := jobs.NewDueReminderScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build reminder task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFeeAccrual, Handler: accrualJob.Handle},
			{Type: jobs.TaskDueGeneration, Handler: generationJob.Handle},
			{Type: jobs.TaskDueReminderScan, Handler: reminderJob.Handle},
			{Type: jobs.TaskPaymentConfirmed, Handler: jobs.HandlePaymentConfirmedTask},
			{Type: jobs.TaskDueReminder, Handler: jobs.HandleDueReminderTask},
		},
		Cron: []jobs.CronRegistration{
			// Accrual and reminders sweep every morning; generation fires on
			// the first of the month for the new period.
			{Spec: "0 9 * * *", Task: accrualTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 9 * * *", Task: reminderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 6 1 * *", Task: generationTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
