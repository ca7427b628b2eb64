package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/routefare/routefare/internal/jobs"
	"github.com/routefare/routefare/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FeeAccrualJob runs the daily late-fee sweep.
type FeeAccrualJob struct {
	Accruer *ledger.Accruer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewFeeAccrualJob wires dependencies for the accrual handler.
func NewFeeAccrualJob(accruer *ledger.Accruer, logger *slog.Logger, metrics *jobmetrics.Metrics) *FeeAccrualJob {
	return &FeeAccrualJob{
		Accruer: accruer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (j *FeeAccrualJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes accrual sweep tasks.
func (j *FeeAccrualJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Accruer == nil {
		return errors.New("fee accrual: handler not configured")
	}
	var payload FeeAccrualPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskFeeAccrual)
	now := j.clock()
	updated, err := j.Accruer.Accrue(ctx, now)
	if err != nil {
		j.Logger.Error("fee accrual sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddDues("accrued", updated)
	j.Logger.Info("fee accrual sweep complete",
		slog.Int("updated", updated),
		slog.Time("as_of", now))
	return tracker.End(nil)
}

// DueGenerationJob creates the monthly dues batch.
type DueGenerationJob struct {
	Generator *ledger.Generator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewDueGenerationJob wires dependencies for the generation handler.
func NewDueGenerationJob(generator *ledger.Generator, logger *slog.Logger, metrics *jobmetrics.Metrics) *DueGenerationJob {
	return &DueGenerationJob{
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (j *DueGenerationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes due generation tasks.
func (j *DueGenerationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("due generation: handler not configured")
	}
	var payload DueGenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	period := ledger.Period{Month: payload.Month, Year: payload.Year}
	if !period.Valid() {
		period = ledger.PeriodOf(j.clock())
	}

	tracker := j.metrics().Track(TaskDueGeneration)
	created, err := j.Generator.GenerateForPeriod(ctx, period)
	if err != nil {
		j.Logger.Error("due generation",
			slog.String("period", period.String()),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddDues("generated", created)
	j.Logger.Info("due generation complete",
		slog.String("period", period.String()),
		slog.Int("created", created))
	return tracker.End(nil)
}

// DueReminderScanJob queues reminders for dues approaching their date.
type DueReminderScanJob struct {
	Accruer  *ledger.Accruer
	Notifier ledger.ReminderNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewDueReminderScanJob wires dependencies for the reminder scan handler.
func NewDueReminderScanJob(accruer *ledger.Accruer, notifier ledger.ReminderNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *DueReminderScanJob {
	return &DueReminderScanJob{
		Accruer:  accruer,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (j *DueReminderScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes reminder scan tasks.
func (j *DueReminderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Accruer == nil {
		return errors.New("due reminder scan: handler not configured")
	}
	var payload DueReminderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDueReminderScan)
	sent, err := j.Accruer.Remind(ctx, j.clock(), j.Notifier)
	if err != nil {
		j.Logger.Error("due reminder scan", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddDues("reminded", sent)
	j.Logger.Info("due reminder scan complete", slog.Int("queued", sent))
	return tracker.End(nil)
}
