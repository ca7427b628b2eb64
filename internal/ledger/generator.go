package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrDueExists signals the (student, period) uniqueness constraint fired;
// generation treats it as already-done, not as a failure.
var ErrDueExists = errors.New("ledger: due already exists for period")

// GeneratorRepo is the slice of the ledger store due generation needs.
type GeneratorRepo interface {
	ListActiveStudents(ctx context.Context) ([]Student, error)
	// CreateDue inserts one due row; returns ErrDueExists when the
	// (student, month, year) row is already present.
	CreateDue(ctx context.Context, input CreateDueInput) (*Due, error)
}

// TariffSource resolves the base fee for a student's route, falling back
// to the system default when the student has no route assignment.
type TariffSource interface {
	BaseFeeFor(ctx context.Context, studentID int64) (float64, error)
}

// GeneratorConfig carries billing defaults.
type GeneratorConfig struct {
	// DueDay is the day-of-month every generated due falls on.
	DueDay int
	// DefaultTariff applies when the tariff lookup itself fails.
	DefaultTariff float64
}

// Generator creates one due per billing student per period.
type Generator struct {
	repo    GeneratorRepo
	tariffs TariffSource
	cfg     GeneratorConfig
	logger  *slog.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(repo GeneratorRepo, tariffs TariffSource, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if cfg.DueDay < 1 || cfg.DueDay > 28 {
		cfg.DueDay = 10
	}
	return &Generator{repo: repo, tariffs: tariffs, cfg: cfg, logger: logger}
}

// GenerateForPeriod creates the period's dues for every active student and
// returns how many rows were created. Idempotent: a rerun for the same
// period creates nothing. Generation is best effort per student; one
// student's failure never aborts the batch.
func (g *Generator) GenerateForPeriod(ctx context.Context, period Period) (int, error) {
	if !period.Valid() {
		return 0, ErrInvalidInput
	}

	students, err := g.repo.ListActiveStudents(ctx)
	if err != nil {
		return 0, err
	}

	dueDate := time.Date(period.Year, time.Month(period.Month), g.cfg.DueDay, 0, 0, 0, 0, time.UTC)

	var created atomic.Int64
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(8)

	for _, student := range students {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			baseFee, err := g.tariffs.BaseFeeFor(ctx, student.ID)
			if err != nil {
				g.logger.Warn("tariff lookup failed, using default",
					slog.Int64("student_id", student.ID),
					slog.Any("error", err))
				baseFee = g.cfg.DefaultTariff
			}
			_, err = g.repo.CreateDue(ctx, CreateDueInput{
				StudentID: student.ID,
				Month:     period.Month,
				Year:      period.Year,
				BaseFee:   baseFee,
				DueDate:   dueDate,
				Barcode:   GenerateBarcode(student.ID, period),
			})
			switch {
			case errors.Is(err, ErrDueExists):
				return nil
			case err != nil:
				g.logger.Error("create due",
					slog.Int64("student_id", student.ID),
					slog.Any("error", err))
				return nil
			}
			created.Add(1)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return int(created.Load()), err
	}
	return int(created.Load()), nil
}

// GenerateForStudent backfills the current period's due for a student
// added mid-month, reusing the same idempotent creation path.
func (g *Generator) GenerateForStudent(ctx context.Context, studentID int64, now time.Time) (*Due, error) {
	if studentID == 0 {
		return nil, ErrInvalidInput
	}
	period := PeriodOf(now)
	baseFee, err := g.tariffs.BaseFeeFor(ctx, studentID)
	if err != nil {
		g.logger.Warn("tariff lookup failed, using default",
			slog.Int64("student_id", studentID),
			slog.Any("error", err))
		baseFee = g.cfg.DefaultTariff
	}
	due, err := g.repo.CreateDue(ctx, CreateDueInput{
		StudentID: studentID,
		Month:     period.Month,
		Year:      period.Year,
		BaseFee:   baseFee,
		DueDate:   time.Date(period.Year, time.Month(period.Month), g.cfg.DueDay, 0, 0, 0, 0, time.UTC),
		Barcode:   GenerateBarcode(studentID, period),
	})
	if errors.Is(err, ErrDueExists) {
		return nil, err
	}
	return due, err
}
