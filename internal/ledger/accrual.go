package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Assessment is the outcome of applying a late-fee policy to one due.
type Assessment struct {
	Status   DueStatus
	LateFee  float64
	TotalDue float64
}

// Assess computes the accrual outcome for an unpaid due. Pure function of
// (due, policy, now): the status flips to OVERDUE one-way once the due
// date passes, and the late fee only ratchets upward, capped by the
// policy maximum. The second return reports whether anything changed.
func Assess(due Due, pol AccrualPolicy, now time.Time) (Assessment, bool) {
	out := Assessment{Status: due.Status, LateFee: due.LateFee, TotalDue: due.TotalDue}
	if due.Status == DueStatusPaid {
		return out, false
	}

	today := truncateToDay(now)
	dueDate := truncateToDay(due.DueDate)
	if !today.After(dueDate) {
		return out, false
	}

	changed := false
	if out.Status != DueStatusOverdue {
		out.Status = DueStatusOverdue
		changed = true
	}

	overdueDays := int(today.Sub(dueDate).Hours() / 24)
	if overdueDays < 0 {
		overdueDays = 0
	}
	if overdueDays > pol.GraceDays {
		penaltyDays := overdueDays - pol.GraceDays
		candidate := float64(penaltyDays) * pol.DailyRate
		if candidate > pol.MaxLateFee {
			candidate = pol.MaxLateFee
		}
		// Monotonic ratchet: never lower a fee already computed from a
		// longer overdue window, even if the policy moved down intraday.
		if candidate > out.LateFee {
			out.LateFee = candidate
			changed = true
		}
	}

	out.TotalDue = due.BaseFee + out.LateFee - due.Discount
	if out.TotalDue != due.TotalDue {
		changed = true
	}
	return out, changed
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// PolicyProvider supplies the active accrual policy. Implementations fall
// back to a configured default instead of failing the sweep.
type PolicyProvider interface {
	ActiveAccrualPolicy(ctx context.Context) (AccrualPolicy, error)
}

// AccrualRepo is the slice of the ledger store the accrual sweep needs.
// Each due's mutation commits independently so an aborted sweep leaves a
// valid ledger and a rerun converges on the same fixed point.
type AccrualRepo interface {
	ListOpenDues(ctx context.Context) ([]Due, error)
	ApplyAccrual(ctx context.Context, dueID int64, a Assessment) error
	ListUnpaidDueOn(ctx context.Context, date time.Time) ([]Due, error)
}

// ReminderNotifier queues upcoming-due reminders.
type ReminderNotifier interface {
	DueReminder(ctx context.Context, studentID int64, due DueSummary, daysLeft int) error
}

// Accruer runs the scheduled late-fee sweep.
type Accruer struct {
	repo     AccrualRepo
	policies PolicyProvider
	fallback AccrualPolicy
	logger   *slog.Logger
}

// NewAccruer builds an Accruer. The fallback policy applies when the
// provider has nothing active.
func NewAccruer(repo AccrualRepo, policies PolicyProvider, fallback AccrualPolicy, logger *slog.Logger) *Accruer {
	return &Accruer{repo: repo, policies: policies, fallback: fallback, logger: logger}
}

// Accrue applies the active policy to every open due and returns how many
// were updated. Safe to rerun: a second pass on an unchanged now is a
// no-op.
func (a *Accruer) Accrue(ctx context.Context, now time.Time) (int, error) {
	pol := a.fallback
	if a.policies != nil {
		active, err := a.policies.ActiveAccrualPolicy(ctx)
		if err != nil {
			a.logger.Warn("no active late-fee policy, using fallback", slog.Any("error", err))
		} else {
			pol = active
		}
	}

	dues, err := a.repo.ListOpenDues(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, due := range dues {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		assessment, changed := Assess(due, pol, now)
		if !changed {
			continue
		}
		if err := a.repo.ApplyAccrual(ctx, due.ID, assessment); err != nil {
			a.logger.Error("apply accrual",
				slog.Int64("due_id", due.ID),
				slog.Any("error", err))
			continue
		}
		updated++
	}
	return updated, nil
}

// Remind queues reminders for dues falling due in 3 days and in 1 day.
func (a *Accruer) Remind(ctx context.Context, now time.Time, notifier ReminderNotifier) (int, error) {
	if notifier == nil {
		return 0, nil
	}
	sent := 0
	for _, daysLeft := range []int{3, 1} {
		target := truncateToDay(now).AddDate(0, 0, daysLeft)
		dues, err := a.repo.ListUnpaidDueOn(ctx, target)
		if err != nil {
			return sent, err
		}
		for _, due := range dues {
			summary := DueSummary{
				DueID:     due.ID,
				StudentID: due.StudentID,
				Month:     due.Month,
				Year:      due.Year,
			}
			if err := notifier.DueReminder(ctx, due.StudentID, summary, daysLeft); err != nil {
				a.logger.Warn("queue due reminder",
					slog.Int64("due_id", due.ID),
					slog.Any("error", err))
				continue
			}
			sent++
		}
	}
	return sent, nil
}
