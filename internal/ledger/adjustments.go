package ledger

import (
	"context"
	"log/slog"

	"github.com/routefare/routefare/internal/shared"
)

// Adjuster applies admin fee adjustments (waiver, discount) under the same
// per-student serialization as reconciliation.
type Adjuster struct {
	repo   ReconcilerRepo
	audit  AuditPort
	logger *slog.Logger
}

// NewAdjuster builds an Adjuster.
func NewAdjuster(repo ReconcilerRepo, audit AuditPort, logger *slog.Logger) *Adjuster {
	return &Adjuster{repo: repo, audit: audit, logger: logger}
}

// Waive zeroes the accrued late fee on a non-PAID due and recomputes the
// total. A waiver does not freeze the fee: the next accrual sweep
// re-accrues from the current overdue window.
func (a *Adjuster) Waive(ctx context.Context, dueID, actorID int64) (*Due, error) {
	if dueID == 0 || actorID == 0 {
		return nil, ErrInvalidInput
	}

	var (
		updated    *Due
		oldLateFee float64
	)
	err := a.repo.WithDueTx(ctx, dueID, func(ctx context.Context, tx TxLedger) error {
		due, err := tx.GetDue(ctx, dueID)
		if err != nil {
			return err
		}
		if due.Status == DueStatusPaid {
			return ErrAlreadyPaid
		}
		oldLateFee = due.LateFee
		totalDue := due.BaseFee - due.Discount
		if err := tx.UpdateDueFees(ctx, dueID, 0, due.Discount, totalDue); err != nil {
			return err
		}
		due.LateFee = 0
		due.TotalDue = totalDue
		updated = due
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.audit.RecordBestEffort(ctx, shared.AuditLog{
		ActorID:   actorID,
		Action:    "WAIVE_LATE_FEE",
		Entity:    "DUE",
		EntityID:  formatID(dueID),
		OldValues: map[string]any{"late_fee": oldLateFee},
		NewValues: map[string]any{"late_fee": 0.0},
	})
	return updated, nil
}

// ApplyDiscount sets the admin discount and recomputes the total. The
// amount is not clamped to the outstanding total; a discount larger than
// base + late fee yields a negative total, treated as a credit balance.
func (a *Adjuster) ApplyDiscount(ctx context.Context, dueID int64, amount float64, actorID int64) (*Due, error) {
	if dueID == 0 || actorID == 0 || amount < 0 {
		return nil, ErrInvalidInput
	}

	var (
		updated     *Due
		oldDiscount float64
	)
	err := a.repo.WithDueTx(ctx, dueID, func(ctx context.Context, tx TxLedger) error {
		due, err := tx.GetDue(ctx, dueID)
		if err != nil {
			return err
		}
		if due.Status == DueStatusPaid {
			return ErrAlreadyPaid
		}
		oldDiscount = due.Discount
		totalDue := due.BaseFee + due.LateFee - amount
		if err := tx.UpdateDueFees(ctx, dueID, due.LateFee, amount, totalDue); err != nil {
			return err
		}
		due.Discount = amount
		due.TotalDue = totalDue
		updated = due
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.audit.RecordBestEffort(ctx, shared.AuditLog{
		ActorID:   actorID,
		Action:    "APPLY_DISCOUNT",
		Entity:    "DUE",
		EntityID:  formatID(dueID),
		OldValues: map[string]any{"discount": oldDiscount},
		NewValues: map[string]any{"discount": amount},
	})
	return updated, nil
}
