package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/routefare/routefare/internal/shared"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// TxLedger is the transactional view of the ledger store. Every method runs
// inside the per-student critical section opened by WithDueTx.
type TxLedger interface {
	GetDue(ctx context.Context, id int64) (*Due, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	// EarliestUnpaidBefore returns the oldest open period of the student
	// strictly earlier than the given one, or nil when none exists.
	EarliestUnpaidBefore(ctx context.Context, studentID int64, before Period) (*Period, error)
	MarkDuePaid(ctx context.Context, dueID int64, receiptNumber string) error
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error)
	UpdateDueFees(ctx context.Context, dueID int64, lateFee, discount, totalDue float64) error
}

// ReconcilerRepo opens the per-student serialized transaction the
// reconciliation steps run in. The student scope matters: two racing
// settlements for sibling dues of one student must not both pass the
// prior-unpaid check.
type ReconcilerRepo interface {
	WithDueTx(ctx context.Context, dueID int64, fn func(ctx context.Context, tx TxLedger) error) error
	LookupDueIDByBarcode(ctx context.Context, barcode string) (int64, error)
}

// AuditPort abstracts the append-only audit sink.
type AuditPort interface {
	RecordBestEffort(ctx context.Context, log shared.AuditLog)
}

// Notifier receives the payment-confirmed event after commit. The
// reconciler does not wait for delivery.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, studentID int64, due DueSummary) error
}

// Reconciler is the single state authority for payments. All entry points
// (API, webhook, offline clerk, barcode scan) normalize into Reconcile.
type Reconciler struct {
	repo     ReconcilerRepo
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(repo ReconcilerRepo, audit AuditPort, notifier Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, audit: audit, notifier: notifier, logger: logger, now: time.Now}
}

// Reconcile settles a payment assertion against a due. Within one
// transaction it checks transaction-id idempotency, the already-paid
// state, and the sequential-settlement invariant, then flips the due to
// PAID and appends the payment row. Duplicate transaction ids return the
// due unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, input ReconcileInput) (*Due, error) {
	if input.DueID == 0 || input.TransactionID == "" {
		return nil, ErrInvalidInput
	}
	if input.ActorID == 0 {
		return nil, ErrInvalidInput
	}
	if input.Method == "" {
		input.Method = MethodOnline
	}

	var (
		settled    *Due
		summary    DueSummary
		prevStatus DueStatus
		noop       bool
	)

	err := r.repo.WithDueTx(ctx, input.DueID, func(ctx context.Context, tx TxLedger) error {
		due, err := tx.GetDue(ctx, input.DueID)
		if err != nil {
			return err
		}

		// Idempotency short-circuit: a transaction id we have already
		// recorded means a webhook retry or duplicate client submission.
		existing, err := tx.GetPaymentByTransactionID(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			settled = due
			noop = true
			return nil
		}

		if due.Status == DueStatusPaid {
			return ErrAlreadyPaid
		}

		blocking, err := tx.EarliestUnpaidBefore(ctx, due.StudentID, due.Period())
		if err != nil {
			return err
		}
		if blocking != nil {
			return &PriorDuesError{Earliest: *blocking}
		}

		prevStatus = due.Status
		now := r.now()
		receipt := GenerateReceiptNumber(now)
		if err := tx.MarkDuePaid(ctx, due.ID, receipt); err != nil {
			return err
		}

		// The due's TotalDue is the authoritative settlement amount;
		// exact-amount offline entries record what the clerk asserted.
		amount := due.TotalDue
		if input.AssertAmount && input.Amount > 0 {
			amount = input.Amount
		}
		payment, err := tx.CreatePayment(ctx, CreatePaymentInput{
			DueID:         due.ID,
			Amount:        amount,
			TransactionID: input.TransactionID,
			Method:        input.Method,
			Status:        "success",
			PaidAt:        now,
		})
		if err != nil {
			return err
		}

		due.Status = DueStatusPaid
		due.ReceiptNumber = receipt
		settled = due
		summary = DueSummary{
			DueID:         due.ID,
			StudentID:     due.StudentID,
			Month:         due.Month,
			Year:          due.Year,
			AmountPaid:    payment.Amount,
			ReceiptNumber: receipt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if noop {
		return settled, nil
	}

	if r.audit != nil {
		r.audit.RecordBestEffort(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "RECONCILE_PAYMENT",
			Entity:   "DUE",
			EntityID: formatID(settled.ID),
			OldValues: map[string]any{
				"status": string(prevStatus),
			},
			NewValues: map[string]any{
				"status":         string(DueStatusPaid),
				"transaction_id": input.TransactionID,
				"method":         string(input.Method),
				"amount":         summary.AmountPaid,
			},
		})
	}

	if r.notifier != nil {
		if err := r.notifier.PaymentConfirmed(ctx, summary.StudentID, summary); err != nil {
			r.logger.Warn("queue payment confirmation",
				slog.Int64("due_id", summary.DueID),
				slog.Any("error", err))
		}
	}

	return settled, nil
}

// ReconcileBarcode resolves a scanned barcode to its due and settles it.
func (r *Reconciler) ReconcileBarcode(ctx context.Context, barcode, transactionID string, actorID int64) (*Due, error) {
	if barcode == "" {
		return nil, ErrInvalidInput
	}
	dueID, err := r.repo.LookupDueIDByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if transactionID == "" {
		transactionID = OfflineTransactionID(dueID)
	}
	return r.Reconcile(ctx, ReconcileInput{
		DueID:         dueID,
		TransactionID: transactionID,
		Method:        MethodBarcode,
		ActorID:       actorID,
	})
}
