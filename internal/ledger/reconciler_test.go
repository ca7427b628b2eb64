package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routefare/routefare/internal/shared"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryLedgerRepo backs the ledger ports with maps. WithDueTx holds a
// single mutex for the whole closure, which is stricter than the
// per-student advisory lock but preserves its serialization guarantee.
type memoryLedgerRepo struct {
	mu            sync.Mutex
	dues          map[int64]*Due
	payments      map[string]*Payment
	students      []Student
	nextDueID     int64
	nextPaymentID int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		dues:     make(map[int64]*Due),
		payments: make(map[string]*Payment),
	}
}

func (r *memoryLedgerRepo) addDue(d Due) *Due {
	r.nextDueID++
	d.ID = r.nextDueID
	if d.Status == "" {
		d.Status = DueStatusUnpaid
	}
	if d.TotalDue == 0 {
		d.TotalDue = d.BaseFee + d.LateFee - d.Discount
	}
	r.dues[d.ID] = &d
	return r.dues[d.ID]
}

func (r *memoryLedgerRepo) WithDueTx(ctx context.Context, dueID int64, fn func(context.Context, TxLedger) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dues[dueID]; !ok {
		return ErrDueNotFound
	}
	// Snapshot for rollback on error.
	duesCopy := make(map[int64]*Due, len(r.dues))
	for id, d := range r.dues {
		c := *d
		duesCopy[id] = &c
	}
	paymentsCopy := make(map[string]*Payment, len(r.payments))
	for txn, p := range r.payments {
		c := *p
		paymentsCopy[txn] = &c
	}
	if err := fn(ctx, (*memoryTxLedger)(r)); err != nil {
		r.dues = duesCopy
		r.payments = paymentsCopy
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) LookupDueIDByBarcode(ctx context.Context, barcode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dues {
		if d.Barcode == barcode {
			return d.ID, nil
		}
	}
	return 0, ErrDueNotFound
}

type memoryTxLedger memoryLedgerRepo

func (t *memoryTxLedger) GetDue(ctx context.Context, id int64) (*Due, error) {
	d, ok := t.dues[id]
	if !ok {
		return nil, ErrDueNotFound
	}
	c := *d
	return &c, nil
}

func (t *memoryTxLedger) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	p, ok := t.payments[transactionID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (t *memoryTxLedger) EarliestUnpaidBefore(ctx context.Context, studentID int64, before Period) (*Period, error) {
	var earliest *Period
	for _, d := range t.dues {
		if d.StudentID != studentID || d.Status == DueStatusPaid {
			continue
		}
		p := d.Period()
		if !p.Before(before) {
			continue
		}
		if earliest == nil || p.Before(*earliest) {
			earliest = &p
		}
	}
	return earliest, nil
}

func (t *memoryTxLedger) MarkDuePaid(ctx context.Context, dueID int64, receiptNumber string) error {
	d, ok := t.dues[dueID]
	if !ok {
		return ErrDueNotFound
	}
	if d.Status == DueStatusPaid {
		return ErrAlreadyPaid
	}
	d.Status = DueStatusPaid
	d.ReceiptNumber = receiptNumber
	return nil
}

func (t *memoryTxLedger) CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error) {
	if _, ok := t.payments[input.TransactionID]; ok {
		return nil, fmt.Errorf("duplicate transaction %s", input.TransactionID)
	}
	t.nextPaymentID++
	p := &Payment{
		ID:            t.nextPaymentID,
		DueID:         input.DueID,
		Amount:        input.Amount,
		TransactionID: input.TransactionID,
		Method:        input.Method,
		Status:        input.Status,
		PaidAt:        input.PaidAt,
	}
	t.payments[input.TransactionID] = p
	c := *p
	return &c, nil
}

func (t *memoryTxLedger) UpdateDueFees(ctx context.Context, dueID int64, lateFee, discount, totalDue float64) error {
	d, ok := t.dues[dueID]
	if !ok {
		return ErrDueNotFound
	}
	d.LateFee = lateFee
	d.Discount = discount
	d.TotalDue = totalDue
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) RecordBestEffort(ctx context.Context, log shared.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []DueSummary
	reminders []DueSummary
}

func (n *recordingNotifier) PaymentConfirmed(ctx context.Context, studentID int64, due DueSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, due)
	return nil
}

func (n *recordingNotifier) DueReminder(ctx context.Context, studentID int64, due DueSummary, daysLeft int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, due)
	return nil
}

func newTestReconciler(repo *memoryLedgerRepo) (*Reconciler, *recordingAudit, *recordingNotifier) {
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}
	return NewReconciler(repo, audit, notifier, newTestLogger()), audit, notifier
}

func TestReconcileSettlesDue(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, audit, notifier := newTestReconciler(repo)

	settled, err := rec.Reconcile(context.Background(), ReconcileInput{
		DueID:         due.ID,
		TransactionID: "pay_abc",
		Method:        MethodOnline,
		ActorID:       7,
	})
	require.NoError(t, err)
	require.Equal(t, DueStatusPaid, settled.Status)
	require.NotEmpty(t, settled.ReceiptNumber)

	stored := repo.dues[due.ID]
	require.Equal(t, DueStatusPaid, stored.Status)
	require.Len(t, repo.payments, 1)
	require.Equal(t, 1500.0, repo.payments["pay_abc"].Amount)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "RECONCILE_PAYMENT", audit.logs[0].Action)
	require.Equal(t, int64(7), audit.logs[0].ActorID)
	require.Len(t, notifier.confirmed, 1)
	require.Equal(t, due.ID, notifier.confirmed[0].DueID)
}

func TestReconcileDuplicateTransactionIsNoop(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, audit, _ := newTestReconciler(repo)

	input := ReconcileInput{DueID: due.ID, TransactionID: "pay_dup", ActorID: 7}
	_, err := rec.Reconcile(context.Background(), input)
	require.NoError(t, err)

	again, err := rec.Reconcile(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, DueStatusPaid, again.Status)

	require.Len(t, repo.payments, 1)
	require.Len(t, audit.logs, 1, "a replay must not append a second audit entry")
}

func TestReconcileAlreadyPaidWithNewTransaction(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, TransactionID: "pay_1", ActorID: 7})
	require.NoError(t, err)

	_, err = rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, TransactionID: "pay_2", ActorID: 7})
	require.ErrorIs(t, err, ErrAlreadyPaid)
	require.Len(t, repo.payments, 1)
}

func TestReconcileRejectsMonthSkipping(t *testing.T) {
	repo := newMemoryLedgerRepo()
	march := repo.addDue(Due{StudentID: 1, Month: 3, Year: 2025, BaseFee: 1500})
	april := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: april.ID, TransactionID: "pay_apr", ActorID: 7})
	var prior *PriorDuesError
	require.ErrorAs(t, err, &prior)
	require.Equal(t, Period{Month: 3, Year: 2025}, prior.Earliest)
	require.ErrorIs(t, err, ErrPriorDuesOutstanding)
	require.Equal(t, DueStatusUnpaid, repo.dues[april.ID].Status)

	// Settling March unblocks April.
	_, err = rec.Reconcile(context.Background(), ReconcileInput{DueID: march.ID, TransactionID: "pay_mar", ActorID: 7})
	require.NoError(t, err)
	_, err = rec.Reconcile(context.Background(), ReconcileInput{DueID: april.ID, TransactionID: "pay_apr", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, DueStatusPaid, repo.dues[april.ID].Status)
}

func TestReconcileIgnoresOtherStudents(t *testing.T) {
	repo := newMemoryLedgerRepo()
	repo.addDue(Due{StudentID: 2, Month: 1, Year: 2025, BaseFee: 1500})
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, TransactionID: "pay_x", ActorID: 7})
	require.NoError(t, err)
}

func TestReconcileConcurrentOneWinner(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, _, _ := newTestReconciler(repo)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rec.Reconcile(context.Background(), ReconcileInput{
				DueID:         due.ID,
				TransactionID: fmt.Sprintf("pay_race_%d", i),
				ActorID:       7,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, alreadyPaid int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyPaid):
			alreadyPaid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, alreadyPaid)
	require.Len(t, repo.payments, 1)
}

func TestReconcileSettlesAdjustedTotal(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{
		StudentID: 1, Month: 4, Year: 2025,
		BaseFee: 1500, LateFee: 150, Discount: 100,
		Status: DueStatusOverdue,
	})
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, TransactionID: "pay_adj", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, 1550.0, repo.payments["pay_adj"].Amount)
}

func TestReconcileRequiresActorAndTransaction(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500})
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = rec.Reconcile(context.Background(), ReconcileInput{DueID: due.ID, TransactionID: "t"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestReconcileBarcodeOfflineIdempotent(t *testing.T) {
	repo := newMemoryLedgerRepo()
	due := repo.addDue(Due{StudentID: 1, Month: 4, Year: 2025, BaseFee: 1500, Barcode: "FEE00000001042025ABCD"})
	rec, _, _ := newTestReconciler(repo)

	settled, err := rec.ReconcileBarcode(context.Background(), due.Barcode, "", shared.SystemActorID)
	require.NoError(t, err)
	require.Equal(t, DueStatusPaid, settled.Status)

	// A clerk rescanning the slip replays the deterministic offline id.
	_, err = rec.ReconcileBarcode(context.Background(), due.Barcode, "", shared.SystemActorID)
	require.NoError(t, err)
	require.Len(t, repo.payments, 1)
	require.Contains(t, repo.payments, OfflineTransactionID(due.ID))

	_, err = rec.ReconcileBarcode(context.Background(), "FEE_UNKNOWN", "", shared.SystemActorID)
	require.ErrorIs(t, err, ErrDueNotFound)
}

func TestReconcileNotFound(t *testing.T) {
	repo := newMemoryLedgerRepo()
	rec, _, _ := newTestReconciler(repo)

	_, err := rec.Reconcile(context.Background(), ReconcileInput{DueID: 99, TransactionID: "t", ActorID: 7})
	require.ErrorIs(t, err, ErrDueNotFound)
}

func TestReceiptNumberFormat(t *testing.T) {
	now := time.Date(2025, 4, 12, 10, 0, 0, 0, time.UTC)
	rcpt := GenerateReceiptNumber(now)
	require.Regexp(t, `^RCP-20250412-[0-9A-F]{6}$`, rcpt)
}

func TestBarcodeFormat(t *testing.T) {
	code := GenerateBarcode(42, Period{Month: 4, Year: 2025})
	require.Regexp(t, `^FEE00000042042025[0-9A-F]{4}$`, code)
}
