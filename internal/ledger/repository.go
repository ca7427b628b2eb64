package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/routefare/routefare/internal/platform/db"
	"github.com/routefare/routefare/internal/shared"
)

const pgUniqueViolation = "23505"

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository provides PostgreSQL backed persistence for the fee ledger.
// Dues and payments are owned here; every mutation passes through it so
// the uniqueness and status invariants hold at a single choke point.
type Repository struct {
	pool Pool
}

// NewRepository constructs a repository.
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

const dueColumns = `id, student_id, month, year, base_fee, late_fee, discount, total_due,
	due_date, status, barcode, receipt_number, created_at, updated_at`

func scanDue(row pgx.Row) (*Due, error) {
	var d Due
	var barcode, receipt pgtype.Text
	err := row.Scan(
		&d.ID, &d.StudentID, &d.Month, &d.Year, &d.BaseFee, &d.LateFee, &d.Discount, &d.TotalDue,
		&d.DueDate, &d.Status, &barcode, &receipt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDueNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Barcode = barcode.String
	d.ReceiptNumber = receipt.String
	return &d, nil
}

// --- Due Queries ---

// GetDue retrieves a due by id.
func (r *Repository) GetDue(ctx context.Context, id int64) (*Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE id = $1`
	return scanDue(r.pool.QueryRow(ctx, query, id))
}

// GetDueByBarcode retrieves a due by its payment barcode.
func (r *Repository) GetDueByBarcode(ctx context.Context, barcode string) (*Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE barcode = $1`
	return scanDue(r.pool.QueryRow(ctx, query, barcode))
}

// LookupDueIDByBarcode resolves a scanned barcode to its due id.
func (r *Repository) LookupDueIDByBarcode(ctx context.Context, barcode string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM dues WHERE barcode = $1`, barcode).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDueNotFound
	}
	return id, err
}

// ListDuesRequest filters the due listing.
type ListDuesRequest struct {
	StudentID int64
	Status    DueStatus
	Month     int
	Year      int
	Limit     int
}

// ListDues returns dues with optional filtering, newest period first.
func (r *Repository) ListDues(ctx context.Context, req ListDuesRequest) ([]Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE 1=1`
	args := []any{}
	argNum := 1

	if req.StudentID > 0 {
		query += fmt.Sprintf(" AND student_id = $%d", argNum)
		args = append(args, req.StudentID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	if req.Month > 0 {
		query += fmt.Sprintf(" AND month = $%d", argNum)
		args = append(args, req.Month)
		argNum++
	}
	if req.Year > 0 {
		query += fmt.Sprintf(" AND year = $%d", argNum)
		args = append(args, req.Year)
		argNum++
	}

	query += " ORDER BY year DESC, month DESC, student_id"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
	}

	return r.queryDues(ctx, query, args...)
}

// ListDefaulters returns every due still carrying an open balance.
func (r *Repository) ListDefaulters(ctx context.Context) ([]Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues
		WHERE status IN ('UNPAID', 'OVERDUE', 'PARTIAL')
		ORDER BY year, month, student_id`
	return r.queryDues(ctx, query)
}

// ListOpenDues returns every due the accrual sweep must look at.
func (r *Repository) ListOpenDues(ctx context.Context) ([]Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE status <> 'PAID' ORDER BY id`
	return r.queryDues(ctx, query)
}

// ListUnpaidDueOn returns unpaid dues falling due on the given date.
func (r *Repository) ListUnpaidDueOn(ctx context.Context, date time.Time) ([]Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues
		WHERE status <> 'PAID' AND due_date::date = $1::date
		ORDER BY student_id`
	return r.queryDues(ctx, query, date)
}

func (r *Repository) queryDues(ctx context.Context, query string, args ...any) ([]Due, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dues []Due
	for rows.Next() {
		var d Due
		var barcode, receipt pgtype.Text
		err := rows.Scan(
			&d.ID, &d.StudentID, &d.Month, &d.Year, &d.BaseFee, &d.LateFee, &d.Discount, &d.TotalDue,
			&d.DueDate, &d.Status, &barcode, &receipt, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Barcode = barcode.String
		d.ReceiptNumber = receipt.String
		dues = append(dues, d)
	}
	return dues, rows.Err()
}

// --- Generation ---

// ListActiveStudents returns the billing roster.
func (r *Repository) ListActiveStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(route_id, 0) FROM students WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.RouteID); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// CreateDue inserts one due row. The (student_id, month, year) unique
// constraint makes generation idempotent per period.
func (r *Repository) CreateDue(ctx context.Context, input CreateDueInput) (*Due, error) {
	query := `
		INSERT INTO dues (student_id, month, year, base_fee, late_fee, discount, total_due,
			due_date, status, barcode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $4, $5, 'UNPAID', $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	var d Due
	err := r.pool.QueryRow(ctx, query,
		input.StudentID, input.Month, input.Year, input.BaseFee, input.DueDate, input.Barcode,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDueExists
		}
		return nil, err
	}

	d.StudentID = input.StudentID
	d.Month = input.Month
	d.Year = input.Year
	d.BaseFee = input.BaseFee
	d.TotalDue = input.BaseFee
	d.DueDate = input.DueDate
	d.Status = DueStatusUnpaid
	d.Barcode = input.Barcode
	return &d, nil
}

// --- Accrual ---

// ApplyAccrual persists one due's accrual outcome. Committed per due so
// an aborted sweep leaves the ledger valid.
func (r *Repository) ApplyAccrual(ctx context.Context, dueID int64, a Assessment) error {
	// The status guard makes the write a no-op when the due settled
	// between the sweep's read and this update.
	_, err := r.pool.Exec(ctx, `
		UPDATE dues
		SET status = $2, late_fee = $3, total_due = $4, updated_at = NOW()
		WHERE id = $1 AND status <> 'PAID'`,
		dueID, string(a.Status), a.LateFee, a.TotalDue)
	return err
}

// --- Reconciliation transaction ---

// WithDueTx resolves the due's student, then runs fn in a transaction
// whose first statement is the student-scoped advisory lock. The lock
// serializes reconcile/waive/discount for sibling dues of the same
// student; it releases with the transaction.
//
// The transaction runs at ReadCommitted. A caller that blocked on the
// lock resumes after the holder commits, and its reads must see that
// commit: the duplicate-transaction and already-paid checks inside fn
// depend on it. A snapshot fixed before the lock would instead surface
// a serialization failure to the losing caller.
func (r *Repository) WithDueTx(ctx context.Context, dueID int64, fn func(context.Context, TxLedger) error) error {
	var studentID int64
	err := r.pool.QueryRow(ctx, `SELECT student_id FROM dues WHERE id = $1`, dueID).Scan(&studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDueNotFound
	}
	if err != nil {
		return err
	}
	return db.WithTxAt(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := db.AdvisoryLock(ctx, tx, shared.LockClassStudentLedger, studentID); err != nil {
			return err
		}
		return fn(ctx, &txLedger{tx: tx})
	})
}

type txLedger struct {
	tx pgx.Tx
}

func (t *txLedger) GetDue(ctx context.Context, id int64) (*Due, error) {
	query := `SELECT ` + dueColumns + ` FROM dues WHERE id = $1 FOR UPDATE`
	return scanDue(t.tx.QueryRow(ctx, query, id))
}

func (t *txLedger) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	query := `SELECT id, due_id, amount, transaction_id, method, status, paid_at,
		COALESCE(receipt_ref, ''), created_at
		FROM payments WHERE transaction_id = $1`
	var p Payment
	err := t.tx.QueryRow(ctx, query, transactionID).Scan(
		&p.ID, &p.DueID, &p.Amount, &p.TransactionID, &p.Method, &p.Status, &p.PaidAt,
		&p.ReceiptRef, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txLedger) EarliestUnpaidBefore(ctx context.Context, studentID int64, before Period) (*Period, error) {
	query := `
		SELECT month, year FROM dues
		WHERE student_id = $1
		  AND status <> 'PAID'
		  AND (year < $3 OR (year = $3 AND month < $2))
		ORDER BY year, month
		LIMIT 1`
	var p Period
	err := t.tx.QueryRow(ctx, query, studentID, before.Month, before.Year).Scan(&p.Month, &p.Year)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txLedger) MarkDuePaid(ctx context.Context, dueID int64, receiptNumber string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE dues
		SET status = 'PAID', receipt_number = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'PAID'`,
		dueID, receiptNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyPaid
	}
	return nil
}

func (t *txLedger) CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error) {
	query := `
		INSERT INTO payments (due_id, amount, transaction_id, method, status, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`

	var p Payment
	err := t.tx.QueryRow(ctx, query,
		input.DueID, input.Amount, input.TransactionID, string(input.Method), input.Status, input.PaidAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Belt-and-braces: the in-transaction idempotency check ran
			// first, so this only fires on a racing duplicate.
			return nil, fmt.Errorf("ledger: duplicate transaction %s: %w", input.TransactionID, err)
		}
		return nil, err
	}

	p.DueID = input.DueID
	p.Amount = input.Amount
	p.TransactionID = input.TransactionID
	p.Method = input.Method
	p.Status = input.Status
	p.PaidAt = input.PaidAt
	return &p, nil
}

func (t *txLedger) UpdateDueFees(ctx context.Context, dueID int64, lateFee, discount, totalDue float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE dues
		SET late_fee = $2, discount = $3, total_due = $4, updated_at = NOW()
		WHERE id = $1`,
		dueID, lateFee, discount, totalDue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDueNotFound
	}
	return nil
}

// --- Payments ---

// ListPayments returns settled payments, newest first.
func (r *Repository) ListPayments(ctx context.Context, limit int) ([]Payment, error) {
	query := `SELECT id, due_id, amount, transaction_id, method, status, paid_at,
		COALESCE(receipt_ref, ''), created_at
		FROM payments ORDER BY paid_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		err := rows.Scan(&p.ID, &p.DueID, &p.Amount, &p.TransactionID, &p.Method, &p.Status,
			&p.PaidAt, &p.ReceiptRef, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GetPayment retrieves one payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	query := `SELECT id, due_id, amount, transaction_id, method, status, paid_at,
		COALESCE(receipt_ref, ''), created_at
		FROM payments WHERE id = $1`
	var p Payment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.DueID, &p.Amount, &p.TransactionID, &p.Method, &p.Status, &p.PaidAt,
		&p.ReceiptRef, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AttachReceipt stores the rendered receipt artifact reference on a
// payment. The only mutation a payment row ever sees after creation.
func (r *Repository) AttachReceipt(ctx context.Context, paymentID int64, ref string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET receipt_ref = $2 WHERE id = $1`, paymentID, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
