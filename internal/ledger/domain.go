package ledger

import (
	"fmt"
	"time"
)

// DueStatus enumerates billing due statuses.
type DueStatus string

const (
	DueStatusUnpaid  DueStatus = "UNPAID"
	DueStatusOverdue DueStatus = "OVERDUE"
	DueStatusPartial DueStatus = "PARTIAL"
	DueStatusPaid    DueStatus = "PAID"
)

// PaymentMethod identifies the entry point a payment arrived through.
type PaymentMethod string

const (
	MethodOnline  PaymentMethod = "online"
	MethodCash    PaymentMethod = "cash"
	MethodCheque  PaymentMethod = "cheque"
	MethodBarcode PaymentMethod = "barcode"
	MethodWebhook PaymentMethod = "webhook"
)

// Period is one billing month.
type Period struct {
	Month int
	Year  int
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// Valid reports whether the period describes a real month.
func (p Period) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 2000
}

func (p Period) String() string {
	return fmt.Sprintf("%d/%d", p.Month, p.Year)
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Due is one month's billing obligation for one student. TotalDue is always
// derived as BaseFee + LateFee - Discount; it is never written independently.
type Due struct {
	ID            int64
	StudentID     int64
	Month         int
	Year          int
	BaseFee       float64
	LateFee       float64
	Discount      float64
	TotalDue      float64
	DueDate       time.Time
	Status        DueStatus
	Barcode       string
	ReceiptNumber string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Period returns the due's billing period.
func (d *Due) Period() Period {
	return Period{Month: d.Month, Year: d.Year}
}

// Payment is one settled transaction against exactly one due. Immutable
// after creation except for attaching a receipt artifact reference.
type Payment struct {
	ID            int64
	DueID         int64
	Amount        float64
	TransactionID string
	Method        PaymentMethod
	Status        string
	PaidAt        time.Time
	ReceiptRef    string
	CreatedAt     time.Time
}

// AccrualPolicy is the late-fee rule applied by the accrual sweep.
type AccrualPolicy struct {
	DailyRate  float64
	GraceDays  int
	MaxLateFee float64
}

// Student is the slice of the roster the ledger needs for generation.
type Student struct {
	ID      int64
	RouteID int64
}

// CreateDueInput carries a new due row. BaseFee is the tariff snapshot at
// generation time.
type CreateDueInput struct {
	StudentID int64
	Month     int
	Year      int
	BaseFee   float64
	DueDate   time.Time
	Barcode   string
}

// CreatePaymentInput carries a new payment row.
type CreatePaymentInput struct {
	DueID         int64
	Amount        float64
	TransactionID string
	Method        PaymentMethod
	Status        string
	PaidAt        time.Time
}

// ReconcileInput is the normalized payment assertion every entry point
// (API, webhook, offline clerk, barcode scan) reduces to.
type ReconcileInput struct {
	DueID         int64
	TransactionID string
	Amount        float64
	Method        PaymentMethod
	// AssertAmount records the caller's amount instead of the due's
	// TotalDue. Only offline entries with an exact amount set this; the
	// due's TotalDue remains the authoritative reconciliation amount.
	AssertAmount bool
	ActorID      int64
}

// DueSummary is the payload handed to the notification dispatcher after a
// payment is confirmed.
type DueSummary struct {
	DueID         int64
	StudentID     int64
	Month         int
	Year          int
	AmountPaid    float64
	ReceiptNumber string
}
