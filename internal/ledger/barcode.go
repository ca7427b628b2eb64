package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateBarcode issues the opaque payment barcode printed on a fee slip.
// Format: FEE + student id (8) + month (2) + year (4) + random suffix (4).
// The random tail keeps regenerated slips unique per due.
func GenerateBarcode(studentID int64, period Period) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("FEE%08d%02d%04d%s", studentID, period.Month, period.Year, suffix)
}

// GenerateReceiptNumber issues a receipt number for a settled payment.
func GenerateReceiptNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("RCP-%s-%s", now.Format("20060102"), suffix)
}

// OfflineTransactionID is the idempotency key for offline entries where
// the clerk supplied no reference. Deterministic per due, so resubmitting
// the same manual payment short-circuits instead of raising AlreadyPaid.
func OfflineTransactionID(dueID int64) string {
	return fmt.Sprintf("OFFLINE-%d", dueID)
}
