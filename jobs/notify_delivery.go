package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// HandlePaymentConfirmedTask processes payment confirmation deliveries.
func HandlePaymentConfirmedTask(ctx context.Context, t *asynq.Task) error {
	var payload PaymentConfirmedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with the SMS/push provider once credentials land.
	fmt.Printf("[jobs] payment confirmed student=%d due=%d receipt=%s amount=%.2f\n",
		payload.StudentID, payload.DueID, payload.ReceiptNumber, payload.Amount)
	return nil
}

// HandleDueReminderTask processes upcoming-due reminder deliveries.
func HandleDueReminderTask(ctx context.Context, t *asynq.Task) error {
	var payload DueReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with the SMS/push provider once credentials land.
	fmt.Printf("[jobs] due reminder student=%d due=%d period=%d/%d days_left=%d\n",
		payload.StudentID, payload.DueID, payload.Month, payload.Year, payload.DaysLeft)
	return nil
}
