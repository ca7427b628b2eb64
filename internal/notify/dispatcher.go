// Package notify bridges ledger events onto the background job queue.
// Delivery happens out of band in the worker; the API process only
// enqueues.
package notify

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/routefare/routefare/internal/ledger"
	"github.com/routefare/routefare/jobs"
)

// Enqueuer is the queue client surface the dispatcher uses.
type Enqueuer interface {
	EnqueuePaymentConfirmed(ctx context.Context, payload jobs.PaymentConfirmedPayload) (*asynq.TaskInfo, error)
	EnqueueDueReminder(ctx context.Context, payload jobs.DueReminderPayload) (*asynq.TaskInfo, error)
}

// Dispatcher queues ledger notifications as background tasks.
type Dispatcher struct {
	queue Enqueuer
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(queue Enqueuer) *Dispatcher {
	return &Dispatcher{queue: queue}
}

// PaymentConfirmed queues a payment confirmation for delivery.
func (d *Dispatcher) PaymentConfirmed(ctx context.Context, studentID int64, due ledger.DueSummary) error {
	_, err := d.queue.EnqueuePaymentConfirmed(ctx, jobs.PaymentConfirmedPayload{
		StudentID:     studentID,
		DueID:         due.DueID,
		Month:         due.Month,
		Year:          due.Year,
		Amount:        due.AmountPaid,
		ReceiptNumber: due.ReceiptNumber,
	})
	return err
}

// DueReminder queues one upcoming-due reminder for delivery.
func (d *Dispatcher) DueReminder(ctx context.Context, studentID int64, due ledger.DueSummary, daysLeft int) error {
	_, err := d.queue.EnqueueDueReminder(ctx, jobs.DueReminderPayload{
		StudentID: studentID,
		DueID:     due.DueID,
		Month:     due.Month,
		Year:      due.Year,
		DaysLeft:  daysLeft,
	})
	return err
}
