package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskFeeAccrual runs the daily late-fee accrual sweep.
	TaskFeeAccrual = "fees:accrue"
	// TaskDueGeneration creates the monthly dues for every active student.
	TaskDueGeneration = "fees:generate"
	// TaskDueReminderScan queues reminders for dues falling due soon.
	TaskDueReminderScan = "fees:remind_scan"
	// TaskPaymentConfirmed delivers a payment confirmation to the payer.
	TaskPaymentConfirmed = "notify:payment_confirmed"
	// TaskDueReminder delivers one upcoming-due reminder.
	TaskDueReminder = "notify:due_reminder"
)

// FeeAccrualPayload carries scheduling metadata for the accrual sweep.
type FeeAccrualPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewFeeAccrualTask constructs an accrual sweep task.
func NewFeeAccrualTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(FeeAccrualPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFeeAccrual, body, asynq.Queue(QueueDefault)), nil
}

// DueGenerationPayload selects the billing period to generate. A zero
// month/year means the period containing the task's execution time.
type DueGenerationPayload struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewDueGenerationTask constructs a due generation task.
func NewDueGenerationTask(payload DueGenerationPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueGeneration, body, asynq.Queue(QueueDefault)), nil
}

// DueReminderScanPayload carries scheduling metadata for the reminder scan.
type DueReminderScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewDueReminderScanTask constructs a reminder scan task.
func NewDueReminderScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(DueReminderScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueReminderScan, body, asynq.Queue(QueueDefault)), nil
}

// PaymentConfirmedPayload carries one settled payment notification.
type PaymentConfirmedPayload struct {
	StudentID     int64   `json:"student_id"`
	DueID         int64   `json:"due_id"`
	Month         int     `json:"month"`
	Year          int     `json:"year"`
	Amount        float64 `json:"amount"`
	ReceiptNumber string  `json:"receipt_number"`
}

// NewPaymentConfirmedTask constructs a payment confirmation task.
func NewPaymentConfirmedTask(payload PaymentConfirmedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentConfirmed, body, asynq.Queue(QueueDefault)), nil
}

// DueReminderPayload carries one upcoming-due reminder.
type DueReminderPayload struct {
	StudentID int64 `json:"student_id"`
	DueID     int64 `json:"due_id"`
	Month     int   `json:"month"`
	Year      int   `json:"year"`
	DaysLeft  int   `json:"days_left"`
}

// NewDueReminderTask constructs a due reminder task.
func NewDueReminderTask(payload DueReminderPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueReminder, body, asynq.Queue(QueueDefault)), nil
}
