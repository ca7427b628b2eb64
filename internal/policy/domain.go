// Package policy manages late-fee accrual policies. Exactly one policy is
// active at a time; the accrual sweep reads it through a cached provider.
package policy

import (
	"errors"
	"time"
)

// ErrPolicyNotFound indicates no matching policy row.
var ErrPolicyNotFound = errors.New("policy: not found")

// LateFeePolicy is one configured accrual rule.
type LateFeePolicy struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	DailyRate  float64   `json:"daily_rate"`
	GraceDays  int       `json:"grace_days"`
	MaxLateFee float64   `json:"max_late_fee"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreatePolicyInput carries a new policy definition.
type CreatePolicyInput struct {
	Name       string
	DailyRate  float64
	GraceDays  int
	MaxLateFee float64
	Activate   bool
	ActorID    int64
}
