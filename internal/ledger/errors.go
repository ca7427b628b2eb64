package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDueNotFound indicates an unknown due id or barcode.
	ErrDueNotFound = errors.New("ledger: due not found")
	// ErrAlreadyPaid indicates a different transaction attempted to settle
	// a due that is already PAID. Not a bug: a legitimate race outcome.
	ErrAlreadyPaid = errors.New("ledger: due already paid")
	// ErrPriorDuesOutstanding is the sequential-settlement sentinel; the
	// concrete error is a PriorDuesError carrying the blocking period.
	ErrPriorDuesOutstanding = errors.New("ledger: prior dues outstanding")
	// ErrInvalidInput indicates a malformed mutation request.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// PriorDuesError rejects settling a later month while an earlier one is
// open. Earliest is the oldest unpaid period blocking the payment.
type PriorDuesError struct {
	Earliest Period
}

func (e *PriorDuesError) Error() string {
	return fmt.Sprintf("ledger: unpaid dues exist for %s", e.Earliest)
}

// Unwrap lets errors.Is match ErrPriorDuesOutstanding.
func (e *PriorDuesError) Unwrap() error {
	return ErrPriorDuesOutstanding
}
