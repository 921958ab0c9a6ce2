// Package assignment manages offer assignments: voucher codes handed out to
// named recipients ahead of redemption, with email notification tracking.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Status tracks an assignment through its life. REDEEMED and CANCELLED are
// terminal.
type Status string

const (
	// StatusEmailPending means the row exists but the recipient has not been
	// notified yet. Rows stuck here are picked up by notification retries.
	StatusEmailPending Status = "EMAIL_PENDING"
	// StatusAssigned means the notification was handed to the mail queue.
	StatusAssigned Status = "ASSIGNED"
	// StatusRedeemed means the recipient completed a redemption against the
	// assigned code.
	StatusRedeemed Status = "REDEEMED"
	// StatusCancelled means the assignment was revoked before redemption.
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrNotFound        = errors.New("assignment not found")
	ErrAlreadyRedeemed = errors.New("assignment already redeemed")
	// ErrNotAssignable is returned for vouchers whose usage type does not
	// support named-recipient assignment.
	ErrNotAssignable = errors.New("voucher is not assignable")
)

// InsufficientSlotsError reports a batch that does not fit in the offer's
// remaining assignment slots. The batch is all-or-nothing: no rows are
// created.
type InsufficientSlotsError struct {
	Available int
	Requested int
}

func (e *InsufficientSlotsError) Error() string {
	return fmt.Sprintf("insufficient assignment slots: %d available, %d requested", e.Available, e.Requested)
}

// Assignment binds one voucher code to one recipient email.
type Assignment struct {
	ID          string
	VoucherCode string
	Email       string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanTransition reports whether the status change is legal. Terminal states
// accept no transitions; revoking an already-cancelled assignment is handled
// as a no-op by the service, not here.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusEmailPending:
		return to == StatusAssigned || to == StatusCancelled || to == StatusRedeemed
	case StatusAssigned:
		return to == StatusCancelled || to == StatusRedeemed
	default:
		return false
	}
}

// Repository persists assignments.
type Repository interface {
	// Get returns the assignment or ErrNotFound.
	Get(ctx context.Context, id string) (*Assignment, error)
	// CreateBatch inserts all assignments or none. When limit is non-nil it
	// counts existing non-cancelled assignments for the code under a lock and
	// returns *InsufficientSlotsError if the batch does not fit.
	CreateBatch(ctx context.Context, code string, batch []Assignment, limit *int) error
	// UpdateStatus applies a legal status transition. Illegal transitions
	// return an error without modifying the row.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

// Notifier enqueues recipient-facing email jobs. Enqueue failures are
// retryable: the assignment stays EMAIL_PENDING.
type Notifier interface {
	AssignmentCreated(ctx context.Context, a *Assignment) error
	AssignmentReminder(ctx context.Context, a *Assignment) error
	AssignmentRevoked(ctx context.Context, a *Assignment) error
}
