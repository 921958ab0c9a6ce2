package assignment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
)

// Service creates, reminds, and revokes assignments.
type Service struct {
	assignments Repository
	vouchers    voucher.Repository
	notifier    Notifier
	now         func() time.Time
}

// NewService creates the assignment manager.
func NewService(assignments Repository, vouchers voucher.Repository, notifier Notifier) *Service {
	return &Service{
		assignments: assignments,
		vouchers:    vouchers,
		notifier:    notifier,
		now:         time.Now,
	}
}

// Assign creates one assignment per email against the voucher code. The whole
// batch must fit in the offer's remaining slots or nothing is created. Rows
// start as EMAIL_PENDING and are promoted to ASSIGNED once the notification
// is queued; a queue failure leaves the row EMAIL_PENDING for a later retry.
func (s *Service) Assign(ctx context.Context, code string, emails []string) ([]Assignment, error) {
	v, o, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	// Only multi-use-per-customer pools hand codes to named recipients.
	if v.UsageType != voucher.MultiUsePerCustomer {
		return nil, ErrNotAssignable
	}

	now := s.now()
	batch := make([]Assignment, len(emails))
	for i, email := range emails {
		batch[i] = Assignment{
			ID:          uuid.NewString(),
			VoucherCode: v.Code,
			Email:       email,
			Status:      StatusEmailPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	if err := s.assignments.CreateBatch(ctx, v.Code, batch, o.MaxGlobalApplications); err != nil {
		return nil, err
	}

	for i := range batch {
		s.notify(ctx, &batch[i])
	}
	return batch, nil
}

// notify queues the creation email and promotes the row on success.
func (s *Service) notify(ctx context.Context, a *Assignment) {
	lg := zctx.From(ctx)
	if err := s.notifier.AssignmentCreated(ctx, a); err != nil {
		lg.Warn("Assignment notification not queued, left pending",
			zap.String("assignment_id", a.ID),
			zap.Error(err),
		)
		return
	}
	if err := s.assignments.UpdateStatus(ctx, a.ID, StatusEmailPending, StatusAssigned); err != nil {
		lg.Warn("Assignment status promotion failed",
			zap.String("assignment_id", a.ID),
			zap.Error(err),
		)
		return
	}
	a.Status = StatusAssigned
}

// Remind re-sends the assignment email. Redeemed and cancelled assignments
// cannot be reminded.
func (s *Service) Remind(ctx context.Context, id string) error {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return err
	}
	switch a.Status {
	case StatusRedeemed:
		return ErrAlreadyRedeemed
	case StatusCancelled:
		return ErrNotFound
	}
	if err := s.notifier.AssignmentReminder(ctx, a); err != nil {
		return errors.Wrap(err, "queue reminder")
	}
	return nil
}

// Revoke cancels an assignment that has not been redeemed, freeing its slot.
// Revoking an already-cancelled assignment is a no-op.
func (s *Service) Revoke(ctx context.Context, id string) error {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return err
	}
	switch a.Status {
	case StatusRedeemed:
		return ErrAlreadyRedeemed
	case StatusCancelled:
		return nil
	}

	if err := s.assignments.UpdateStatus(ctx, a.ID, a.Status, StatusCancelled); err != nil {
		return errors.Wrap(err, "cancel assignment")
	}

	if err := s.notifier.AssignmentRevoked(ctx, a); err != nil {
		// The revocation itself is committed; only the courtesy email failed.
		zctx.From(ctx).Warn("Revocation notification not queued",
			zap.String("assignment_id", a.ID),
			zap.Error(err),
		)
	}
	return nil
}
