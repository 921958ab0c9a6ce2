// Package redemption ties voucher lookup, condition evaluation, benefit
// application, and the atomic usage-ledger write into the engine's entry
// point.
package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-voucher-engine/internal/domain/basket"
	"github.com/xenking/course-voucher-engine/internal/domain/benefit"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
	"github.com/xenking/course-voucher-engine/internal/domain/learner"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
)

// Result describes one successful (or previewed) voucher application.
type Result struct {
	Code string
	// Discount is the computed discount amount across qualifying lines.
	Discount decimal.Decimal
	// DiscountPercentage is the effective rate against the qualifying
	// subtotal, derived from the applied amount for display.
	DiscountPercentage decimal.Decimal
	// Subtotal is the undiscounted basket total.
	Subtotal decimal.Decimal
	// Total is the basket total after the discount, floored at zero.
	Total decimal.Decimal
	// ApplicationID is the ledger entry id; zero for previews.
	ApplicationID int64
}

// Service orchestrates redemption and preview.
type Service struct {
	vouchers voucher.Repository
	baskets  basket.Repository
	eval     *condition.Evaluator
	now      func() time.Time
}

// NewService creates the orchestrator with its domain dependencies.
func NewService(vouchers voucher.Repository, baskets basket.Repository, eval *condition.Evaluator) *Service {
	return &Service{
		vouchers: vouchers,
		baskets:  baskets,
		eval:     eval,
		now:      time.Now,
	}
}

// Redeem applies the voucher to the basket and records the usage atomically.
// Validity checks run fail-fast: existence, window, capacity, condition,
// then non-zero benefit; the first failure wins and is returned as its
// sentinel. The ledger write re-checks capacity under a row lock, so
// concurrent attempts on the last remaining use cannot both succeed.
func (s *Service) Redeem(ctx context.Context, code, basketID string, u *learner.Learner, src condition.Source) (*Result, error) {
	b, err := s.baskets.Get(ctx, basketID)
	if err != nil {
		return nil, err
	}
	if b.Status == basket.StatusSubmitted {
		// A committed basket takes no further redemptions, but an unknown
		// code still reports not-found rather than already-redeemed.
		if _, _, err := s.vouchers.FindByCode(ctx, code); err != nil {
			return nil, err
		}
		return nil, voucher.ErrAlreadyRedeemedForBasket
	}

	v, o, _, res, err := s.evaluate(ctx, code, b, u, src)
	if err != nil {
		return nil, err
	}

	// Only one voucher may be active per basket: attaching replaces any
	// previous code.
	if err := s.baskets.AttachVoucher(ctx, b.ID, code); err != nil {
		return nil, errors.Wrap(err, "attach voucher")
	}

	app, err := s.vouchers.Redeem(ctx, voucher.RedeemRequest{
		Voucher:  v,
		Offer:    o,
		UserID:   u.ID,
		Email:    u.Email,
		BasketID: b.ID,
		Discount: res.Discount,
		Total:    res.Total,
	})
	if err != nil {
		return nil, err
	}

	res.ApplicationID = app.ID
	return res, nil
}

// Preview computes the discount the voucher would yield for the given lines
// without committing anything: no basket mutation, no ledger write.
func (s *Service) Preview(ctx context.Context, code string, lines []basket.Line, u *learner.Learner, src condition.Source) (*Result, error) {
	b := &basket.Basket{ID: "preview", UserID: u.ID, Lines: lines, Status: basket.StatusOpen}
	_, _, _, res, err := s.evaluate(ctx, code, b, u, src)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// evaluate runs the shared validity pipeline and computes pricing.
func (s *Service) evaluate(
	ctx context.Context,
	code string,
	b *basket.Basket,
	u *learner.Learner,
	src condition.Source,
) (*voucher.Voucher, *voucher.Offer, voucher.Usage, *Result, error) {
	var noUsage voucher.Usage

	v, o, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		return nil, nil, noUsage, nil, err
	}

	if err := voucher.CheckWindow(v, s.now()); err != nil {
		return nil, nil, noUsage, nil, err
	}

	usage, err := s.vouchers.Usage(ctx, code, u.ID)
	if err != nil {
		return nil, nil, noUsage, nil, errors.Wrap(err, "read usage ledger")
	}
	if err := voucher.CheckCapacity(v, o, usage); err != nil {
		return nil, nil, noUsage, nil, err
	}

	if !condition.SourceAllowed(v.EnterpriseOnly(), src) {
		return nil, nil, noUsage, nil, condition.ErrNotSatisfied
	}
	if !condition.EnterpriseMember(v.EnterpriseID, u.EnterpriseID) {
		return nil, nil, noUsage, nil, condition.ErrNotSatisfied
	}
	if !condition.EmailDomainAllowed(v.EmailDomains, u.Email) {
		return nil, nil, noUsage, nil, condition.ErrNotSatisfied
	}

	ev, err := s.eval.Evaluate(ctx, &o.Condition, b)
	if err != nil {
		return nil, nil, noUsage, nil, err
	}
	if !ev.Satisfied {
		return nil, nil, noUsage, nil, condition.ErrNotSatisfied
	}

	res := s.price(v, o, usage, b, ev.Qualifying)
	if res.Discount.Sign() == 0 {
		return nil, nil, noUsage, nil, voucher.ErrNoEffectiveDiscount
	}

	return v, o, usage, res, nil
}

// price computes the benefit per qualifying line, sums, and applies the
// per-user discount cap. Per-line rounding keeps the amount identical
// regardless of evaluation order.
func (s *Service) price(
	v *voucher.Voucher,
	o *voucher.Offer,
	usage voucher.Usage,
	b *basket.Basket,
	qualifying []basket.Line,
) *Result {
	discount := decimal.Zero
	qualifyingSubtotal := decimal.Zero
	for _, line := range qualifying {
		lineTotal := line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		discount = discount.Add(benefit.Compute(o.Benefit, lineTotal))
		qualifyingSubtotal = qualifyingSubtotal.Add(lineTotal)
	}

	discount = voucher.CapDiscount(o, usage, discount).Round(2)

	subtotal := b.Subtotal()
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	pct := decimal.Zero
	if qualifyingSubtotal.Sign() > 0 {
		pct = discount.Div(qualifyingSubtotal).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &Result{
		Code:               v.Code,
		Discount:           discount,
		DiscountPercentage: pct,
		Subtotal:           subtotal.Round(2),
		Total:              total.Round(2),
	}
}
