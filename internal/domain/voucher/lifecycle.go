package voucher

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is a voucher's lifecycle position, computed from the clock and the
// usage ledger rather than stored.
type State string

const (
	// StatePending means the validity window has not opened yet.
	StatePending State = "PENDING"
	// StateActive means the voucher can currently be redeemed.
	StateActive State = "ACTIVE"
	// StateExpired means the validity window has closed. Terminal for
	// redemption; the voucher row itself is never deleted.
	StateExpired State = "EXPIRED"
	// StateExhausted means the applicable usage cap has been reached.
	StateExhausted State = "EXHAUSTED"
)

// StateAt computes the voucher's lifecycle state at the given instant.
func StateAt(v *Voucher, o *Offer, now time.Time, usage Usage) State {
	if now.Before(v.StartDatetime) {
		return StatePending
	}
	if !now.Before(v.EndDatetime) {
		return StateExpired
	}
	if CheckCapacity(v, o, usage) != nil {
		return StateExhausted
	}
	return StateActive
}

// CheckWindow verifies the voucher's validity window at the given instant.
func CheckWindow(v *Voucher, now time.Time) error {
	if now.Before(v.StartDatetime) {
		return ErrCodeNotYetActive
	}
	if !now.Before(v.EndDatetime) {
		return ErrCodeExpired
	}
	return nil
}

// CheckCapacity verifies the voucher's usage-type rule against the ledger.
// It returns ErrCodeExhausted when the applicable cap is reached. The same
// check runs twice per redemption: once up front for fail-fast reporting,
// and once more inside the ledger transaction under the row lock.
func CheckCapacity(v *Voucher, o *Offer, usage Usage) error {
	switch v.UsageType {
	case SingleUse:
		if usage.Total >= 1 {
			return ErrCodeExhausted
		}
	case MultiUse:
		if v.MaxGlobalUses != nil && usage.Total >= *v.MaxGlobalUses {
			return ErrCodeExhausted
		}
	case OncePerCustomer:
		if usage.ByUser >= 1 {
			return ErrCodeExhausted
		}
	case MultiUsePerCustomer:
		if o.MaxGlobalApplications != nil && usage.Total >= *o.MaxGlobalApplications {
			return ErrCodeExhausted
		}
		if o.MaxUserApplications != nil && usage.ByUser >= *o.MaxUserApplications {
			return ErrCodeExhausted
		}
		if o.MaxUserDiscount != nil && RemainingBalance(o, usage).Sign() <= 0 {
			return ErrCodeExhausted
		}
	}
	return nil
}

// RemainingUses returns how many redemptions the voucher's global cap still
// allows, never negative, or nil when no global cap applies.
func RemainingUses(v *Voucher, o *Offer, usage Usage) *int {
	var limit *int
	switch v.UsageType {
	case SingleUse:
		one := 1
		limit = &one
	case MultiUse:
		limit = v.MaxGlobalUses
	case MultiUsePerCustomer:
		limit = o.MaxGlobalApplications
	}
	if limit == nil {
		return nil
	}
	left := *limit - usage.Total
	if left < 0 {
		left = 0
	}
	return &left
}

// RemainingBalance returns how much discount the user may still redeem on a
// MultiUsePerCustomer offer. Never negative; offers without a user discount
// cap report zero.
func RemainingBalance(o *Offer, usage Usage) decimal.Decimal {
	if o.MaxUserDiscount == nil {
		return decimal.Zero
	}
	remaining := o.MaxUserDiscount.Sub(usage.UserDiscountTotal)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// CapDiscount clamps a computed discount to the user's remaining balance on
// offers that carry a per-user discount cap.
func CapDiscount(o *Offer, usage Usage, discount decimal.Decimal) decimal.Decimal {
	if o.MaxUserDiscount == nil {
		return discount
	}
	return decimal.Min(discount, RemainingBalance(o, usage))
}
