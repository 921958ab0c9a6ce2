// Package product defines the closed set of purchasable product variants as
// they appear on basket lines. The engine does not own the product catalog;
// it only needs to know what kind of thing a line refers to.
package product

// Kind is the product variant carried on a basket line.
type Kind string

const (
	// KindSeat is a seat in a course run, sold directly to a learner.
	KindSeat Kind = "seat"
	// KindEnrollmentCode is a code granting enrollment in a single course.
	KindEnrollmentCode Kind = "enrollment_code"
	// KindEntitlement grants access to any run of a course.
	KindEntitlement Kind = "entitlement"
	// KindCoupon is a purchasable coupon product that mints vouchers.
	// Coupon lines are never discountable themselves.
	KindCoupon Kind = "coupon"
)

// Discountable reports whether a line of this kind may qualify for a voucher.
// Coupon products are excluded so a voucher cannot discount the purchase of
// further vouchers.
func (k Kind) Discountable() bool {
	return k != KindCoupon
}
