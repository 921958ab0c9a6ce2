// Package voucher holds the voucher entities, usage-type semantics, and the
// usage-ledger contracts at the heart of the redemption engine.
package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-voucher-engine/internal/domain/benefit"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
)

// UsageType is the policy governing how many times, and by whom, a voucher
// may be redeemed.
type UsageType string

const (
	// SingleUse allows at most one redemption total, by anyone.
	SingleUse UsageType = "SINGLE_USE"
	// MultiUse allows up to MaxGlobalUses redemptions total.
	MultiUse UsageType = "MULTI_USE"
	// MultiUsePerCustomer is governed by the offer's per-user and global
	// application and discount caps.
	MultiUsePerCustomer UsageType = "MULTI_USE_PER_CUSTOMER"
	// OncePerCustomer allows at most one redemption per distinct user.
	OncePerCustomer UsageType = "ONCE_PER_CUSTOMER"
)

// Sentinel errors forming the redemption failure taxonomy. These are
// expected business outcomes, returned to callers as typed results.
var (
	ErrCodeNotFound             = errors.New("voucher code not found")
	ErrCodeNotYetActive         = errors.New("voucher code not yet active")
	ErrCodeExpired              = errors.New("voucher code expired")
	ErrCodeExhausted            = errors.New("voucher code usage limit reached")
	ErrNoEffectiveDiscount      = errors.New("voucher yields no effective discount")
	ErrAlreadyRedeemedForBasket = errors.New("voucher already applied to this basket")
)

// Voucher is a redeemable code instance. Its usage ledger (the
// voucher_applications rows) is the single source of truth for how many
// times the code has been used.
type Voucher struct {
	Code          string
	UsageType     UsageType
	StartDatetime time.Time
	EndDatetime   time.Time
	// MaxGlobalUses caps total MultiUse redemptions; nil means unlimited.
	MaxGlobalUses *int
	OfferID       int64
	// EmailDomains restricts redeemers to the listed email domains.
	EmailDomains []string
	// EnterpriseID marks enterprise vouchers, redeemable only through the
	// internal enterprise pathway.
	EnterpriseID string
}

// EnterpriseOnly reports whether the voucher belongs to an enterprise.
func (v *Voucher) EnterpriseOnly() bool {
	return v.EnterpriseID != ""
}

// Offer pairs one condition with one benefit, plus optional caps. An offer's
// condition and benefit are immutable once a redemption exists against it.
type Offer struct {
	ID        int64
	Condition condition.Condition
	Benefit   benefit.Benefit
	// MaxUserDiscount caps the total discount one user may redeem.
	MaxUserDiscount *decimal.Decimal
	// MaxUserApplications caps redemptions per user.
	MaxUserApplications *int
	// MaxGlobalApplications caps redemptions (and assignment slots) overall.
	MaxGlobalApplications *int
}

// Application is an immutable usage-ledger entry: one completed redemption.
type Application struct {
	ID          int64
	VoucherCode string
	UserID      string
	OrderID     string
	Discount    decimal.Decimal
	CreatedAt   time.Time
}

// Usage summarizes the ledger for one voucher as seen by one user.
type Usage struct {
	// Total is the count of applications by anyone.
	Total int
	// ByUser is the count of applications by the inquiring user.
	ByUser int
	// UserDiscountTotal is the discount sum already redeemed by that user.
	UserDiscountTotal decimal.Decimal
}

// RedeemRequest carries everything the ledger needs to record one
// redemption atomically.
type RedeemRequest struct {
	Voucher  *Voucher
	Offer    *Offer
	UserID   string
	Email    string
	BasketID string
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Repository provides voucher lookup and the transactional usage ledger.
type Repository interface {
	// FindByCode looks up a voucher and its offer by exact, case-sensitive
	// code match. Returns ErrCodeNotFound when absent.
	FindByCode(ctx context.Context, code string) (*Voucher, *Offer, error)
	// Usage reads the ledger for the voucher from the given user's view.
	Usage(ctx context.Context, code, userID string) (Usage, error)
	// Redeem records a VoucherApplication and finalizes the basket in a
	// single transaction, re-checking capacity under a row lock immediately
	// before the insert. Race losers receive ErrCodeExhausted; a replay
	// against an already-committed basket receives
	// ErrAlreadyRedeemedForBasket.
	Redeem(ctx context.Context, req RedeemRequest) (*Application, error)
}
