package basket

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-voucher-engine/internal/domain/product"
)

// ErrNotFound is returned when a requested basket does not exist.
var ErrNotFound = errors.New("basket not found")

// Status describes where a basket sits in its checkout lifecycle.
type Status string

const (
	// StatusOpen means the basket can still be edited.
	StatusOpen Status = "open"
	// StatusFrozen means checkout has started; lines are fixed.
	StatusFrozen Status = "frozen"
	// StatusSubmitted means the basket has been committed as an order.
	StatusSubmitted Status = "submitted"
)

// Line is a single priced entry in a basket. BundleID groups lines that were
// added together as one bundle purchase.
type Line struct {
	ProductID string          `json:"product_id"`
	Kind      product.Kind    `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	BundleID  string          `json:"bundle_id,omitempty"`
}

// Basket is the engine's read view of a storefront basket. The engine reads
// prices and writes discount totals; it does not own basket persistence.
type Basket struct {
	ID          string
	UserID      string
	Lines       []Line
	VoucherCode string
	Status      Status
}

// Subtotal returns the undiscounted sum of price * quantity across all lines.
func (b *Basket) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range b.Lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Repository defines the engine's access to the basket/order store.
type Repository interface {
	Get(ctx context.Context, id string) (*Basket, error)
	// AttachVoucher records the given code on an open basket, replacing any
	// previously attached voucher. Only one voucher may be active per basket.
	AttachVoucher(ctx context.Context, basketID, code string) error
}
