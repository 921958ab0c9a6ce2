// Package condition decides whether a basket and user satisfy a voucher
// offer's condition. All evaluation is read-only: it never touches usage
// counters, so checks are idempotent and safely retryable.
package condition

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-voucher-engine/internal/domain/basket"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

// ErrNotSatisfied is returned when the basket or user is ineligible for an
// offer's condition.
var ErrNotSatisfied = errors.New("condition not satisfied")

// Type enumerates condition threshold semantics.
type Type string

const (
	// TypeCount requires the quantity of qualifying lines to reach Value.
	TypeCount Type = "Count"
	// TypeValue requires the price total of qualifying lines to reach Value.
	TypeValue Type = "Value"
	// TypeCoverage requires Value distinct qualifying products.
	TypeCoverage Type = "Coverage"
)

// Condition pairs a threshold with the product range it applies to.
type Condition struct {
	Type  Type
	Value decimal.Decimal
	Range *vrange.Range
}

// Source identifies the call site a redemption request originated from.
// It is set by authenticated server code, never from request data.
type Source string

const (
	// SourceCheckout is the general storefront checkout pathway.
	SourceCheckout Source = "checkout"
	// SourceEnterprise is the authorized internal enterprise pathway.
	SourceEnterprise Source = "enterprise"
)

// Ranges is the narrow resolver surface the evaluator needs.
type Ranges interface {
	Contains(ctx context.Context, rng *vrange.Range, partner, productID string) (bool, error)
}

// Evaluation is the outcome of evaluating a condition against a basket.
type Evaluation struct {
	Satisfied bool
	// Qualifying holds the basket lines covered by the offer's range.
	Qualifying []basket.Line
}

// Evaluator evaluates conditions using an injected range resolver.
type Evaluator struct {
	ranges  Ranges
	partner string
}

// NewEvaluator creates an Evaluator. partner scopes dynamic catalog lookups.
func NewEvaluator(ranges Ranges, partner string) *Evaluator {
	return &Evaluator{ranges: ranges, partner: partner}
}

// Evaluate checks the condition against the basket and returns the
// qualifying lines. An empty basket is never satisfied. Catalog failures
// propagate as vrange.ErrCatalogUnavailable rather than "not satisfied".
func (e *Evaluator) Evaluate(ctx context.Context, c *Condition, b *basket.Basket) (*Evaluation, error) {
	if b == nil || len(b.Lines) == 0 {
		return &Evaluation{}, nil
	}

	qualifying := make([]basket.Line, 0, len(b.Lines))
	inRange := make(map[string]bool, len(b.Lines))
	for _, line := range b.Lines {
		if !line.Kind.Discountable() {
			continue
		}
		ok, err := e.ranges.Contains(ctx, c.Range, e.partner, line.ProductID)
		if err != nil {
			return nil, err
		}
		inRange[line.ProductID] = ok
		if ok {
			qualifying = append(qualifying, line)
		}
	}

	if len(qualifying) == 0 {
		return &Evaluation{}, nil
	}

	// Bundles are all-or-nothing: a voucher spanning only part of a bundle
	// does not qualify.
	if !bundlesCovered(b.Lines, inRange) {
		return &Evaluation{Qualifying: qualifying}, nil
	}

	return &Evaluation{
		Satisfied:  thresholdMet(c, qualifying),
		Qualifying: qualifying,
	}, nil
}

// IsSatisfied is Evaluate reduced to its boolean outcome.
func (e *Evaluator) IsSatisfied(ctx context.Context, c *Condition, b *basket.Basket) (bool, error) {
	ev, err := e.Evaluate(ctx, c, b)
	if err != nil {
		return false, err
	}
	return ev.Satisfied, nil
}

func thresholdMet(c *Condition, qualifying []basket.Line) bool {
	switch c.Type {
	case TypeCount:
		count := int64(0)
		for _, l := range qualifying {
			count += int64(l.Quantity)
		}
		return decimal.NewFromInt(count).GreaterThanOrEqual(c.Value)
	case TypeValue:
		total := decimal.Zero
		for _, l := range qualifying {
			total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		return total.GreaterThanOrEqual(c.Value)
	case TypeCoverage:
		distinct := make(map[string]struct{}, len(qualifying))
		for _, l := range qualifying {
			distinct[l.ProductID] = struct{}{}
		}
		return decimal.NewFromInt(int64(len(distinct))).GreaterThanOrEqual(c.Value)
	default:
		return false
	}
}

// bundlesCovered reports whether every discountable line of every bundle
// present in the basket falls inside the range.
func bundlesCovered(lines []basket.Line, inRange map[string]bool) bool {
	for _, l := range lines {
		if l.BundleID == "" || !l.Kind.Discountable() {
			continue
		}
		if !inRange[l.ProductID] {
			return false
		}
	}
	return true
}

// EmailDomainAllowed reports whether the given email matches one of the
// allowed domains, case-insensitively. An empty allow-list permits any
// email; a missing email fails closed.
func EmailDomainAllowed(domains []string, email string) bool {
	if len(domains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range domains {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}

// SourceAllowed reports whether the request pathway may evaluate the
// voucher. Enterprise vouchers are only redeemable through the internal
// enterprise pathway, never general checkout.
func SourceAllowed(enterpriseOnly bool, src Source) bool {
	if !enterpriseOnly {
		return true
	}
	return src == SourceEnterprise
}

// EnterpriseMember reports whether the learner belongs to the voucher's
// enterprise. Vouchers without an enterprise place no restriction; a learner
// without one fails closed against any enterprise voucher.
func EnterpriseMember(voucherEnterprise, learnerEnterprise string) bool {
	if voucherEnterprise == "" {
		return true
	}
	return learnerEnterprise == voucherEnterprise
}
