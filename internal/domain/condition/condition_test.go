package condition

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-voucher-engine/internal/domain/basket"
	"github.com/xenking/course-voucher-engine/internal/domain/product"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// staticRanges answers Contains from the range's own product set, failing
// with err when set.
type staticRanges struct {
	err error
}

func (s *staticRanges) Contains(_ context.Context, rng *vrange.Range, _, productID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	_, ok := rng.Products[productID]
	return ok, nil
}

func rangeOf(ids ...string) *vrange.Range {
	products := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		products[id] = struct{}{}
	}
	return &vrange.Range{Products: products}
}

func line(productID string, price string, qty int) basket.Line {
	return basket.Line{ProductID: productID, Price: d(price), Quantity: qty}
}

func TestEvaluate(t *testing.T) {
	eval := NewEvaluator(&staticRanges{}, "edx")

	tests := []struct {
		name      string
		cond      *Condition
		basket    *basket.Basket
		satisfied bool
		qualified int
	}{
		{
			name:      "count met by qualifying quantities",
			cond:      &Condition{Type: TypeCount, Value: d("2"), Range: rangeOf("a", "b")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "10", 1), line("b", "20", 1), line("z", "5", 9)}},
			satisfied: true,
			qualified: 2,
		},
		{
			name:      "count not met when only off-range quantity is high",
			cond:      &Condition{Type: TypeCount, Value: d("3"), Range: rangeOf("a")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "10", 2), line("z", "5", 9)}},
			satisfied: false,
			qualified: 1,
		},
		{
			name:      "value threshold uses qualifying line totals",
			cond:      &Condition{Type: TypeValue, Value: d("100"), Range: rangeOf("a")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "50", 2)}},
			satisfied: true,
			qualified: 1,
		},
		{
			name:      "value threshold just missed",
			cond:      &Condition{Type: TypeValue, Value: d("100.01"), Range: rangeOf("a")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "50", 2)}},
			satisfied: false,
			qualified: 1,
		},
		{
			name:      "coverage counts distinct products",
			cond:      &Condition{Type: TypeCoverage, Value: d("2"), Range: rangeOf("a", "b")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "10", 5), line("b", "10", 1)}},
			satisfied: true,
			qualified: 2,
		},
		{
			name:      "coverage ignores repeated product",
			cond:      &Condition{Type: TypeCoverage, Value: d("2"), Range: rangeOf("a")},
			basket:    &basket.Basket{Lines: []basket.Line{line("a", "10", 5)}},
			satisfied: false,
			qualified: 1,
		},
		{
			name:      "empty basket never satisfied",
			cond:      &Condition{Type: TypeCount, Value: d("0"), Range: rangeOf("a")},
			basket:    &basket.Basket{},
			satisfied: false,
			qualified: 0,
		},
		{
			name:      "no qualifying lines never satisfied even with zero threshold",
			cond:      &Condition{Type: TypeCount, Value: d("0"), Range: rangeOf("a")},
			basket:    &basket.Basket{Lines: []basket.Line{line("z", "10", 1)}},
			satisfied: false,
			qualified: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := eval.Evaluate(context.Background(), tt.cond, tt.basket)
			require.NoError(t, err)
			assert.Equal(t, tt.satisfied, ev.Satisfied)
			assert.Len(t, ev.Qualifying, tt.qualified)
		})
	}
}

func TestEvaluateBundleCoverage(t *testing.T) {
	eval := NewEvaluator(&staticRanges{}, "edx")
	cond := &Condition{Type: TypeCount, Value: d("1"), Range: rangeOf("a")}

	// Bundle b1 has a line outside the range: the voucher must not apply.
	b := &basket.Basket{Lines: []basket.Line{
		{ProductID: "a", Price: d("10"), Quantity: 1, BundleID: "b1"},
		{ProductID: "z", Price: d("10"), Quantity: 1, BundleID: "b1"},
	}}
	ev, err := eval.Evaluate(context.Background(), cond, b)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied)

	// Fully covered bundle qualifies.
	cond = &Condition{Type: TypeCount, Value: d("1"), Range: rangeOf("a", "z")}
	ev, err = eval.Evaluate(context.Background(), cond, b)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
}

func TestEvaluateCouponLinesNeverQualify(t *testing.T) {
	eval := NewEvaluator(&staticRanges{}, "edx")
	cond := &Condition{Type: TypeCount, Value: d("1"), Range: rangeOf("a", "c")}

	// A coupon product is never discountable, even when the range covers it.
	b := &basket.Basket{Lines: []basket.Line{
		{ProductID: "c", Kind: product.KindCoupon, Price: d("10"), Quantity: 1},
	}}
	ev, err := eval.Evaluate(context.Background(), cond, b)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied)
	assert.Empty(t, ev.Qualifying)

	// Mixed basket: only the seat line qualifies.
	b.Lines = append(b.Lines, basket.Line{ProductID: "a", Kind: product.KindSeat, Price: d("50"), Quantity: 1})
	ev, err = eval.Evaluate(context.Background(), cond, b)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
	require.Len(t, ev.Qualifying, 1)
	assert.Equal(t, "a", ev.Qualifying[0].ProductID)
}

func TestEvaluateCatalogFailurePropagates(t *testing.T) {
	ranges := &staticRanges{err: errors.Wrap(vrange.ErrCatalogUnavailable, "search")}
	eval := NewEvaluator(ranges, "edx")
	cond := &Condition{Type: TypeCount, Value: d("1"), Range: &vrange.Range{CatalogQuery: "q"}}
	b := &basket.Basket{Lines: []basket.Line{line("a", "10", 1)}}

	_, err := eval.Evaluate(context.Background(), cond, b)
	require.ErrorIs(t, err, vrange.ErrCatalogUnavailable)
}

func TestEmailDomainAllowed(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		email   string
		want    bool
	}{
		{"no restriction allows any email", nil, "a@b.com", true},
		{"matching domain", []string{"acme.com"}, "user@acme.com", true},
		{"case-insensitive match", []string{"Acme.COM"}, "user@ACME.com", true},
		{"non-matching domain", []string{"acme.com"}, "user@other.com", false},
		{"missing email fails closed", []string{"acme.com"}, "", false},
		{"malformed email fails closed", []string{"acme.com"}, "user@", false},
		{"second domain in list", []string{"a.com", "b.com"}, "x@b.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EmailDomainAllowed(tt.domains, tt.email))
		})
	}
}

func TestEnterpriseMember(t *testing.T) {
	assert.True(t, EnterpriseMember("", ""))
	assert.True(t, EnterpriseMember("", "ent-1"))
	assert.True(t, EnterpriseMember("ent-1", "ent-1"))

	assert.False(t, EnterpriseMember("ent-1", "ent-2"))
	assert.False(t, EnterpriseMember("ent-1", ""))
}

func TestSourceAllowed(t *testing.T) {
	assert.True(t, SourceAllowed(false, SourceCheckout))
	assert.True(t, SourceAllowed(false, SourceEnterprise))
	assert.True(t, SourceAllowed(true, SourceEnterprise))
	assert.False(t, SourceAllowed(true, SourceCheckout))
}
