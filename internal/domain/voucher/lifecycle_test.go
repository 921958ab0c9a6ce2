package voucher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func intp(v int) *int { return &v }

func decp(v string) *decimal.Decimal {
	dec := d(v)
	return &dec
}

var (
	windowStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	inWindow    = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
)

func testVoucher(ut UsageType) *Voucher {
	return &Voucher{
		Code:          "SUMMER26",
		UsageType:     ut,
		StartDatetime: windowStart,
		EndDatetime:   windowEnd,
	}
}

func TestCheckWindow(t *testing.T) {
	v := testVoucher(SingleUse)

	require.NoError(t, CheckWindow(v, inWindow))
	require.ErrorIs(t, CheckWindow(v, windowStart.Add(-time.Second)), ErrCodeNotYetActive)
	require.ErrorIs(t, CheckWindow(v, windowEnd), ErrCodeExpired)
	require.ErrorIs(t, CheckWindow(v, windowEnd.Add(time.Hour)), ErrCodeExpired)

	// Boundary: the window opens exactly at start.
	require.NoError(t, CheckWindow(v, windowStart))
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		name    string
		voucher *Voucher
		offer   *Offer
		usage   Usage
		wantErr error
	}{
		{
			name:    "single use unused",
			voucher: testVoucher(SingleUse),
			offer:   &Offer{},
		},
		{
			name:    "single use already used by anyone",
			voucher: testVoucher(SingleUse),
			offer:   &Offer{},
			usage:   Usage{Total: 1},
			wantErr: ErrCodeExhausted,
		},
		{
			name: "multi use below global cap",
			voucher: func() *Voucher {
				v := testVoucher(MultiUse)
				v.MaxGlobalUses = intp(3)
				return v
			}(),
			offer: &Offer{},
			usage: Usage{Total: 2},
		},
		{
			name: "multi use at global cap",
			voucher: func() *Voucher {
				v := testVoucher(MultiUse)
				v.MaxGlobalUses = intp(3)
				return v
			}(),
			offer:   &Offer{},
			usage:   Usage{Total: 3},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "multi use without cap is unlimited",
			voucher: testVoucher(MultiUse),
			offer:   &Offer{},
			usage:   Usage{Total: 100000},
		},
		{
			name:    "once per customer fresh user",
			voucher: testVoucher(OncePerCustomer),
			offer:   &Offer{},
			usage:   Usage{Total: 50, ByUser: 0},
		},
		{
			name:    "once per customer repeat user",
			voucher: testVoucher(OncePerCustomer),
			offer:   &Offer{},
			usage:   Usage{Total: 50, ByUser: 1},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "per customer user application cap reached",
			voucher: testVoucher(MultiUsePerCustomer),
			offer:   &Offer{MaxUserApplications: intp(2)},
			usage:   Usage{ByUser: 2},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "per customer global application cap reached",
			voucher: testVoucher(MultiUsePerCustomer),
			offer:   &Offer{MaxGlobalApplications: intp(10)},
			usage:   Usage{Total: 10},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "per customer balance spent",
			voucher: testVoucher(MultiUsePerCustomer),
			offer:   &Offer{MaxUserDiscount: decp("100")},
			usage:   Usage{ByUser: 2, UserDiscountTotal: d("100")},
			wantErr: ErrCodeExhausted,
		},
		{
			name:    "per customer balance remaining",
			voucher: testVoucher(MultiUsePerCustomer),
			offer:   &Offer{MaxUserDiscount: decp("100"), MaxGlobalApplications: intp(10)},
			usage:   Usage{Total: 4, ByUser: 1, UserDiscountTotal: d("25.50")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCapacity(tt.voucher, tt.offer, tt.usage)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRemainingBalance(t *testing.T) {
	o := &Offer{MaxUserDiscount: decp("100")}

	assert.True(t, d("100").Equal(RemainingBalance(o, Usage{})))
	assert.True(t, d("74.50").Equal(RemainingBalance(o, Usage{UserDiscountTotal: d("25.50")})))
	assert.True(t, decimal.Zero.Equal(RemainingBalance(o, Usage{UserDiscountTotal: d("100")})))
	// Never negative, even if the ledger somehow oversubscribed.
	assert.True(t, decimal.Zero.Equal(RemainingBalance(o, Usage{UserDiscountTotal: d("120")})))
	// No cap configured reports zero.
	assert.True(t, decimal.Zero.Equal(RemainingBalance(&Offer{}, Usage{})))
}

func TestRemainingUses(t *testing.T) {
	o := &Offer{}

	left := RemainingUses(testVoucher(SingleUse), o, Usage{})
	require.NotNil(t, left)
	assert.Equal(t, 1, *left)

	left = RemainingUses(testVoucher(SingleUse), o, Usage{Total: 1})
	require.NotNil(t, left)
	assert.Equal(t, 0, *left)

	mu := testVoucher(MultiUse)
	mu.MaxGlobalUses = intp(5)
	left = RemainingUses(mu, o, Usage{Total: 2})
	require.NotNil(t, left)
	assert.Equal(t, 3, *left)

	// Uncapped vouchers report no count at all.
	assert.Nil(t, RemainingUses(testVoucher(MultiUse), o, Usage{Total: 100}))
	assert.Nil(t, RemainingUses(testVoucher(OncePerCustomer), o, Usage{}))

	pc := testVoucher(MultiUsePerCustomer)
	left = RemainingUses(pc, &Offer{MaxGlobalApplications: intp(10)}, Usage{Total: 12})
	require.NotNil(t, left)
	assert.Equal(t, 0, *left, "oversubscribed ledger clamps at zero")
}

func TestCapDiscount(t *testing.T) {
	o := &Offer{MaxUserDiscount: decp("100")}
	usage := Usage{UserDiscountTotal: d("80")}

	assert.True(t, d("20").Equal(CapDiscount(o, usage, d("50"))))
	assert.True(t, d("15").Equal(CapDiscount(o, usage, d("15"))))
	assert.True(t, d("50").Equal(CapDiscount(&Offer{}, usage, d("50"))))
}

func TestStateAt(t *testing.T) {
	v := testVoucher(SingleUse)
	o := &Offer{}

	assert.Equal(t, StatePending, StateAt(v, o, windowStart.Add(-time.Hour), Usage{}))
	assert.Equal(t, StateActive, StateAt(v, o, inWindow, Usage{}))
	assert.Equal(t, StateExpired, StateAt(v, o, windowEnd.Add(time.Hour), Usage{}))
	assert.Equal(t, StateExhausted, StateAt(v, o, inWindow, Usage{Total: 1}))
	// Expiry wins over exhaustion: the window check runs first.
	assert.Equal(t, StateExpired, StateAt(v, o, windowEnd, Usage{Total: 1}))
}
