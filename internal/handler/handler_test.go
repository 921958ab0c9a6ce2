package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-voucher-engine/internal/domain/auth"
	"github.com/xenking/course-voucher-engine/internal/domain/basket"
	"github.com/xenking/course-voucher-engine/internal/domain/benefit"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
	"github.com/xenking/course-voucher-engine/internal/domain/learner"
	"github.com/xenking/course-voucher-engine/internal/domain/redemption"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type memVouchers struct {
	voucher *voucher.Voucher
	offer   *voucher.Offer
	apps    []voucher.Application
}

func (m *memVouchers) FindByCode(_ context.Context, code string) (*voucher.Voucher, *voucher.Offer, error) {
	if m.voucher == nil || m.voucher.Code != code {
		return nil, nil, voucher.ErrCodeNotFound
	}
	return m.voucher, m.offer, nil
}

func (m *memVouchers) Usage(_ context.Context, code, userID string) (voucher.Usage, error) {
	u := voucher.Usage{UserDiscountTotal: decimal.Zero}
	for _, a := range m.apps {
		if a.VoucherCode != code {
			continue
		}
		u.Total++
		if a.UserID == userID {
			u.ByUser++
			u.UserDiscountTotal = u.UserDiscountTotal.Add(a.Discount)
		}
	}
	return u, nil
}

func (m *memVouchers) Redeem(_ context.Context, req voucher.RedeemRequest) (*voucher.Application, error) {
	for _, a := range m.apps {
		if a.VoucherCode == req.Voucher.Code && a.OrderID == req.BasketID {
			return nil, voucher.ErrAlreadyRedeemedForBasket
		}
	}
	app := voucher.Application{
		ID:          int64(len(m.apps) + 1),
		VoucherCode: req.Voucher.Code,
		UserID:      req.UserID,
		OrderID:     req.BasketID,
		Discount:    req.Discount,
	}
	m.apps = append(m.apps, app)
	return &app, nil
}

type memBaskets struct {
	baskets map[string]*basket.Basket
}

func (m *memBaskets) Get(_ context.Context, id string) (*basket.Basket, error) {
	b, ok := m.baskets[id]
	if !ok {
		return nil, basket.ErrNotFound
	}
	return b, nil
}

func (m *memBaskets) AttachVoucher(_ context.Context, id, code string) error {
	b, ok := m.baskets[id]
	if !ok {
		return basket.ErrNotFound
	}
	b.VoucherCode = code
	return nil
}

type memLearners struct {
	learners map[string]*learner.Learner
}

func (m *memLearners) ByEmail(_ context.Context, email string) (*learner.Learner, error) {
	l, ok := m.learners[email]
	if !ok {
		return nil, learner.ErrNotFound
	}
	return l, nil
}

type staticRanges struct{}

func (staticRanges) Contains(_ context.Context, rng *vrange.Range, _, productID string) (bool, error) {
	_, ok := rng.Products[productID]
	return ok, nil
}

func testFixtures() (*memVouchers, *memBaskets, *memLearners) {
	vouchers := &memVouchers{
		voucher: &voucher.Voucher{
			Code:          "HALF",
			UsageType:     voucher.MultiUse,
			StartDatetime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDatetime:   time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
			OfferID:       1,
		},
		offer: &voucher.Offer{
			ID: 1,
			Condition: condition.Condition{
				Type:  condition.TypeCount,
				Value: d("1"),
				Range: &vrange.Range{Products: map[string]struct{}{"course-a": {}}},
			},
			Benefit: benefit.Benefit{Type: benefit.TypePercentage, Value: d("50")},
		},
	}
	baskets := &memBaskets{baskets: map[string]*basket.Basket{
		"b1": {
			ID:     "b1",
			UserID: "alice",
			Lines:  []basket.Line{{ProductID: "course-a", Price: d("100.00"), Quantity: 1}},
			Status: basket.StatusOpen,
		},
	}}
	learners := &memLearners{learners: map[string]*learner.Learner{
		"alice@acme.com": {ID: "alice", Email: "alice@acme.com"},
	}}
	return vouchers, baskets, learners
}

func newTestRouter(t *testing.T) (*chi.Mux, *memVouchers) {
	t.Helper()
	vouchers, baskets, learners := testFixtures()
	svc := redemption.NewService(vouchers, baskets, condition.NewEvaluator(staticRanges{}, "edx"))
	h := NewHandler(svc, nil, vouchers, learners)

	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	return r, vouchers
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRedeemEndpoint(t *testing.T) {
	r, vouchers := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vouchers/redeem",
		`{"code":"HALF","basket_id":"b1","email":"alice@acme.com"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp redeemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, d("50").Equal(resp.Discount), "got %s", resp.Discount)
	assert.True(t, d("50").Equal(resp.Total))
	assert.Equal(t, int64(1), resp.ApplicationID)
	assert.Len(t, vouchers.apps, 1)
}

func TestRedeemEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown voucher",
			body:       `{"code":"NOPE","basket_id":"b1","email":"alice@acme.com"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "code_not_found",
		},
		{
			name:       "unknown basket",
			body:       `{"code":"HALF","basket_id":"missing","email":"alice@acme.com"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "basket_not_found",
		},
		{
			name:       "unknown learner",
			body:       `{"code":"HALF","basket_id":"b1","email":"nobody@acme.com"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "learner_not_found",
		},
		{
			name:       "missing fields",
			body:       `{"code":"HALF"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
		{
			name:       "malformed body",
			body:       `{"code":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			w := doJSON(t, r, http.MethodPost, "/api/vouchers/redeem", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantCode)
		})
	}
}

func TestPreviewEndpoint(t *testing.T) {
	r, vouchers := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vouchers/preview",
		`{"code":"HALF","email":"alice@acme.com","lines":[{"product_id":"course-a","price":"80","quantity":1}]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp redeemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, d("40").Equal(resp.Discount), "got %s", resp.Discount)
	assert.Zero(t, resp.ApplicationID)
	assert.Empty(t, vouchers.apps, "preview must not write the ledger")
}

func TestGetVoucherEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/vouchers/HALF", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"ACTIVE"`)
	assert.Contains(t, w.Body.String(), `"usage_type":"MULTI_USE"`)

	w = doJSON(t, r, http.MethodGet, "/api/vouchers/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVoucherCapacityView(t *testing.T) {
	r, vouchers := newTestRouter(t)
	maxUses := 5
	userCap := d("120")
	vouchers.voucher.MaxGlobalUses = &maxUses
	vouchers.offer.MaxUserDiscount = &userCap
	vouchers.apps = append(vouchers.apps, voucher.Application{
		VoucherCode: "HALF", UserID: "alice", OrderID: "old-order", Discount: d("20"),
	})

	w := doJSON(t, r, http.MethodGet, "/api/vouchers/HALF?email=alice@acme.com", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp voucherResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.RemainingUses)
	assert.Equal(t, 4, *resp.RemainingUses)
	require.NotNil(t, resp.RemainingBalance)
	assert.True(t, d("100").Equal(*resp.RemainingBalance), "got %s", resp.RemainingBalance)
}

type memKeys struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, learner.ErrNotFound
	}
	return info, nil
}

func TestSecurityMiddleware(t *testing.T) {
	const pepper = "test-pepper"
	redeemHash := auth.HashKey(pepper, "storefront-key")
	entHash := auth.HashKey(pepper, "enterprise-key")

	sec := NewSecurityHandler(&memKeys{keys: map[string]*auth.APIKeyInfo{
		redeemHash: {ID: 1, KeyHash: redeemHash, Name: "storefront", Scopes: []string{auth.ScopeRedeem}},
		entHash:    {ID: 2, KeyHash: entHash, Name: "enterprise", Scopes: []string{auth.ScopeRedeem, auth.ScopeEnterprise}},
	}}, pepper)

	var gotSource condition.Source
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSource = sourceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	do := func(handler http.Handler, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if key != "" {
			req.Header.Set("api_key", key)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	redeemOnly := sec.Middleware(auth.ScopeRedeem)(inner)
	enterpriseOnly := sec.Middleware(auth.ScopeEnterprise)(inner)

	assert.Equal(t, http.StatusUnauthorized, do(redeemOnly, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(redeemOnly, "wrong-key").Code)

	assert.Equal(t, http.StatusOK, do(redeemOnly, "storefront-key").Code)
	assert.Equal(t, condition.SourceCheckout, gotSource)

	// Storefront keys cannot reach enterprise surfaces.
	assert.Equal(t, http.StatusForbidden, do(enterpriseOnly, "storefront-key").Code)

	assert.Equal(t, http.StatusOK, do(enterpriseOnly, "enterprise-key").Code)
	assert.Equal(t, condition.SourceEnterprise, gotSource)
}
