package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-voucher-engine/internal/domain/basket"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
	"github.com/xenking/course-voucher-engine/internal/domain/learner"
	"github.com/xenking/course-voucher-engine/internal/domain/product"
	"github.com/xenking/course-voucher-engine/internal/domain/redemption"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

type redeemRequest struct {
	Code     string `json:"code"`
	BasketID string `json:"basket_id"`
	Email    string `json:"email"`
}

type redeemResponse struct {
	Code               string          `json:"code"`
	Discount           decimal.Decimal `json:"discount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Total              decimal.Decimal `json:"total"`
	ApplicationID      int64           `json:"application_id,omitempty"`
}

// Redeem applies a voucher to a basket and records the redemption.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" || req.BasketID == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "code, basket_id, and email are required")
		return
	}

	u, err := h.learners.ByEmail(r.Context(), req.Email)
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}

	res, err := h.redeemer.Redeem(r.Context(), req.Code, req.BasketID, u, sourceFromContext(r.Context()))
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedeemResponse(res))
}

type previewRequest struct {
	Code  string        `json:"code"`
	Email string        `json:"email"`
	Lines []previewLine `json:"lines"`
}

type previewLine struct {
	ProductID string          `json:"product_id"`
	Kind      product.Kind    `json:"kind,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	BundleID  string          `json:"bundle_id,omitempty"`
}

// Preview computes the discount a voucher would yield without committing
// anything.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "code and email are required")
		return
	}

	u, err := h.learners.ByEmail(r.Context(), req.Email)
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}

	lines := make([]basket.Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = basket.Line{
			ProductID: l.ProductID,
			Kind:      l.Kind,
			Price:     l.Price,
			Quantity:  l.Quantity,
			BundleID:  l.BundleID,
		}
	}

	res, err := h.redeemer.Preview(r.Context(), req.Code, lines, u, sourceFromContext(r.Context()))
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedeemResponse(res))
}

type voucherResponse struct {
	Code               string          `json:"code"`
	UsageType          string          `json:"usage_type"`
	State              string          `json:"state"`
	StartDatetime      string          `json:"start_datetime"`
	EndDatetime        string          `json:"end_datetime"`
	BenefitType        string          `json:"benefit_type"`
	BenefitValue       decimal.Decimal `json:"benefit_value"`
	EnterpriseExcluded bool            `json:"enterprise_excluded"`
	// RemainingUses is omitted for vouchers without a global cap.
	RemainingUses *int `json:"remaining_uses,omitempty"`
	// RemainingBalance is present only when an email query parameter names a
	// learner and the offer carries a per-user discount cap.
	RemainingBalance *decimal.Decimal `json:"remaining_balance,omitempty"`
}

// GetVoucher returns a voucher's public details, its computed lifecycle
// state, and how much capacity is left. An optional ?email= parameter scopes
// the usage view to one learner for per-user balances.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	v, o, err := h.vouchers.FindByCode(r.Context(), code)
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}

	var userID string
	if email := r.URL.Query().Get("email"); email != "" {
		u, err := h.learners.ByEmail(r.Context(), email)
		if err != nil {
			h.writeVoucherError(w, r, err)
			return
		}
		userID = u.ID
	}

	usage, err := h.vouchers.Usage(r.Context(), code, userID)
	if err != nil {
		serverError(w, r, err)
		return
	}

	resp := voucherResponse{
		Code:               v.Code,
		UsageType:          string(v.UsageType),
		State:              string(voucher.StateAt(v, o, h.now(), usage)),
		StartDatetime:      v.StartDatetime.Format(timeFormat),
		EndDatetime:        v.EndDatetime.Format(timeFormat),
		BenefitType:        string(o.Benefit.Type),
		BenefitValue:       o.Benefit.Value,
		EnterpriseExcluded: v.EnterpriseOnly(),
		RemainingUses:      voucher.RemainingUses(v, o, usage),
	}
	if userID != "" && o.MaxUserDiscount != nil {
		balance := voucher.RemainingBalance(o, usage)
		resp.RemainingBalance = &balance
	}
	writeJSON(w, http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func toRedeemResponse(res *redemption.Result) redeemResponse {
	return redeemResponse{
		Code:               res.Code,
		Discount:           res.Discount,
		DiscountPercentage: res.DiscountPercentage,
		Subtotal:           res.Subtotal,
		Total:              res.Total,
		ApplicationID:      res.ApplicationID,
	}
}

// writeVoucherError maps the redemption failure taxonomy to HTTP responses.
// Business rejections are 422 so clients can distinguish them from malformed
// requests; missing entities are 404; a catalog outage is 503.
func (h *Handler) writeVoucherError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, voucher.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", "voucher code not found")
	case errors.Is(err, basket.ErrNotFound):
		writeError(w, http.StatusNotFound, "basket_not_found", "basket not found")
	case errors.Is(err, learner.ErrNotFound):
		writeError(w, http.StatusNotFound, "learner_not_found", "no learner with that email")
	case errors.Is(err, voucher.ErrCodeNotYetActive):
		writeError(w, http.StatusUnprocessableEntity, "code_not_yet_active", "voucher is not active yet")
	case errors.Is(err, voucher.ErrCodeExpired):
		writeError(w, http.StatusUnprocessableEntity, "code_expired", "voucher has expired")
	case errors.Is(err, voucher.ErrCodeExhausted):
		writeError(w, http.StatusUnprocessableEntity, "code_exhausted", "voucher usage limit reached")
	case errors.Is(err, voucher.ErrNoEffectiveDiscount):
		writeError(w, http.StatusUnprocessableEntity, "no_effective_discount", "voucher yields no discount for this basket")
	case errors.Is(err, voucher.ErrAlreadyRedeemedForBasket):
		writeError(w, http.StatusUnprocessableEntity, "already_redeemed", "voucher already applied to this basket")
	case errors.Is(err, condition.ErrNotSatisfied):
		writeError(w, http.StatusUnprocessableEntity, "condition_not_satisfied", "basket does not satisfy the voucher condition")
	case errors.Is(err, vrange.ErrCatalogUnavailable):
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog is unavailable, try again")
	default:
		serverError(w, r, err)
	}
}
