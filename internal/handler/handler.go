// Package handler exposes the voucher engine over HTTP, delegating business
// logic to the domain services and mapping their failure taxonomy to
// responses.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
	"github.com/xenking/course-voucher-engine/internal/domain/learner"
	"github.com/xenking/course-voucher-engine/internal/domain/redemption"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
)

// Handler implements the engine's HTTP API.
type Handler struct {
	redeemer    *redemption.Service
	assignments *assignment.Service
	vouchers    voucher.Repository
	learners    learner.Directory
	now         func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	redeemer *redemption.Service,
	assignments *assignment.Service,
	vouchers voucher.Repository,
	learners learner.Directory,
) *Handler {
	return &Handler{
		redeemer:    redeemer,
		assignments: assignments,
		vouchers:    vouchers,
		learners:    learners,
		now:         time.Now,
	}
}

// Routes mounts the full API under the given router. Security middleware
// must already be applied by the caller; production wiring mounts
// VoucherRoutes and AssignmentRoutes separately under different scopes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/vouchers", h.VoucherRoutes)
	r.Route("/assignments", h.AssignmentRoutes)
}

// VoucherRoutes mounts the storefront redemption surface.
func (h *Handler) VoucherRoutes(r chi.Router) {
	r.Post("/redeem", h.Redeem)
	r.Post("/preview", h.Preview)
	r.Get("/{code}", h.GetVoucher)
}

// AssignmentRoutes mounts the enterprise assignment surface.
func (h *Handler) AssignmentRoutes(r chi.Router) {
	r.Post("/", h.Assign)
	r.Post("/{id}/remind", h.Remind)
	r.Post("/{id}/revoke", h.Revoke)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
