package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
)

type assignRequest struct {
	Code   string   `json:"code"`
	Emails []string `json:"emails"`
}

type assignmentResponse struct {
	ID          string `json:"id"`
	VoucherCode string `json:"voucher_code"`
	Email       string `json:"email"`
	Status      string `json:"status"`
}

// Assign hands out a voucher code to a batch of recipients. The batch is
// all-or-nothing against the offer's remaining slots.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" || len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "code and emails are required")
		return
	}

	created, err := h.assignments.Assign(r.Context(), req.Code, req.Emails)
	if err != nil {
		h.writeAssignmentError(w, r, err)
		return
	}

	out := make([]assignmentResponse, len(created))
	for i, a := range created {
		out[i] = assignmentResponse{
			ID:          a.ID,
			VoucherCode: a.VoucherCode,
			Email:       a.Email,
			Status:      string(a.Status),
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assignments": out})
}

// Remind re-sends the assignment email.
func (h *Handler) Remind(w http.ResponseWriter, r *http.Request) {
	if err := h.assignments.Remind(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAssignmentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke cancels an unredeemed assignment, freeing its slot.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.assignments.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAssignmentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeAssignmentError(w http.ResponseWriter, r *http.Request, err error) {
	var slotErr *assignment.InsufficientSlotsError
	switch {
	case errors.Is(err, voucher.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", "voucher code not found")
	case errors.Is(err, assignment.ErrNotFound):
		writeError(w, http.StatusNotFound, "assignment_not_found", "assignment not found")
	case errors.Is(err, assignment.ErrAlreadyRedeemed):
		writeError(w, http.StatusUnprocessableEntity, "already_redeemed", "assignment was already redeemed")
	case errors.Is(err, assignment.ErrNotAssignable):
		writeError(w, http.StatusUnprocessableEntity, "not_assignable", "voucher usage type does not support assignment")
	case errors.As(err, &slotErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":      "insufficient_slots",
			"message":   slotErr.Error(),
			"available": slotErr.Available,
			"requested": slotErr.Requested,
		})
	default:
		serverError(w, r, err)
	}
}
