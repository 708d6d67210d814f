package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bazaar/internal/domain/order"
)

type createWholesaleRequest struct {
	ShippingAddress addressDTO `json:"shippingAddress"`
	Notes           string     `json:"notes"`
}

func (h *Handler) createWholesaleOrder(w http.ResponseWriter, r *http.Request) {
	var req createWholesaleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.CreateWholesale(r.Context(), principal(r.Context()), order.CreateWholesaleRequest{
		ShippingAddress: order.Address(req.ShippingAddress),
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

type decisionRequest struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejectionReason"`
}

func (h *Handler) decideWholesaleOrder(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Decide(r.Context(), principal(r.Context()), chi.URLParam(r, "id"), order.DecisionRequest(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}
