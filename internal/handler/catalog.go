package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	rules, err := h.coupons.ListActive(r.Context(), h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]couponDTO, len(rules))
	for i := range rules {
		out[i] = toCouponDTO(&rules[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// getCoupon returns a coupon only while it is active and within its window.
func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	rule, err := h.coupons.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !rule.Active || !rule.ValidAt(h.now()) {
		writeError(w, r, coupon.ErrInvalidCoupon)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDTO(rule))
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := req.rule()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.coupons.Create(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponDTO(rule))
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.ListActive(r.Context(), h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]offerDTO, len(offers))
	for i, o := range offers {
		out[i] = toOfferDTO(o)
	}
	writeJSON(w, http.StatusOK, out)
}
