package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bazaar/internal/domain/cart"
)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) getCart(kind cart.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.carts.Get(r.Context(), principal(r.Context()).UserID, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartDTO(c))
	}
}

func (h *Handler) addToCart(kind cart.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cartItemRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.ProductID == "" {
			writeError(w, r, &badRequest{msg: "productId is required"})
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}
		c, err := h.carts.AddItem(r.Context(), principal(r.Context()).UserID, kind, req.ProductID, req.Quantity)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartDTO(c))
	}
}

func (h *Handler) updateCartItem(kind cart.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cartItemRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		c, err := h.carts.UpdateItem(r.Context(), principal(r.Context()).UserID, kind, chi.URLParam(r, "productId"), req.Quantity)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartDTO(c))
	}
}

func (h *Handler) removeCartItem(kind cart.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.carts.RemoveItem(r.Context(), principal(r.Context()).UserID, kind, chi.URLParam(r, "productId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartDTO(c))
	}
}

func (h *Handler) clearCart(kind cart.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.carts.Clear(r.Context(), principal(r.Context()).UserID, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartDTO(c))
	}
}
