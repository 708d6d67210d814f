package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/payment"
)

type createOrderRequest struct {
	ShippingAddress addressDTO `json:"shippingAddress"`
	PaymentMethod   string     `json:"paymentMethod"`
	CouponCode      string     `json:"couponCode"`
	Notes           string     `json:"notes"`
}

type createOrderResponse struct {
	Order        orderDTO            `json:"order"`
	PaymentOrder *payment.Initiation `json:"paymentOrder,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.Create(r.Context(), principal(r.Context()), order.CreateRequest{
		ShippingAddress: order.Address(req.ShippingAddress),
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:        toOrderDTO(res.Order),
		PaymentOrder: res.Payment,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), principal(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) listMyOrders(kind order.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := page(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		orders, total, err := h.orders.ListMine(r.Context(), principal(r.Context()), kind, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orderPage{
			Orders: toOrderDTOs(orders),
			Total:  total,
			Page:   offset/limit + 1,
			Limit:  limit,
		})
	}
}

func (h *Handler) listAllOrders(kind order.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := page(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f := order.Filter{Kind: kind, Limit: limit, Offset: offset}
		if raw := r.URL.Query().Get("status"); raw != "" {
			if f.Status, err = order.ParseStatus(raw); err != nil {
				writeError(w, r, err)
				return
			}
		}
		orders, total, err := h.orders.ListAll(r.Context(), principal(r.Context()), f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orderPage{
			Orders: toOrderDTOs(orders),
			Total:  total,
			Page:   offset/limit + 1,
			Limit:  limit,
		})
	}
}

type initiatePaymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	handoff, err := h.orders.InitiatePayment(r.Context(), principal(r.Context()), chi.URLParam(r, "id"), req.PaymentMethod)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

type verifyPaymentRequest struct {
	PaymentMethod    string                     `json:"paymentMethod"`
	VerificationData map[string]json.RawMessage `json:"verificationData"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	data, err := callbackData(req.VerificationData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.VerifyPayment(r.Context(), principal(r.Context()), chi.URLParam(r, "id"), req.PaymentMethod, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// paymentCallback relays a gateway redirect query to verification. The
// storefront calls it with the buyer's token and the query it received.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("orderId")
	if id == "" {
		writeError(w, r, &badRequest{msg: "orderId is required"})
		return
	}
	data := make(payment.CallbackData, len(q))
	for k := range q {
		if k == "orderId" || k == "paymentMethod" {
			continue
		}
		data[k] = q.Get(k)
	}
	o, err := h.orders.VerifyPayment(r.Context(), principal(r.Context()), id, q.Get("paymentMethod"), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// callbackData flattens verification fields to strings. Strings are
// unquoted, numbers and other literals keep their JSON text.
func callbackData(raw map[string]json.RawMessage) (payment.CallbackData, error) {
	data := make(payment.CallbackData, len(raw))
	for k, v := range raw {
		if len(v) > 0 && v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, &badRequest{msg: "invalid verificationData." + k}
			}
			data[k] = s
			continue
		}
		if string(v) == "null" {
			continue
		}
		data[k] = string(v)
	}
	return data, nil
}

type statusUpdateRequest struct {
	Status         string       `json:"status"`
	TrackingNumber *string      `json:"trackingNumber"`
	Notes          *string      `json:"notes"`
	Location       *locationDTO `json:"location"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	upd := order.StatusUpdate{
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
	}
	if l := req.Location; l != nil {
		upd.Location = &order.Location{Latitude: l.Latitude, Longitude: l.Longitude, Address: l.Address}
	}
	o, err := h.orders.UpdateStatus(r.Context(), principal(r.Context()), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Refund(r.Context(), principal(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}
