package handler

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/payment"
)

const maxBodySize = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	// Reason and ProductID qualify order creation failures.
	Reason    string `json:"reason,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

// badRequest is a malformed request body or parameter.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// classify maps domain errors onto status codes and the error envelope.
func classify(err error) (int, envelope) {
	fail := func(status int, msg string) (int, envelope) {
		return status, envelope{Message: msg}
	}

	var (
		validation *order.ValidationError
		creation   *order.CreationError
		transition *order.TransitionError
		verify     *order.VerificationError
		gateway    *order.GatewayError
		minQty     *cart.MinQuantityError
		malformed  *badRequest
	)
	switch {
	case errors.Is(err, errUnauthenticated), errors.Is(err, errInvalidToken):
		return fail(http.StatusUnauthorized, err.Error())
	case errors.Is(err, order.ErrForbidden), errors.Is(err, errRoleDenied):
		return fail(http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		return fail(http.StatusNotFound, err.Error())
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return fail(http.StatusNotFound, "coupon not found or inactive")
	case errors.As(err, &creation):
		return http.StatusBadRequest, envelope{
			Message:   creation.Error(),
			Reason:    string(creation.Reason),
			ProductID: creation.ProductID,
		}
	case errors.As(err, &validation),
		errors.As(err, &transition),
		errors.As(err, &verify),
		errors.As(err, &gateway),
		errors.As(err, &minQty),
		errors.As(err, &malformed),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrAlreadyPaid),
		errors.Is(err, order.ErrRefunded),
		errors.Is(err, order.ErrClosed),
		errors.Is(err, order.ErrNotRefundable),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrStatusChanged),
		errors.Is(err, order.ErrAlreadyDecided),
		errors.Is(err, order.ErrUseApproval),
		errors.Is(err, order.ErrTrackingInUse),
		errors.Is(err, payment.ErrRefundUnsupported),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrUnavailable),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, product.ErrNotListed),
		errors.Is(err, coupon.ErrDuplicateCode),
		coupon.Rejected(err):
		return fail(http.StatusBadRequest, err.Error())
	}
	return fail(http.StatusInternalServerError, "internal server error")
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &badRequest{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// page reads the page and limit query parameters, one-based.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, &badRequest{msg: "limit must be a positive integer"}
		}
		limit = min(limit, maxPageSize)
	}
	p := 1
	if raw := q.Get("page"); raw != "" {
		p, err = strconv.Atoi(raw)
		if err != nil || p <= 0 {
			return 0, 0, &badRequest{msg: "page must be a positive integer"}
		}
		// Keeps (p-1)*limit from overflowing into a negative offset.
		if p > math.MaxInt32/limit {
			return 0, 0, &badRequest{msg: "page is out of range"}
		}
	}
	return limit, (p - 1) * limit, nil
}
