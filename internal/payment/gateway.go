// Package payment translates orders into eSewa and Khalti requests and
// interprets their verification responses into a uniform result.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method enumerates the payment methods an order can be settled with.
type Method string

const (
	// MethodCOD is cash on delivery. It has no gateway.
	MethodCOD Method = "cod"
	// MethodEsewa redirects the buyer through a signed eSewa form post.
	MethodEsewa Method = "esewa"
	// MethodKhalti redirects the buyer to a hosted Khalti checkout session.
	MethodKhalti Method = "khalti"
)

var (
	// ErrUnsupportedMethod is returned when no gateway serves a method.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrRefundUnsupported is returned by gateways that cannot refund through an API.
	ErrRefundUnsupported = errors.New("refund not supported for this payment method")
)

// ParseMethod validates a client supplied payment method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCOD, MethodEsewa, MethodKhalti:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedMethod, "%q", s)
	}
}

// Online reports whether the method settles through an external gateway.
func (m Method) Online() bool {
	return m == MethodEsewa || m == MethodKhalti
}

// InitiateRequest describes the amount to collect for an order.
type InitiateRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Description string
}

// Initiation is the gateway specific payload the client needs to redirect
// the buyer. eSewa fills FormURL and Fields, Khalti fills RedirectURL and
// PaymentIndex.
type Initiation struct {
	Method       Method            `json:"method"`
	FormURL      string            `json:"formUrl,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	RedirectURL  string            `json:"paymentUrl,omitempty"`
	PaymentIndex string            `json:"pidx,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
}

// Session is the gateway session to record on the order, empty when the
// gateway keys payments by order id alone.
func (i *Initiation) Session() string {
	return i.PaymentIndex
}

// CallbackData holds the raw query or body parameters a gateway sent back
// with the buyer.
type CallbackData map[string]string

// MethodFromCallback infers the gateway from callback parameters: only
// Khalti sends a payment index.
func MethodFromCallback(data CallbackData) Method {
	if data["pidx"] != "" {
		return MethodKhalti
	}
	return MethodEsewa
}

// VerifyRequest binds callback data to the order it must settle. Session is
// the gateway session recorded when the payment was initiated, if the
// gateway issues one.
type VerifyRequest struct {
	OrderID string
	Amount  decimal.Decimal
	Session string
	Data    CallbackData
}

// Verification is the uniform outcome of a gateway verification.
type Verification struct {
	Verified  bool
	PaymentID string
	// Amount is the settled amount reported by the gateway, when it reports one.
	Amount decimal.NullDecimal
	Reason string
}

func rejected(format string, args ...any) *Verification {
	return &Verification{Reason: fmt.Sprintf(format, args...)}
}

// RefundRequest asks a gateway to return a settled payment.
type RefundRequest struct {
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
}

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Method() Method
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	Verify(ctx context.Context, req VerifyRequest) (*Verification, error)
	Refund(ctx context.Context, req RefundRequest) error
}
