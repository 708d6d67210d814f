package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors returned by the order service.
var (
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("not authorized to access this order")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrRefunded          = errors.New("order payment was refunded")
	ErrClosed            = errors.New("order is rejected or cancelled")
	ErrNotRefundable     = errors.New("order has no refundable payment")
	ErrInsufficientStock = errors.New("insufficient stock to fulfil order")
	ErrStatusChanged     = errors.New("order status changed, reload and retry")
	ErrAlreadyDecided    = errors.New("wholesale order already processed")
	ErrUseApproval       = errors.New("wholesale orders are approved or rejected through the approval action")
	ErrTrackingInUse     = errors.New("tracking number already assigned to another order")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// CreationReason explains why a line item blocked order creation.
type CreationReason string

const (
	ReasonUnavailable       CreationReason = "unavailable"
	ReasonInsufficientStock CreationReason = "insufficient_stock"
)

// CreationError names the cart line that blocked order creation.
type CreationError struct {
	Reason    CreationReason
	ProductID string
	Name      string
}

func (e *CreationError) Error() string {
	if e.Reason == ReasonInsufficientStock {
		return fmt.Sprintf("insufficient stock for %s", e.Name)
	}
	return fmt.Sprintf("product %s is not available", e.Name)
}

// TransitionError is returned for a status change the state machine forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// VerificationError is returned when a gateway does not confirm a payment.
// The order stays retryable.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "payment verification failed: " + e.Reason
}

// GatewayError wraps a payment provider failure outside verification.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return "payment gateway " + e.Op + " failed: " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }
