package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/notify"
	"github.com/xenking/bazaar/internal/payment"
)

// InitiatePayment starts a gateway payment for an unpaid order owned by the
// caller and records the chosen method and gateway session on the order.
func (s *Service) InitiatePayment(ctx context.Context, caller auth.Principal, id, method string) (*payment.Initiation, error) {
	ctx, span := s.tracer.Start(ctx, "order.InitiatePayment")
	defer span.End()

	m, err := payment.ParseMethod(method)
	if err != nil || !m.Online() {
		return nil, &ValidationError{Field: "paymentMethod", Message: "must be esewa or khalti"}
	}

	o, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := payable(o); err != nil {
		return nil, err
	}

	handoff, err := s.payments.Initiate(ctx, m, initiateRequest(o))
	if err != nil {
		return nil, &GatewayError{Op: "initiate", Err: err}
	}
	if err := s.orders.SetPaymentSession(ctx, o.ID, m, handoff.Session()); err != nil {
		return nil, errors.Wrap(err, "record payment session")
	}
	return handoff, nil
}

// VerifyPayment confirms a gateway callback for an order owned by the caller
// and settles it: the order becomes paid and approved and stock is
// decremented exactly once. Verifying an already paid order returns it
// unchanged. An unconfirmed payment marks the order failed and returns a
// VerificationError; the buyer may retry.
//
// An empty method is inferred from the callback fields, then from the order.
func (s *Service) VerifyPayment(ctx context.Context, caller auth.Principal, id, method string, data payment.CallbackData) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.VerifyPayment")
	defer span.End()

	o, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == PaymentPaid {
		return o, nil
	}
	if err := payable(o); err != nil {
		return nil, err
	}

	m, err := resolveMethod(method, o, data)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("method", string(m)))

	v, err := s.payments.Verify(ctx, m, payment.VerifyRequest{
		OrderID: o.ID,
		Amount:  o.Total,
		Session: o.PaymentSession,
		Data:    data,
	})
	if err != nil {
		lg.Warn("Payment verification errored", zap.Error(err))
		v = &payment.Verification{Reason: err.Error()}
	}
	if v.Verified && v.Amount.Valid && !v.Amount.Decimal.Equal(o.Total) {
		lg.Warn("Payment amount mismatch",
			zap.String("expected", o.Total.StringFixed(2)),
			zap.String("got", v.Amount.Decimal.StringFixed(2)),
		)
		v = &payment.Verification{Reason: "amount " + v.Amount.Decimal.StringFixed(2) + " does not match order total"}
	}

	if !v.Verified {
		s.verified.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(m)),
			attribute.String("outcome", "failed"),
		))
		if err := s.orders.MarkPaymentFailed(ctx, o.ID); err != nil {
			return nil, errors.Wrap(err, "mark payment failed")
		}
		return nil, &VerificationError{Reason: v.Reason}
	}

	settled, changed, err := s.orders.SettlePayment(ctx, o.ID, Settlement{
		Method:    m,
		Reference: v.PaymentID,
		At:        s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrClosed) {
			lg.Warn("Verified payment for a closed order",
				zap.String("reference", v.PaymentID),
			)
			return nil, err
		}
		if errors.Is(err, ErrInsufficientStock) {
			lg.Error("Verified payment could not be settled",
				zap.String("reference", v.PaymentID),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, errors.Wrap(err, "settle payment")
	}
	if changed {
		s.verified.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(m)),
			attribute.String("outcome", "paid"),
		))
		lg.Info("Payment settled", zap.String("reference", v.PaymentID))
		s.notify(ctx, notify.EventPaymentReceived, settled)
	}
	return settled, nil
}

// Refund returns a settled online payment through its gateway. Admin only.
func (s *Service) Refund(ctx context.Context, caller auth.Principal, id, reason string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Refund")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPaid || !o.PaymentMethod.Online() {
		return nil, ErrNotRefundable
	}

	err = s.payments.Refund(ctx, o.PaymentMethod, payment.RefundRequest{
		PaymentID: o.PaymentReference,
		Amount:    o.Total,
		Reason:    reason,
	})
	switch {
	case errors.Is(err, payment.ErrRefundUnsupported):
		return nil, err
	case err != nil:
		return nil, &GatewayError{Op: "refund", Err: err}
	}

	refunded, err := s.orders.MarkRefunded(ctx, o.ID, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "mark refunded")
	}
	zctx.From(ctx).Info("Payment refunded",
		zap.String("order_id", o.ID),
		zap.String("reference", o.PaymentReference),
	)
	s.notify(ctx, notify.EventPaymentRefunded, refunded)
	return refunded, nil
}

// owned loads an order the caller placed. Admins act on payments through
// Refund, not through the buyer flow.
func (s *Service) owned(ctx context.Context, caller auth.Principal, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(caller) {
		return nil, ErrForbidden
	}
	return o, nil
}

func payable(o *Order) error {
	switch {
	case o.PaymentStatus == PaymentPaid:
		return ErrAlreadyPaid
	case o.PaymentStatus == PaymentRefunded:
		return ErrRefunded
	case o.Status.Closed():
		return ErrClosed
	}
	return nil
}

func resolveMethod(method string, o *Order, data payment.CallbackData) (payment.Method, error) {
	switch {
	case strings.TrimSpace(method) != "":
		m, err := payment.ParseMethod(method)
		if err != nil || !m.Online() {
			return "", &ValidationError{Field: "paymentMethod", Message: "must be esewa or khalti"}
		}
		return m, nil
	case len(data) > 0:
		return payment.MethodFromCallback(data), nil
	case o.PaymentMethod.Online():
		return o.PaymentMethod, nil
	}
	return "", &ValidationError{Field: "paymentMethod", Message: "cannot infer payment method"}
}
