// Package notify delivers order lifecycle notifications to buyers.
//
// The order engine depends only on the Notifier port. Dispatcher implements
// it on top of a Sender, delivering in the background so a slow or failing
// mail transport never affects the request that triggered it.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Event names a lifecycle transition that produces a notification.
type Event string

const (
	EventOrderConfirmed  Event = "order_confirmed"
	EventStatusChanged   Event = "status_changed"
	EventPaymentReceived Event = "payment_received"
	EventPaymentRefunded Event = "payment_refunded"
)

// Line is a single order line in a notification.
type Line struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Payload carries the order facts a notification renders.
type Payload struct {
	OrderID           string
	Kind              string
	FulfillmentStatus string
	PaymentStatus     string
	PaymentMethod     string
	PaymentReference  string
	TrackingReference string
	RejectionReason   string
	Total             decimal.Decimal
	Discount          decimal.Decimal
	Lines             []Line
}

// Notifier is the port the order engine calls on lifecycle transitions.
type Notifier interface {
	Notify(ctx context.Context, event Event, recipient string, payload Payload) error
}

// Message is a rendered notification ready for a Sender.
type Message struct {
	Event     Event
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers a rendered message over some transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Render builds the plain-text message for event.
func Render(event Event, recipient string, p Payload) Message {
	var subject string
	var b strings.Builder

	switch event {
	case EventOrderConfirmed:
		subject = "Order Confirmed - " + p.OrderID
		fmt.Fprintf(&b, "Thank you for your order %s.\n\n", p.OrderID)
		for _, l := range p.Lines {
			fmt.Fprintf(&b, "  %d x %s @ Rs. %s\n", l.Quantity, l.Name, l.UnitPrice.StringFixed(2))
		}
		if p.Discount.IsPositive() {
			fmt.Fprintf(&b, "\nDiscount: Rs. %s\n", p.Discount.StringFixed(2))
		}
		fmt.Fprintf(&b, "Total: Rs. %s\nPayment method: %s\n", p.Total.StringFixed(2), p.PaymentMethod)
	case EventPaymentReceived:
		subject = "Payment Receipt - " + p.OrderID
		fmt.Fprintf(&b, "We received Rs. %s for order %s.\nPayment method: %s\nReference: %s\n",
			p.Total.StringFixed(2), p.OrderID, p.PaymentMethod, p.PaymentReference)
	case EventPaymentRefunded:
		subject = "Payment Refunded - " + p.OrderID
		fmt.Fprintf(&b, "Rs. %s for order %s has been refunded.\n", p.Total.StringFixed(2), p.OrderID)
	default:
		subject = "Order Status Update - " + p.OrderID
		fmt.Fprintf(&b, "Your order %s is now %s.\n", p.OrderID, p.FulfillmentStatus)
		if p.TrackingReference != "" {
			fmt.Fprintf(&b, "Tracking number: %s\n", p.TrackingReference)
		}
		if p.RejectionReason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", p.RejectionReason)
		}
	}

	return Message{
		Event:     event,
		Recipient: recipient,
		Subject:   subject,
		Body:      b.String(),
	}
}
