package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/payment"
)

// Kind distinguishes storefront orders from wholesale portal orders.
type Kind string

const (
	KindCustomer  Kind = "customer"
	KindWholesale Kind = "wholesale"
)

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// LineItem is a snapshot of a cart line taken when the order was created.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Image     string
}

// Total is UnitPrice times Quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Address is a shipping address.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
	Phone   string
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Street) == "":
		return &ValidationError{Field: "shippingAddress.street", Message: "is required"}
	case strings.TrimSpace(a.City) == "":
		return &ValidationError{Field: "shippingAddress.city", Message: "is required"}
	case strings.TrimSpace(a.Phone) == "":
		return &ValidationError{Field: "shippingAddress.phone", Message: "is required"}
	}
	return nil
}

// Location is a point on a delivery route.
type Location struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// Describe returns the address, or the coordinates when no address is known.
func (l Location) Describe() string {
	if strings.TrimSpace(l.Address) != "" {
		return l.Address
	}
	return fmt.Sprintf("Lat: %f, Lng: %f", l.Latitude, l.Longitude)
}

// LocationEntry is one record of the append-only location trail.
type LocationEntry struct {
	Location  Location
	Status    Status
	Timestamp time.Time
}

// AdminApproval records the admin decision on a wholesale order.
type AdminApproval struct {
	Approved   bool
	ApprovedBy string
	ApprovedAt time.Time
}

// Order is a customer or wholesale order. Items, totals and the shipping
// address never change after creation.
type Order struct {
	ID               string
	Kind             Kind
	BuyerID          string
	BuyerEmail       string
	Items            []LineItem
	Total            decimal.Decimal
	Discount         decimal.Decimal
	CouponCode       string
	Status           Status
	PaymentStatus    PaymentStatus
	PaymentMethod    payment.Method
	PaymentReference string
	// PaymentSession is the gateway session opened by the last initiation,
	// such as a Khalti pidx. Verification only accepts that session.
	PaymentSession  string
	ShippingAddress Address
	TrackingNumber  string
	Notes           string
	LocationTrail   []LocationEntry
	Approval        *AdminApproval
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subtotal is the pre-discount sum of the line items.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// OwnedBy reports whether p placed the order.
func (o *Order) OwnedBy(p auth.Principal) bool {
	return o.BuyerID != "" && o.BuyerID == p.UserID
}

// Filter selects orders for listing.
type Filter struct {
	Kind    Kind
	BuyerID string
	Status  Status
	Limit   int
	Offset  int
}

// FulfillmentUpdate is an admin status change. It applies only while the
// stored status still equals From.
type FulfillmentUpdate struct {
	From           Status
	To             Status
	TrackingNumber *string
	Notes          *string
	Location       *LocationEntry
	At             time.Time
}

// Settlement marks an order paid.
type Settlement struct {
	Method    payment.Method
	Reference string
	At        time.Time
}

// Decision is an admin approval or rejection of a pending wholesale order.
type Decision struct {
	Approval        AdminApproval
	RejectionReason string
}

// Repository persists orders. Every method that touches more than one row
// does so in a single transaction.
type Repository interface {
	// Create stores o, records one use of o.CouponCode when set and empties
	// the buyer's cart of the matching kind. It returns
	// coupon.ErrCouponUsageLimitReached when the coupon ran out concurrently.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	// SetPaymentSession records the method and gateway session of the
	// latest payment initiation.
	SetPaymentSession(ctx context.Context, id string, method payment.Method, session string) error
	// SettlePayment marks the order paid and approved and decrements stock
	// for every line. It reports settled=false and changes nothing when the
	// order is already paid, returns ErrClosed when the order was rejected
	// or cancelled and ErrInsufficientStock when a line cannot be covered.
	SettlePayment(ctx context.Context, id string, s Settlement) (o *Order, settled bool, err error)
	// MarkPaymentFailed records a failed verification unless the order is
	// already paid or refunded.
	MarkPaymentFailed(ctx context.Context, id string) error
	MarkRefunded(ctx context.Context, id string, at time.Time) (*Order, error)
	// UpdateFulfillment returns ErrStatusChanged when the stored status no
	// longer equals u.From and ErrTrackingInUse for a duplicate tracking number.
	UpdateFulfillment(ctx context.Context, id string, u FulfillmentUpdate) (*Order, error)
	// Decide applies an admin decision to a pending wholesale order,
	// decrementing stock on approval. It returns ErrAlreadyDecided when the
	// order is no longer pending.
	Decide(ctx context.Context, id string, d Decision) (*Order, error)
}
