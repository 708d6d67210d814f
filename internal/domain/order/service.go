package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/notify"
	"github.com/xenking/bazaar/internal/payment"
)

// Payments is the subset of payment.Manager the service calls.
type Payments interface {
	Initiate(ctx context.Context, method payment.Method, req payment.InitiateRequest) (*payment.Initiation, error)
	Verify(ctx context.Context, method payment.Method, req payment.VerifyRequest) (*payment.Verification, error)
	Refund(ctx context.Context, method payment.Method, req payment.RefundRequest) error
}

// Deps holds the collaborators of a Service. Meter, Tracer, Now and NewID
// are optional.
type Deps struct {
	Products product.Repository
	Carts    cart.Repository
	Coupons  coupon.Validator
	Orders   Repository
	Payments Payments
	Notifier notify.Notifier

	Meter  metric.Meter
	Tracer trace.Tracer
	Now    func() time.Time
	NewID  func() string
}

// Service runs the order lifecycle: creation from carts, payment
// settlement, fulfillment updates, wholesale approval and refunds.
type Service struct {
	products product.Repository
	carts    cart.Repository
	coupons  coupon.Validator
	orders   Repository
	payments Payments
	notifier notify.Notifier
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	created  metric.Int64Counter
	verified metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps) (*Service, error) {
	s := &Service{
		products: deps.Products,
		carts:    deps.Carts,
		coupons:  deps.Coupons,
		orders:   deps.Orders,
		payments: deps.Payments,
		notifier: deps.Notifier,
		tracer:   deps.Tracer,
		now:      deps.Now,
		newID:    deps.NewID,
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}

	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders stored, by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.verified, err = meter.Int64Counter("payments.verified",
		metric.WithDescription("Payment verifications, by method and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "payments.verified counter")
	}
	return s, nil
}

// CreateRequest is the checkout input for a customer order. An empty
// PaymentMethod means cash on delivery.
type CreateRequest struct {
	ShippingAddress Address
	PaymentMethod   string
	CouponCode      string
	Notes           string
}

// CreateResult is a stored order plus, for online methods, the gateway
// handoff the client needs to redirect the buyer.
type CreateResult struct {
	Order   *Order
	Payment *payment.Initiation
}

// Create turns the caller's customer cart into an order. An invalid,
// expired or exhausted coupon is ignored and the order is placed at full
// price. Gateway initiation failures do not fail the order; the buyer can
// retry through InitiatePayment.
func (s *Service) Create(ctx context.Context, caller auth.Principal, req CreateRequest) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	method := payment.MethodCOD
	if strings.TrimSpace(req.PaymentMethod) != "" {
		m, err := payment.ParseMethod(req.PaymentMethod)
		if err != nil {
			return nil, &ValidationError{Field: "paymentMethod", Message: err.Error()}
		}
		method = m
	}

	c, err := s.carts.Get(ctx, caller.UserID, cart.KindCustomer)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	items, subtotal, err := s.snapshot(ctx, c)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	discount := decimal.Zero
	code := ""
	if coupon.NormalizeCode(req.CouponCode) != "" {
		d, err := s.coupons.Validate(ctx, coupon.Request{
			Code:     req.CouponCode,
			Audience: coupon.AudienceCustomer,
			Subtotal: subtotal,
		})
		switch {
		case err == nil:
			discount, code = d.Amount, d.Code
		case coupon.Rejected(err):
			lg.Debug("Coupon ignored", zap.String("code", req.CouponCode), zap.Error(err))
		default:
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	o := s.newOrder(KindCustomer, caller, items, req.ShippingAddress)
	o.PaymentMethod = method
	o.Notes = req.Notes
	o.applyDiscount(code, discount, subtotal)

	err = s.orders.Create(ctx, o)
	if code != "" && errors.Is(err, coupon.ErrCouponUsageLimitReached) {
		lg.Debug("Coupon exhausted at checkout", zap.String("code", code))
		o.applyDiscount("", decimal.Zero, subtotal)
		err = s.orders.Create(ctx, o)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(o.Kind))))

	result := &CreateResult{Order: o}
	if method.Online() {
		handoff, err := s.payments.Initiate(ctx, method, initiateRequest(o))
		if err == nil && handoff.Session() != "" {
			err = s.orders.SetPaymentSession(ctx, o.ID, method, handoff.Session())
		}
		if err != nil {
			lg.Warn("Payment initiation failed",
				zap.String("order_id", o.ID),
				zap.String("method", string(method)),
				zap.Error(err),
			)
		} else {
			o.PaymentSession = handoff.Session()
			result.Payment = handoff
		}
	}

	s.notify(ctx, notify.EventOrderConfirmed, o)
	return result, nil
}

// CreateWholesaleRequest is the checkout input for a wholesale order.
type CreateWholesaleRequest struct {
	ShippingAddress Address
	Notes           string
}

// CreateWholesale turns the caller's wholesale cart into a pending order
// awaiting admin approval. Wholesale orders are cash on delivery and take
// no coupons.
func (s *Service) CreateWholesale(ctx context.Context, caller auth.Principal, req CreateWholesaleRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateWholesale")
	defer span.End()

	if !caller.CanWholesale() {
		return nil, ErrForbidden
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, caller.UserID, cart.KindWholesale)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	items, subtotal, err := s.snapshot(ctx, c)
	if err != nil {
		return nil, err
	}

	o := s.newOrder(KindWholesale, caller, items, req.ShippingAddress)
	o.PaymentMethod = payment.MethodCOD
	o.Notes = req.Notes
	o.applyDiscount("", decimal.Zero, subtotal)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(o.Kind))))

	s.notify(ctx, notify.EventOrderConfirmed, o)
	return o, nil
}

// Get returns an order visible to the caller: their own, or any for admins.
func (s *Service) Get(ctx context.Context, caller auth.Principal, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(caller) && !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListMine returns the caller's orders of the given kind, newest first.
func (s *Service) ListMine(ctx context.Context, caller auth.Principal, kind Kind, limit, offset int) ([]Order, int, error) {
	return s.orders.List(ctx, Filter{
		Kind:    kind,
		BuyerID: caller.UserID,
		Limit:   limit,
		Offset:  offset,
	})
}

// ListAll returns every order matching f. Admin only.
func (s *Service) ListAll(ctx context.Context, caller auth.Principal, f Filter) ([]Order, int, error) {
	if !caller.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	return s.orders.List(ctx, f)
}

// snapshot prices the cart lines and checks that every product is still
// sellable in the requested quantity.
func (s *Service) snapshot(ctx context.Context, c *cart.Cart) ([]LineItem, decimal.Decimal, error) {
	if c == nil || c.IsEmpty() {
		return nil, decimal.Zero, ErrEmptyCart
	}

	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]LineItem, 0, len(c.Items))
	subtotal := decimal.Zero
	for _, item := range c.Items {
		p, ok := byID[item.ProductID]
		if !ok || !p.Active {
			return nil, decimal.Zero, &CreationError{Reason: ReasonUnavailable, ProductID: item.ProductID, Name: item.Name}
		}
		if p.Stock < item.Quantity {
			return nil, decimal.Zero, &CreationError{Reason: ReasonInsufficientStock, ProductID: p.ID, Name: p.Name}
		}
		line := LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.EffectivePrice(),
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
		items = append(items, line)
		subtotal = subtotal.Add(line.Total())
	}
	return items, subtotal, nil
}

func (s *Service) newOrder(kind Kind, caller auth.Principal, items []LineItem, addr Address) *Order {
	now := s.now()
	return &Order{
		ID:              s.newID(),
		Kind:            kind,
		BuyerID:         caller.UserID,
		BuyerEmail:      caller.Email,
		Items:           items,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (o *Order) applyDiscount(code string, discount, subtotal decimal.Decimal) {
	o.CouponCode = code
	o.Discount = discount.Round(2)
	o.Total = subtotal.Sub(o.Discount).Round(2)
}

func initiateRequest(o *Order) payment.InitiateRequest {
	return payment.InitiateRequest{
		OrderID:     o.ID,
		Amount:      o.Total,
		Description: "Order " + o.ID,
	}
}

// notify hands an event to the notifier. Delivery problems are logged and
// never fail the lifecycle operation.
func (s *Service) notify(ctx context.Context, event notify.Event, o *Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, o.BuyerEmail, payloadOf(o)); err != nil {
		zctx.From(ctx).Warn("Notification not queued",
			zap.String("order_id", o.ID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func payloadOf(o *Order) notify.Payload {
	lines := make([]notify.Line, len(o.Items))
	for i, item := range o.Items {
		lines[i] = notify.Line{Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	return notify.Payload{
		OrderID:           o.ID,
		Kind:              string(o.Kind),
		FulfillmentStatus: string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		PaymentMethod:     string(o.PaymentMethod),
		PaymentReference:  o.PaymentReference,
		TrackingReference: o.TrackingNumber,
		RejectionReason:   o.RejectionReason,
		Total:             o.Total,
		Discount:          o.Discount,
		Lines:             lines,
	}
}
