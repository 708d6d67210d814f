package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/payment"
)

// memStore is a single in-memory database behind the catalog, cart, coupon
// and order ports, so multi-row operations can be checked for atomicity.
type memStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	listings map[string]*product.WholesaleListing
	carts    map[cartKey]*cart.Cart
	coupons  map[string]*coupon.Rule
	orders   map[string]*Order

	createErr error
}

type cartKey struct {
	buyer string
	kind  cart.Kind
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*product.Product{},
		listings: map[string]*product.WholesaleListing{},
		carts:    map[cartKey]*cart.Cart{},
		coupons:  map[string]*coupon.Rule{},
		orders:   map[string]*Order{},
	}
}

func (m *memStore) addProduct(p product.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) fillCart(buyer string, kind cart.Kind, items ...cart.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cart.New(buyer, kind)
	for _, item := range items {
		c.Add(item)
	}
	m.carts[cartKey{buyer, kind}] = c
}

func (m *memStore) cartLen(buyer string, kind cart.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[cartKey{buyer, kind}]; ok {
		return len(c.Items)
	}
	return 0
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func clone(o *Order) *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.LocationTrail = slices.Clone(o.LocationTrail)
	if o.Approval != nil {
		a := *o.Approval
		c.Approval = &a
	}
	return &c
}

type memCatalog struct{ *memStore }

func (m memCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memCatalog) GetWholesaleListing(_ context.Context, id string) (*product.WholesaleListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, product.ErrNotListed
	}
	cp := *l
	return &cp, nil
}

type memCarts struct{ *memStore }

func (m memCarts) Get(_ context.Context, buyer string, kind cart.Kind) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartKey{buyer, kind}]
	if !ok {
		return cart.New(buyer, kind), nil
	}
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp, nil
}

func (m memCarts) Save(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Items = slices.Clone(c.Items)
	m.carts[cartKey{c.BuyerID, c.Kind}] = &cp
	return nil
}

type memCoupons struct{ *memStore }

func (m memCoupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	cp := *r
	return &cp, nil
}

func (m memCoupons) ListActive(context.Context, time.Time) ([]coupon.Rule, error) {
	return nil, nil
}

func (m memCoupons) Create(_ context.Context, r *coupon.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.coupons[r.Code] = &cp
	return nil
}

func (m *memStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if o.CouponCode != "" {
		r, ok := m.coupons[o.CouponCode]
		if !ok || r.Exhausted() {
			return coupon.ErrCouponUsageLimitReached
		}
		r.UsedCount++
	}
	m.orders[o.ID] = clone(o)
	kind := cart.KindCustomer
	if o.Kind == KindWholesale {
		kind = cart.KindWholesale
	}
	if c, ok := m.carts[cartKey{o.BuyerID, kind}]; ok {
		c.Clear()
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if (f.Kind == "" || o.Kind == f.Kind) &&
			(f.BuyerID == "" || o.BuyerID == f.BuyerID) &&
			(f.Status == "" || o.Status == f.Status) {
			out = append(out, *clone(o))
		}
	}
	return out, len(out), nil
}

func (m *memStore) SetPaymentSession(_ context.Context, id string, method payment.Method, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentMethod = method
	o.PaymentSession = session
	return nil
}

// reserve decrements stock for every line or for none.
func (m *memStore) reserve(items []LineItem) error {
	for _, item := range items {
		if p := m.products[item.ProductID]; p == nil || p.Stock < item.Quantity {
			return ErrInsufficientStock
		}
	}
	for _, item := range items {
		m.products[item.ProductID].Stock -= item.Quantity
	}
	return nil
}

func (m *memStore) SettlePayment(_ context.Context, id string, s Settlement) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if o.PaymentStatus == PaymentPaid {
		return clone(o), false, nil
	}
	if o.Status.Closed() {
		return nil, false, ErrClosed
	}
	if err := m.reserve(o.Items); err != nil {
		return nil, false, err
	}
	o.PaymentStatus = PaymentPaid
	o.PaymentMethod = s.Method
	o.PaymentReference = s.Reference
	if o.Status == StatusPending {
		o.Status = StatusApproved
	}
	o.UpdatedAt = s.At
	return clone(o), true, nil
}

func (m *memStore) MarkPaymentFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentFailed {
		o.PaymentStatus = PaymentFailed
	}
	return nil
}

func (m *memStore) MarkRefunded(_ context.Context, id string, at time.Time) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.PaymentStatus = PaymentRefunded
	o.UpdatedAt = at
	return clone(o), nil
}

func (m *memStore) UpdateFulfillment(_ context.Context, id string, u FulfillmentUpdate) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != u.From {
		return nil, ErrStatusChanged
	}
	if u.TrackingNumber != nil && *u.TrackingNumber != "" {
		for _, other := range m.orders {
			if other.ID != id && other.TrackingNumber == *u.TrackingNumber {
				return nil, ErrTrackingInUse
			}
		}
		o.TrackingNumber = *u.TrackingNumber
	}
	if u.Notes != nil {
		o.Notes = *u.Notes
	}
	if u.Location != nil {
		o.LocationTrail = append(o.LocationTrail, *u.Location)
	}
	o.Status = u.To
	o.UpdatedAt = u.At
	return clone(o), nil
}

func (m *memStore) Decide(_ context.Context, id string, d Decision) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Kind != KindWholesale {
		return nil, ErrNotFound
	}
	if o.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}
	if d.Approval.Approved {
		if err := m.reserve(o.Items); err != nil {
			return nil, err
		}
		o.Status = StatusApproved
	} else {
		o.Status = StatusRejected
		o.RejectionReason = d.RejectionReason
	}
	a := d.Approval
	o.Approval = &a
	o.UpdatedAt = a.ApprovedAt
	return clone(o), nil
}

var errBoom = errors.New("boom")
