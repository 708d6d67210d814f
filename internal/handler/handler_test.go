package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/offer"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/payment"
)

const testSecret = "test-secret"

// --- Mock implementations ---

type mockOrders struct {
	order      *order.Order
	initiation *payment.Initiation
	err        error

	lastCaller auth.Principal
	lastID     string
	lastMethod string
	lastData   payment.CallbackData
	lastCreate order.CreateRequest
	lastUpdate order.StatusUpdate
	lastFilter order.Filter
	lastDecide order.DecisionRequest
}

func (m *mockOrders) Create(_ context.Context, caller auth.Principal, req order.CreateRequest) (*order.CreateResult, error) {
	m.lastCaller, m.lastCreate = caller, req
	if m.err != nil {
		return nil, m.err
	}
	return &order.CreateResult{Order: m.order, Payment: m.initiation}, nil
}

func (m *mockOrders) CreateWholesale(_ context.Context, caller auth.Principal, _ order.CreateWholesaleRequest) (*order.Order, error) {
	m.lastCaller = caller
	return m.order, m.err
}

func (m *mockOrders) Get(_ context.Context, caller auth.Principal, id string) (*order.Order, error) {
	m.lastCaller, m.lastID = caller, id
	return m.order, m.err
}

func (m *mockOrders) ListMine(_ context.Context, caller auth.Principal, kind order.Kind, limit, offset int) ([]order.Order, int, error) {
	m.lastCaller = caller
	m.lastFilter = order.Filter{Kind: kind, Limit: limit, Offset: offset}
	if m.err != nil {
		return nil, 0, m.err
	}
	return []order.Order{*m.order}, 1, nil
}

func (m *mockOrders) ListAll(_ context.Context, caller auth.Principal, f order.Filter) ([]order.Order, int, error) {
	m.lastCaller, m.lastFilter = caller, f
	if m.err != nil {
		return nil, 0, m.err
	}
	return []order.Order{*m.order}, 41, nil
}

func (m *mockOrders) InitiatePayment(_ context.Context, _ auth.Principal, id, method string) (*payment.Initiation, error) {
	m.lastID, m.lastMethod = id, method
	return m.initiation, m.err
}

func (m *mockOrders) VerifyPayment(_ context.Context, _ auth.Principal, id, method string, data payment.CallbackData) (*order.Order, error) {
	m.lastID, m.lastMethod, m.lastData = id, method, data
	return m.order, m.err
}

func (m *mockOrders) UpdateStatus(_ context.Context, _ auth.Principal, id string, req order.StatusUpdate) (*order.Order, error) {
	m.lastID, m.lastUpdate = id, req
	return m.order, m.err
}

func (m *mockOrders) Decide(_ context.Context, _ auth.Principal, id string, req order.DecisionRequest) (*order.Order, error) {
	m.lastID, m.lastDecide = id, req
	return m.order, m.err
}

func (m *mockOrders) Refund(_ context.Context, _ auth.Principal, id, _ string) (*order.Order, error) {
	m.lastID = id
	return m.order, m.err
}

type mockCarts struct {
	cart     *cart.Cart
	err      error
	lastKind cart.Kind
	lastQty  int
}

func (m *mockCarts) Get(_ context.Context, _ string, kind cart.Kind) (*cart.Cart, error) {
	m.lastKind = kind
	return m.cart, m.err
}

func (m *mockCarts) AddItem(_ context.Context, _ string, kind cart.Kind, _ string, qty int) (*cart.Cart, error) {
	m.lastKind, m.lastQty = kind, qty
	return m.cart, m.err
}

func (m *mockCarts) UpdateItem(_ context.Context, _ string, kind cart.Kind, _ string, qty int) (*cart.Cart, error) {
	m.lastKind, m.lastQty = kind, qty
	return m.cart, m.err
}

func (m *mockCarts) RemoveItem(_ context.Context, _ string, kind cart.Kind, _ string) (*cart.Cart, error) {
	m.lastKind = kind
	return m.cart, m.err
}

func (m *mockCarts) Clear(_ context.Context, _ string, kind cart.Kind) (*cart.Cart, error) {
	m.lastKind = kind
	return m.cart, m.err
}

type mockProducts struct {
	byID map[string]*product.Product
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProducts) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProducts) GetWholesaleListing(context.Context, string) (*product.WholesaleListing, error) {
	return nil, product.ErrNotListed
}

type mockCoupons struct {
	rules   map[string]*coupon.Rule
	created *coupon.Rule
}

func (m *mockCoupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := m.rules[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return r, nil
}

func (m *mockCoupons) ListActive(context.Context, time.Time) ([]coupon.Rule, error) {
	var out []coupon.Rule
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockCoupons) Create(_ context.Context, r *coupon.Rule) error {
	if _, ok := m.rules[r.Code]; ok {
		return coupon.ErrDuplicateCode
	}
	m.created = r
	return nil
}

type mockOffers struct{}

func (mockOffers) ListActive(context.Context, time.Time) ([]offer.Offer, error) {
	return []offer.Offer{{ID: "o1", Title: "Dashain", Festival: true, DiscountValue: decimal.NewFromInt(15)}}, nil
}

func (mockOffers) Create(context.Context, *offer.Offer) error { return nil }

// --- Helpers ---

var (
	testNow  = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	customer = auth.Principal{UserID: "u1", Email: "buyer@example.com", Role: auth.RoleCustomer}
	admin    = auth.Principal{UserID: "a1", Email: "admin@example.com", Role: auth.RoleAdmin}
	trader   = auth.Principal{UserID: "w1", Email: "trader@example.com", Role: auth.RoleWholesale}
)

type fixture struct {
	orders  *mockOrders
	carts   *mockCarts
	coupons *mockCoupons
	tokens  *Tokens
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: &mockOrders{order: &order.Order{
			ID:            "ord-1",
			Kind:          order.KindCustomer,
			BuyerID:       customer.UserID,
			Items:         []order.LineItem{{ProductID: "p1", Name: "Tea", UnitPrice: decimal.NewFromInt(100), Quantity: 2}},
			Total:         decimal.NewFromInt(180),
			Discount:      decimal.NewFromInt(20),
			Status:        order.StatusPending,
			PaymentStatus: order.PaymentPending,
			PaymentMethod: payment.MethodEsewa,
		}},
		carts: &mockCarts{cart: cart.New(customer.UserID, cart.KindCustomer)},
		coupons: &mockCoupons{rules: map[string]*coupon.Rule{
			"SAVE10": {
				Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10),
				ValidFrom: testNow.Add(-time.Hour), ValidUntil: testNow.Add(time.Hour), Active: true,
			},
			"OLD": {
				Code: "OLD", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(50),
				ValidFrom: testNow.Add(-48 * time.Hour), ValidUntil: testNow.Add(-24 * time.Hour), Active: true,
			},
		}},
		tokens: NewTokens(testSecret),
	}
	h := New(Deps{
		Orders:   f.orders,
		Carts:    f.carts,
		Products: &mockProducts{byID: map[string]*product.Product{"p1": {ID: "p1", Name: "Tea", Price: decimal.NewFromInt(100), Stock: 5, Active: true}}},
		Coupons:  f.coupons,
		Offers:   mockOffers{},
		Tokens:   f.tokens,
	})
	h.now = func() time.Time { return testNow }
	f.router = chi.NewRouter()
	h.Routes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, as *auth.Principal, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if as != nil {
		token, err := f.tokens.Issue(*as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

// --- Tests ---

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, nil, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, &customer, http.MethodGet, "/api/orders/admin/all", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, &customer, http.MethodGet, "/api/cart/wholesale", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, &trader, http.MethodGet, "/api/cart/wholesale", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cart.KindWholesale, f.carts.lastKind)
}

func TestTokens(t *testing.T) {
	tokens := NewTokens(testSecret)

	raw, err := tokens.Issue(trader, time.Minute)
	require.NoError(t, err)
	p, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, trader, p)

	expired, err := tokens.Issue(trader, -time.Minute)
	require.NoError(t, err)
	_, err = tokens.Verify(expired)
	require.ErrorIs(t, err, errInvalidToken)

	_, err = NewTokens("other-secret").Verify(raw)
	require.ErrorIs(t, err, errInvalidToken)

	noRole, err := tokens.Issue(auth.Principal{UserID: "u9"}, time.Minute)
	require.NoError(t, err)
	p, err = tokens.Verify(noRole)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleCustomer, p.Role)
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.initiation = &payment.Initiation{Method: payment.MethodEsewa, FormURL: "https://esewa.test/form"}

	rec, body := f.do(t, &customer, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": map[string]any{"street": "Thamel", "city": "Kathmandu", "phone": "9800000000"},
		"paymentMethod":   "esewa",
		"couponCode":      "save10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	created := data["order"].(map[string]any)
	assert.Equal(t, "ord-1", created["id"])
	assert.Equal(t, 180.0, created["totalAmount"])
	assert.Equal(t, 20.0, created["discountAmount"])
	assert.Equal(t, "https://esewa.test/form", data["paymentOrder"].(map[string]any)["formUrl"])

	assert.Equal(t, customer, f.orders.lastCaller)
	assert.Equal(t, "Kathmandu", f.orders.lastCreate.ShippingAddress.City)
	assert.Equal(t, "save10", f.orders.lastCreate.CouponCode)
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "insufficient stock carries reason",
			err:        &order.CreationError{Reason: order.ReasonInsufficientStock, ProductID: "p1", Name: "Tea"},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "insufficient_stock", body["reason"])
				assert.Equal(t, "p1", body["productId"])
			},
		},
		{
			name:       "empty cart",
			err:        order.ErrEmptyCart,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid address",
			err:        &order.ValidationError{Field: "shippingAddress.street", Message: "is required"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unexpected failure hides detail",
			err:        errors.New("connection reset by peer"),
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal server error", body["message"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.err = tt.err
			rec, body := f.do(t, &customer, http.MethodPost, "/api/orders", map[string]any{})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, body["success"])
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{order.ErrNotFound, http.StatusNotFound},
		{order.ErrForbidden, http.StatusForbidden},
		{order.ErrAlreadyPaid, http.StatusBadRequest},
		{&order.TransitionError{From: order.StatusDelivered, To: order.StatusPacked}, http.StatusBadRequest},
		{&order.VerificationError{Reason: "amount mismatch"}, http.StatusBadRequest},
		{errors.Wrap(order.ErrInsufficientStock, "settle"), http.StatusBadRequest},
		{coupon.ErrInvalidCoupon, http.StatusNotFound},
		{coupon.ErrCouponExpired, http.StatusBadRequest},
		{&cart.MinQuantityError{ProductID: "p1", MinQuantity: 10}, http.StatusBadRequest},
		{errInvalidToken, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, body := classify(tt.err)
			assert.Equal(t, tt.want, status)
			assert.False(t, body.Success)
		})
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, &customer, http.MethodGet, "/api/orders?page=2&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.Filter{Kind: order.KindCustomer, Limit: 5, Offset: 5}, f.orders.lastFilter)
	data := body["data"].(map[string]any)
	assert.Equal(t, 2.0, data["page"])
	assert.Len(t, data["orders"], 1)

	rec, _ = f.do(t, &admin, http.MethodGet, "/api/orders/wholesale/admin/all?status=packed&limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.Filter{Kind: order.KindWholesale, Status: order.StatusPacked, Limit: maxPageSize}, f.orders.lastFilter)

	rec, _ = f.do(t, &admin, http.MethodGet, "/api/orders/admin/all?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, &customer, http.MethodGet, "/api/orders?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.orders.lastFilter = order.Filter{}
	rec, body = f.do(t, &customer, http.MethodGet, "/api/orders?page=9223372036854775807&limit=100", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "page is out of range", body["message"])
	assert.Zero(t, f.orders.lastFilter, "no query with an overflowing offset")
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, &customer, http.MethodPost, "/api/orders/ord-1/verify-payment", map[string]any{
		"paymentMethod": "khalti",
		"verificationData": map[string]any{
			"pidx":              "HT6o6PEZRWFJ5ygavzHWd5",
			"total_amount":      18000,
			"purchase_order_id": "ord-1",
			"mobile":            nil,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ord-1", f.orders.lastID)
	assert.Equal(t, "khalti", f.orders.lastMethod)
	assert.Equal(t, payment.CallbackData{
		"pidx":              "HT6o6PEZRWFJ5ygavzHWd5",
		"total_amount":      "18000",
		"purchase_order_id": "ord-1",
	}, f.orders.lastData)

	f.orders.err = &order.VerificationError{Reason: "payment not completed"}
	rec, body := f.do(t, &customer, http.MethodPost, "/api/orders/ord-1/verify-payment", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "payment not completed")
}

func TestPaymentCallback(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, &customer, http.MethodGet, "/api/payments/callback?data=eyJ9", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, &customer, http.MethodGet, "/api/payments/callback?orderId=ord-1&data=eyJ9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ord-1", f.orders.lastID)
	assert.Empty(t, f.orders.lastMethod)
	assert.Equal(t, payment.CallbackData{"data": "eyJ9"}, f.orders.lastData)

	rec, _ = f.do(t, nil, http.MethodGet, "/api/payments/callback?orderId=ord-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, &admin, http.MethodPut, "/api/orders/ord-1/status", map[string]any{
		"status":         "dispatched",
		"trackingNumber": "NP-123",
		"location":       map[string]any{"latitude": 27.7, "longitude": 85.3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upd := f.orders.lastUpdate
	assert.Equal(t, "dispatched", upd.Status)
	require.NotNil(t, upd.TrackingNumber)
	assert.Equal(t, "NP-123", *upd.TrackingNumber)
	assert.Nil(t, upd.Notes)
	require.NotNil(t, upd.Location)
	assert.InDelta(t, 27.7, upd.Location.Latitude, 1e-9)

	rec, _ = f.do(t, &customer, http.MethodPut, "/api/orders/ord-1/status", map[string]any{"status": "packed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWholesaleRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, &customer, http.MethodPost, "/api/orders/wholesale", map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, &trader, http.MethodPost, "/api/orders/wholesale", map[string]any{
		"shippingAddress": map[string]any{"street": "Putalisadak", "city": "Kathmandu", "phone": "9811111111"},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, trader, f.orders.lastCaller)

	rec, _ = f.do(t, &admin, http.MethodPut, "/api/orders/wholesale/ord-1/approve", map[string]any{
		"action":          "reject",
		"rejectionReason": "credit limit",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.DecisionRequest{Action: "reject", RejectionReason: "credit limit"}, f.orders.lastDecide)

	f.orders.err = order.ErrAlreadyDecided
	rec, _ = f.do(t, &admin, http.MethodPut, "/api/orders/wholesale/ord-1/approve", map[string]any{"action": "approve"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, &customer, http.MethodPost, "/api/cart", map[string]any{"productId": "p1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.carts.lastQty)
	assert.Equal(t, cart.KindCustomer, f.carts.lastKind)

	rec, _ = f.do(t, &customer, http.MethodPost, "/api/cart", map[string]any{"quantity": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.carts.err = cart.ErrItemNotFound
	rec, _ = f.do(t, &customer, http.MethodPut, "/api/cart/p9", map[string]any{"quantity": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 3, f.carts.lastQty)
}

func TestCatalogRoutes(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, nil, http.MethodGet, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tea", body["data"].(map[string]any)["name"])

	rec, _ = f.do(t, nil, http.MethodGet, "/api/products/p9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, nil, http.MethodGet, "/api/coupons/save10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SAVE10", body["data"].(map[string]any)["code"])

	rec, body = f.do(t, nil, http.MethodGet, "/api/coupons/old", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "coupon not found or inactive", body["message"])

	rec, body = f.do(t, nil, http.MethodGet, "/api/offers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 1)
}

func TestCreateCoupon(t *testing.T) {
	f := newFixture(t)
	req := map[string]any{
		"code":          " dashain25 ",
		"discountType":  "percentage",
		"discountValue": 25,
		"maxDiscount":   "500.50",
		"validFrom":     testNow,
		"validUntil":    testNow.Add(72 * time.Hour),
	}

	rec, _ := f.do(t, &customer, http.MethodPost, "/api/coupons", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.do(t, &admin, http.MethodPost, "/api/coupons", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "DASHAIN25", body["data"].(map[string]any)["code"])
	require.NotNil(t, f.coupons.created)
	assert.True(t, decimal.RequireFromString("500.50").Equal(f.coupons.created.MaxDiscount))
	assert.Equal(t, coupon.AudienceAll, f.coupons.created.ApplicableTo)

	req["code"] = "save10"
	rec, _ = f.do(t, &admin, http.MethodPost, "/api/coupons", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req["discountValue"] = "ten"
	rec, _ = f.do(t, &admin, http.MethodPost, "/api/coupons", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
