// Package handler exposes the order, cart and promotion APIs over HTTP.
package handler

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/offer"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/payment"
)

// OrderService is the order lifecycle as seen by the HTTP layer.
type OrderService interface {
	Create(ctx context.Context, caller auth.Principal, req order.CreateRequest) (*order.CreateResult, error)
	CreateWholesale(ctx context.Context, caller auth.Principal, req order.CreateWholesaleRequest) (*order.Order, error)
	Get(ctx context.Context, caller auth.Principal, id string) (*order.Order, error)
	ListMine(ctx context.Context, caller auth.Principal, kind order.Kind, limit, offset int) ([]order.Order, int, error)
	ListAll(ctx context.Context, caller auth.Principal, f order.Filter) ([]order.Order, int, error)
	InitiatePayment(ctx context.Context, caller auth.Principal, id, method string) (*payment.Initiation, error)
	VerifyPayment(ctx context.Context, caller auth.Principal, id, method string, data payment.CallbackData) (*order.Order, error)
	UpdateStatus(ctx context.Context, caller auth.Principal, id string, req order.StatusUpdate) (*order.Order, error)
	Decide(ctx context.Context, caller auth.Principal, id string, req order.DecisionRequest) (*order.Order, error)
	Refund(ctx context.Context, caller auth.Principal, id, reason string) (*order.Order, error)
}

// CartService manages buyer carts.
type CartService interface {
	Get(ctx context.Context, buyerID string, kind cart.Kind) (*cart.Cart, error)
	AddItem(ctx context.Context, buyerID string, kind cart.Kind, productID string, quantity int) (*cart.Cart, error)
	UpdateItem(ctx context.Context, buyerID string, kind cart.Kind, productID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, buyerID string, kind cart.Kind, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, buyerID string, kind cart.Kind) (*cart.Cart, error)
}

var (
	_ OrderService = (*order.Service)(nil)
	_ CartService  = (*cart.Service)(nil)
)

// Deps holds the collaborators of a Handler.
type Deps struct {
	Orders   OrderService
	Carts    CartService
	Products product.Repository
	Coupons  coupon.Repository
	Offers   offer.Repository
	Tokens   *Tokens
}

// Handler serves the JSON API.
type Handler struct {
	orders   OrderService
	carts    CartService
	products product.Repository
	coupons  coupon.Repository
	offers   offer.Repository
	tokens   *Tokens
	now      func() time.Time
}

// New constructs a Handler.
func New(deps Deps) *Handler {
	return &Handler{
		orders:   deps.Orders,
		carts:    deps.Carts,
		products: deps.Products,
		coupons:  deps.Coupons,
		offers:   deps.Offers,
		tokens:   deps.Tokens,
		now:      time.Now,
	}
}

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	admin := RequireRole(auth.RoleAdmin)
	wholesale := RequireRole(auth.RoleWholesale, auth.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products/{id}", h.getProduct)
		r.Get("/coupons", h.listCoupons)
		r.Get("/coupons/{code}", h.getCoupon)
		r.Get("/offers", h.listOffers)

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Authenticate)

			r.With(admin).Post("/coupons", h.createCoupon)
			r.Get("/payments/callback", h.paymentCallback)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.getCart(cart.KindCustomer))
				r.Post("/", h.addToCart(cart.KindCustomer))
				r.Delete("/", h.clearCart(cart.KindCustomer))
				r.Put("/{productId}", h.updateCartItem(cart.KindCustomer))
				r.Delete("/{productId}", h.removeCartItem(cart.KindCustomer))

				r.Route("/wholesale", func(r chi.Router) {
					r.Use(wholesale)
					r.Get("/", h.getCart(cart.KindWholesale))
					r.Post("/", h.addToCart(cart.KindWholesale))
					r.Delete("/", h.clearCart(cart.KindWholesale))
					r.Put("/{productId}", h.updateCartItem(cart.KindWholesale))
					r.Delete("/{productId}", h.removeCartItem(cart.KindWholesale))
				})
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.createOrder)
				r.Get("/", h.listMyOrders(order.KindCustomer))
				r.With(admin).Get("/admin/all", h.listAllOrders(order.KindCustomer))

				r.Route("/wholesale", func(r chi.Router) {
					r.With(wholesale).Post("/", h.createWholesaleOrder)
					r.With(wholesale).Get("/", h.listMyOrders(order.KindWholesale))
					r.With(admin).Get("/admin/all", h.listAllOrders(order.KindWholesale))
					r.With(admin).Put("/{id}/approve", h.decideWholesaleOrder)
				})

				r.Get("/{id}", h.getOrder)
				r.Post("/{id}/initiate-payment", h.initiatePayment)
				r.Post("/{id}/verify-payment", h.verifyPayment)
				r.With(admin).Put("/{id}/status", h.updateStatus)
				r.With(admin).Post("/{id}/refund", h.refund)
			})
		})
	})
}

// principal returns the caller stored by Authenticate.
func principal(ctx context.Context) auth.Principal {
	p, _ := auth.FromContext(ctx)
	return p
}
