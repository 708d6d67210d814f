// Package offer holds time-boxed promotional offers. Offers are shown to
// buyers alongside products; they never change an order total, only
// coupons do.
package offer

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is a display-only promotion attached to products or categories.
type Offer struct {
	ID            string
	Title         string
	Description   string
	DiscountType  string
	DiscountValue decimal.Decimal
	ProductIDs    []string
	Categories    []string
	ValidFrom     time.Time
	ValidUntil    time.Time
	Festival      bool
	Active        bool
	Image         string
}

// ActiveAt reports whether the offer is active and inside its window at t.
func (o Offer) ActiveAt(t time.Time) bool {
	return o.Active && !t.Before(o.ValidFrom) && !t.After(o.ValidUntil)
}

// Covers reports whether the offer targets the given product or category.
// An offer with no targets covers everything.
func (o Offer) Covers(productID, category string) bool {
	if len(o.ProductIDs) == 0 && len(o.Categories) == 0 {
		return true
	}
	return slices.Contains(o.ProductIDs, productID) || slices.Contains(o.Categories, category)
}

// Repository reads and stores offers.
type Repository interface {
	ListActive(ctx context.Context, now time.Time) ([]Offer, error)
	Create(ctx context.Context, o *Offer) error
}
