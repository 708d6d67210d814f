package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrNotListed is returned when a product has no active wholesale listing.
	ErrNotListed = errors.New("product is not available for wholesale")
)

// Product is a catalog record.
type Product struct {
	ID             string
	Name           string
	SKU            string
	Category       string
	Description    string
	Price          decimal.Decimal
	WholesalePrice decimal.NullDecimal
	Stock          int
	Active         bool
	Image          string
}

// EffectivePrice returns the wholesale price when one is set, else the list price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.WholesalePrice.Valid && p.WholesalePrice.Decimal.IsPositive() {
		return p.WholesalePrice.Decimal
	}
	return p.Price
}

// Available reports whether quantity units can currently be sold.
func (p Product) Available(quantity int) bool {
	return p.Active && p.Stock >= quantity
}

// WholesaleListing makes a product orderable through the wholesale portal.
type WholesaleListing struct {
	ProductID   string
	MinQuantity int
	// BulkDiscount is a display-only percentage.
	BulkDiscount decimal.Decimal
	Active       bool
}

// Repository reads the catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetWholesaleListing(ctx context.Context, productID string) (*WholesaleListing, error)
}
