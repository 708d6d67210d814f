package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the customer cart from the wholesale cart of a buyer.
type Kind string

const (
	KindCustomer  Kind = "customer"
	KindWholesale Kind = "wholesale"
)

// Sentinel errors for cart mutations.
var (
	ErrItemNotFound      = errors.New("item not found in cart")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrUnavailable       = errors.New("product is not available")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// MinQuantityError is returned when a wholesale line is below its minimum.
type MinQuantityError struct {
	ProductID   string
	MinQuantity int
}

func (e *MinQuantityError) Error() string {
	return fmt.Sprintf("minimum quantity required: %d", e.MinQuantity)
}

// Item is a cart line with price snapshots taken when it was added.
type Item struct {
	ProductID      string
	Name           string
	Price          decimal.Decimal
	WholesalePrice decimal.NullDecimal
	Quantity       int
	Image          string
	MinQuantity    int
}

// EffectivePrice returns the wholesale price when present, else the price.
func (i Item) EffectivePrice() decimal.Decimal {
	if i.WholesalePrice.Valid && i.WholesalePrice.Decimal.IsPositive() {
		return i.WholesalePrice.Decimal
	}
	return i.Price
}

// LineTotal is EffectivePrice times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.EffectivePrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is a buyer's staging list. Total is derived and recomputed on every
// mutation.
type Cart struct {
	BuyerID   string
	Kind      Kind
	Items     []Item
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// New returns an empty cart.
func New(buyerID string, kind Kind) *Cart {
	return &Cart{BuyerID: buyerID, Kind: kind, Total: decimal.Zero}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Find returns the index of the line for productID, or -1.
func (c *Cart) Find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Add merges item into the cart. An existing line for the same product
// keeps its position, takes the new price snapshot and accumulates quantity.
func (c *Cart) Add(item Item) {
	if i := c.Find(item.ProductID); i >= 0 {
		item.Quantity += c.Items[i].Quantity
		c.Items[i] = item
	} else {
		c.Items = append(c.Items, item)
	}
	c.Recalculate()
}

// SetQuantity replaces the quantity of an existing line.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	i := c.Find(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items[i].Quantity = quantity
	c.Recalculate()
	return nil
}

// Remove drops the line for productID.
func (c *Cart) Remove(productID string) error {
	i := c.Find(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.Recalculate()
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Items = nil
	c.Total = decimal.Zero
}

// Recalculate recomputes Total from the lines.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	c.Total = total.Round(2)
}

// Repository persists carts. Get returns an empty cart when the buyer has none.
type Repository interface {
	Get(ctx context.Context, buyerID string, kind Kind) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}
