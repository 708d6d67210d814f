package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/product"
)

// Service applies cart mutations against the live catalog.
type Service struct {
	products product.Repository
	carts    Repository
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(products product.Repository, carts Repository) *Service {
	return &Service{
		products: products,
		carts:    carts,
		now:      time.Now,
	}
}

// Get returns the buyer's cart of the given kind.
func (s *Service) Get(ctx context.Context, buyerID string, kind Kind) (*Cart, error) {
	c, err := s.carts.Get(ctx, buyerID, kind)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// AddItem adds quantity units of a product, snapshotting its current
// name, price and image. Wholesale carts require an active wholesale
// listing and respect its minimum quantity.
func (s *Service) AddItem(ctx context.Context, buyerID string, kind Kind, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrUnavailable
	}

	c, err := s.Get(ctx, buyerID, kind)
	if err != nil {
		return nil, err
	}

	item := Item{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  quantity,
		Image:     p.Image,
	}

	if kind == KindWholesale {
		listing, err := s.products.GetWholesaleListing(ctx, productID)
		if err != nil {
			return nil, err
		}
		if !listing.Active {
			return nil, product.ErrNotListed
		}
		if quantity < listing.MinQuantity {
			return nil, &MinQuantityError{ProductID: productID, MinQuantity: listing.MinQuantity}
		}
		item.WholesalePrice = p.WholesalePrice
		item.MinQuantity = listing.MinQuantity
	}

	total := quantity
	if i := c.Find(productID); i >= 0 {
		total += c.Items[i].Quantity
	}
	if p.Stock < total {
		return nil, ErrInsufficientStock
	}

	c.Add(item)
	return s.save(ctx, c)
}

// UpdateItem sets the quantity of an existing line.
func (s *Service) UpdateItem(ctx context.Context, buyerID string, kind Kind, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.Get(ctx, buyerID, kind)
	if err != nil {
		return nil, err
	}
	i := c.Find(productID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	if minQty := c.Items[i].MinQuantity; quantity < minQty {
		return nil, &MinQuantityError{ProductID: productID, MinQuantity: minQty}
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, ErrInsufficientStock
	}

	if err := c.SetQuantity(productID, quantity); err != nil {
		return nil, err
	}
	return s.save(ctx, c)
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, buyerID string, kind Kind, productID string) (*Cart, error) {
	c, err := s.Get(ctx, buyerID, kind)
	if err != nil {
		return nil, err
	}
	if err := c.Remove(productID); err != nil {
		return nil, err
	}
	return s.save(ctx, c)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, buyerID string, kind Kind) (*Cart, error) {
	c, err := s.Get(ctx, buyerID, kind)
	if err != nil {
		return nil, err
	}
	c.Clear()
	return s.save(ctx, c)
}

func (s *Service) save(ctx context.Context, c *Cart) (*Cart, error) {
	c.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}
