package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/cart"
)

const (
	getCartSQL = `SELECT items, total, updated_at FROM carts WHERE buyer_id = $1 AND kind = $2`

	saveCartSQL = `INSERT INTO carts (buyer_id, kind, items, total, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (buyer_id, kind) DO UPDATE SET
			items = EXCLUDED.items, total = EXCLUDED.total, updated_at = EXCLUDED.updated_at`

	clearCartSQL = `UPDATE carts SET items = '[]', total = 0, updated_at = now()
		WHERE buyer_id = $1 AND kind = $2`
)

// cartItemRow is the JSONB shape of a cart line.
type cartItemRow struct {
	ProductID      string              `json:"productId"`
	Name           string              `json:"name"`
	Price          decimal.Decimal     `json:"price"`
	WholesalePrice decimal.NullDecimal `json:"wholesalePrice"`
	Quantity       int                 `json:"quantity"`
	Image          string              `json:"image,omitempty"`
	MinQuantity    int                 `json:"minQuantity,omitempty"`
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores one row per buyer and cart kind with the lines in
// a JSONB column.
type CartRepository struct {
	pool *pgxpool.Pool
}

func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the buyer's cart, or an empty one.
func (r *CartRepository) Get(ctx context.Context, buyerID string, kind cart.Kind) (*cart.Cart, error) {
	c := cart.New(buyerID, kind)
	var rows []cartItemRow
	err := r.pool.QueryRow(ctx, getCartSQL, buyerID, string(kind)).Scan(&rows, &c.Total, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, nil
		}
		return nil, errors.Wrapf(err, "get %s cart of %q", kind, buyerID)
	}
	for _, row := range rows {
		c.Items = append(c.Items, cart.Item(row))
	}
	return c, nil
}

func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	rows := make([]cartItemRow, len(c.Items))
	for i, item := range c.Items {
		rows[i] = cartItemRow(item)
	}
	if _, err := r.pool.Exec(ctx, saveCartSQL, c.BuyerID, string(c.Kind), rows, c.Total, c.UpdatedAt); err != nil {
		return errors.Wrapf(err, "save %s cart of %q", c.Kind, c.BuyerID)
	}
	return nil
}

func clearCart(ctx context.Context, tx pgx.Tx, buyerID string, kind cart.Kind) error {
	if _, err := tx.Exec(ctx, clearCartSQL, buyerID, string(kind)); err != nil {
		return errors.Wrapf(err, "clear %s cart of %q", kind, buyerID)
	}
	return nil
}
