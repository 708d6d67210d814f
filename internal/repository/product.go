package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/product"
)

const (
	productColumns = `id, name, COALESCE(sku, ''), category, description, price, wholesale_price, stock, active, image`

	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	getWholesaleListingSQL = `SELECT product_id, min_quantity, bulk_discount, active
		FROM wholesale_listings WHERE product_id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, sku, category, description, price, wholesale_price, stock, active, image)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, category = EXCLUDED.category,
			description = EXCLUDED.description, price = EXCLUDED.price,
			wholesale_price = EXCLUDED.wholesale_price, stock = EXCLUDED.stock,
			active = EXCLUDED.active, image = EXCLUDED.image`

	upsertListingSQL = `INSERT INTO wholesale_listings (product_id, min_quantity, bulk_discount, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE SET
			min_quantity = EXCLUDED.min_quantity, bulk_discount = EXCLUDED.bulk_discount, active = EXCLUDED.active`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown IDs are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetWholesaleListing returns product.ErrNotListed when the product has no listing.
func (r *ProductRepository) GetWholesaleListing(ctx context.Context, productID string) (*product.WholesaleListing, error) {
	var l product.WholesaleListing
	err := r.pool.QueryRow(ctx, getWholesaleListingSQL, productID).
		Scan(&l.ProductID, &l.MinQuantity, &l.BulkDiscount, &l.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotListed
		}
		return nil, errors.Wrapf(err, "get wholesale listing %q", productID)
	}
	return &l, nil
}

// Upsert inserts or replaces a product and, when listing is non-nil, its
// wholesale listing.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product, listing *product.WholesaleListing) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.SKU, p.Category, p.Description,
			p.Price, p.WholesalePrice, p.Stock, p.Active, p.Image,
		); err != nil {
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}
		if listing == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, upsertListingSQL,
			p.ID, listing.MinQuantity, listing.BulkDiscount, listing.Active,
		); err != nil {
			return errors.Wrapf(err, "upsert wholesale listing %q", p.ID)
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Category, &p.Description,
		&p.Price, &p.WholesalePrice, &p.Stock, &p.Active, &p.Image,
	)
	return p, err
}
