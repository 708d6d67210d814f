package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/offer"
)

const (
	listActiveOffersSQL = `SELECT id, title, description, discount_type, discount_value,
		product_ids, categories, valid_from, valid_until, festival, active, image
		FROM offers WHERE active AND valid_from <= $1 AND valid_until >= $1
		ORDER BY festival DESC, valid_until`

	createOfferSQL = `INSERT INTO offers (id, title, description, discount_type, discount_value,
		product_ids, categories, valid_from, valid_until, festival, active, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, discount_value = EXCLUDED.discount_value,
			product_ids = EXCLUDED.product_ids, categories = EXCLUDED.categories,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			festival = EXCLUDED.festival, active = EXCLUDED.active, image = EXCLUDED.image`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

func (r *OfferRepository) ListActive(ctx context.Context, now time.Time) ([]offer.Offer, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active offers")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (offer.Offer, error) {
		var o offer.Offer
		err := row.Scan(
			&o.ID, &o.Title, &o.Description, &o.DiscountType, &o.DiscountValue,
			&o.ProductIDs, &o.Categories, &o.ValidFrom, &o.ValidUntil, &o.Festival, &o.Active, &o.Image,
		)
		return o, err
	})
}

// Create stores o, replacing any offer with the same ID.
func (r *OfferRepository) Create(ctx context.Context, o *offer.Offer) error {
	productIDs, categories := o.ProductIDs, o.Categories
	if productIDs == nil {
		productIDs = []string{}
	}
	if categories == nil {
		categories = []string{}
	}
	if _, err := r.pool.Exec(ctx, createOfferSQL,
		o.ID, o.Title, o.Description, o.DiscountType, o.DiscountValue,
		productIDs, categories, o.ValidFrom, o.ValidUntil, o.Festival, o.Active, o.Image,
	); err != nil {
		return errors.Wrapf(err, "create offer %q", o.ID)
	}
	return nil
}
