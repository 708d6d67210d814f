package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

const (
	couponColumns = `code, description, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, used_count, applicable_to, active, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE active AND valid_from <= $1 AND valid_until >= $1
			AND (usage_limit = 0 OR used_count < usage_limit)
		ORDER BY valid_until, code`

	createCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, used_count, applicable_to, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
		RETURNING created_at`

	// useCouponSQL consumes one use only while the limit allows it.
	useCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	createImportTableSQL = `CREATE TEMP TABLE coupon_import (LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`
	mergeImportSQL       = `INSERT INTO coupons SELECT * FROM coupon_import ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
// Returns coupon.ErrInvalidCoupon when no coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, coupon.NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// ListActive returns coupons usable at now.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	return pgx.CollectRows(rows, scanCouponRule)
}

// Create stores a new rule. It returns coupon.ErrDuplicateCode when the
// code is taken.
func (r *CouponRepository) Create(ctx context.Context, rule *coupon.Rule) error {
	err := r.pool.QueryRow(ctx, createCouponSQL, couponArgs(rule)...).Scan(&rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create coupon %q", rule.Code)
	}
	return nil
}

// Import bulk loads rules, skipping codes that already exist. It returns
// the number of rules inserted.
func (r *CouponRepository) Import(ctx context.Context, rules []coupon.Rule) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createImportTableSQL); err != nil {
			return errors.Wrap(err, "create import table")
		}
		columns := []string{
			"code", "description", "discount_type", "value", "min_purchase", "max_discount",
			"valid_from", "valid_until", "usage_limit", "applicable_to", "active",
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"coupon_import"}, columns,
			pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
				return couponArgs(&rules[i]), nil
			}),
		); err != nil {
			return errors.Wrap(err, "copy coupons")
		}
		tag, err := tx.Exec(ctx, mergeImportSQL)
		if err != nil {
			return errors.Wrap(err, "merge coupons")
		}
		inserted = tag.RowsAffected()
		return nil
	})
	return inserted, err
}

func couponArgs(r *coupon.Rule) []any {
	return []any{
		r.Code, r.Description, string(r.DiscountType), r.Value, r.MinPurchase, r.MaxDiscount,
		r.ValidFrom, r.ValidUntil, r.UsageLimit, string(r.ApplicableTo), r.Active,
	}
}

// useCoupon consumes one use of code inside tx.
func useCoupon(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, useCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "use coupon %q", code)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsageLimitReached
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		audience     string
	)
	err := row.Scan(
		&rule.Code, &rule.Description, &discountType, &rule.Value, &rule.MinPurchase, &rule.MaxDiscount,
		&rule.ValidFrom, &rule.ValidUntil, &rule.UsageLimit, &rule.UsedCount, &audience, &rule.Active,
		&rule.CreatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.ApplicableTo = coupon.Audience(audience)
	return rule, err
}
