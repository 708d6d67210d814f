package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/payment"
)

const (
	orderColumns = `id, kind, buyer_id, buyer_email, items, total, discount, coupon_code,
		status, payment_status, payment_method, payment_reference, payment_session, shipping_address,
		COALESCE(tracking_number, ''), notes, location_trail,
		approved, approved_by, approved_at, rejection_reason, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, kind, buyer_id, buyer_email, items, total, discount, coupon_code,
		status, payment_status, payment_method, shipping_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + `, count(*) OVER ()
		FROM orders
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR buyer_id = $2) AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`

	setPaymentSessionSQL = `UPDATE orders SET payment_method = $2, payment_session = $3, updated_at = now()
		WHERE id = $1`

	// settleOrderSQL only matches unpaid, open orders, so a repeated
	// verification or a concurrent cancellation never reaches the stock
	// decrement.
	settleOrderSQL = `UPDATE orders SET
			payment_status = 'paid', payment_method = $2, payment_reference = $3,
			status = CASE WHEN status = 'pending' THEN 'approved' ELSE status END,
			updated_at = $4
		WHERE id = $1 AND payment_status IN ('pending', 'failed')
			AND status NOT IN ('rejected', 'cancelled')
		RETURNING ` + orderColumns

	markPaymentFailedSQL = `UPDATE orders SET payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')`

	markRefundedSQL = `UPDATE orders SET payment_status = 'refunded', updated_at = $2
		WHERE id = $1 AND payment_status = 'paid'
		RETURNING ` + orderColumns

	updateFulfillmentSQL = `UPDATE orders SET
			status = $3,
			tracking_number = CASE WHEN $4::text IS NULL THEN tracking_number ELSE NULLIF($4, '') END,
			notes = COALESCE($5, notes),
			location_trail = CASE WHEN $6::jsonb IS NULL THEN location_trail ELSE location_trail || $6::jsonb END,
			updated_at = $7
		WHERE id = $1 AND status = $2
		RETURNING ` + orderColumns

	decideOrderSQL = `UPDATE orders SET
			status = $2, approved = $3, approved_by = $4, approved_at = $5,
			rejection_reason = $6, updated_at = $5
		WHERE id = $1 AND kind = 'wholesale' AND status = 'pending'
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	// reserveStockSQL decrements every line whose product still has enough
	// stock. Callers compare the affected row count with the line count.
	reserveStockSQL = `UPDATE products p SET stock = p.stock - d.qty
		FROM (SELECT unnest($1::text[]) AS id, unnest($2::int[]) AS qty) d
		WHERE p.id = d.id AND p.stock >= d.qty`
)

type lineItemRow struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

type addressRow struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone"`
}

type locationRow struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Customer and wholesale orders share one table keyed by kind.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order, consumes its coupon and empties the buyer's
// cart in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items := make([]lineItemRow, len(o.Items))
	for i, item := range o.Items {
		items[i] = lineItemRow(item)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if o.CouponCode != "" {
			if err := useCoupon(ctx, tx, o.CouponCode); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, createOrderSQL,
			o.ID, string(o.Kind), o.BuyerID, o.BuyerEmail, items, o.Total, o.Discount, o.CouponCode,
			string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
			addressRow(o.ShippingAddress), o.Notes, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}
		return clearCart(ctx, tx, o.BuyerID, cartKind(o.Kind))
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return o, nil
}

// List returns a page of matching orders, newest first, and the total
// number of matches.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := r.pool.Query(ctx, listOrdersSQL,
		string(f.Kind), f.BuyerID, string(f.Status), limit, f.Offset,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}

	var total int
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		o, err := scanOrderRow(row, &total)
		if err != nil {
			return order.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

func (r *OrderRepository) SetPaymentSession(ctx context.Context, id string, method payment.Method, session string) error {
	tag, err := r.pool.Exec(ctx, setPaymentSessionSQL, id, string(method), session)
	if err != nil {
		return errors.Wrapf(err, "set payment session of %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SettlePayment marks the order paid and reserves stock in one
// transaction. A shortfall on any line rolls both back.
func (r *OrderRepository) SettlePayment(ctx context.Context, id string, s order.Settlement) (*order.Order, bool, error) {
	var settled *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, settleOrderSQL, id, string(s.Method), s.Reference, s.At)
		if err != nil {
			return errors.Wrapf(err, "settle order %q", id)
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "settle order %q", id)
		}
		if err := reserveStock(ctx, tx, o.Items); err != nil {
			return err
		}
		settled = o
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if settled != nil {
		return settled, true, nil
	}

	// Nothing matched: the order is missing, already paid or closed.
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.PaymentStatus != order.PaymentPaid && current.Status.Closed() {
		return nil, false, order.ErrClosed
	}
	return current, false, nil
}

func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, markPaymentFailedSQL, id); err != nil {
		return errors.Wrapf(err, "mark payment failed for %q", id)
	}
	return nil
}

func (r *OrderRepository) MarkRefunded(ctx context.Context, id string, at time.Time) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, markRefundedSQL, id, at)
	if err != nil {
		return nil, errors.Wrapf(err, "mark refunded %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotRefundable
		}
		return nil, errors.Wrapf(err, "mark refunded %q", id)
	}
	return o, nil
}

func (r *OrderRepository) UpdateFulfillment(ctx context.Context, id string, u order.FulfillmentUpdate) (*order.Order, error) {
	var location *string
	if u.Location != nil {
		trail, err := json.Marshal([]locationRow{toLocationRow(*u.Location)})
		if err != nil {
			return nil, errors.Wrap(err, "encode location")
		}
		s := string(trail)
		location = &s
	}

	rows, err := r.pool.Query(ctx, updateFulfillmentSQL,
		id, string(u.From), string(u.To), u.TrackingNumber, u.Notes, location, u.At,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "update fulfillment of %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return o, nil
	case isUniqueViolation(err):
		return nil, order.ErrTrackingInUse
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, order.ErrStatusChanged
	default:
		return nil, errors.Wrapf(err, "update fulfillment of %q", id)
	}
}

// Decide records the admin decision and, on approval, reserves stock in
// the same transaction.
func (r *OrderRepository) Decide(ctx context.Context, id string, d order.Decision) (*order.Order, error) {
	status := order.StatusRejected
	if d.Approval.Approved {
		status = order.StatusApproved
	}

	var decided *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, decideOrderSQL,
			id, string(status), d.Approval.Approved, d.Approval.ApprovedBy, d.Approval.ApprovedAt, d.RejectionReason,
		)
		if err != nil {
			return errors.Wrapf(err, "decide order %q", id)
		}
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
				return errors.Wrapf(err, "check order %q", id)
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrAlreadyDecided
		}
		if err != nil {
			return errors.Wrapf(err, "decide order %q", id)
		}
		if d.Approval.Approved {
			if err := reserveStock(ctx, tx, o.Items); err != nil {
				return err
			}
		}
		decided = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

func reserveStock(ctx context.Context, tx pgx.Tx, items []order.LineItem) error {
	ids := make([]string, len(items))
	qty := make([]int32, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
		qty[i] = int32(item.Quantity)
	}
	tag, err := tx.Exec(ctx, reserveStockSQL, ids, qty)
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	if tag.RowsAffected() != int64(len(items)) {
		return order.ErrInsufficientStock
	}
	return nil
}

func cartKind(k order.Kind) cart.Kind {
	if k == order.KindWholesale {
		return cart.KindWholesale
	}
	return cart.KindCustomer
}

func toLocationRow(e order.LocationEntry) locationRow {
	return locationRow{
		Latitude:  e.Location.Latitude,
		Longitude: e.Location.Longitude,
		Address:   e.Location.Address,
		Status:    string(e.Status),
		Timestamp: e.Timestamp,
	}
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	return scanOrderRow(row)
}

func scanOrderRow(row pgx.CollectableRow, extra ...any) (*order.Order, error) {
	var (
		o             order.Order
		kind, status  string
		paymentStatus string
		method        string
		items         []lineItemRow
		address       addressRow
		trail         []locationRow
		approved      *bool
		approvedBy    *string
		approvedAt    *time.Time
	)
	dest := []any{
		&o.ID, &kind, &o.BuyerID, &o.BuyerEmail, &items, &o.Total, &o.Discount, &o.CouponCode,
		&status, &paymentStatus, &method, &o.PaymentReference, &o.PaymentSession, &address,
		&o.TrackingNumber, &o.Notes, &trail,
		&approved, &approvedBy, &approvedAt, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	o.Kind = order.Kind(kind)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.PaymentMethod = payment.Method(method)
	o.ShippingAddress = order.Address(address)
	o.Items = make([]order.LineItem, len(items))
	for i, item := range items {
		o.Items[i] = order.LineItem(item)
	}
	for _, l := range trail {
		o.LocationTrail = append(o.LocationTrail, order.LocationEntry{
			Location:  order.Location{Latitude: l.Latitude, Longitude: l.Longitude, Address: l.Address},
			Status:    order.Status(l.Status),
			Timestamp: l.Timestamp,
		})
	}
	if approved != nil {
		o.Approval = &order.AdminApproval{Approved: *approved}
		if approvedBy != nil {
			o.Approval.ApprovedBy = *approvedBy
		}
		if approvedAt != nil {
			o.Approval.ApprovedAt = *approvedAt
		}
	}
	return &o, nil
}
