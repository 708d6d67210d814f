//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/payment"
	"github.com/xenking/bazaar/internal/repository"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bazaar",
				"POSTGRES_PASSWORD": "bazaar",
				"POSTGRES_DB":       "bazaar",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	host, err := pg.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres host: %v\n", err)
		return 1
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres port: %v\n", err)
		return 1
	}

	dsn := fmt.Sprintf("postgres://bazaar:bazaar@%s:%s/bazaar?sslmode=disable", host, port.Port())
	pool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return m.Run()
}

func seedProduct(t *testing.T, id string, stock int) {
	t.Helper()
	products := repository.NewProductRepository(pool)
	require.NoError(t, products.Upsert(context.Background(), product.Product{
		ID:     id,
		Name:   "Product " + id,
		Price:  decimal.NewFromInt(100),
		Stock:  stock,
		Active: true,
	}, &product.WholesaleListing{MinQuantity: 5, Active: true}))
}

func newOrder(id, productID string, qty int, coupon string) *order.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:            id,
		Kind:          order.KindCustomer,
		BuyerID:       "buyer-" + id,
		BuyerEmail:    "buyer@example.com",
		Items:         []order.LineItem{{ProductID: productID, Name: "x", UnitPrice: decimal.NewFromInt(100), Quantity: qty}},
		Total:         decimal.NewFromInt(int64(100 * qty)),
		Discount:      decimal.Zero,
		CouponCode:    coupon,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: payment.MethodEsewa,
		ShippingAddress: order.Address{
			Street: "Durbar Marg", City: "Kathmandu", Phone: "98",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func stockOf(t *testing.T, id string) int {
	t.Helper()
	p, err := repository.NewProductRepository(pool).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	seedProduct(t, "prod-read", 7)
	products := repository.NewProductRepository(pool)

	p, err := products.GetByID(ctx, "prod-read")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)
	assert.True(t, decimal.NewFromInt(100).Equal(p.Price))
	assert.False(t, p.WholesalePrice.Valid)

	_, err = products.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	l, err := products.GetWholesaleListing(ctx, "prod-read")
	require.NoError(t, err)
	assert.Equal(t, 5, l.MinQuantity)

	found, err := products.GetByIDs(ctx, []string{"prod-read", "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestCartRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	carts := repository.NewCartRepository(pool)

	empty, err := carts.Get(ctx, "cart-buyer", cart.KindWholesale)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	c := cart.New("cart-buyer", cart.KindWholesale)
	c.Add(cart.Item{
		ProductID:      "p1",
		Name:           "Pashmina",
		Price:          decimal.NewFromInt(50),
		WholesalePrice: decimal.NewNullDecimal(decimal.NewFromInt(40)),
		Quantity:       10,
		MinQuantity:    10,
	})
	c.UpdatedAt = time.Now()
	require.NoError(t, carts.Save(ctx, c))

	got, err := carts.Get(ctx, "cart-buyer", cart.KindWholesale)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(400).Equal(got.Total))
	assert.True(t, got.Items[0].WholesalePrice.Valid)
	assert.Equal(t, 10, got.Items[0].MinQuantity)
}

func TestCouponRepository(t *testing.T) {
	ctx := context.Background()
	coupons := repository.NewCouponRepository(pool)
	now := time.Now()

	rule := &coupon.Rule{
		Code:         "REPO10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		ApplicableTo: coupon.AudienceAll,
		Active:       true,
	}
	require.NoError(t, coupons.Create(ctx, rule))
	require.ErrorIs(t, coupons.Create(ctx, rule), coupon.ErrDuplicateCode)

	got, err := coupons.FindByCode(ctx, "repo10")
	require.NoError(t, err)
	assert.Equal(t, coupon.DiscountPercentage, got.DiscountType)

	_, err = coupons.FindByCode(ctx, "NOPE")
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	imported := []coupon.Rule{*rule, *rule}
	imported[1].Code = "REPO20"
	n, err := coupons.Import(ctx, imported)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "existing codes are skipped")

	active, err := coupons.ListActive(ctx, now)
	require.NoError(t, err)
	codes := make([]string, len(active))
	for i, r := range active {
		codes[i] = r.Code
	}
	assert.Contains(t, codes, "REPO10")
	assert.Contains(t, codes, "REPO20")
}

func TestOrderRepository_CreateConsumesCouponAndClearsCart(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	carts := repository.NewCartRepository(pool)
	coupons := repository.NewCouponRepository(pool)
	seedProduct(t, "prod-create", 10)

	require.NoError(t, coupons.Create(ctx, &coupon.Rule{
		Code:         "ONCE",
		DiscountType: coupon.DiscountFixed,
		Value:        decimal.NewFromInt(5),
		ValidFrom:    time.Now().Add(-time.Hour),
		ValidUntil:   time.Now().Add(time.Hour),
		UsageLimit:   1,
		ApplicableTo: coupon.AudienceAll,
		Active:       true,
	}))

	o := newOrder("ord-create", "prod-create", 2, "ONCE")
	c := cart.New(o.BuyerID, cart.KindCustomer)
	c.Add(cart.Item{ProductID: "prod-create", Price: decimal.NewFromInt(100), Quantity: 2})
	c.UpdatedAt = time.Now()
	require.NoError(t, carts.Save(ctx, c))

	require.NoError(t, orders.Create(ctx, o))

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "ONCE", got.CouponCode)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)

	cleared, err := carts.Get(ctx, o.BuyerID, cart.KindCustomer)
	require.NoError(t, err)
	assert.True(t, cleared.IsEmpty())

	second := newOrder("ord-create-2", "prod-create", 1, "ONCE")
	require.ErrorIs(t, orders.Create(ctx, second), coupon.ErrCouponUsageLimitReached)
	_, err = orders.Get(ctx, second.ID)
	require.ErrorIs(t, err, order.ErrNotFound, "failed create leaves no order behind")
}

func TestOrderRepository_SettleIsIdempotentUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-settle", 10)

	o := newOrder("ord-settle", "prod-settle", 2, "")
	require.NoError(t, orders.Create(ctx, o))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := orders.SettlePayment(ctx, o.ID, order.Settlement{
				Method: payment.MethodEsewa, Reference: "TXN", At: time.Now(),
			})
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 8, stockOf(t, "prod-settle"))

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, order.StatusApproved, got.Status)
	assert.Equal(t, "TXN", got.PaymentReference)
}

func TestOrderRepository_SettleRollsBackOnShortfall(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-short", 1)

	o := newOrder("ord-short", "prod-short", 2, "")
	require.NoError(t, orders.Create(ctx, o))

	_, _, err := orders.SettlePayment(ctx, o.ID, order.Settlement{Method: payment.MethodKhalti, Reference: "P", At: time.Now()})
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	assert.Equal(t, 1, stockOf(t, "prod-short"))
}

func TestOrderRepository_SetPaymentSession(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-session", 5)

	o := newOrder("ord-session", "prod-session", 1, "")
	require.NoError(t, orders.Create(ctx, o))
	require.NoError(t, orders.SetPaymentSession(ctx, o.ID, payment.MethodKhalti, "pidx-1"))

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.MethodKhalti, got.PaymentMethod)
	assert.Equal(t, "pidx-1", got.PaymentSession)

	require.ErrorIs(t, orders.SetPaymentSession(ctx, "missing", payment.MethodKhalti, "x"), order.ErrNotFound)
}

func TestOrderRepository_SettleSkipsCancelledOrder(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-cancel", 5)

	o := newOrder("ord-cancel", "prod-cancel", 2, "")
	require.NoError(t, orders.Create(ctx, o))
	_, err := orders.UpdateFulfillment(ctx, o.ID, order.FulfillmentUpdate{
		From: order.StatusPending, To: order.StatusCancelled, At: time.Now(),
	})
	require.NoError(t, err)

	_, changed, err := orders.SettlePayment(ctx, o.ID, order.Settlement{Method: payment.MethodEsewa, Reference: "TXN", At: time.Now()})
	require.ErrorIs(t, err, order.ErrClosed)
	assert.False(t, changed)

	got, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, 5, stockOf(t, "prod-cancel"))
}

func TestOrderRepository_Fulfillment(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-ship", 10)

	a := newOrder("ord-ship-a", "prod-ship", 1, "")
	b := newOrder("ord-ship-b", "prod-ship", 1, "")
	require.NoError(t, orders.Create(ctx, a))
	require.NoError(t, orders.Create(ctx, b))

	tracking := "NP-1"
	got, err := orders.UpdateFulfillment(ctx, a.ID, order.FulfillmentUpdate{
		From:           order.StatusPending,
		To:             order.StatusApproved,
		TrackingNumber: &tracking,
		Location: &order.LocationEntry{
			Location:  order.Location{Latitude: 27.7, Longitude: 85.3, Address: "Thamel"},
			Status:    order.StatusApproved,
			Timestamp: time.Now(),
		},
		At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusApproved, got.Status)
	assert.Equal(t, "NP-1", got.TrackingNumber)
	require.Len(t, got.LocationTrail, 1)
	assert.Equal(t, "Thamel", got.LocationTrail[0].Location.Address)

	_, err = orders.UpdateFulfillment(ctx, a.ID, order.FulfillmentUpdate{
		From: order.StatusPending, To: order.StatusCancelled, At: time.Now(),
	})
	require.ErrorIs(t, err, order.ErrStatusChanged)

	_, err = orders.UpdateFulfillment(ctx, b.ID, order.FulfillmentUpdate{
		From: order.StatusPending, To: order.StatusApproved, TrackingNumber: &tracking, At: time.Now(),
	})
	require.ErrorIs(t, err, order.ErrTrackingInUse)

	list, total, err := orders.List(ctx, order.Filter{BuyerID: a.BuyerID, Kind: order.KindCustomer})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestOrderRepository_Decide(t *testing.T) {
	ctx := context.Background()
	orders := repository.NewOrderRepository(pool)
	seedProduct(t, "prod-bulk", 50)

	o := newOrder("ord-bulk", "prod-bulk", 20, "")
	o.Kind = order.KindWholesale
	o.PaymentMethod = payment.MethodCOD
	require.NoError(t, orders.Create(ctx, o))

	approval := order.AdminApproval{Approved: true, ApprovedBy: "admin", ApprovedAt: time.Now()}
	got, err := orders.Decide(ctx, o.ID, order.Decision{Approval: approval})
	require.NoError(t, err)
	assert.Equal(t, order.StatusApproved, got.Status)
	require.NotNil(t, got.Approval)
	assert.True(t, got.Approval.Approved)
	assert.Equal(t, 30, stockOf(t, "prod-bulk"))

	_, err = orders.Decide(ctx, o.ID, order.Decision{Approval: approval})
	require.ErrorIs(t, err, order.ErrAlreadyDecided)
	assert.Equal(t, 30, stockOf(t, "prod-bulk"))

	_, err = orders.Decide(ctx, "missing", order.Decision{Approval: approval})
	require.ErrorIs(t, err, order.ErrNotFound)
}
