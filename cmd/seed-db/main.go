// Command seed-db loads a demo catalog, coupons and offers and prints an
// admin token for local use.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/offer"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/repository"
)

//go:embed seed.json
var seedData []byte

type seedFile struct {
	Products []productSeed `json:"products"`
	Coupons  []couponSeed  `json:"coupons"`
	Offers   []offerSeed   `json:"offers"`
}

type productSeed struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	SKU            string              `json:"sku"`
	Category       string              `json:"category"`
	Description    string              `json:"description"`
	Price          decimal.Decimal     `json:"price"`
	WholesalePrice decimal.NullDecimal `json:"wholesalePrice"`
	Stock          int                 `json:"stock"`
	Image          string              `json:"image"`
	Wholesale      *struct {
		MinQuantity  int             `json:"minQuantity"`
		BulkDiscount decimal.Decimal `json:"bulkDiscount"`
	} `json:"wholesale"`
}

type couponSeed struct {
	Code         string          `json:"code"`
	Description  string          `json:"description"`
	DiscountType string          `json:"discountType"`
	Value        decimal.Decimal `json:"value"`
	MinPurchase  decimal.Decimal `json:"minPurchase"`
	MaxDiscount  decimal.Decimal `json:"maxDiscount"`
	ValidDays    int             `json:"validDays"`
	UsageLimit   int             `json:"usageLimit"`
	ApplicableTo string          `json:"applicableTo"`
}

type offerSeed struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	DiscountType  string          `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	ProductIDs    []string        `json:"productIds"`
	Categories    []string        `json:"categories"`
	ValidDays     int             `json:"validDays"`
	Festival      bool            `json:"festival"`
	Image         string          `json:"image"`
}

func main() {
	var (
		databaseURL string
		jwtSecret   string
		adminID     string
		adminEmail  string
		tokenTTL    time.Duration
	)
	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret for the printed admin token; empty skips the token")
	flag.StringVar(&adminID, "admin-id", "admin", "User ID embedded in the admin token")
	flag.StringVar(&adminEmail, "admin-email", "admin@bazaar.local", "Email embedded in the admin token")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Admin token lifetime")
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if err := seed(ctx, lg, databaseURL, time.Now()); err != nil {
			return errors.Wrap(err, "seed")
		}
		if jwtSecret == "" {
			return nil
		}
		token, err := handler.NewTokens(jwtSecret).Issue(auth.Principal{
			UserID: adminID,
			Email:  adminEmail,
			Role:   auth.RoleAdmin,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	})
}

func seed(ctx context.Context, lg *zap.Logger, databaseURL string, now time.Time) error {
	var data seedFile
	if err := json.Unmarshal(seedData, &data); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)
	for _, s := range data.Products {
		p := product.Product{
			ID:             s.ID,
			Name:           s.Name,
			SKU:            s.SKU,
			Category:       s.Category,
			Description:    s.Description,
			Price:          s.Price,
			WholesalePrice: s.WholesalePrice,
			Stock:          s.Stock,
			Active:         true,
			Image:          s.Image,
		}
		var listing *product.WholesaleListing
		if w := s.Wholesale; w != nil {
			listing = &product.WholesaleListing{
				ProductID:    s.ID,
				MinQuantity:  w.MinQuantity,
				BulkDiscount: w.BulkDiscount,
				Active:       true,
			}
		}
		if err := products.Upsert(ctx, p, listing); err != nil {
			return errors.Wrapf(err, "upsert product %s", s.ID)
		}
	}
	lg.Info("Products seeded", zap.Int("count", len(data.Products)))

	rules := make([]coupon.Rule, 0, len(data.Coupons))
	for _, s := range data.Coupons {
		r := coupon.Rule{
			Code:         s.Code,
			Description:  s.Description,
			DiscountType: coupon.DiscountType(s.DiscountType),
			Value:        s.Value,
			MinPurchase:  s.MinPurchase,
			MaxDiscount:  s.MaxDiscount,
			ValidFrom:    now,
			ValidUntil:   now.AddDate(0, 0, s.ValidDays),
			UsageLimit:   s.UsageLimit,
			ApplicableTo: coupon.Audience(s.ApplicableTo),
			Active:       true,
		}
		r.Normalize()
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "coupon %s", s.Code)
		}
		rules = append(rules, r)
	}
	inserted, err := repository.NewCouponRepository(pool).Import(ctx, rules)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}
	lg.Info("Coupons seeded", zap.Int64("inserted", inserted), zap.Int("existing", len(rules)-int(inserted)))

	offers := repository.NewOfferRepository(pool)
	for _, s := range data.Offers {
		if err := offers.Create(ctx, &offer.Offer{
			ID:            s.ID,
			Title:         s.Title,
			Description:   s.Description,
			DiscountType:  s.DiscountType,
			DiscountValue: s.DiscountValue,
			ProductIDs:    s.ProductIDs,
			Categories:    s.Categories,
			ValidFrom:     now,
			ValidUntil:    now.AddDate(0, 0, s.ValidDays),
			Festival:      s.Festival,
			Active:        true,
			Image:         s.Image,
		}); err != nil {
			return err
		}
	}
	lg.Info("Offers seeded", zap.Int("count", len(data.Offers)))
	return nil
}
