// Command coupon-import bulk-loads coupon rules from gzip-compressed JSON
// lines files. Files are parsed in parallel; a code seen in an earlier file
// or line is reported and skipped. Codes already in the database are left
// untouched.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/repository"
)

func main() {
	var (
		databaseURL string
		batchSize   int
		strict      bool
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.IntVar(&batchSize, "batch", 10_000, "Coupons per import transaction")
	flag.BoolVar(&strict, "strict", false, "Fail on the first invalid line or duplicate code")
	flag.BoolVar(&dryRun, "dry-run", false, "Parse and report without writing")
	flag.Parse()
	files := flag.Args()

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if len(files) == 0 {
			return errors.New("usage: coupon-import [flags] coupons1.jsonl.gz [coupons2.jsonl.gz ...]")
		}
		if !dryRun && databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}

		start := time.Now()
		parsed, err := parseFiles(ctx, lg, files, time.Now())
		if err != nil {
			return err
		}
		res := merge(parsed)
		for _, d := range res.Duplicates {
			lg.Warn("Duplicate coupon code", zap.String("code", d.Code), zap.String("at", d.Pos.String()), zap.String("first", d.First.String()))
		}
		invalid := 0
		for _, f := range parsed {
			invalid += len(f.Invalid)
		}
		lg.Info("Parsed coupon files",
			zap.Int("files", len(files)),
			zap.Int("unique", len(res.Rules)),
			zap.Int("duplicates", len(res.Duplicates)),
			zap.Int("invalid", invalid),
			zap.Duration("took", time.Since(start)),
		)
		if strict && (invalid > 0 || len(res.Duplicates) > 0) {
			return errors.New("strict mode: input has invalid lines or duplicate codes")
		}
		if dryRun || len(res.Rules) == 0 {
			return nil
		}

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		inserted, err := importBatches(ctx, repository.NewCouponRepository(pool), res.Rules, batchSize, lg)
		if err != nil {
			return err
		}
		lg.Info("Coupon import complete",
			zap.Int64("inserted", inserted),
			zap.Int("already_present", len(res.Rules)-int(inserted)),
		)
		return nil
	})
}

// importer is implemented by *repository.CouponRepository.
type importer interface {
	Import(ctx context.Context, rules []coupon.Rule) (int64, error)
}

func importBatches(ctx context.Context, repo importer, rules []coupon.Rule, size int, lg *zap.Logger) (int64, error) {
	if size <= 0 {
		size = len(rules)
	}
	var total int64
	for start := 0; start < len(rules); start += size {
		end := min(start+size, len(rules))
		n, err := repo.Import(ctx, rules[start:end])
		if err != nil {
			return total, errors.Wrapf(err, "import coupons %d-%d", start, end)
		}
		total += n
		lg.Debug("Imported batch", zap.Int("end", end), zap.Int64("inserted", n))
	}
	return total, nil
}
