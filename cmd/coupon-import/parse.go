package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

const maxLineSize = 64 << 10

// position locates a line in an input file.
type position struct {
	File string
	Line int
}

func (p position) String() string { return fmt.Sprintf("%s:%d", p.File, p.Line) }

type parsedRule struct {
	Rule coupon.Rule
	Pos  position
}

type lineError struct {
	Pos position
	Err error
}

type fileResult struct {
	Rules   []parsedRule
	Invalid []lineError
}

// parseFiles parses every file concurrently. Results keep the input order.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string, now time.Time) ([]fileResult, error) {
	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res, err := parseFile(ctx, path, now)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			for _, le := range res.Invalid {
				lg.Warn("Skipping invalid coupon line", zap.String("at", le.Pos.String()), zap.Error(le.Err))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func parseFile(ctx context.Context, path string, now time.Time) (fileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fileResult{}, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	var res fileResult
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return fileResult{}, err
		}
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		pos := position{File: path, Line: line}
		rule, err := parseRule(raw, now)
		if err != nil {
			res.Invalid = append(res.Invalid, lineError{Pos: pos, Err: err})
			continue
		}
		res.Rules = append(res.Rules, parsedRule{Rule: *rule, Pos: pos})
	}
	if err := sc.Err(); err != nil {
		return fileResult{}, errors.Wrap(err, "scan")
	}
	return res, nil
}

// parseRule decodes one JSON object into a validated rule. Amounts may be
// numbers or numeric strings. A missing validFrom means now; a missing
// validUntil means one year after validFrom.
func parseRule(raw []byte, now time.Time) (*coupon.Rule, error) {
	r := coupon.Rule{Active: true}
	var validUntil time.Time
	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			r.Code, err = d.Str()
		case "description":
			r.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			r.DiscountType = coupon.DiscountType(strings.ToLower(s))
		case "value", "discountValue":
			r.Value, err = decodeAmount(d)
		case "minPurchase":
			r.MinPurchase, err = decodeAmount(d)
		case "maxDiscount":
			r.MaxDiscount, err = decodeAmount(d)
		case "usageLimit":
			r.UsageLimit, err = d.Int()
		case "applicableTo":
			var s string
			s, err = d.Str()
			r.ApplicableTo = coupon.Audience(s)
		case "active", "isActive":
			r.Active, err = d.Bool()
		case "validFrom":
			r.ValidFrom, err = decodeTime(d)
		case "validUntil":
			validUntil, err = decodeTime(d)
		default:
			return d.Skip()
		}
		return errors.Wrap(err, string(key))
	}); err != nil {
		return nil, err
	}

	if r.ValidFrom.IsZero() {
		r.ValidFrom = now
	}
	if validUntil.IsZero() {
		validUntil = r.ValidFrom.AddDate(1, 0, 0)
	}
	r.ValidUntil = validUntil
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return decimal.Zero, d.Null()
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

type duplicate struct {
	Code  string
	Pos   position
	First position
}

type mergeResult struct {
	Rules      []coupon.Rule
	Duplicates []duplicate
}

// merge keeps the first occurrence of every code in file order. The bloom
// filter screens codes cheaply; only its positives hit the exact index.
func merge(files []fileResult) mergeResult {
	expected := 0
	for _, f := range files {
		expected += len(f.Rules)
	}
	filter := bloom.NewWithEstimates(uint(max(expected, 1024)), 0.001)
	seen := make(map[string]position)

	var res mergeResult
	for _, f := range files {
		for _, pr := range f.Rules {
			code := pr.Rule.Code
			if filter.TestString(code) {
				if first, ok := seen[code]; ok {
					res.Duplicates = append(res.Duplicates, duplicate{Code: code, Pos: pr.Pos, First: first})
					continue
				}
			}
			filter.AddString(code)
			seen[code] = pr.Pos
			res.Rules = append(res.Rules, pr.Rule)
		}
	}
	return res
}
