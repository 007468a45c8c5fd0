package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/money"
)

const (
	defaultExpectedCodes     = 1_000_000
	defaultFalsePositiveRate = 0.001
	defaultBatchSize         = 500
)

// Columns of the coupon CSV, in order. The header row is optional.
var columns = []string{
	"code", "type", "value", "min_order", "max_discount",
	"usage_limit", "per_customer", "starts_at", "expires_at",
}

// Upserter writes coupons by code.
type Upserter interface {
	UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) ([]string, error)
}

// Options configures an ingest run.
type Options struct {
	Files             []string
	ExpectedCodes     uint
	FalsePositiveRate float64
	BatchSize         int
}

// Stats summarizes an ingest run.
type Stats struct {
	Rows       int
	Invalid    int
	Duplicates int
	Upserted   int
}

type location struct {
	file string
	line int
}

// Ingest loads opts.Files into w in three passes:
//
//  1. Per file, concurrently: add every normalized code to that file's
//     bloom filter. Codes already in the filter are suspects.
//  2. Per file, concurrently: codes present in any other file's filter are
//     suspects too.
//  3. Sequentially in file order: resolve suspects exactly, skip repeats
//     and upsert the rest in batches.
//
// Only suspects are ever held in memory.
func Ingest(ctx context.Context, w Upserter, opts Options) (Stats, error) {
	if opts.ExpectedCodes == 0 {
		opts.ExpectedCodes = defaultExpectedCodes
	}
	if opts.FalsePositiveRate <= 0 {
		opts.FalsePositiveRate = defaultFalsePositiveRate
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	filters := make([]*bloom.BloomFilter, len(opts.Files))
	suspects := make([]map[string]struct{}, len(opts.Files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range opts.Files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(opts.ExpectedCodes, opts.FalsePositiveRate)
			s := make(map[string]struct{})
			err := scanCodes(gctx, path, func(key string) {
				if f.TestAndAddString(key) {
					s[key] = struct{}{}
				}
			})
			filters[i], suspects[i] = f, s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, errors.Wrap(err, "build filters")
	}

	g, gctx = errgroup.WithContext(ctx)
	for i, path := range opts.Files {
		g.Go(func() error {
			return scanCodes(gctx, path, func(key string) {
				for j, f := range filters {
					if j != i && f.TestString(key) {
						suspects[i][key] = struct{}{}
						return
					}
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, errors.Wrap(err, "find suspects")
	}

	suspect := make(map[string]struct{})
	for _, s := range suspects {
		for k := range s {
			suspect[k] = struct{}{}
		}
	}
	slog.Info("duplicate suspects", slog.Int("count", len(suspect)))

	return load(ctx, w, opts, suspect)
}

func load(ctx context.Context, w Upserter, opts Options, suspect map[string]struct{}) (Stats, error) {
	var (
		stats Stats
		seen  = make(map[string]location, len(suspect))
		batch = make([]coupon.Coupon, 0, opts.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids, err := w.UpsertCoupons(ctx, batch)
		if err != nil {
			return err
		}
		stats.Upserted += len(ids)
		batch = batch[:0]
		return nil
	}

	for _, path := range opts.Files {
		err := scanRecords(ctx, path, func(line int, rec []string) error {
			stats.Rows++
			c, err := parseCoupon(rec)
			if err != nil {
				stats.Invalid++
				slog.Warn("invalid row", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
				return nil
			}
			key := normalize(c.Code)
			if _, ok := suspect[key]; ok {
				if first, dup := seen[key]; dup {
					stats.Duplicates++
					slog.Warn("duplicate code skipped",
						slog.String("code", c.Code),
						slog.String("file", path), slog.Int("line", line),
						slog.String("first_file", first.file), slog.Int("first_line", first.line),
					)
					return nil
				}
				seen[key] = location{file: path, line: line}
			}
			batch = append(batch, c)
			if len(batch) == opts.BatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return stats, errors.Wrapf(err, "load %s", path)
		}
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "load")
	}
	return stats, nil
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// scanCodes calls fn with the normalized code of every data row.
func scanCodes(ctx context.Context, path string, fn func(key string)) error {
	return scanRecords(ctx, path, func(_ int, rec []string) error {
		if key := normalize(rec[0]); key != "" {
			fn(key)
		}
		return nil
	})
}

// scanRecords streams the data rows of a gzip CSV file, skipping the header.
func scanRecords(ctx context.Context, path string, fn func(line int, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if first && strings.EqualFold(strings.TrimSpace(rec[0]), columns[0]) {
			continue
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}

func parseCoupon(rec []string) (coupon.Coupon, error) {
	if len(rec) != len(columns) {
		return coupon.Coupon{}, errors.Errorf("want %d columns, got %d", len(columns), len(rec))
	}
	field := func(name string) string {
		for i, c := range columns {
			if c == name {
				return strings.TrimSpace(rec[i])
			}
		}
		return ""
	}

	c := coupon.Coupon{
		Code:                  field("code"),
		Kind:                  coupon.Kind(field("type")),
		UsageLimitPerCustomer: 1,
		IsActive:              true,
	}
	c.Name = c.Code
	if c.Code == "" {
		return c, errors.New("empty code")
	}
	if !c.Kind.Valid() {
		return c, errors.Errorf("unknown coupon type %q", c.Kind)
	}

	var err error
	if c.Value, err = optionalAmount(field("value")); err != nil {
		return c, errors.Wrap(err, "value")
	}
	if c.Kind == coupon.KindPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.New("percentage above 100")
	}
	if c.MinOrderAmount, err = optionalAmount(field("min_order")); err != nil {
		return c, errors.Wrap(err, "min_order")
	}
	if s := field("max_discount"); s != "" {
		d, err := money.Parse(s)
		if err != nil {
			return c, errors.Wrap(err, "max_discount")
		}
		c.MaxDiscountAmount = decimal.NewNullDecimal(d)
	}
	if s := field("usage_limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c, errors.Errorf("usage_limit: invalid %q", s)
		}
		c.UsageLimit = &n
	}
	if s := field("per_customer"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c, errors.Errorf("per_customer: invalid %q", s)
		}
		c.UsageLimitPerCustomer = n
	}
	if c.StartsAt, err = optionalTime(field("starts_at")); err != nil {
		return c, errors.Wrap(err, "starts_at")
	}
	if c.ExpiresAt, err = optionalTime(field("expires_at")); err != nil {
		return c, errors.Wrap(err, "expires_at")
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && !c.ExpiresAt.After(*c.StartsAt) {
		return c, errors.New("expires_at must be after starts_at")
	}
	return c, nil
}

func optionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return money.Parse(s)
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
