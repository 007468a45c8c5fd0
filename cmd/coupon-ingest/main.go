// Command coupon-ingest bulk loads coupons from gzip-compressed CSV files.
//
// Codes are unique case-insensitively across all files. The first
// occurrence, in argument order and then line order, wins; later ones are
// reported and skipped.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/picklepot-store/internal/repository"
)

func main() {
	var (
		databaseURL string
		opts        Options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.ExpectedCodes, "expected-codes", defaultExpectedCodes, "expected codes per file, sizes the bloom filters")
	flag.Float64Var(&opts.FalsePositiveRate, "fpr", defaultFalsePositiveRate, "bloom filter false positive rate")
	flag.IntVar(&opts.BatchSize, "batch-size", defaultBatchSize, "coupons per upsert batch")
	flag.Parse()
	opts.Files = flag.Args()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if len(opts.Files) == 0 {
		slog.Error("usage: coupon-ingest [flags] file.csv.gz...")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, opts Options) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	stats, err := Ingest(ctx, repository.NewCouponRepository(pool), opts)
	if err != nil {
		return err
	}
	slog.Info("coupon ingest completed",
		slog.Int("rows", stats.Rows),
		slog.Int("invalid", stats.Invalid),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("upserted", stats.Upserted),
	)
	return nil
}
