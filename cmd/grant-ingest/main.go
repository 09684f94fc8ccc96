// Command grant-ingest loads platform coupon allow-lists from gzip files of
// buyer ids, one id per line.
//
// With several files, a buyer is granted only when listed in at least
// -min-sources of them. Bloom filters keep the cross-file check in bounded
// memory for very large exports.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/storage/postgres"
)

func main() {
	var (
		code        string
		files       string
		databaseURL string
		opts        collectOptions
		dryRun      bool
	)

	flag.StringVar(&code, "code", "", "platform coupon code to grant")
	flag.StringVar(&files, "files", "", "comma-separated list of gzip grant files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.MinSources, "min-sources", 1, "files that must list a buyer")
	flag.UintVar(&opts.BloomCapacity, "bloom-capacity", 50_000_000, "expected buyer ids per file")
	flag.Float64Var(&opts.BloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.BoolVar(&dryRun, "dry-run", false, "only report how many buyers would be granted")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if code == "" || files == "" || (databaseURL == "" && !dryRun) {
		lg.Error("-code, -files and a database URL (-database-url or DATABASE_URL) are required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, code, strings.Split(files, ","), databaseURL, opts, dryRun); err != nil {
		lg.Error("Grant ingest failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Grant ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, code string, files []string, databaseURL string, opts collectOptions, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	buyers, err := collectBuyers(ctx, lg, files, opts)
	if err != nil {
		return errors.Wrap(err, "collect buyers")
	}
	lg.Info("Eligible buyers", zap.Int("count", len(buyers)))
	if dryRun || len(buyers) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	inserted, err := writeGrants(ctx, lg, postgres.NewGrantRepository(pool), code, buyers)
	if err != nil {
		return errors.Wrap(err, "write grants")
	}
	lg.Info("Grants written",
		zap.Int64("new", inserted),
		zap.Int64("existing", int64(len(buyers))-inserted),
	)
	return nil
}
