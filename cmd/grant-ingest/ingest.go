package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"math/bits"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	progressEvery = 1_000_000
	batchSize     = 10_000
)

// maxSources is bounded by the per-buyer source bitmask.
const maxSources = bits.UintSize

type collectOptions struct {
	// MinSources is how many files must list a buyer for the grant.
	MinSources    int
	BloomCapacity uint
	BloomFPR      float64
}

// fileStats counts what a single file contributed.
type fileStats struct {
	Lines   uint64
	Invalid uint64
}

// collectBuyers streams every file and returns the sorted ids of buyers
// listed in at least MinSources of them.
func collectBuyers(ctx context.Context, lg *zap.Logger, files []string, opts collectOptions) ([]int64, error) {
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	if len(files) > maxSources {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxSources, len(files))
	}
	minSources := max(opts.MinSources, 1)
	if minSources > len(files) {
		return nil, errors.Errorf("min sources %d exceeds file count %d", minSources, len(files))
	}

	if minSources == 1 {
		return unionBuyers(ctx, lg, files)
	}

	// Pass 1: one bloom filter per file, built concurrently.
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.BloomCapacity, opts.BloomFPR)
			var key [8]byte
			st, err := streamBuyers(gctx, path, func(id int64) {
				binary.BigEndian.PutUint64(key[:], uint64(id))
				filter.Add(key[:])
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			logFile(lg, "Pass 1 complete", path, st)
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pass 2: keep buyers that some other file's filter may contain. The
	// bitmask records real occurrences, so bloom false positives drop out
	// when the masks are merged.
	lg.Info("Pass 2: finding candidates")
	masks := make([]map[int64]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[int64]uint)
			bit := uint(1) << uint(i)
			var key [8]byte
			st, err := streamBuyers(gctx, path, func(id int64) {
				binary.BigEndian.PutUint64(key[:], uint64(id))
				seen := 1
				for j, f := range filters {
					if j != i && f.Test(key[:]) {
						seen++
					}
				}
				if seen >= minSources {
					candidates[id] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			logFile(lg, "Pass 2 complete", path, st, zap.Int("candidates", len(candidates)))
			masks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[int64]uint)
	for _, m := range masks {
		for id, mask := range m {
			merged[id] |= mask
		}
	}
	var buyers []int64
	for id, mask := range merged {
		if bits.OnesCount(mask) >= minSources {
			buyers = append(buyers, id)
		}
	}
	slices.Sort(buyers)
	return buyers, nil
}

// unionBuyers returns every distinct buyer of every file.
func unionBuyers(ctx context.Context, lg *zap.Logger, files []string) ([]int64, error) {
	sets := make([]map[int64]struct{}, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			set := make(map[int64]struct{})
			st, err := streamBuyers(gctx, path, func(id int64) {
				set[id] = struct{}{}
			})
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			logFile(lg, "File read", path, st)
			sets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make(map[int64]struct{})
	for _, s := range sets {
		for id := range s {
			all[id] = struct{}{}
		}
	}
	buyers := make([]int64, 0, len(all))
	for id := range all {
		buyers = append(buyers, id)
	}
	slices.Sort(buyers)
	return buyers, nil
}

func logFile(lg *zap.Logger, msg, path string, st fileStats, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("file", path),
		zap.Uint64("lines", st.Lines),
		zap.Uint64("invalid", st.Invalid),
	}, extra...)
	lg.Info(msg, fields...)
}

// parseBuyerID reads one line of a grant file. Blank lines and lines starting
// with '#' are skipped.
func parseBuyerID(line string) (id int64, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, false, err
	}
	if id <= 0 {
		return 0, false, errors.Errorf("buyer id %d is not positive", id)
	}
	return id, true, nil
}

// streamBuyers opens a gzip-compressed grant file and calls fn for each
// valid buyer id.
func streamBuyers(ctx context.Context, path string, fn func(id int64)) (fileStats, error) {
	var st fileStats

	f, err := os.Open(path)
	if err != nil {
		return st, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return st, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Lines++
		id, ok, err := parseBuyerID(scanner.Text())
		if err != nil {
			st.Invalid++
			continue
		}
		if ok {
			fn(id)
		}
	}
	if err := scanner.Err(); err != nil {
		return st, errors.Wrapf(err, "scan %s", path)
	}
	return st, nil
}

// granter is the storage the ingest writes to.
type granter interface {
	PlatformCouponID(ctx context.Context, code string) (int64, error)
	Grant(ctx context.Context, couponID int64, buyerIDs []int64) (int64, error)
}

// writeGrants grants the coupon to buyers in batches and returns the number
// of new grants.
func writeGrants(ctx context.Context, lg *zap.Logger, store granter, code string, buyers []int64) (int64, error) {
	couponID, err := store.PlatformCouponID(ctx, code)
	if err != nil {
		return 0, err
	}
	lg.Info("Writing grants",
		zap.String("code", code),
		zap.Int64("coupon_id", couponID),
		zap.Int("buyers", len(buyers)),
	)

	var inserted int64
	for start := 0; start < len(buyers); start += batchSize {
		batch := buyers[start:min(start+batchSize, len(buyers))]
		n, err := store.Grant(ctx, couponID, batch)
		if err != nil {
			return inserted, errors.Wrapf(err, "batch at %d", start)
		}
		inserted += n

		done := start + len(batch)
		if done%progressEvery < batchSize || done == len(buyers) {
			lg.Info("Write progress", zap.Int("written", done), zap.Int("total", len(buyers)))
		}
	}
	return inserted, nil
}
