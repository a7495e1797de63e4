// Command coupon-ingest loads campaign coupon codes from gzip-compressed CSV
// files. Each line is
//
//	code,discount_type,value,max_uses,per_user_limit[,valid_until]
//
// A code listed in more than one file is ambiguous and is skipped; every other
// code is upserted as a whole-order coupon carrying its usage limits.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxFiles      = 64
)

type options struct {
	pattern       string
	databaseURL   string
	expectedCodes uint
	batchSize     int
	workers       int
}

func main() {
	var opts options

	flag.StringVar(&opts.pattern, "files", "data/campaign-*.csv.gz", "glob of gzip CSV coupon files")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.expectedCodes, "expected-codes", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&opts.batchSize, "batch-size", 500, "coupons per upsert batch")
	flag.IntVar(&opts.workers, "workers", 4, "files processed concurrently")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ingest completed successfully")
}

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(opts.pattern)
	if err != nil {
		return errors.Wrap(err, "glob coupon files")
	}
	switch {
	case len(files) == 0:
		return errors.Errorf("no files match %q", opts.pattern)
	case len(files) > maxFiles:
		return errors.Errorf("%d files match, at most %d supported", len(files), maxFiles)
	}
	slog.Info("ingesting coupon files", slog.Int("files", len(files)))

	filters, err := buildFilters(ctx, files, opts)
	if err != nil {
		return err
	}

	ambiguous, err := findAmbiguous(ctx, files, filters, opts.workers)
	if err != nil {
		return err
	}
	slog.Info("ambiguous codes skipped", slog.Int("count", len(ambiguous)))

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, repository.NewCouponRepository(pool), files, ambiguous, opts)
}

// buildFilters creates one bloom filter of codes per file.
func buildFilters(ctx context.Context, files []string, opts options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.expectedCodes, bloomFPR)
			n, err := streamRules(ctx, path, func(rule coupon.Rule) error {
				filter.AddString(rule.Code)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			slog.Info("indexed file", slog.String("file", path), slog.Int("codes", n))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findAmbiguous returns the codes present in two or more files. Bloom hits
// are only candidates; a code is ambiguous once files exactly confirm it.
func findAmbiguous(ctx context.Context, files []string, filters []*bloom.BloomFilter, workers int) (map[string]struct{}, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]uint64)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			fileBit := uint64(1) << uint(i)
			candidates := make(map[string]struct{})
			_, err := streamRules(ctx, path, func(rule coupon.Rule) error {
				for j, f := range filters {
					if j != i && f.TestString(rule.Code) {
						candidates[rule.Code] = struct{}{}
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}

			mu.Lock()
			for code := range candidates {
				seen[code] |= fileBit
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	ambiguous := make(map[string]struct{})
	for code, mask := range seen {
		if bits.OnesCount64(mask) >= 2 {
			ambiguous[code] = struct{}{}
		}
	}
	return ambiguous, nil
}

// writeCoupons upserts every unambiguous code in batches.
func writeCoupons(ctx context.Context, repo *repository.CouponRepository, files []string, skip map[string]struct{}, opts options) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for _, path := range files {
		g.Go(func() error {
			batch := make([]coupon.Rule, 0, opts.batchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := repo.UpsertBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				return nil
			}

			written := 0
			_, err := streamRules(ctx, path, func(rule coupon.Rule) error {
				if _, ok := skip[rule.Code]; ok {
					return nil
				}
				batch = append(batch, rule)
				written++
				if written%progressEvery == 0 {
					slog.Info("write progress", slog.String("file", path), slog.Int("written", written))
				}
				if len(batch) == opts.batchSize {
					return flush()
				}
				return nil
			})
			if err == nil {
				err = flush()
			}
			if err != nil {
				return errors.Wrapf(err, "write %s", path)
			}

			slog.Info("file written", slog.String("file", path), slog.Int("coupons", written))
			return nil
		})
	}
	return g.Wait()
}

// streamRules decodes a gzip CSV file and calls fn for each coupon. It returns
// how many coupons were read.
func streamRules(ctx context.Context, path string, fn func(coupon.Rule) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrap(err, "read record")
		}
		if len(record) > 0 && strings.HasPrefix(record[0], "#") {
			continue
		}

		rule, err := parseRule(record)
		if err != nil {
			line, _ := r.FieldPos(0)
			return n, errors.Wrapf(err, "line %d", line)
		}
		if err := fn(rule); err != nil {
			return n, err
		}
		n++
	}
}

func parseRule(record []string) (coupon.Rule, error) {
	if len(record) < 5 {
		return coupon.Rule{}, errors.Errorf("expected at least 5 fields, got %d", len(record))
	}

	code := strings.ToUpper(strings.TrimSpace(record[0]))
	if code == "" {
		return coupon.Rule{}, errors.New("empty code")
	}
	kind := coupon.DiscountType(strings.TrimSpace(record[1]))
	switch kind {
	case coupon.DiscountPercentage, coupon.DiscountFixed, coupon.DiscountFreeItem:
	default:
		return coupon.Rule{}, errors.Errorf("unknown discount type %q", kind)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return coupon.Rule{}, errors.Wrap(err, "parse value")
	}
	maxUses, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		return coupon.Rule{}, errors.Wrap(err, "parse max uses")
	}
	perUser, err := strconv.Atoi(strings.TrimSpace(record[4]))
	if err != nil {
		return coupon.Rule{}, errors.Wrap(err, "parse per user limit")
	}

	rule := coupon.Rule{
		ID:           coupon.ID("campaign-" + strings.ToLower(code)),
		Code:         code,
		DiscountType: kind,
		Value:        value,
		Scope:        coupon.Scope{Type: coupon.ScopeWholeOrder},
		Description:  "Campaign code " + code,
		MaxUses:      maxUses,
		PerUserLimit: perUser,
	}
	if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
		until, err := time.Parse(time.RFC3339, strings.TrimSpace(record[5]))
		if err != nil {
			return coupon.Rule{}, errors.Wrap(err, "parse valid until")
		}
		rule.ValidUntil = &until
	}
	return rule, nil
}
