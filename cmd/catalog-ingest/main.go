// Command catalog-ingest imports book records from gzipped supplier feeds.
// Supplier data is noisy, so a record makes it into the catalog only when the
// same book (title + author) is listed by at least two feeds.
//
// Feeds are JSON lines, one book per line, named bookfeed1.jsonl.gz through
// bookfeedN.jsonl.gz. The agreement check runs in two streaming passes with
// one bloom filter per feed, so feeds never have to fit in memory at once.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/firehorse/bookstore/internal/storage/postgres"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	numFeeds      = 3
	progressEvery = 500_000
)

// feedRecord is one book row as suppliers ship it.
type feedRecord struct {
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
}

// key identifies the same book across feeds.
func (r feedRecord) key() string {
	return r.Title + "\x1f" + r.Author
}

// feedResult holds candidate records found in a single feed during pass 2.
// The mask tracks which feeds listed each key.
type feedResult struct {
	records map[string]feedRecord
	masks   map[string]uint
}

const upsertBookSQL = `
INSERT INTO books (title, author, category, description, price, stock, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (title, author) DO UPDATE SET
    category    = EXCLUDED.category,
    description = EXCLUDED.description,
    price       = EXCLUDED.price,
    stock       = EXCLUDED.stock,
    image_url   = EXCLUDED.image_url,
    updated_at  = now()`

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing bookfeedN.jsonl.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files := make([]string, numFeeds)
	for i := range numFeeds {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("bookfeed%d.jsonl.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build one bloom filter of keys per feed, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", numFeeds))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: collect records whose key appears in 2+ feeds.
	slog.Info("pass 2: finding agreed records")

	agreed, err := findAgreedRecords(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find agreed records")
	}

	slog.Info("agreed records found", slog.Int("count", len(agreed)))

	if len(agreed) == 0 {
		slog.Info("no records to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeBooks(ctx, pool, agreed); err != nil {
		return errors.Wrap(err, "write books to database")
	}

	return nil
}

func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamFeed(ctx, path, func(rec feedRecord) {
			filter.AddString(rec.key())
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("records", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_records", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findAgreedRecords re-streams each feed and checks keys against OTHER feeds'
// bloom filters. A record survives when its key appears in 2 or more feeds.
func findAgreedRecords(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]feedRecord, error) {
	results := make([]feedResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFeed(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge per-feed masks; the earliest feed listing a key supplies the record.
	records := make(map[string]feedRecord)
	merged := make(map[string]uint)
	for _, r := range results {
		for key, mask := range r.masks {
			merged[key] |= mask
			if _, ok := records[key]; !ok {
				records[key] = r.records[key]
			}
		}
	}

	var agreed []feedRecord
	for key, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			agreed = append(agreed, records[key])
		}
	}

	return agreed, nil
}

func findCandidatesInFeed(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []feedResult,
) func() error {
	return func() error {
		res := feedResult{
			records: make(map[string]feedRecord),
			masks:   make(map[string]uint),
		}
		feedBit := uint(1) << uint(idx)
		var count uint64

		if err := streamFeed(ctx, path, func(rec feedRecord) {
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("records", count),
				)
			}

			key := rec.key()
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(key) {
					res.masks[key] |= feedBit
					if _, ok := res.records[key]; !ok {
						res.records[key] = rec
					}
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_records", count),
			slog.Int("candidates", len(res.masks)),
		)

		results[idx] = res
		return nil
	}
}

// streamFeed opens a gzip-compressed JSON lines file and calls fn for each
// parseable record. Malformed lines are counted and skipped.
func streamFeed(ctx context.Context, path string, fn func(rec feedRecord)) error {
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

	var malformed uint64
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec feedRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.Title == "" || rec.Author == "" {
			malformed++
			continue
		}
		fn(rec)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	if malformed > 0 {
		slog.Warn("skipped malformed lines", slog.String("path", path), slog.Uint64("count", malformed))
	}

	return nil
}

// writeBooks upserts all agreed records into the catalog.
func writeBooks(ctx context.Context, pool *pgxpool.Pool, records []feedRecord) error {
	slog.Info("writing books to database", slog.Int("count", len(records)))

	for i, rec := range records {
		if _, err := pool.Exec(ctx, upsertBookSQL,
			rec.Title, rec.Author, rec.Category, rec.Description, rec.Price, rec.Stock, rec.ImageURL,
		); err != nil {
			return errors.Wrapf(err, "upsert book %q", rec.Title)
		}

		if (i+1)%100 == 0 || i+1 == len(records) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(records)))
		}
	}

	return nil
}
