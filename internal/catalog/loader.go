package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/hatssoftware/bookstore-sync/internal/db"
)

// LoadCSVFile runs the bulk loader against a CSV snapshot on disk and
// returns the number of rows upserted. Malformed rows are logged and
// skipped; only a store failure aborts the load.
func LoadCSVFile(ctx context.Context, pool db.PgxIface, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open CSV snapshot: %w", err)
	}
	defer f.Close()

	return LoadCSV(ctx, pool, f)
}

// LoadCSV reads a header-driven CSV snapshot and upserts every parseable row
func LoadCSV(ctx context.Context, pool db.PgxIface, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows, parseRow validates

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	var books []BookUpsert
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logrus.WithError(err).WithField("line", line).Warn("Failed to read CSV row, skipping")
			skipped++
			continue
		}

		book, err := parseRow(columns, record)
		if err != nil {
			logrus.WithError(err).WithField("line", line).Warn("Failed to parse book row, skipping")
			skipped++
			continue
		}
		books = append(books, book)
	}

	if err := BulkUpsert(ctx, pool, books); err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"loaded":  len(books),
		"skipped": skipped,
	}).Info("Bulk load from CSV completed")
	return len(books), nil
}

// BulkUpsert upserts a slice of books in a single batch round trip
func BulkUpsert(ctx context.Context, pool db.PgxIface, books []BookUpsert) error {
	if len(books) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range books {
		batch.Queue(upsertBookSQL,
			b.ISBN13, b.ISBN10, b.Title, b.Subtitle, b.Authors, b.Categories, b.Thumbnail, b.Description,
			b.PublishedYear, b.AverageRating, b.NumPages, b.RatingsCount, b.StockQuantity, b.Price)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to execute batch upsert: %w", err)
	}

	return nil
}

// parseRow normalizes one CSV record into a BookUpsert. A row needs a
// non-empty isbn13 and title; everything else falls back to documented
// defaults (rating 3.0, stock 10, price derived from rating).
func parseRow(columns map[string]int, record []string) (BookUpsert, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	isbn13 := field("isbn13")
	if isbn13 == "" {
		return BookUpsert{}, fmt.Errorf("missing isbn13")
	}
	title := field("title")
	if title == "" {
		return BookUpsert{}, fmt.Errorf("missing title for %q", isbn13)
	}

	rating := DefaultRating
	if v := field("average_rating"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return BookUpsert{}, fmt.Errorf("invalid average_rating %q: %w", v, err)
		}
		rating = parsed
	}

	b := BookUpsert{
		ISBN13:        isbn13,
		ISBN10:        optionalString(field("isbn10")),
		Title:         title,
		Subtitle:      optionalString(field("subtitle")),
		Authors:       optionalString(field("authors")),
		Categories:    optionalString(field("categories")),
		Thumbnail:     optionalString(field("thumbnail")),
		Description:   optionalString(field("description")),
		AverageRating: rating,
		StockQuantity: DefaultStock,
		Price:         PriceForRating(rating),
	}

	var err error
	if b.PublishedYear, err = optionalInt(field("published_year")); err != nil {
		return BookUpsert{}, fmt.Errorf("invalid published_year: %w", err)
	}
	if b.NumPages, err = optionalInt(field("num_pages")); err != nil {
		return BookUpsert{}, fmt.Errorf("invalid num_pages: %w", err)
	}
	if b.RatingsCount, err = optionalInt(field("ratings_count")); err != nil {
		return BookUpsert{}, fmt.Errorf("invalid ratings_count: %w", err)
	}

	return b, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(s string) (*int32, error) {
	if s == "" {
		return nil, nil
	}
	// snapshots exported from spreadsheets carry years as "2004.0"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil, fmt.Errorf("numeric value %q out of range", s)
	}
	v := int32(f)
	return &v, nil
}
