// Package catalog provides consolidated PostgreSQL operations for the book catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hatssoftware/bookstore-sync/internal/db"
)

// ErrNotFound is returned when a lookup references an unknown book id
var ErrNotFound = errors.New("book not found")

const bookColumns = `id, isbn13, isbn10, title, subtitle, authors, categories, thumbnail, description,
	published_year, average_rating, num_pages, ratings_count, stock_quantity, price, last_updated, synced_at`

const upsertBookSQL = `INSERT INTO books
	(isbn13, isbn10, title, subtitle, authors, categories, thumbnail, description,
	 published_year, average_rating, num_pages, ratings_count, stock_quantity, price, last_updated)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
	ON CONFLICT (isbn13) DO UPDATE SET
	isbn10 = EXCLUDED.isbn10, title = EXCLUDED.title, subtitle = EXCLUDED.subtitle,
	authors = EXCLUDED.authors, categories = EXCLUDED.categories, thumbnail = EXCLUDED.thumbnail,
	description = EXCLUDED.description, published_year = EXCLUDED.published_year,
	average_rating = EXCLUDED.average_rating, num_pages = EXCLUDED.num_pages,
	ratings_count = EXCLUDED.ratings_count, stock_quantity = EXCLUDED.stock_quantity,
	price = EXCLUDED.price, last_updated = now()`

// UpsertBook inserts a book keyed on isbn13, refreshing the catalog fields
// of an existing row. The change marker is stamped either way, so a loaded
// row is pending until the first acknowledgment.
func UpsertBook(ctx context.Context, pool db.PgxIface, b BookUpsert) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx, upsertBookSQL+" RETURNING id",
		b.ISBN13, b.ISBN10, b.Title, b.Subtitle, b.Authors, b.Categories, b.Thumbnail, b.Description,
		b.PublishedYear, b.AverageRating, b.NumPages, b.RatingsCount, b.StockQuantity, b.Price,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert book %q: %w", b.ISBN13, err)
	}
	return id, nil
}

// GetBookByID returns a single book or ErrNotFound
func GetBookByID(ctx context.Context, pool db.PgxIface, id int64) (*Book, error) {
	row := pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)

	book, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return book, nil
}

// ListPendingBooks retrieves books that changed since they were last
// acknowledged (or were never acknowledged at all), most recent change first.
// Read-only: polling never touches the change marker.
func ListPendingBooks(ctx context.Context, pool db.PgxIface) ([]Book, error) {
	query := `SELECT ` + bookColumns + `
		FROM books
		WHERE synced_at IS NULL OR last_updated > synced_at
		ORDER BY last_updated DESC`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending books: %w", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning pending book: %w", err)
		}
		books = append(books, *book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending books: %w", err)
	}

	return books, nil
}

// MarkSynced acknowledges the given books by advancing synced_at, restricted
// to rows that are currently pending. Unknown or already-acknowledged ids are
// ignored; the returned count reflects rows actually touched.
func MarkSynced(ctx context.Context, pool db.PgxIface, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE books SET synced_at = now()
		WHERE id = ANY($1) AND (synced_at IS NULL OR last_updated > synced_at)`

	result, err := pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark books synced: %w", err)
	}

	return result.RowsAffected(), nil
}

// CountBooks returns the total number of rows in the catalog
func CountBooks(ctx context.Context, pool db.PgxIface) (int64, error) {
	var count int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

// UpdateBookFields applies a partial update to one book's business fields,
// stamping last_updated as part of the same statement. An empty patch is a
// no-op and leaves the marker untouched.
func UpdateBookFields(ctx context.Context, pool db.PgxIface, id int64, patch FieldPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var assignments []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.StockQuantity != nil {
		add("stock_quantity", *patch.StockQuantity)
	}
	if patch.AverageRating != nil {
		add("average_rating", *patch.AverageRating)
	}
	assignments = append(assignments, "last_updated = now()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE books SET %s WHERE id = $%d", strings.Join(assignments, ", "), len(args))

	result, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// scanBook scans one row in bookColumns order
func scanBook(row pgx.Row) (*Book, error) {
	var b Book
	err := row.Scan(
		&b.ID, &b.ISBN13, &b.ISBN10, &b.Title, &b.Subtitle, &b.Authors, &b.Categories,
		&b.Thumbnail, &b.Description, &b.PublishedYear, &b.AverageRating, &b.NumPages,
		&b.RatingsCount, &b.StockQuantity, &b.Price, &b.LastUpdated, &b.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
