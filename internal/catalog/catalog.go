// Package catalog implements the book catalog store, the CSV bulk loader and
// the change-tracking protocol used by external pollers.
//
// Change tracking is acknowledgment based: every write to a catalog field
// stamps last_updated in the same statement, and a record stays pending
// (returned by ListPending) until a poller acknowledges it via MarkSynced,
// which advances synced_at. The bulk loader stamps last_updated too, so a
// fresh snapshot is picked up by the first poll.
package catalog

import (
	"math"
	"time"
)

// Defaults applied by the bulk loader when a snapshot row omits a value
const (
	DefaultRating = 3.0
	DefaultStock  = 10
)

// Book represents a catalog record as returned to pollers.
// LastUpdated is the change marker; it is serialized as changedAt so the
// consumer can order and deduplicate on its side.
type Book struct {
	ID            int64      `json:"id"`
	ISBN13        string     `json:"isbn13"`
	ISBN10        *string    `json:"isbn10,omitempty"`
	Title         string     `json:"title"`
	Subtitle      *string    `json:"subtitle,omitempty"`
	Authors       *string    `json:"authors,omitempty"`
	Categories    *string    `json:"categories,omitempty"`
	Thumbnail     *string    `json:"thumbnail,omitempty"`
	Description   *string    `json:"description,omitempty"`
	PublishedYear *int32     `json:"published_year,omitempty"`
	AverageRating *float64   `json:"average_rating,omitempty"`
	NumPages      *int32     `json:"num_pages,omitempty"`
	RatingsCount  *int32     `json:"ratings_count,omitempty"`
	StockQuantity int32      `json:"stock_quantity"`
	Price         float64    `json:"price"`
	LastUpdated   time.Time  `json:"changedAt"`
	SyncedAt      *time.Time `json:"-"`
}

// BookUpsert carries the normalized fields the bulk loader writes for one row
type BookUpsert struct {
	ISBN13        string
	ISBN10        *string
	Title         string
	Subtitle      *string
	Authors       *string
	Categories    *string
	Thumbnail     *string
	Description   *string
	PublishedYear *int32
	AverageRating float64
	NumPages      *int32
	RatingsCount  *int32
	StockQuantity int32
	Price         float64
}

// FieldPatch is a partial update of the mutable business fields.
// Nil members are left untouched; applying a non-empty patch always stamps
// last_updated in the same statement.
type FieldPatch struct {
	Title         *string
	Description   *string
	Price         *float64
	StockQuantity *int32
	AverageRating *float64
}

// IsEmpty reports whether the patch would change nothing
func (p FieldPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil &&
		p.StockQuantity == nil && p.AverageRating == nil
}

// PriceForRating derives a list price from an average rating,
// landing between $10 and $30 for ratings in [1, 5]
func PriceForRating(rating float64) float64 {
	return round2(rating*5 + 5)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
