// Package migrations contains database migration definitions and functionality for bookstore-sync.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// createBooksSQL creates the catalog table and its indexes.
// last_updated is the change marker stamped by every writer; synced_at is
// the acknowledgment cursor set only by mark-synced. A row is pending while
// synced_at IS NULL OR last_updated > synced_at.
const createBooksSQL = `
	CREATE TABLE books (
		id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		isbn13 text NOT NULL,
		isbn10 text,
		title text NOT NULL,
		subtitle text,
		authors text,
		categories text,
		thumbnail text,
		description text,
		published_year integer,
		average_rating double precision,
		num_pages integer,
		ratings_count integer,
		stock_quantity integer NOT NULL DEFAULT 10,
		price double precision NOT NULL DEFAULT 0.0,
		last_updated timestamp with time zone NOT NULL DEFAULT now(),
		synced_at timestamp with time zone
	);

	-- Upsert key for the bulk loader
	CREATE UNIQUE INDEX idx_books_isbn13 ON books(isbn13);

	-- Keep the pending scan cheap at scale
	CREATE INDEX idx_books_synced ON books(synced_at);
	CREATE INDEX idx_books_last_updated ON books(last_updated DESC);
`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_books",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createBooksSQL)
				return err
			},
		},
		// adding new migration here

		// &migrator.Migration{
		// 	Name: "Short description of a migration",
		// 	Func: func(ctx context.Context, tx pgx.Tx) error {
		// 		...
		// 	},
		// },
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("bookstore_sync_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
