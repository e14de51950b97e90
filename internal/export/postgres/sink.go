// Package postgres provides a Postgres-backed record sink.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvaillant/adwatch/internal/scraper"
)

// DB is the subset of pgxpool.Pool the sink needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink persists ad records into the ads table, one row per record.
type Sink struct {
	db    DB
	runID string
}

const insertAd = `
	INSERT INTO ads (run_id, title, raw_price, clean_price, url, location, category, keyword, page_number, scraped_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (run_id, url) DO NOTHING;
`

// NewSink creates a Sink backed by a fresh connection pool.
func NewSink(ctx context.Context, dsn, runID string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return NewSinkWithDB(pool, runID), nil
}

// NewSinkWithDB wires an existing pool (or a mock) into a Sink.
func NewSinkWithDB(db DB, runID string) *Sink {
	return &Sink{db: db, runID: runID}
}

// Write inserts the batch row by row; duplicate URLs within a run are
// ignored by the conflict clause.
func (s *Sink) Write(ctx context.Context, records []scraper.AdRecord) error {
	for _, rec := range records {
		_, err := s.db.Exec(ctx, insertAd,
			s.runID,
			rec.Title,
			rec.RawPrice,
			rec.CleanPrice,
			rec.URL,
			rec.Location,
			rec.Category,
			rec.Keyword,
			rec.PageNumber,
			rec.ScrapedAt,
		)
		if err != nil {
			return fmt.Errorf("insert ad: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.db.Close()
	return nil
}
