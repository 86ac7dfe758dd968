// Package store persists fetched extents in a local DuckDB database. It is
// the disk layer the page cache fronts: completed network fetches are written
// behind, and later fetch plans read extents back instead of re-downloading.
// Records are stored as JSON payloads keyed by kind, series and timestamp, so
// one schema serves every data kind.
package store

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/Schwaller/tradery/internal/logger"
	"github.com/Schwaller/tradery/pkg/errors"
)

// DB wraps the DuckDB handle shared by every kind store.
type DB struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (or creates) the store database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string, log *logger.Logger) (*DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to open duckdb", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS records (
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			sub_key TEXT NOT NULL,
			ts BIGINT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extents (
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			sub_key TEXT NOT NULL,
			range_start BIGINT NOT NULL,
			range_end BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_series ON records (kind, symbol, sub_key, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_extents_series ON extents (kind, symbol, sub_key)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to create schema", err)
		}
	}

	return &DB{db: db, log: log}, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}
