// Package store provides the SQLite persistence layer for export
// artifacts. Every export the stage produces is recorded here so a
// capture session can be replayed or audited after the page is gone.
package store

import (
	"database/sql"

	"github.com/hazyhaar/domstage/dbopen"
)

// Store is the artifact database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the artifact database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Wrap reuses an already opened database, applying the schema. Used when
// artifacts and credentials share one file.
func Wrap(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
