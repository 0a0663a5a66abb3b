package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Connect opens the Postgres connection backing the Cursor Store, Intent
// Store, and Ranking Queue Publisher, pings it, and applies the schema.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}

	return db, nil
}
