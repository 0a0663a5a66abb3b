package store

import (
	"context"
	"database/sql"

	"github.com/intenus/preranking/models"
	"github.com/pkg/errors"
)

// PostgresCursorStore implements CursorStore against a single-row table:
// the engine owns exactly one cursor (§1 Non-goals: no multi-instance
// scale-out), so there is no chain/shard key, unlike the teacher's
// per-chain last_processed_blocks table.
type PostgresCursorStore struct {
	db *sql.DB
}

// NewPostgresCursorStore wraps an already-open *sql.DB. Schema
// initialisation is the caller's responsibility (see store.InitSchema).
func NewPostgresCursorStore(db *sql.DB) *PostgresCursorStore {
	return &PostgresCursorStore{db: db}
}

func (s *PostgresCursorStore) Load(ctx context.Context) (models.Cursor, bool, error) {
	const query = `SELECT event_seq, tx_digest FROM event_cursor WHERE id = 1`

	var cursor models.Cursor
	err := s.db.QueryRowContext(ctx, query).Scan(&cursor.EventSeq, &cursor.TxDigest)
	if err == sql.ErrNoRows {
		return models.Cursor{}, false, nil
	}
	if err != nil {
		return models.Cursor{}, false, errors.Wrap(err, "load cursor")
	}
	return cursor, true, nil
}

func (s *PostgresCursorStore) Store(ctx context.Context, cursor models.Cursor) error {
	const query = `
		INSERT INTO event_cursor (id, event_seq, tx_digest, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET event_seq = $1, tx_digest = $2, updated_at = NOW()
		WHERE event_cursor.event_seq <= $1
	`

	if _, err := s.db.ExecContext(ctx, query, cursor.EventSeq, cursor.TxDigest); err != nil {
		return errors.Wrap(err, "store cursor")
	}
	return nil
}
