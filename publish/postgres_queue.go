package publish

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/store"
)

// PostgresQueueClient implements QueueClient as `list_push("ranking:queue",
// payload_json)` (§6) against the same Postgres instance backing the
// Cursor/Intent Stores, matching spec.md's "Keyed state store" contract
// rather than introducing a separate message broker.
type PostgresQueueClient struct {
	db *sql.DB
}

func NewPostgresQueueClient(db *sql.DB) *PostgresQueueClient {
	return &PostgresQueueClient{db: db}
}

func (c *PostgresQueueClient) Publish(ctx context.Context, payload models.RankingPayload) error {
	body, err := store.EncodeRankingPayload(payload)
	if err != nil {
		return errors.Wrap(err, "encode ranking payload")
	}

	const query = `INSERT INTO ranking_queue (intent_id, payload) VALUES ($1, $2)`
	if _, err := c.db.ExecContext(ctx, query, payload.IntentID, body); err != nil {
		return errors.Wrap(err, "push ranking payload")
	}
	return nil
}
