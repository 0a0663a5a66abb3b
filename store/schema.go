package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// InitSchema creates every table this package needs if they don't already
// exist, following the teacher's inline-schema-string idiom rather than a
// separate migration tool.
func InitSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS event_cursor (
			id INT PRIMARY KEY DEFAULT 1,
			event_seq BIGINT NOT NULL,
			tx_digest TEXT NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS intents (
			intent_id TEXT PRIMARY KEY,
			body JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS intent_passed (
			intent_id TEXT NOT NULL,
			solution_id TEXT NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (intent_id, solution_id)
		);

		CREATE TABLE IF NOT EXISTS intent_failed (
			intent_id TEXT NOT NULL,
			solution_id TEXT NOT NULL,
			record JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (intent_id, solution_id)
		);

		CREATE TABLE IF NOT EXISTS ranking_queue (
			id BIGSERIAL PRIMARY KEY,
			intent_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			pushed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_intents_expires_at ON intents(expires_at);
		CREATE INDEX IF NOT EXISTS idx_intent_passed_expires_at ON intent_passed(expires_at);
		CREATE INDEX IF NOT EXISTS idx_intent_failed_expires_at ON intent_failed(expires_at);
		CREATE INDEX IF NOT EXISTS idx_ranking_queue_intent_id ON ranking_queue(intent_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "initialize schema")
	}
	return nil
}
