package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/intenus/preranking/models"
	"github.com/pkg/errors"
)

// PostgresIntentStore implements IntentStore. Each solution record keeps
// the intent's passed/failed set implicit in the table's primary key
// (intent_id, solution_id) rather than maintaining a parallel set_members
// column: AddToSet is then a membership-preserving upsert rather than a
// distinct write path, matching the invariant that put+add_to_set observe
// the same row.
type PostgresIntentStore struct {
	db *sql.DB
}

func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

func (s *PostgresIntentStore) PutIntent(ctx context.Context, intentID string, intent models.Intent, ttl time.Duration) error {
	body, err := marshalIntent(intent)
	if err != nil {
		return errors.Wrap(err, "marshal intent")
	}

	const query = `
		INSERT INTO intents (intent_id, body, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (intent_id) DO UPDATE
		SET body = $2, expires_at = NOW() + $3 * INTERVAL '1 millisecond'
	`
	if _, err := s.db.ExecContext(ctx, query, intentID, body, ttl.Milliseconds()); err != nil {
		return errors.Wrap(err, "put intent")
	}
	return nil
}

func (s *PostgresIntentStore) GetIntent(ctx context.Context, intentID string) (models.Intent, bool, error) {
	const query = `SELECT body FROM intents WHERE intent_id = $1 AND expires_at > NOW()`

	var body []byte
	err := s.db.QueryRowContext(ctx, query, intentID).Scan(&body)
	if err == sql.ErrNoRows {
		return models.Intent{}, false, nil
	}
	if err != nil {
		return models.Intent{}, false, errors.Wrap(err, "get intent")
	}

	intent, err := unmarshalIntent(body)
	if err != nil {
		return models.Intent{}, false, errors.Wrap(err, "unmarshal intent")
	}
	return intent, true, nil
}

func (s *PostgresIntentStore) PutPassed(ctx context.Context, intentID string, record models.PassRecord, ttl time.Duration) error {
	body, err := marshalPassRecord(record)
	if err != nil {
		return errors.Wrap(err, "marshal pass record")
	}

	const query = `
		INSERT INTO intent_passed (intent_id, solution_id, record, expires_at)
		VALUES ($1, $2, $3, NOW() + $4 * INTERVAL '1 millisecond')
		ON CONFLICT (intent_id, solution_id) DO UPDATE
		SET record = $3, expires_at = NOW() + $4 * INTERVAL '1 millisecond'
	`
	if _, err := s.db.ExecContext(ctx, query, intentID, record.SolutionID, body, ttl.Milliseconds()); err != nil {
		return errors.Wrap(err, "put passed")
	}
	return nil
}

func (s *PostgresIntentStore) PutFailed(ctx context.Context, intentID string, record models.FailRecord, ttl time.Duration) error {
	body, err := marshalFailRecord(record)
	if err != nil {
		return errors.Wrap(err, "marshal fail record")
	}

	const query = `
		INSERT INTO intent_failed (intent_id, solution_id, record, expires_at)
		VALUES ($1, $2, $3, NOW() + $4 * INTERVAL '1 millisecond')
		ON CONFLICT (intent_id, solution_id) DO UPDATE
		SET record = $3, expires_at = NOW() + $4 * INTERVAL '1 millisecond'
	`
	if _, err := s.db.ExecContext(ctx, query, intentID, record.SolutionID, body, ttl.Milliseconds()); err != nil {
		return errors.Wrap(err, "put failed")
	}
	return nil
}

func (s *PostgresIntentStore) AddToSet(ctx context.Context, intentID string, set SetName, member string) error {
	table, err := tableForSet(set)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + ` (intent_id, solution_id, record, expires_at)
		VALUES ($1, $2, '{}'::jsonb, NOW() + INTERVAL '1 hour')
		ON CONFLICT (intent_id, solution_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, intentID, member); err != nil {
		return errors.Wrap(err, "add to set")
	}
	return nil
}

func (s *PostgresIntentStore) ListPassed(ctx context.Context, intentID string) ([]models.PassRecord, error) {
	const query = `SELECT record FROM intent_passed WHERE intent_id = $1 AND expires_at > NOW()`

	rows, err := s.db.QueryContext(ctx, query, intentID)
	if err != nil {
		return nil, errors.Wrap(err, "list passed")
	}
	defer rows.Close()

	var out []models.PassRecord
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrap(err, "scan pass record")
		}
		record, err := unmarshalPassRecord(body)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal pass record")
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresIntentStore) CountFailed(ctx context.Context, intentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM intent_failed WHERE intent_id = $1 AND expires_at > NOW()`

	var count int
	if err := s.db.QueryRowContext(ctx, query, intentID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count failed")
	}
	return count, nil
}

func (s *PostgresIntentStore) DeleteIntentTree(ctx context.Context, intentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete intent tree")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"intents", "intent_passed", "intent_failed"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE intent_id = $1", intentID); err != nil {
			return errors.Wrapf(err, "delete from %s", table)
		}
	}

	return errors.Wrap(tx.Commit(), "commit delete intent tree")
}

// Reap deletes all TTL-expired records across the three tables, since
// Postgres has no native TTL support. No component in this repository calls
// it; until it is called, expired rows stay in the tables and are only
// filtered out of reads by their expires_at column.
func (s *PostgresIntentStore) Reap(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{"intents", "intent_passed", "intent_failed"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at <= NOW()")
		if err != nil {
			return total, errors.Wrapf(err, "reap %s", table)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func tableForSet(set SetName) (string, error) {
	switch set {
	case SetPassed:
		return "intent_passed", nil
	case SetFailed:
		return "intent_failed", nil
	default:
		return "", errors.Errorf("unknown set %q", set)
	}
}
