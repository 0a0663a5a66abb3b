// Package publish implements the Ranking Queue Publisher (§4.I): a single
// enqueue operation with at-least-once delivery to the downstream ranking
// consumer, retried with bounded exponential back-off grounded on the
// resubscription back-off in services/settlement.go and services/catchup.go.
package publish

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/models"
)

// QueueClient is the transport used to hand a ranking payload to the
// downstream consumer. Implementations must be idempotent on repeated
// delivery of the same intent_id — delivery here is at-least-once.
type QueueClient interface {
	Publish(ctx context.Context, payload models.RankingPayload) error
}

// Config bounds the publisher's retry behaviour.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	EnqueueTimeout time.Duration
}

// DefaultConfig mirrors the teacher's resubscription back-off shape: a 1s
// base doubling up to a 30s ceiling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		EnqueueTimeout: 2 * time.Second,
	}
}

// Publisher retries QueueClient.Publish with exponential back-off, logging
// and giving up (without rolling back any coordinator state) once the
// attempt budget is exhausted.
type Publisher struct {
	client QueueClient
	cfg    Config
	log    zerolog.Logger
}

func New(client QueueClient, cfg Config, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		cfg:    cfg,
		log:    logging.Module(log, "publisher"),
	}
}

// Enqueue implements coordinator.Publisher. It never returns an error that
// the coordinator should act on beyond logging: per §4.I, an exhausted retry
// budget marks the intent lost, it does not roll back any prior state.
func (p *Publisher) Enqueue(ctx context.Context, payload models.RankingPayload) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.EnqueueTimeout)
		err := p.client.Publish(attemptCtx, payload)
		cancel()
		if err == nil {
			if attempt > 0 {
				p.log.Info().
					Str(logging.FieldIntentID, payload.IntentID).
					Int("attempt", attempt+1).
					Msg("ranking payload enqueued after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == p.cfg.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(attempt, p.cfg.BaseDelay, p.cfg.MaxDelay)
		p.log.Warn().Err(err).
			Str(logging.FieldIntentID, payload.IntentID).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("ranking enqueue attempt failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "enqueue cancelled while backing off")
		case <-time.After(delay):
		}
	}

	return errors.Wrapf(lastErr, "enqueue exhausted %d attempts for intent %s", p.cfg.MaxAttempts, payload.IntentID)
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base * time.Duration(uint64(1)<<uint(attempt))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
