package store

import (
	"context"
	"time"

	"github.com/intenus/preranking/models"
)

// SetName names one of an intent's two per-solution sets.
type SetName string

const (
	SetPassed SetName = "passed"
	SetFailed SetName = "failed"
)

// IntentStore is the keyed, TTL-capable record store backing §4.B: intent
// body, counters, and the passed/failed solution sets. List operations
// return every record whose Put returned success, modulo TTL; the store is
// linearizable per key for the coordinator's own calls.
type IntentStore interface {
	PutIntent(ctx context.Context, intentID string, intent models.Intent, ttl time.Duration) error
	GetIntent(ctx context.Context, intentID string) (intent models.Intent, ok bool, err error)

	PutPassed(ctx context.Context, intentID string, record models.PassRecord, ttl time.Duration) error
	PutFailed(ctx context.Context, intentID string, record models.FailRecord, ttl time.Duration) error
	AddToSet(ctx context.Context, intentID string, set SetName, member string) error

	ListPassed(ctx context.Context, intentID string) ([]models.PassRecord, error)
	CountFailed(ctx context.Context, intentID string) (int, error)

	// DeleteIntentTree removes the intent body plus both sets and all
	// per-solution records.
	DeleteIntentTree(ctx context.Context, intentID string) error
}
