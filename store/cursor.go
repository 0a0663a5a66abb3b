// Package store implements the Cursor Store and Intent Store collaborators
// against Postgres, following the prepared-statement/upsert idiom used
// throughout the rest of the engine's persistence layer.
package store

import (
	"context"

	"github.com/intenus/preranking/models"
)

// CursorStore persists the last-consumed event position. A store call that
// fails leaves the durable cursor at its previous value. The ingestor does
// not retry the failed write and applies no back-off; the next tick that
// hands off events stores the newer cursor.
type CursorStore interface {
	// Load returns the persisted cursor, or ok=false if none has ever been
	// stored (first start).
	Load(ctx context.Context) (cursor models.Cursor, ok bool, err error)
	// Store durably persists cursor. It must return only after the write
	// is durable; callers treat a non-nil error as "not advanced".
	Store(ctx context.Context, cursor models.Cursor) error
}
