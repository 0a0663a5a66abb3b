// Package ingest implements the Event Ingestor (§4.C): a single-threaded
// poll loop over two event streams (IntentSubmitted, SolutionSubmitted),
// handing parsed events to the coordinator in ascending cursor order and
// persisting the cursor only after the tick's handoffs have returned.
package ingest

import (
	"context"
	"math/big"

	"github.com/intenus/preranking/models"
)

// EventSource is the chain event source contract from §6:
// query_events(filter, cursor, limit, order=ascending). One call covers one
// event kind; the ingestor issues one call per kind per tick and interleaves
// the results itself.
type EventSource interface {
	QueryEvents(ctx context.Context, kind models.EventKind, after models.Cursor, limit int) ([]models.Event, error)
}

// field looks up key under both its snake_case and camelCase spellings,
// tolerating whichever the wire producer used, per §4.C.3.
func field(m map[string]interface{}, snake, camel string) (interface{}, bool) {
	if v, ok := m[snake]; ok {
		return v, true
	}
	if v, ok := m[camel]; ok {
		return v, true
	}
	return nil, false
}

func stringField(m map[string]interface{}, snake, camel string) string {
	v, ok := field(m, snake, camel)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64Field(m map[string]interface{}, snake, camel string) int64 {
	v, ok := field(m, snake, camel)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case *big.Int:
		return n.Int64()
	default:
		return 0
	}
}
