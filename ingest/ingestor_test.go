package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intenus/preranking/models"
)

type fakeSource struct {
	mu             sync.Mutex
	intentEvents   []models.Event
	solutionEvents []models.Event
	err            error
}

func (s *fakeSource) QueryEvents(ctx context.Context, kind models.EventKind, after models.Cursor, limit int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	var all []models.Event
	switch kind {
	case models.EventIntentSubmitted:
		all = s.intentEvents
	case models.EventSolutionSubmitted:
		all = s.solutionEvents
	}

	var out []models.Event
	for _, e := range all {
		if after.Less(e.Cursor) {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memCursorStore struct {
	mu     sync.Mutex
	cursor models.Cursor
	found  bool
}

func (c *memCursorStore) Load(ctx context.Context) (models.Cursor, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, c.found, nil
}

func (c *memCursorStore) Store(ctx context.Context, cursor models.Cursor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursor
	c.found = true
	return nil
}

type recordingCoordinator struct {
	mu        sync.Mutex
	intents   []models.IntentSubmittedPayload
	solutions []models.SolutionSubmittedPayload
}

func (c *recordingCoordinator) HandleIntentSubmitted(ctx context.Context, payload models.IntentSubmittedPayload, nowMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, payload)
}

func (c *recordingCoordinator) HandleSolutionSubmitted(ctx context.Context, payload models.SolutionSubmittedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.solutions = append(c.solutions, payload)
}

func (c *recordingCoordinator) snapshot() ([]models.IntentSubmittedPayload, []models.SolutionSubmittedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.IntentSubmittedPayload(nil), c.intents...), append([]models.SolutionSubmittedPayload(nil), c.solutions...)
}

func testConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, BatchLimit: 50, BackfillChunk: 50, CursorStoreTimeout: time.Second}
}

func TestIngestor_TickInterleavesAscendingAcrossStreams(t *testing.T) {
	source := &fakeSource{
		intentEvents: []models.Event{
			{Kind: models.EventIntentSubmitted, Cursor: models.Cursor{EventSeq: 1}, Intent: &models.IntentSubmittedPayload{IntentID: "i1"}},
			{Kind: models.EventIntentSubmitted, Cursor: models.Cursor{EventSeq: 4}, Intent: &models.IntentSubmittedPayload{IntentID: "i2"}},
		},
		solutionEvents: []models.Event{
			{Kind: models.EventSolutionSubmitted, Cursor: models.Cursor{EventSeq: 2}, Solution: &models.SolutionSubmittedPayload{SolutionID: "s1"}},
			{Kind: models.EventSolutionSubmitted, Cursor: models.Cursor{EventSeq: 3}, Solution: &models.SolutionSubmittedPayload{SolutionID: "s2"}},
		},
	}
	cursors := &memCursorStore{}
	coordinator := &recordingCoordinator{}

	in := New(source, cursors, coordinator, testConfig(), zerolog.Nop())
	n, err := in.tick(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	intents, solutions := coordinator.snapshot()
	require.Len(t, intents, 2)
	require.Len(t, solutions, 2)
	assert.Equal(t, "i1", intents[0].IntentID)
	assert.Equal(t, "i2", intents[1].IntentID)
	assert.Equal(t, "s1", solutions[0].SolutionID)
	assert.Equal(t, "s2", solutions[1].SolutionID)

	assert.Equal(t, uint64(4), in.CurrentCursor().EventSeq)
	assert.True(t, cursors.found)
	assert.Equal(t, uint64(4), cursors.cursor.EventSeq)
}

func TestIngestor_TickNeverSkipsAheadOnQueryFailure(t *testing.T) {
	source := &fakeSource{err: assertErr()}
	cursors := &memCursorStore{cursor: models.Cursor{EventSeq: 10}, found: true}
	coordinator := &recordingCoordinator{}

	in := New(source, cursors, coordinator, testConfig(), zerolog.Nop())
	in.mu.Lock()
	in.cursor = models.Cursor{EventSeq: 10}
	in.mu.Unlock()

	_, err := in.tick(context.Background(), 50)
	require.Error(t, err)
	assert.Equal(t, uint64(10), in.CurrentCursor().EventSeq)
}

func assertErr() error {
	return &queryError{}
}

type queryError struct{}

func (e *queryError) Error() string { return "query failed" }

func TestIngestor_StartupBackfillDrainsBeforeStop(t *testing.T) {
	events := make([]models.Event, 0, 120)
	for i := uint64(1); i <= 120; i++ {
		events = append(events, models.Event{
			Kind:   models.EventIntentSubmitted,
			Cursor: models.Cursor{EventSeq: i},
			Intent: &models.IntentSubmittedPayload{IntentID: "i"},
		})
	}
	source := &fakeSource{intentEvents: events}
	cursors := &memCursorStore{}
	coordinator := &recordingCoordinator{}

	cfg := testConfig()
	cfg.BackfillChunk = 50
	cfg.AutoStart = false
	in := New(source, cursors, coordinator, cfg, zerolog.Nop())

	require.NoError(t, in.Start(context.Background()))
	assert.Equal(t, uint64(120), in.CurrentCursor().EventSeq)

	intents, _ := coordinator.snapshot()
	assert.Len(t, intents, 120)
}

func TestIngestor_ShutdownStopsPollLoop(t *testing.T) {
	source := &fakeSource{}
	cursors := &memCursorStore{}
	coordinator := &recordingCoordinator{}

	cfg := testConfig()
	cfg.AutoStart = true
	in := New(source, cursors, coordinator, cfg, zerolog.Nop())
	require.NoError(t, in.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, in.Shutdown(time.Second))
	assert.Equal(t, int32(0), in.ActiveGoroutines())
}
