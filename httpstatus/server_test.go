package httpstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intenus/preranking/models"
)

type fakeCoordinator struct {
	active      int
	flushed     []string
}

func (c *fakeCoordinator) ActiveIntentCount() int { return c.active }

func (c *fakeCoordinator) Flush(ctx context.Context, intentID string) {
	c.flushed = append(c.flushed, intentID)
}

type fakeIngestor struct {
	cursor models.Cursor
}

func (i *fakeIngestor) CurrentCursor() models.Cursor { return i.cursor }

func TestServer_Health(t *testing.T) {
	s := New(&fakeCoordinator{}, &fakeIngestor{}, ":0", zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Status(t *testing.T) {
	coordinator := &fakeCoordinator{active: 4}
	ingestor := &fakeIngestor{cursor: models.Cursor{EventSeq: 42, TxDigest: "0xabc"}}
	s := New(coordinator, ingestor, ":0", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_intent_count":4`)
	assert.Contains(t, rec.Body.String(), `"event_seq":42`)
}

func TestServer_DebugFlushTriggersCoordinator(t *testing.T) {
	coordinator := &fakeCoordinator{}
	s := New(coordinator, &fakeIngestor{}, ":0", zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debug/flush/intent-1", nil)
	s.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, coordinator.flushed, 1)
	assert.Equal(t, "intent-1", coordinator.flushed[0])
}
