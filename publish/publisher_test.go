package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intenus/preranking/models"
)

type scriptedClient struct {
	mu         sync.Mutex
	failCount  int32
	calls      int32
	lastErr    error
	failsAfter error
}

func (c *scriptedClient) Publish(ctx context.Context, payload models.RankingPayload) error {
	atomic.AddInt32(&c.calls, 1)
	if atomic.LoadInt32(&c.failCount) > 0 {
		atomic.AddInt32(&c.failCount, -1)
		return c.failsAfter
	}
	return nil
}

func fastConfig() Config {
	return Config{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, EnqueueTimeout: time.Second}
}

func TestPublisher_SucceedsFirstTry(t *testing.T) {
	client := &scriptedClient{}
	p := New(client, fastConfig(), zerolog.Nop())
	err := p.Enqueue(context.Background(), models.RankingPayload{IntentID: "intent-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.calls)
}

func TestPublisher_RetriesThenSucceeds(t *testing.T) {
	client := &scriptedClient{failCount: 2, failsAfter: errors.New("transient")}
	p := New(client, fastConfig(), zerolog.Nop())
	err := p.Enqueue(context.Background(), models.RankingPayload{IntentID: "intent-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), client.calls)
}

func TestPublisher_ExhaustsRetryBudget(t *testing.T) {
	client := &scriptedClient{failCount: 100, failsAfter: errors.New("persistent")}
	cfg := fastConfig()
	p := New(client, cfg, zerolog.Nop())
	err := p.Enqueue(context.Background(), models.RankingPayload{IntentID: "intent-1"})
	require.Error(t, err)
	assert.Equal(t, int32(cfg.MaxAttempts), client.calls)
}

func TestPublisher_CancelledContextDuringBackoffReturnsPromptly(t *testing.T) {
	client := &scriptedClient{failCount: 100, failsAfter: errors.New("transient")}
	cfg := Config{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, EnqueueTimeout: time.Second}
	p := New(client, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Enqueue(ctx, models.RankingPayload{IntentID: "intent-1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(10, time.Second, 30*time.Second))
	assert.Equal(t, time.Second, backoffDelay(0, time.Second, 30*time.Second))
	assert.Equal(t, 2*time.Second, backoffDelay(1, time.Second, 30*time.Second))
}
