// Package coordinator implements the Intent Lifecycle Coordinator (§4.H):
// the per-intent state machine, window timers, and at-window-close flush to
// the ranking queue. Timer callbacks are modelled as a message delivered to
// the coordinator rather than a raw closure over mutable state — this is
// the target design the source's "raw timer callback" pattern is replaced
// with, per the design notes.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/blob"
	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/pipeline"
	"github.com/intenus/preranking/store"
	"github.com/intenus/preranking/workerpool"
)

// Pipeline is the subset of the pre-ranking pipeline the coordinator
// depends on.
type Pipeline interface {
	Run(ctx context.Context, intent models.Intent, solutionID, blobID string, submittedAtMS, windowEndMS int64) (pipeline.Outcome, error)
}

// Publisher is the subset of the Ranking Queue Publisher this package
// depends on.
type Publisher interface {
	Enqueue(ctx context.Context, payload models.RankingPayload) error
}

// IntentBlobFetcher is the subset of the Blob Fetcher used to resolve an
// intent body on IntentSubmitted.
type IntentBlobFetcher interface {
	FetchIntent(ctx context.Context, blobID string) (models.Intent, error)
}

// Recorder is the observability sink for the active-intents gauge,
// satisfied by metrics.Service. Left unset, nothing is recorded.
type Recorder interface {
	SetActiveIntentCount(n int)
}

// Config bounds the coordinator's behaviour per §6's configuration table.
type Config struct {
	RecordTTL           time.Duration
	FlushOnEmptyPassed  bool
	FetchTimeout        time.Duration
	StoreTimeout        time.Duration
	EnqueueTimeout      time.Duration
	EagerDelete         bool
	PipelineConcurrency int
}

// Coordinator owns the active-intents map and routes ingested events to
// intent-open or solution-arrival handling.
type Coordinator struct {
	fetcher   IntentBlobFetcher
	pipeline  Pipeline
	intents   store.IntentStore
	publisher Publisher
	cfg       Config
	log       zerolog.Logger
	pool      *workerpool.Pool
	recorder  Recorder

	mu     sync.RWMutex
	active map[string]*intentContext

	activeGoroutines int32
	cleanupCtx       context.Context
	cleanupCancel    context.CancelFunc
	goroutineWg      sync.WaitGroup
	isShutdown       bool
	shutdownMu       sync.RWMutex
}

// New builds a Coordinator. fetcher must satisfy IntentBlobFetcher;
// blob.Fetcher does so directly.
func New(fetcher IntentBlobFetcher, pipeline Pipeline, intents store.IntentStore, publisher Publisher, cfg Config, log zerolog.Logger) *Coordinator {
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	return &Coordinator{
		fetcher:       fetcher,
		pipeline:      pipeline,
		intents:       intents,
		publisher:     publisher,
		cfg:           cfg,
		log:           logging.Module(log, "coordinator"),
		pool:          workerpool.New(cfg.PipelineConcurrency),
		active:        make(map[string]*intentContext),
		cleanupCtx:    cleanupCtx,
		cleanupCancel: cleanupCancel,
	}
}

// ActiveIntentCount reports the size of the active-intents map, named in
// the operational status surface (§6).
func (c *Coordinator) ActiveIntentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// SetRecorder attaches a metrics sink. Optional; safe to call once before
// any concurrent handler calls begin.
func (c *Coordinator) SetRecorder(recorder Recorder) {
	c.recorder = recorder
}

func (c *Coordinator) reportActiveIntentCount() {
	if c.recorder == nil {
		return
	}
	c.recorder.SetActiveIntentCount(c.ActiveIntentCount())
}

// HandleIntentSubmitted implements §4.H's IntentSubmitted path.
func (c *Coordinator) HandleIntentSubmitted(ctx context.Context, payload models.IntentSubmittedPayload, nowMS int64) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	intent, err := c.fetcher.FetchIntent(fetchCtx, payload.BlobID)
	cancel()
	if err != nil {
		if errors.Is(err, blob.ErrBlobTransient) {
			c.log.Warn().Err(err).Str(logging.FieldIntentID, payload.IntentID).Msg("transient failure fetching intent body, dropping event")
		} else {
			c.log.Error().Err(err).Str(logging.FieldIntentID, payload.IntentID).Msg("terminal failure fetching intent body, dropping event")
		}
		return
	}
	if intent.IntentID == "" {
		intent.IntentID = payload.IntentID
	}

	storeCtx, storeCancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	if err := c.intents.PutIntent(storeCtx, intent.IntentID, intent, c.cfg.RecordTTL); err != nil {
		c.log.Error().Err(err).Str(logging.FieldIntentID, intent.IntentID).Msg("failed to persist intent body")
	}
	storeCancel()

	intentCtx := newIntentContext(intent)

	c.mu.Lock()
	if _, exists := c.active[intent.IntentID]; exists {
		c.mu.Unlock()
		c.log.Error().Str(logging.FieldIntentID, intent.IntentID).Msg("duplicate intent_id, dropping: invariant violation")
		return
	}
	c.active[intent.IntentID] = intentCtx
	c.mu.Unlock()
	c.reportActiveIntentCount()

	delay := time.Duration(intent.WindowEndMS-nowMS) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	intentCtx.gate.Lock()
	intentCtx.timer = time.AfterFunc(delay, func() { c.onTimerFired(intent.IntentID) })
	intentCtx.gate.Unlock()
}

// HandleSolutionSubmitted implements §4.H's SolutionSubmitted path.
func (c *Coordinator) HandleSolutionSubmitted(ctx context.Context, payload models.SolutionSubmittedPayload) {
	c.mu.RLock()
	intentCtx, ok := c.active[payload.IntentID]
	c.mu.RUnlock()
	if !ok {
		c.log.Warn().Str(logging.FieldIntentID, payload.IntentID).Msg("solution for unknown or already-flushed intent, dropping")
		return
	}
	if !intentCtx.isAccepting() {
		c.log.Warn().Str(logging.FieldIntentID, payload.IntentID).Msg("solution arrived while intent is flushing, dropping")
		return
	}

	// Acquire blocks when the pipeline worker pool is saturated: this is
	// the backpressure the ingestor's handoff is required to observe
	// (§4.C.4, §5). The pipeline itself then runs on a tracked goroutine so
	// that distinct solutions — within one intent or across intents — run
	// concurrently once admitted.
	c.pool.Acquire()
	c.StartGoroutine(fmt.Sprintf("pipeline-%s-%s", payload.IntentID, payload.SolutionID), func() {
		defer c.pool.Release()

		outcome, err := c.pipeline.Run(c.cleanupCtx, intentCtx.intent, payload.SolutionID, payload.BlobID, payload.SubmittedAtMS, intentCtx.windowEndMS)
		if err != nil {
			c.log.Error().Err(err).Str(logging.FieldIntentID, payload.IntentID).Msg("pipeline invocation returned an error; this should never happen")
			return
		}

		if outcome.Passed {
			intentCtx.incrementPassed()
		} else {
			intentCtx.incrementFailed()
		}
	})
}

func (c *Coordinator) onTimerFired(intentID string) {
	c.StartGoroutine(fmt.Sprintf("flush-%s", intentID), func() {
		c.Flush(context.Background(), intentID)
	})
}

// Flush runs the flush procedure for intentID, either from timer fire or a
// manual trigger (used for testing and operational intervention); both
// paths run under the same CAS.
func (c *Coordinator) Flush(ctx context.Context, intentID string) {
	c.mu.RLock()
	intentCtx, ok := c.active[intentID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	if !intentCtx.tryBeginFlush() {
		return // some other flush already started
	}

	passed, failed := intentCtx.counters()

	if passed == 0 && !c.cfg.FlushOnEmptyPassed {
		c.deleteTree(ctx, intentID)
		intentCtx.terminate()
		c.removeActive(intentID)
		c.log.Info().Str(logging.FieldIntentID, intentID).Msg("window closed with zero passed solutions, no payload enqueued")
		return
	}

	records, err := c.intents.ListPassed(ctx, intentID)
	if err != nil {
		c.log.Error().Err(err).Str(logging.FieldIntentID, intentID).Msg("failed to list passed solutions at flush")
		records = nil
	}

	payload := models.RankingPayload{
		IntentID:                intentID,
		Intent:                  intentCtx.intent,
		PassedSolutions:         records,
		TotalSolutionsSubmitted: len(records) + failed,
		WindowClosedAt:          time.Now().UnixMilli(),
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, c.cfg.EnqueueTimeout)
	err = c.publisher.Enqueue(enqueueCtx, payload)
	cancel()
	if err != nil {
		c.log.Error().Err(err).Str(logging.FieldIntentID, intentID).Msg("ranking enqueue exhausted retries, intent considered lost")
	}

	intentCtx.terminate()
	c.removeActive(intentID)

	if c.cfg.EagerDelete {
		c.deleteTree(ctx, intentID)
	}
}

func (c *Coordinator) deleteTree(ctx context.Context, intentID string) {
	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	if err := c.intents.DeleteIntentTree(storeCtx, intentID); err != nil {
		c.log.Error().Err(err).Str(logging.FieldIntentID, intentID).Msg("failed to delete intent tree")
	}
}

func (c *Coordinator) removeActive(intentID string) {
	c.mu.Lock()
	delete(c.active, intentID)
	c.mu.Unlock()
	c.reportActiveIntentCount()
}

// StartGoroutine safely starts a tracked goroutine with panic recovery,
// refusing to start new work once shutdown has begun.
func (c *Coordinator) StartGoroutine(name string, fn func()) {
	c.shutdownMu.RLock()
	if c.isShutdown {
		c.shutdownMu.RUnlock()
		c.log.Debug().Str("goroutine", name).Msg("cannot start goroutine: coordinator is shutdown")
		return
	}
	c.shutdownMu.RUnlock()

	c.goroutineWg.Add(1)
	atomic.AddInt32(&c.activeGoroutines, 1)

	go func() {
		defer func() {
			c.goroutineWg.Done()
			atomic.AddInt32(&c.activeGoroutines, -1)
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Str("goroutine", name).Msg("recovered from panic in tracked goroutine")
			}
		}()
		fn()
	}()
}

// ActiveGoroutines returns the current count of tracked goroutines.
func (c *Coordinator) ActiveGoroutines() int32 {
	return atomic.LoadInt32(&c.activeGoroutines)
}

// Shutdown cancels any pending timers and waits up to timeout for in-flight
// tracked goroutines (flush procedures) to finish.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.shutdownMu.Lock()
	if c.isShutdown {
		c.shutdownMu.Unlock()
		return nil
	}
	c.isShutdown = true
	c.shutdownMu.Unlock()

	c.cleanupCancel()

	c.mu.RLock()
	for _, intentCtx := range c.active {
		intentCtx.gate.Lock()
		if intentCtx.timer != nil {
			intentCtx.timer.Stop()
			intentCtx.timer = nil
		}
		intentCtx.gate.Unlock()
	}
	c.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		c.goroutineWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("coordinator shutdown timed out after %v", timeout)
	}
}
