package ingest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/store"
)

// Coordinator is the subset of the Intent Lifecycle Coordinator the
// ingestor hands parsed events to.
type Coordinator interface {
	HandleIntentSubmitted(ctx context.Context, payload models.IntentSubmittedPayload, nowMS int64)
	HandleSolutionSubmitted(ctx context.Context, payload models.SolutionSubmittedPayload)
}

// Recorder is the observability sink for ingested-event counts, satisfied
// by metrics.Service. Left unset, nothing is recorded.
type Recorder interface {
	ObserveEventProcessed(kind string)
}

// Config bounds the ingestor's cadence and batching, per spec.md §6.
type Config struct {
	PollInterval       time.Duration
	BatchLimit         int
	AutoStart          bool
	BackfillChunk      int
	CursorStoreTimeout time.Duration
}

// Ingestor runs the single-threaded poll loop described in §4.C: one tick
// issues a bounded query per stream, interleaves the results ascending, and
// hands each event to the coordinator before advancing the cursor.
type Ingestor struct {
	source      EventSource
	cursors     store.CursorStore
	coordinator Coordinator
	cfg         Config
	log         zerolog.Logger

	mu     sync.Mutex
	cursor models.Cursor

	running int32

	activeGoroutines int32
	cleanupCtx       context.Context
	cleanupCancel    context.CancelFunc
	goroutineWg      sync.WaitGroup
	isShutdown       bool
	shutdownMu       sync.RWMutex

	onPoll   func(time.Time)
	recorder Recorder
}

// SetRecorder attaches a metrics sink. Optional; safe to call once before
// Start.
func (in *Ingestor) SetRecorder(recorder Recorder) {
	in.recorder = recorder
}

// SetPollHook registers a callback invoked after every tick (including
// empty ones), used to surface last_poll_ts on the operational status
// endpoint (§6). Must be called before Start.
func (in *Ingestor) SetPollHook(fn func(time.Time)) {
	in.onPoll = fn
}

func New(source EventSource, cursors store.CursorStore, coordinator Coordinator, cfg Config, log zerolog.Logger) *Ingestor {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BackfillChunk <= 0 {
		cfg.BackfillChunk = 5000
	}
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	return &Ingestor{
		source:        source,
		cursors:       cursors,
		coordinator:   coordinator,
		cfg:           cfg,
		log:           logging.Module(log, "ingestor"),
		cleanupCtx:    cleanupCtx,
		cleanupCancel: cleanupCancel,
	}
}

// CurrentCursor reports the in-memory cursor, named in the operational
// status surface (§6).
func (in *Ingestor) CurrentCursor() models.Cursor {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cursor
}

// Start loads the persisted cursor, runs one bounded backfill pass up to
// the live tip, then launches the steady-state poll loop goroutine unless
// cfg.AutoStart is false (the `auto_start_listener` configuration key), in
// which case Start returns after the backfill without launching the poll
// loop; the ingestor has no other method that launches it.
func (in *Ingestor) Start(ctx context.Context) error {
	storeCtx, cancel := context.WithTimeout(ctx, in.cfg.CursorStoreTimeout)
	cursor, found, err := in.cursors.Load(storeCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "load cursor")
	}
	if found {
		in.mu.Lock()
		in.cursor = cursor
		in.mu.Unlock()
	}

	if err := in.backfill(ctx); err != nil {
		return errors.Wrap(err, "startup backfill")
	}

	if !in.cfg.AutoStart {
		in.log.Info().Msg("auto_start_listener disabled, ingestor idle after backfill")
		return nil
	}

	in.StartGoroutine("poll-loop", func() { in.pollLoop(in.cleanupCtx) })
	return nil
}

// backfill runs ticks back-to-back (no inter-tick delay) until a tick
// returns fewer than cfg.BackfillChunk total events for both streams,
// mirroring catchUpOnIntentEvents' chunked drain-to-tip behaviour.
func (in *Ingestor) backfill(ctx context.Context) error {
	for {
		n, err := in.tick(ctx, in.cfg.BackfillChunk)
		if err != nil {
			return err
		}
		if n < in.cfg.BackfillChunk {
			return nil
		}
	}
}

func (in *Ingestor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.log.Info().Msg("ingestor poll loop stopping: context cancelled")
			return
		case <-ticker.C:
			if _, err := in.tick(ctx, in.cfg.BatchLimit); err != nil {
				in.log.Error().Err(err).Msg("ingestor tick failed, continuing at next interval")
			}
		}
	}
}

// tick issues one bounded query per stream, interleaves ascending, hands
// off in order, and persists the cursor once the last handoff returns. It
// never advances the cursor past an event whose handoff has not returned,
// and never skips ahead on failure. Returns the number of events handed
// off.
func (in *Ingestor) tick(ctx context.Context, limit int) (int, error) {
	in.mu.Lock()
	cursor := in.cursor
	in.mu.Unlock()

	// The two streams are independent queries against the same source, so
	// they're fanned out concurrently the way clients.ResolveClientsFromConfig
	// dials chains concurrently; either failing aborts the tick before any
	// handoff or cursor mutation, per the ingestor's no-skip-ahead contract.
	var intentEvents, solutionEvents []models.Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		intentEvents, err = in.source.QueryEvents(gctx, models.EventIntentSubmitted, cursor, limit)
		return errors.Wrap(err, "query intent events")
	})
	g.Go(func() error {
		var err error
		solutionEvents, err = in.source.QueryEvents(gctx, models.EventSolutionSubmitted, cursor, limit)
		return errors.Wrap(err, "query solution events")
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if in.onPoll != nil {
		in.onPoll(time.Now())
	}

	merged := mergeAscending(intentEvents, solutionEvents)
	// A stream that filled its batch may have unfetched events past its last
	// one; drop merged events beyond that point so the cursor cannot pass them.
	for _, events := range [][]models.Event{intentEvents, solutionEvents} {
		if len(events) > 0 && len(events) >= limit {
			last := events[len(events)-1].Cursor
			for i, event := range merged {
				if last.Less(event.Cursor) {
					merged = merged[:i]
					break
				}
			}
		}
	}
	if len(merged) == 0 {
		return 0, nil
	}

	for _, event := range merged {
		in.handOff(ctx, event)

		in.mu.Lock()
		in.cursor = event.Cursor
		in.mu.Unlock()
	}

	storeCtx, cancel := context.WithTimeout(ctx, in.cfg.CursorStoreTimeout)
	err := in.cursors.Store(storeCtx, merged[len(merged)-1].Cursor)
	cancel()
	if err != nil {
		return len(merged), errors.Wrap(err, "persist cursor")
	}

	return len(merged), nil
}

func (in *Ingestor) handOff(ctx context.Context, event models.Event) {
	nowMS := time.Now().UnixMilli()
	switch event.Kind {
	case models.EventIntentSubmitted:
		in.coordinator.HandleIntentSubmitted(ctx, *event.Intent, nowMS)
	case models.EventSolutionSubmitted:
		in.coordinator.HandleSolutionSubmitted(ctx, *event.Solution)
	default:
		in.log.Error().Str(logging.FieldCursor, event.Cursor.TxDigest).Msg("unknown event kind, dropping")
		return
	}
	if in.recorder != nil {
		in.recorder.ObserveEventProcessed(string(event.Kind))
	}
}

func mergeAscending(a, b []models.Event) []models.Event {
	merged := make([]models.Event, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Cursor.Less(merged[j].Cursor)
	})
	return merged
}

// StartGoroutine safely starts a tracked goroutine with panic recovery,
// mirroring EventCatchupService.StartGoroutine.
func (in *Ingestor) StartGoroutine(name string, fn func()) {
	in.shutdownMu.RLock()
	if in.isShutdown {
		in.shutdownMu.RUnlock()
		in.log.Debug().Str("goroutine", name).Msg("cannot start goroutine: ingestor is shutdown")
		return
	}
	in.shutdownMu.RUnlock()

	in.goroutineWg.Add(1)
	atomic.AddInt32(&in.activeGoroutines, 1)

	go func() {
		defer func() {
			in.goroutineWg.Done()
			atomic.AddInt32(&in.activeGoroutines, -1)
			if r := recover(); r != nil {
				in.log.Error().Interface("panic", r).Str("goroutine", name).Msg("recovered from panic in tracked goroutine")
			}
		}()
		fn()
	}()
}

func (in *Ingestor) ActiveGoroutines() int32 {
	return atomic.LoadInt32(&in.activeGoroutines)
}

// Shutdown cancels the poll loop and waits up to timeout for it to exit.
func (in *Ingestor) Shutdown(timeout time.Duration) error {
	in.shutdownMu.Lock()
	if in.isShutdown {
		in.shutdownMu.Unlock()
		return nil
	}
	in.isShutdown = true
	in.shutdownMu.Unlock()

	in.cleanupCancel()

	done := make(chan struct{})
	go func() {
		in.goroutineWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("ingestor shutdown timed out after %v", timeout)
	}
}
