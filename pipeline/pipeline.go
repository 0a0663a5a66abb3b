// Package pipeline implements the Instant Pre-Ranking Pipeline (§4.G): the
// ordered, fast-fail per-solution orchestration that fans out to the Blob
// Fetcher, Constraint Validator, and Simulator Client, then writes a
// pass/fail record into the Intent Store.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/store"
	"github.com/intenus/preranking/validate"
)

// BlobFetcher is the subset of the Blob Fetcher this package depends on.
type BlobFetcher interface {
	FetchSolution(ctx context.Context, blobID string) (models.Solution, error)
}

// Simulator is the subset of the Simulator Client this package depends on.
type Simulator interface {
	DryRun(ctx context.Context, transactionBytes []byte) (models.DryRun, error)
}

// PreParser extracts whatever inputs/hops/protocols can be determined from
// transaction_bytes without executing it. The engine is protocol-agnostic,
// so the default implementation determines nothing and defers entirely to
// Phase 2 — not-determinable is never a failure, per §4.F.
type PreParser interface {
	Parse(transactionBytes []byte) validate.ParsedSolution
}

// NoOpPreParser determines nothing; every Phase-1 check that depends on a
// pre-parsed field is skipped and Phase 2 is relied on instead.
type NoOpPreParser struct{}

func (NoOpPreParser) Parse([]byte) validate.ParsedSolution { return validate.ParsedSolution{} }

// Config bounds the pipeline's per-operation timeouts, per §5.
type Config struct {
	FetchTimeout     time.Duration
	SimulatorTimeout time.Duration
	StoreTimeout     time.Duration
	RecordTTL        time.Duration
}

// Recorder is the observability sink for pipeline runs, satisfied by
// metrics.Service. Left unset, a Pipeline records nothing.
type Recorder interface {
	ObservePipelineRun(passed bool, duration time.Duration)
	ObserveConstraintFailure(reason string)
}

// Pipeline runs one solution through fetch → Phase 1 → simulate → Phase 2 →
// extract, fast-failing at the first stage that rejects the solution.
type Pipeline struct {
	fetcher   BlobFetcher
	simulator Simulator
	parser    PreParser
	intents   store.IntentStore
	cfg       Config
	log       zerolog.Logger
	recorder  Recorder
}

// New builds a Pipeline. parser may be nil to use NoOpPreParser.
func New(fetcher BlobFetcher, simulator Simulator, parser PreParser, intents store.IntentStore, cfg Config, log zerolog.Logger) *Pipeline {
	if parser == nil {
		parser = NoOpPreParser{}
	}
	return &Pipeline{
		fetcher:   fetcher,
		simulator: simulator,
		parser:    parser,
		intents:   intents,
		cfg:       cfg,
		log:       logging.Module(log, "pipeline"),
	}
}

// SetRecorder attaches a metrics sink. Optional; safe to call once before
// any concurrent Run calls begin.
func (p *Pipeline) SetRecorder(recorder Recorder) {
	p.recorder = recorder
}

// Outcome reports what the pipeline run concluded for observability and
// coordinator counter bookkeeping.
type Outcome struct {
	Passed bool
}

// Run executes the pipeline for one solution-submitted event against
// intent. solutionID identifies the submitted solution independently of
// whether its blob can be fetched; blobID addresses the solution payload;
// windowEndMS and submittedAtMS are the Phase-1 deadline inputs.
func (p *Pipeline) Run(ctx context.Context, intent models.Intent, solutionID, blobID string, submittedAtMS, windowEndMS int64) (Outcome, error) {
	start := time.Now()
	outcome := p.run(ctx, intent, solutionID, blobID, submittedAtMS, windowEndMS)
	if p.recorder != nil {
		p.recorder.ObservePipelineRun(outcome.Passed, time.Since(start))
	}
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, intent models.Intent, solutionID, blobID string, submittedAtMS, windowEndMS int64) Outcome {
	solution, err := p.fetchSolution(ctx, blobID)
	if err != nil {
		p.fail(ctx, intent.IntentID, models.FailRecord{
			SolutionID: solutionID,
			Reason:     models.FailFetchFailed,
			Message:    err.Error(),
		})
		return Outcome{Passed: false}
	}

	parsed := p.parser.Parse(solution.TransactionBytes)
	phase1 := validate.Phase1(intent, parsed, submittedAtMS, windowEndMS)
	if !phase1.OK() {
		p.fail(ctx, intent.IntentID, models.FailRecord{
			SolutionID: solutionID,
			Reason:     models.FailConstraintValidation,
			Errors:     phase1.Errors,
		})
		return Outcome{Passed: false}
	}

	dryRun, err := p.dryRun(ctx, solution.TransactionBytes)
	if err != nil {
		p.fail(ctx, intent.IntentID, models.FailRecord{
			SolutionID: solutionID,
			Reason:     models.FailDryRunFailed,
			Message:    err.Error(),
		})
		return Outcome{Passed: false}
	}
	if dryRun.Status == models.DryRunFail {
		p.fail(ctx, intent.IntentID, models.FailRecord{
			SolutionID: solutionID,
			Reason:     models.FailDryRunFailed,
			Message:    dryRun.ErrorMsg,
		})
		return Outcome{Passed: false}
	}

	phase2 := validate.Phase2(intent, dryRun)
	if !phase2.OK() {
		p.fail(ctx, intent.IntentID, models.FailRecord{
			SolutionID: solutionID,
			Reason:     models.FailComplexValidationFailed,
			Errors:     phase2.Errors,
		})
		return Outcome{Passed: false}
	}

	features := ExtractFeatures(intent, dryRun)
	p.recordPassed(ctx, intent.IntentID, models.PassRecord{
		SolutionID: solutionID,
		Solution:   solution,
		Features:   features,
		DryRun:     dryRun,
	})

	return Outcome{Passed: true}
}

// fail records the failure and, when a recorder is attached, increments the
// per-reason constraint-failure counter.
func (p *Pipeline) fail(ctx context.Context, intentID string, record models.FailRecord) {
	p.recordFailed(ctx, intentID, record)
	if p.recorder != nil {
		p.recorder.ObserveConstraintFailure(string(record.Reason))
	}
}

func (p *Pipeline) fetchSolution(ctx context.Context, blobID string) (models.Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.fetcher.FetchSolution(ctx, blobID)
}

func (p *Pipeline) dryRun(ctx context.Context, transactionBytes []byte) (models.DryRun, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SimulatorTimeout)
	defer cancel()
	return p.simulator.DryRun(ctx, transactionBytes)
}

func (p *Pipeline) recordPassed(ctx context.Context, intentID string, record models.PassRecord) {
	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	if err := p.intents.PutPassed(storeCtx, intentID, record, p.cfg.RecordTTL); err != nil {
		p.log.Error().Err(errors.Wrap(err, "put passed")).
			Str(logging.FieldIntentID, intentID).
			Str(logging.FieldSolutionID, record.SolutionID).
			Msg("failed to record passed solution")
		return
	}
	if err := p.intents.AddToSet(storeCtx, intentID, store.SetPassed, record.SolutionID); err != nil {
		p.log.Error().Err(err).Str(logging.FieldIntentID, intentID).Msg("failed to add to passed set")
	}
}

func (p *Pipeline) recordFailed(ctx context.Context, intentID string, record models.FailRecord) {
	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	if err := p.intents.PutFailed(storeCtx, intentID, record, p.cfg.RecordTTL); err != nil {
		p.log.Error().Err(errors.Wrap(err, "put failed")).
			Str(logging.FieldIntentID, intentID).
			Str(logging.FieldSolutionID, record.SolutionID).
			Msg("failed to record failed solution")
		return
	}
	if err := p.intents.AddToSet(storeCtx, intentID, store.SetFailed, record.SolutionID); err != nil {
		p.log.Error().Err(err).Str(logging.FieldIntentID, intentID).Msg("failed to add to failed set")
	}
}
