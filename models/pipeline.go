package models

import "math/big"

// Features is the pipeline's best-effort enrichment of a passed solution;
// a missing sub-field is replaced with 0/1 as appropriate, never a pipeline
// error. Nothing is logged when a sub-field is replaced.
type Features struct {
	GasCost         *big.Int
	ProtocolFees    *big.Int
	Surplus         *big.Int
	TotalHops       int
	ProtocolsCount  int
}

// PassRecord is written to the Intent Store when a solution clears both
// validation phases.
type PassRecord struct {
	SolutionID string
	Solution   Solution
	Features   Features
	DryRun     DryRun
}

// FailReason names why a solution was recorded as failed, matching the
// pipeline's fast-fail stages.
type FailReason string

const (
	FailFetchFailed               FailReason = "fetch_failed"
	FailConstraintValidation      FailReason = "constraint_validation_failed"
	FailDryRunFailed              FailReason = "dry_run_failed"
	FailComplexValidationFailed   FailReason = "complex_validation_failed"
)

// FailRecord is written to the Intent Store when a solution is rejected at
// any pipeline stage.
type FailRecord struct {
	SolutionID string
	Reason     FailReason
	Message    string
	Errors     []ValidationIssue
}

// RankingPayload is the structurally idempotent handoff to the ranking
// consumer, keyed by IntentID.
type RankingPayload struct {
	IntentID               string
	Intent                 Intent
	PassedSolutions        []PassRecord
	TotalSolutionsSubmitted int
	WindowClosedAt          int64
}
