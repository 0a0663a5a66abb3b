package models

import "math/big"

// AmountSpec captures an input/output's amount declaration: an exact value,
// a bounded range, or "all" of the asset the user holds. The blob decoder
// reads the wire amount as a plain decimal string into Exact only; it never
// sets Min, Max or All.
type AmountSpec struct {
	Exact *big.Int
	Min   *big.Int
	Max   *big.Int
	All   bool
}

// AssetAmount names an asset together with a single concrete amount, the
// shape used by constraints (min_outputs, max_inputs) and limit_price.
type AssetAmount struct {
	AssetID string
	Amount  *big.Int
}

// Leg is one input or output of an operation.
type Leg struct {
	AssetID  string
	Amount   AmountSpec
	Decimals int
}

// OperationMode distinguishes the trade shape; the engine treats it opaquely
// beyond routing it through feature extraction.
type OperationMode string

// Operation is the intent's declared trade.
type Operation struct {
	Mode            OperationMode
	Inputs          []Leg
	Outputs         []Leg
	ExpectedOutputs []AssetAmount
}

// RoutingConstraint bounds the path a solution's execution may take.
type RoutingConstraint struct {
	MaxHops   *int
	Blacklist []string
	Whitelist []string
}

// PriceComparison is the direction a limit price must hold.
type PriceComparison string

const (
	ComparisonGTE PriceComparison = "gte"
	ComparisonLTE PriceComparison = "lte"
)

// LimitPrice bounds the realised exchange rate of a solution.
type LimitPrice struct {
	Price      *big.Rat
	Comparison PriceComparison
	PriceAsset string
}

// Constraints are all optional; a nil field means the constraint is absent.
type Constraints struct {
	DeadlineMS     *int64
	MaxSlippageBPS *uint64
	MinOutputs     []AssetAmount
	MaxInputs      []AssetAmount
	MaxGasCost     *big.Int
	Routing        *RoutingConstraint
	LimitPrice     *LimitPrice
}

// Intent is a user-declared trading request with a bounded solver access
// window.
type Intent struct {
	IntentID      string
	UserAddress   string
	WindowStartMS int64
	WindowEndMS   int64
	Operation     Operation
	Constraints   Constraints
}

// Solution is a candidate execution submitted by an external solver during
// an intent's window.
type Solution struct {
	SolutionID       string
	IntentID         string
	SolverAddress    string
	SubmittedAtMS    int64
	TransactionBytes []byte
}
