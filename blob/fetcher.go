// Package blob implements the content-addressed Blob Fetcher collaborator
// (§4.D): GET /blob/{blob_id}, decoded into the typed intent/solution body.
package blob

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"

	"github.com/intenus/preranking/models"
)

// Error kinds distinguishing retryable from terminal fetch failures, per
// §4.D: only BlobTransient marks a failure as retryable; BlobNotFound and
// BlobCorrupt are terminal for the event. Fetcher itself makes a single
// attempt per call and does not retry.
var (
	ErrBlobNotFound  = errors.New("blob not found")
	ErrBlobCorrupt   = errors.New("blob corrupt")
	ErrBlobTransient = errors.New("blob transient")
)

// Fetcher implements fetch_intent/fetch_solution against an HTTP
// content-addressed store.
type Fetcher struct {
	client *gentleman.Client
}

// New builds a Fetcher pointed at baseURL, with a per-request bound
// timeout.
func New(baseURL string, requestTimeout time.Duration) *Fetcher {
	client := gentleman.New()
	client.URL(baseURL)
	client.Use(timeout.Request(requestTimeout))
	return &Fetcher{client: client}
}

type intentWire struct {
	IntentID      string             `json:"intent_id"`
	UserAddress   string             `json:"user_address"`
	WindowStartMS int64              `json:"window_start_ms"`
	WindowEndMS   int64              `json:"window_end_ms"`
	Operation     operationWire      `json:"operation"`
	Constraints   constraintsWire    `json:"constraints"`
}

type legWire struct {
	AssetID  string `json:"asset_id"`
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
}

type assetAmountWire struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type operationWire struct {
	Mode            string            `json:"mode"`
	Inputs          []legWire         `json:"inputs"`
	Outputs         []legWire         `json:"outputs"`
	ExpectedOutputs []assetAmountWire `json:"expected_outputs"`
}

type routingWire struct {
	MaxHops   *int     `json:"max_hops"`
	Blacklist []string `json:"blacklist"`
	Whitelist []string `json:"whitelist"`
}

type limitPriceWire struct {
	Price      string `json:"price"`
	Comparison string `json:"comparison"`
	PriceAsset string `json:"price_asset"`
}

type constraintsWire struct {
	DeadlineMS     *int64            `json:"deadline_ms"`
	MaxSlippageBPS *uint64           `json:"max_slippage_bps"`
	MinOutputs     []assetAmountWire `json:"min_outputs"`
	MaxInputs      []assetAmountWire `json:"max_inputs"`
	MaxGasCost     string            `json:"max_gas_cost"`
	Routing        *routingWire      `json:"routing"`
	LimitPrice     *limitPriceWire   `json:"limit_price"`
}

type solutionWire struct {
	SolutionID       string `json:"solution_id"`
	IntentID         string `json:"intent_id"`
	SolverAddress    string `json:"solver_address"`
	SubmittedAtMS    int64  `json:"submitted_at_ms"`
	TransactionBytes []byte `json:"transaction_bytes"`
}

// FetchIntent fetches and decodes the intent body for blobID.
func (f *Fetcher) FetchIntent(ctx context.Context, blobID string) (models.Intent, error) {
	body, err := f.fetch(ctx, blobID)
	if err != nil {
		return models.Intent{}, err
	}

	var wire intentWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.Intent{}, errors.Wrapf(ErrBlobCorrupt, "decode intent %s: %v", blobID, err)
	}

	return wire.toIntent(), nil
}

// FetchSolution fetches and decodes the solution body for blobID.
func (f *Fetcher) FetchSolution(ctx context.Context, blobID string) (models.Solution, error) {
	body, err := f.fetch(ctx, blobID)
	if err != nil {
		return models.Solution{}, err
	}

	var wire solutionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return models.Solution{}, errors.Wrapf(ErrBlobCorrupt, "decode solution %s: %v", blobID, err)
	}

	return models.Solution{
		SolutionID:       wire.SolutionID,
		IntentID:         wire.IntentID,
		SolverAddress:    wire.SolverAddress,
		SubmittedAtMS:    wire.SubmittedAtMS,
		TransactionBytes: wire.TransactionBytes,
	}, nil
}

func (f *Fetcher) fetch(ctx context.Context, blobID string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrBlobTransient, "blob %s: %v", blobID, ctx.Err())
	default:
	}

	req := f.client.Request()
	req.Method(http.MethodGet)
	req.Path("/blob/" + blobID)

	res, err := req.Send()
	if err != nil {
		return nil, errors.Wrapf(ErrBlobTransient, "fetch blob %s: %v", blobID, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrBlobNotFound, "blob %s", blobID)
	case res.StatusCode >= 500:
		return nil, errors.Wrapf(ErrBlobTransient, "blob %s: status %d", blobID, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(ErrBlobCorrupt, "blob %s: unexpected status %d", blobID, res.StatusCode)
	}

	body := res.Bytes()
	if len(body) == 0 || !json.Valid(body) {
		return nil, errors.Wrapf(ErrBlobCorrupt, "blob %s: malformed body", blobID)
	}

	return body, nil
}

func parseBigOrNil(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func (w legWire) toLeg() models.Leg {
	return models.Leg{
		AssetID:  w.AssetID,
		Amount:   models.AmountSpec{Exact: parseBigOrNil(w.Amount)},
		Decimals: w.Decimals,
	}
}

func (w assetAmountWire) toAssetAmount() models.AssetAmount {
	return models.AssetAmount{AssetID: w.AssetID, Amount: parseBigOrNil(w.Amount)}
}

func (w intentWire) toIntent() models.Intent {
	inputs := make([]models.Leg, len(w.Operation.Inputs))
	for i, l := range w.Operation.Inputs {
		inputs[i] = l.toLeg()
	}
	outputs := make([]models.Leg, len(w.Operation.Outputs))
	for i, l := range w.Operation.Outputs {
		outputs[i] = l.toLeg()
	}
	expected := make([]models.AssetAmount, len(w.Operation.ExpectedOutputs))
	for i, a := range w.Operation.ExpectedOutputs {
		expected[i] = a.toAssetAmount()
	}

	constraints := models.Constraints{
		DeadlineMS:     w.Constraints.DeadlineMS,
		MaxSlippageBPS: w.Constraints.MaxSlippageBPS,
		MaxGasCost:     parseBigOrNil(w.Constraints.MaxGasCost),
	}
	for _, a := range w.Constraints.MinOutputs {
		constraints.MinOutputs = append(constraints.MinOutputs, a.toAssetAmount())
	}
	for _, a := range w.Constraints.MaxInputs {
		constraints.MaxInputs = append(constraints.MaxInputs, a.toAssetAmount())
	}
	if w.Constraints.Routing != nil {
		constraints.Routing = &models.RoutingConstraint{
			MaxHops:   w.Constraints.Routing.MaxHops,
			Blacklist: w.Constraints.Routing.Blacklist,
			Whitelist: w.Constraints.Routing.Whitelist,
		}
	}
	if w.Constraints.LimitPrice != nil {
		rat := new(big.Rat)
		rat.SetString(w.Constraints.LimitPrice.Price)
		constraints.LimitPrice = &models.LimitPrice{
			Price:      rat,
			Comparison: models.PriceComparison(w.Constraints.LimitPrice.Comparison),
			PriceAsset: w.Constraints.LimitPrice.PriceAsset,
		}
	}

	return models.Intent{
		IntentID:      w.IntentID,
		UserAddress:   w.UserAddress,
		WindowStartMS: w.WindowStartMS,
		WindowEndMS:   w.WindowEndMS,
		Operation: models.Operation{
			Mode:            models.OperationMode(w.Operation.Mode),
			Inputs:          inputs,
			Outputs:         outputs,
			ExpectedOutputs: expected,
		},
		Constraints: constraints,
	}
}
