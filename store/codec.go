package store

import (
	"encoding/json"
	"math/big"

	"github.com/intenus/preranking/models"
)

// The wire encoding for every JSONB column in this package. Postgres has no
// native bigint-friendly numeric JSON type big enough for on-chain amounts,
// so *big.Int and *big.Rat are carried as decimal strings through these DTOs
// rather than asking json.Marshal to guess at precision.

type amountSpecDTO struct {
	Exact string `json:"exact,omitempty"`
	Min   string `json:"min,omitempty"`
	Max   string `json:"max,omitempty"`
	All   bool   `json:"all,omitempty"`
}

type legDTO struct {
	AssetID  string        `json:"asset_id"`
	Amount   amountSpecDTO `json:"amount"`
	Decimals int           `json:"decimals"`
}

type assetAmountDTO struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type routingDTO struct {
	MaxHops   *int     `json:"max_hops,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
	Whitelist []string `json:"whitelist,omitempty"`
}

type limitPriceDTO struct {
	Price      string `json:"price"`
	Comparison string `json:"comparison"`
	PriceAsset string `json:"price_asset"`
}

type constraintsDTO struct {
	DeadlineMS     *int64           `json:"deadline_ms,omitempty"`
	MaxSlippageBPS *uint64          `json:"max_slippage_bps,omitempty"`
	MinOutputs     []assetAmountDTO `json:"min_outputs,omitempty"`
	MaxInputs      []assetAmountDTO `json:"max_inputs,omitempty"`
	MaxGasCost     string           `json:"max_gas_cost,omitempty"`
	Routing        *routingDTO      `json:"routing,omitempty"`
	LimitPrice     *limitPriceDTO   `json:"limit_price,omitempty"`
}

type operationDTO struct {
	Mode            string           `json:"mode"`
	Inputs          []legDTO         `json:"inputs"`
	Outputs         []legDTO         `json:"outputs"`
	ExpectedOutputs []assetAmountDTO `json:"expected_outputs,omitempty"`
}

type intentDTO struct {
	IntentID      string         `json:"intent_id"`
	UserAddress   string         `json:"user_address"`
	WindowStartMS int64          `json:"window_start_ms"`
	WindowEndMS   int64          `json:"window_end_ms"`
	Operation     operationDTO   `json:"operation"`
	Constraints   constraintsDTO `json:"constraints"`
}

func bigString(i *big.Int) string {
	if i == nil {
		return ""
	}
	return i.String()
}

func parseBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func encodeAmountSpec(a models.AmountSpec) amountSpecDTO {
	return amountSpecDTO{Exact: bigString(a.Exact), Min: bigString(a.Min), Max: bigString(a.Max), All: a.All}
}

func decodeAmountSpec(d amountSpecDTO) models.AmountSpec {
	return models.AmountSpec{Exact: parseBig(d.Exact), Min: parseBig(d.Min), Max: parseBig(d.Max), All: d.All}
}

func encodeLeg(l models.Leg) legDTO {
	return legDTO{AssetID: l.AssetID, Amount: encodeAmountSpec(l.Amount), Decimals: l.Decimals}
}

func decodeLeg(d legDTO) models.Leg {
	return models.Leg{AssetID: d.AssetID, Amount: decodeAmountSpec(d.Amount), Decimals: d.Decimals}
}

func encodeLegs(ls []models.Leg) []legDTO {
	out := make([]legDTO, len(ls))
	for i, l := range ls {
		out[i] = encodeLeg(l)
	}
	return out
}

func decodeLegs(ds []legDTO) []models.Leg {
	out := make([]models.Leg, len(ds))
	for i, d := range ds {
		out[i] = decodeLeg(d)
	}
	return out
}

func encodeAssetAmount(a models.AssetAmount) assetAmountDTO {
	return assetAmountDTO{AssetID: a.AssetID, Amount: bigString(a.Amount)}
}

func decodeAssetAmount(d assetAmountDTO) models.AssetAmount {
	return models.AssetAmount{AssetID: d.AssetID, Amount: parseBig(d.Amount)}
}

func encodeAssetAmounts(as []models.AssetAmount) []assetAmountDTO {
	out := make([]assetAmountDTO, len(as))
	for i, a := range as {
		out[i] = encodeAssetAmount(a)
	}
	return out
}

func decodeAssetAmounts(ds []assetAmountDTO) []models.AssetAmount {
	out := make([]models.AssetAmount, len(ds))
	for i, d := range ds {
		out[i] = decodeAssetAmount(d)
	}
	return out
}

func encodeConstraints(c models.Constraints) constraintsDTO {
	dto := constraintsDTO{
		DeadlineMS:     c.DeadlineMS,
		MaxSlippageBPS: c.MaxSlippageBPS,
		MinOutputs:     encodeAssetAmounts(c.MinOutputs),
		MaxInputs:      encodeAssetAmounts(c.MaxInputs),
		MaxGasCost:     bigString(c.MaxGasCost),
	}
	if c.Routing != nil {
		dto.Routing = &routingDTO{MaxHops: c.Routing.MaxHops, Blacklist: c.Routing.Blacklist, Whitelist: c.Routing.Whitelist}
	}
	if c.LimitPrice != nil {
		price := ""
		if c.LimitPrice.Price != nil {
			price = c.LimitPrice.Price.RatString()
		}
		dto.LimitPrice = &limitPriceDTO{
			Price:      price,
			Comparison: string(c.LimitPrice.Comparison),
			PriceAsset: c.LimitPrice.PriceAsset,
		}
	}
	return dto
}

func decodeConstraints(d constraintsDTO) models.Constraints {
	c := models.Constraints{
		DeadlineMS:     d.DeadlineMS,
		MaxSlippageBPS: d.MaxSlippageBPS,
		MinOutputs:     decodeAssetAmounts(d.MinOutputs),
		MaxInputs:      decodeAssetAmounts(d.MaxInputs),
		MaxGasCost:     parseBig(d.MaxGasCost),
	}
	if d.Routing != nil {
		c.Routing = &models.RoutingConstraint{MaxHops: d.Routing.MaxHops, Blacklist: d.Routing.Blacklist, Whitelist: d.Routing.Whitelist}
	}
	if d.LimitPrice != nil {
		rat := new(big.Rat)
		rat.SetString(d.LimitPrice.Price)
		c.LimitPrice = &models.LimitPrice{
			Price:      rat,
			Comparison: models.PriceComparison(d.LimitPrice.Comparison),
			PriceAsset: d.LimitPrice.PriceAsset,
		}
	}
	return c
}

func encodeIntent(intent models.Intent) intentDTO {
	return intentDTO{
		IntentID:      intent.IntentID,
		UserAddress:   intent.UserAddress,
		WindowStartMS: intent.WindowStartMS,
		WindowEndMS:   intent.WindowEndMS,
		Operation: operationDTO{
			Mode:            string(intent.Operation.Mode),
			Inputs:          encodeLegs(intent.Operation.Inputs),
			Outputs:         encodeLegs(intent.Operation.Outputs),
			ExpectedOutputs: encodeAssetAmounts(intent.Operation.ExpectedOutputs),
		},
		Constraints: encodeConstraints(intent.Constraints),
	}
}

func decodeIntent(d intentDTO) models.Intent {
	return models.Intent{
		IntentID:      d.IntentID,
		UserAddress:   d.UserAddress,
		WindowStartMS: d.WindowStartMS,
		WindowEndMS:   d.WindowEndMS,
		Operation: models.Operation{
			Mode:            models.OperationMode(d.Operation.Mode),
			Inputs:          decodeLegs(d.Operation.Inputs),
			Outputs:         decodeLegs(d.Operation.Outputs),
			ExpectedOutputs: decodeAssetAmounts(d.Operation.ExpectedOutputs),
		},
		Constraints: decodeConstraints(d.Constraints),
	}
}

func marshalIntent(intent models.Intent) ([]byte, error) {
	return json.Marshal(encodeIntent(intent))
}

func unmarshalIntent(data []byte) (models.Intent, error) {
	var dto intentDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return models.Intent{}, err
	}
	return decodeIntent(dto), nil
}

// gasUsageDTO/dryRunDTO/passRecordDTO/failRecordDTO mirror PassRecord and
// FailRecord the same way, since both travel through the same JSONB path.

type gasUsageDTO struct {
	Computation string `json:"computation"`
	Storage     string `json:"storage"`
	Rebate      string `json:"rebate"`
}

type simEventDTO struct {
	Package string            `json:"package"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type balanceChangeDTO struct {
	Owner    string `json:"owner"`
	CoinType string `json:"coin_type"`
	Amount   string `json:"amount"`
}

type objectChangeDTO struct {
	Package string `json:"package"`
}

type dryRunDTO struct {
	Status         string             `json:"status"`
	ErrorMsg       string             `json:"error_msg,omitempty"`
	Gas            gasUsageDTO        `json:"gas"`
	Events         []simEventDTO      `json:"events,omitempty"`
	BalanceChanges []balanceChangeDTO `json:"balance_changes,omitempty"`
	ObjectChanges  []objectChangeDTO  `json:"object_changes,omitempty"`
}

type featuresDTO struct {
	GasCost        string `json:"gas_cost"`
	ProtocolFees   string `json:"protocol_fees"`
	Surplus        string `json:"surplus"`
	TotalHops      int    `json:"total_hops"`
	ProtocolsCount int    `json:"protocols_count"`
}

type solutionDTO struct {
	SolutionID       string `json:"solution_id"`
	IntentID         string `json:"intent_id"`
	SolverAddress    string `json:"solver_address"`
	SubmittedAtMS    int64  `json:"submitted_at_ms"`
	TransactionBytes []byte `json:"transaction_bytes"`
}

type passRecordDTO struct {
	SolutionID string      `json:"solution_id"`
	Solution   solutionDTO `json:"solution"`
	Features   featuresDTO `json:"features"`
	DryRun     dryRunDTO   `json:"dry_run"`
}

type validationIssueDTO struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type failRecordDTO struct {
	SolutionID string               `json:"solution_id"`
	Reason     string               `json:"reason"`
	Message    string               `json:"message"`
	Errors     []validationIssueDTO `json:"errors,omitempty"`
}

func encodeDryRun(d models.DryRun) dryRunDTO {
	events := make([]simEventDTO, len(d.Events))
	for i, e := range d.Events {
		fields := make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = bigString(v)
		}
		events[i] = simEventDTO{Package: e.Package, Fields: fields}
	}
	balances := make([]balanceChangeDTO, len(d.BalanceChanges))
	for i, b := range d.BalanceChanges {
		balances[i] = balanceChangeDTO{Owner: b.Owner, CoinType: b.CoinType, Amount: bigString(b.Amount)}
	}
	objects := make([]objectChangeDTO, len(d.ObjectChanges))
	for i, o := range d.ObjectChanges {
		objects[i] = objectChangeDTO{Package: o.Package}
	}
	return dryRunDTO{
		Status:   string(d.Status),
		ErrorMsg: d.ErrorMsg,
		Gas: gasUsageDTO{
			Computation: bigString(d.Gas.Computation),
			Storage:     bigString(d.Gas.Storage),
			Rebate:      bigString(d.Gas.Rebate),
		},
		Events:         events,
		BalanceChanges: balances,
		ObjectChanges:  objects,
	}
}

func decodeDryRun(d dryRunDTO) models.DryRun {
	events := make([]models.SimEvent, len(d.Events))
	for i, e := range d.Events {
		fields := make(map[string]*big.Int, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = parseBig(v)
		}
		events[i] = models.SimEvent{Package: e.Package, Fields: fields}
	}
	balances := make([]models.BalanceChange, len(d.BalanceChanges))
	for i, b := range d.BalanceChanges {
		balances[i] = models.BalanceChange{Owner: b.Owner, CoinType: b.CoinType, Amount: parseBig(b.Amount)}
	}
	objects := make([]models.ObjectChange, len(d.ObjectChanges))
	for i, o := range d.ObjectChanges {
		objects[i] = models.ObjectChange{Package: o.Package}
	}
	return models.DryRun{
		Status:   models.DryRunStatus(d.Status),
		ErrorMsg: d.ErrorMsg,
		Gas: models.GasUsage{
			Computation: parseBig(d.Gas.Computation),
			Storage:     parseBig(d.Gas.Storage),
			Rebate:      parseBig(d.Gas.Rebate),
		},
		Events:         events,
		BalanceChanges: balances,
		ObjectChanges:  objects,
	}
}

func marshalPassRecord(r models.PassRecord) ([]byte, error) {
	return json.Marshal(encodePassRecord(r))
}

func unmarshalPassRecord(data []byte) (models.PassRecord, error) {
	var dto passRecordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return models.PassRecord{}, err
	}
	return models.PassRecord{
		SolutionID: dto.SolutionID,
		Solution: models.Solution{
			SolutionID:       dto.Solution.SolutionID,
			IntentID:         dto.Solution.IntentID,
			SolverAddress:    dto.Solution.SolverAddress,
			SubmittedAtMS:    dto.Solution.SubmittedAtMS,
			TransactionBytes: dto.Solution.TransactionBytes,
		},
		Features: models.Features{
			GasCost:        parseBig(dto.Features.GasCost),
			ProtocolFees:   parseBig(dto.Features.ProtocolFees),
			Surplus:        parseBig(dto.Features.Surplus),
			TotalHops:      dto.Features.TotalHops,
			ProtocolsCount: dto.Features.ProtocolsCount,
		},
		DryRun: decodeDryRun(dto.DryRun),
	}, nil
}

func marshalFailRecord(r models.FailRecord) ([]byte, error) {
	errs := make([]validationIssueDTO, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = validationIssueDTO{Field: e.Field, Message: e.Message, Severity: string(e.Severity)}
	}
	dto := failRecordDTO{SolutionID: r.SolutionID, Reason: string(r.Reason), Message: r.Message, Errors: errs}
	return json.Marshal(dto)
}

func unmarshalFailRecord(data []byte) (models.FailRecord, error) {
	var dto failRecordDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return models.FailRecord{}, err
	}
	errs := make([]models.ValidationIssue, len(dto.Errors))
	for i, e := range dto.Errors {
		errs[i] = models.ValidationIssue{Field: e.Field, Message: e.Message, Severity: models.Severity(e.Severity)}
	}
	return models.FailRecord{SolutionID: dto.SolutionID, Reason: models.FailReason(dto.Reason), Message: dto.Message, Errors: errs}, nil
}

type rankingPayloadDTO struct {
	IntentID                string          `json:"intent_id"`
	Intent                  intentDTO       `json:"intent"`
	PassedSolutions         []passRecordDTO `json:"passed_solutions"`
	TotalSolutionsSubmitted int             `json:"total_solutions_submitted"`
	WindowClosedAt          int64           `json:"window_closed_at"`
}

func encodePassRecord(r models.PassRecord) passRecordDTO {
	return passRecordDTO{
		SolutionID: r.SolutionID,
		Solution: solutionDTO{
			SolutionID:       r.Solution.SolutionID,
			IntentID:         r.Solution.IntentID,
			SolverAddress:    r.Solution.SolverAddress,
			SubmittedAtMS:    r.Solution.SubmittedAtMS,
			TransactionBytes: r.Solution.TransactionBytes,
		},
		Features: featuresDTO{
			GasCost:        bigString(r.Features.GasCost),
			ProtocolFees:   bigString(r.Features.ProtocolFees),
			Surplus:        bigString(r.Features.Surplus),
			TotalHops:      r.Features.TotalHops,
			ProtocolsCount: r.Features.ProtocolsCount,
		},
		DryRun: encodeDryRun(r.DryRun),
	}
}

// EncodeRankingPayload renders a ranking payload to the exact JSON shape
// persisted to the ranking_queue table's payload column, reusing the same
// bigint-safe encoding the Intent Store uses for pass records.
func EncodeRankingPayload(payload models.RankingPayload) ([]byte, error) {
	solutions := make([]passRecordDTO, len(payload.PassedSolutions))
	for i, r := range payload.PassedSolutions {
		solutions[i] = encodePassRecord(r)
	}
	dto := rankingPayloadDTO{
		IntentID:                payload.IntentID,
		Intent:                  encodeIntent(payload.Intent),
		PassedSolutions:         solutions,
		TotalSolutionsSubmitted: payload.TotalSolutionsSubmitted,
		WindowClosedAt:          payload.WindowClosedAt,
	}
	return json.Marshal(dto)
}
