package pipeline

import (
	"math/big"

	"github.com/intenus/preranking/models"
	"github.com/intenus/preranking/validate"
)

// knownFeeFields lists the structured-payload fields feature extraction
// treats as a protocol fee, per §4.G.
var knownFeeFields = []string{"fee", "protocol_fee", "platform_fee", "fee_amount"}

// systemPackage is excluded from the protocols_count estimate, the one
// package identifier every solution necessarily touches and which therefore
// carries no routing information.
const systemPackage = "0x0"

// ExtractFeatures is a pure, best-effort enrichment of a passed solution.
// A missing or malformed sub-field is replaced with 0/1 as appropriate; it
// never returns an error, per §4.G and design note on treating extraction
// as a layer distinct from validation.
func ExtractFeatures(intent models.Intent, dryRun models.DryRun) models.Features {
	return models.Features{
		GasCost:        gasCost(dryRun),
		ProtocolFees:   protocolFees(dryRun),
		Surplus:        surplus(intent, dryRun),
		TotalHops:      totalHops(dryRun),
		ProtocolsCount: protocolsCount(dryRun),
	}
}

func gasCost(dryRun models.DryRun) *big.Int {
	if dryRun.Gas.Computation == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(dryRun.Gas.Computation)
}

func protocolFees(dryRun models.DryRun) *big.Int {
	total := big.NewInt(0)
	for _, event := range dryRun.Events {
		for _, field := range knownFeeFields {
			if amount, ok := event.Fields[field]; ok && amount != nil {
				total.Add(total, amount)
			}
		}
	}
	return total
}

func surplus(intent models.Intent, dryRun models.DryRun) *big.Int {
	if len(intent.Operation.Outputs) == 0 {
		return big.NewInt(0)
	}
	primaryOutput := intent.Operation.Outputs[0]
	minOutput := resolveMinOutput(intent, primaryOutput.AssetID)
	if minOutput == nil {
		return big.NewInt(0)
	}

	var actual *big.Int
	for _, change := range dryRun.BalanceChanges {
		if change.CoinType != primaryOutput.AssetID || change.Owner != intent.UserAddress {
			continue
		}
		if change.Amount == nil || change.Amount.Sign() <= 0 {
			continue
		}
		if actual == nil {
			actual = new(big.Int)
		}
		actual.Add(actual, change.Amount)
	}
	if actual == nil {
		return big.NewInt(0)
	}

	return new(big.Int).Sub(actual, minOutput)
}

func resolveMinOutput(intent models.Intent, assetID string) *big.Int {
	for _, min := range intent.Constraints.MinOutputs {
		if min.AssetID == assetID {
			return min.Amount
		}
	}
	return nil
}

// totalHops estimates the hop count from distinct non-native coin types
// observed in balance changes, merged with the object-change-based count;
// always at least 1.
func totalHops(dryRun models.DryRun) int {
	coinTypes := make(map[string]bool)
	for _, change := range dryRun.BalanceChanges {
		if change.CoinType == "" || change.CoinType == systemPackage {
			continue
		}
		coinTypes[change.CoinType] = true
	}

	fromCoins := len(coinTypes) - 1
	if fromCoins < 1 {
		fromCoins = 1
	}

	fromObjects := len(distinctPackages(dryRun.ObjectChanges))
	if fromObjects < 1 {
		fromObjects = 1
	}

	hops := fromCoins
	if fromObjects > hops {
		hops = fromObjects
	}
	return hops
}

// protocolsCount counts distinct package identifiers observed across
// events ∪ object_changes, excluding the system package; minimum 1.
func protocolsCount(dryRun models.DryRun) int {
	packages := make(map[string]bool)
	for _, event := range dryRun.Events {
		pkg := validate.ExtractProtocol(event.Package)
		if pkg != "" && pkg != systemPackage {
			packages[pkg] = true
		}
	}
	for _, pkg := range distinctPackages(dryRun.ObjectChanges) {
		packages[pkg] = true
	}

	if len(packages) == 0 {
		return 1
	}
	return len(packages)
}

func distinctPackages(changes []models.ObjectChange) []string {
	seen := make(map[string]bool)
	var out []string
	for _, change := range changes {
		pkg := validate.ExtractProtocol(change.Package)
		if pkg == "" || pkg == systemPackage || seen[pkg] {
			continue
		}
		seen[pkg] = true
		out = append(out, pkg)
	}
	return out
}
