package validate

import (
	"fmt"
	"math/big"

	"github.com/intenus/preranking/models"
)

// Phase2 runs the post-simulation constraint checks against the dry-run
// result. All amount math is bigint; decimal normalisation is applied only
// inside the limit-price calculation, per §4.F.
func Phase2(intent models.Intent, dryRun models.DryRun) models.ValidationResult {
	var result models.ValidationResult

	for _, min := range intent.Constraints.MinOutputs {
		actual := creditedAmount(dryRun, intent.UserAddress, min.AssetID)
		if actual == nil {
			result.Fail("constraints.min_outputs", fmt.Sprintf("no credited balance change for %s", min.AssetID))
			continue
		}
		if min.Amount != nil && actual.Cmp(min.Amount) < 0 {
			result.Fail("constraints.min_outputs", fmt.Sprintf("actual %s below minimum %s for %s", actual.String(), min.Amount.String(), min.AssetID))
		}
	}

	if intent.Constraints.MaxSlippageBPS != nil && len(intent.Operation.ExpectedOutputs) > 0 {
		for _, expected := range intent.Operation.ExpectedOutputs {
			if expected.Amount == nil || expected.Amount.Sign() <= 0 {
				continue
			}
			actual := creditedAmount(dryRun, intent.UserAddress, expected.AssetID)
			if actual == nil {
				actual = big.NewInt(0)
			}

			slippageBPS := computeSlippageBPS(expected.Amount, actual)
			if slippageBPS.Cmp(new(big.Int).SetUint64(*intent.Constraints.MaxSlippageBPS)) > 0 {
				result.Fail("constraints.max_slippage_bps", fmt.Sprintf("slippage %s bps exceeds cap %d for %s", slippageBPS.String(), *intent.Constraints.MaxSlippageBPS, expected.AssetID))
			}
		}
	}

	if intent.Constraints.MaxGasCost != nil {
		total := dryRun.Gas.Total()
		if total.Cmp(intent.Constraints.MaxGasCost) > 0 {
			result.Fail("constraints.max_gas_cost", fmt.Sprintf("total gas %s exceeds cap %s", total.String(), intent.Constraints.MaxGasCost.String()))
		}
	}

	if intent.Constraints.LimitPrice != nil {
		evaluateLimitPrice(intent, dryRun, &result)
	}

	return result
}

// creditedAmount sums positive balance changes of coin_type == assetID
// credited to userAddress, returning nil if none exist (vs. zero, which
// would be a determinable zero credit).
func creditedAmount(dryRun models.DryRun, userAddress, assetID string) *big.Int {
	var sum *big.Int
	for _, change := range dryRun.BalanceChanges {
		if change.Owner != userAddress || change.CoinType != assetID {
			continue
		}
		if change.Amount == nil || change.Amount.Sign() <= 0 {
			continue
		}
		if sum == nil {
			sum = new(big.Int)
		}
		sum.Add(sum, change.Amount)
	}
	return sum
}

// computeSlippageBPS computes ⌊(expected − actual) · 10000 / expected⌋.
// Negative slippage (actual ≥ expected) is returned unclamped, per the
// open-question decision to permit negative values without failing — a
// negative result never exceeds a uint max_slippage_bps cap.
func computeSlippageBPS(expected, actual *big.Int) *big.Int {
	diff := new(big.Int).Sub(expected, actual)
	numerator := new(big.Int).Mul(diff, big.NewInt(10000))
	return floorDiv(numerator, expected)
}

// floorDiv performs floor division for big.Int, since big.Int.Quo truncates
// toward zero rather than flooring for negative numerators.
func floorDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(a, b, r)
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

func evaluateLimitPrice(intent models.Intent, dryRun models.DryRun, result *models.ValidationResult) {
	limitPrice := intent.Constraints.LimitPrice
	if len(intent.Operation.Inputs) == 0 || len(intent.Operation.Outputs) == 0 {
		result.Warn("constraints.limit_price", "no primary input/output to evaluate limit price against")
		return
	}

	primaryInput := intent.Operation.Inputs[0]
	primaryOutput := intent.Operation.Outputs[0]

	inputAmount := primaryInput.Amount.Exact
	if inputAmount == nil {
		result.Warn("constraints.limit_price", "primary input amount not determinable")
		return
	}

	actualOutput := creditedAmount(dryRun, intent.UserAddress, primaryOutput.AssetID)
	if actualOutput == nil || actualOutput.Sign() == 0 {
		result.Warn("constraints.limit_price", "no credited output balance change to evaluate limit price against")
		return
	}

	inNorm := normalize(inputAmount, primaryInput.Decimals)
	outNorm := normalize(actualOutput, primaryOutput.Decimals)
	if outNorm.Sign() == 0 || inNorm.Sign() == 0 {
		result.Warn("constraints.limit_price", "normalized amount is zero")
		return
	}

	var realised *big.Rat
	switch limitPrice.PriceAsset {
	case primaryInput.AssetID:
		realised = new(big.Rat).Quo(inNorm, outNorm)
	case primaryOutput.AssetID:
		realised = new(big.Rat).Quo(outNorm, inNorm)
	default:
		result.Warn("constraints.limit_price", fmt.Sprintf("price_asset %s matches neither primary input nor output", limitPrice.PriceAsset))
		return
	}

	if limitPrice.Price == nil {
		return
	}

	switch limitPrice.Comparison {
	case models.ComparisonGTE:
		if realised.Cmp(limitPrice.Price) < 0 {
			result.Fail("constraints.limit_price", fmt.Sprintf("realised price %s below required minimum %s", realised.RatString(), limitPrice.Price.RatString()))
		}
	case models.ComparisonLTE:
		if realised.Cmp(limitPrice.Price) > 0 {
			result.Fail("constraints.limit_price", fmt.Sprintf("realised price %s above required maximum %s", realised.RatString(), limitPrice.Price.RatString()))
		}
	}
}

func normalize(amount *big.Int, decimals int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(amount, scale)
}
