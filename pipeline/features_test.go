package pipeline

import (
	"math/big"
	"testing"

	"github.com/intenus/preranking/models"
	"github.com/stretchr/testify/assert"
)

func TestExtractFeatures_GasCostAndFees(t *testing.T) {
	intent := models.Intent{}
	dryRun := models.DryRun{
		Gas: models.GasUsage{Computation: big.NewInt(5000), Storage: big.NewInt(0), Rebate: big.NewInt(0)},
		Events: []models.SimEvent{
			{Package: "0xdex::pool", Fields: map[string]*big.Int{"protocol_fee": big.NewInt(10)}},
			{Package: "0xdex::pool", Fields: map[string]*big.Int{"fee_amount": big.NewInt(5)}},
		},
	}

	features := ExtractFeatures(intent, dryRun)
	assert.Equal(t, "5000", features.GasCost.String())
	assert.Equal(t, "15", features.ProtocolFees.String())
}

func TestExtractFeatures_SurplusZeroWhenUnresolvable(t *testing.T) {
	intent := models.Intent{}
	features := ExtractFeatures(intent, models.DryRun{})
	assert.Equal(t, "0", features.Surplus.String())
}

func TestExtractFeatures_SurplusResolved(t *testing.T) {
	intent := models.Intent{
		UserAddress: "0xuser",
		Operation: models.Operation{
			Outputs: []models.Leg{{AssetID: "USDC"}},
		},
		Constraints: models.Constraints{
			MinOutputs: []models.AssetAmount{{AssetID: "USDC", Amount: big.NewInt(100)}},
		},
	}
	dryRun := models.DryRun{
		BalanceChanges: []models.BalanceChange{{Owner: "0xuser", CoinType: "USDC", Amount: big.NewInt(150)}},
	}

	features := ExtractFeatures(intent, dryRun)
	assert.Equal(t, "50", features.Surplus.String())
}

func TestExtractFeatures_HopsAndProtocolsMinimumOne(t *testing.T) {
	features := ExtractFeatures(models.Intent{}, models.DryRun{})
	assert.Equal(t, 1, features.TotalHops)
	assert.Equal(t, 1, features.ProtocolsCount)
}

func TestExtractFeatures_ProtocolsCountDistinct(t *testing.T) {
	dryRun := models.DryRun{
		Events: []models.SimEvent{
			{Package: "0xdexA::pool"},
			{Package: "0xdexB::pool"},
		},
		ObjectChanges: []models.ObjectChange{
			{Package: "0xdexA::pool"},
		},
	}
	features := ExtractFeatures(models.Intent{}, dryRun)
	assert.Equal(t, 2, features.ProtocolsCount)
}
