// Package validate implements the Constraint Validator (§4.F): two disjoint
// pure functions, Phase1 (pre-simulation) and Phase2 (post-simulation),
// split per the design notes to make "Phase-1 produces ok=false ⇒ simulator
// never invoked" trivially testable.
package validate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/intenus/preranking/models"
)

// ParsedSolution holds whatever the pipeline's pre-parse step could
// determine from transaction_bytes without executing it. A nil/zero field
// means "not determinable"; per §4.F, not-determinable is never a failure
// on its own — the corresponding check is skipped and Phase 2 is relied on
// instead.
type ParsedSolution struct {
	Inputs    map[string]*big.Int // asset_id -> amount, only for determinable inputs
	Hops      *int
	Protocols []string
}

// Phase1 runs the pre-simulation constraint checks.
func Phase1(intent models.Intent, parsed ParsedSolution, submittedAtMS, windowEndMS int64) models.ValidationResult {
	var result models.ValidationResult

	if submittedAtMS > windowEndMS {
		result.Fail("constraints.deadline_ms", fmt.Sprintf("solution submitted at %d after window end %d", submittedAtMS, windowEndMS))
	}

	for _, maxInput := range intent.Constraints.MaxInputs {
		amount, ok := parsed.Inputs[maxInput.AssetID]
		if !ok || amount == nil {
			continue // not determinable from the pre-parse; never a failure on its own
		}
		if maxInput.Amount != nil && amount.Cmp(maxInput.Amount) > 0 {
			result.Fail("constraints.max_inputs", fmt.Sprintf("input %s amount %s exceeds cap %s", maxInput.AssetID, amount.String(), maxInput.Amount.String()))
		}
	}

	routing := intent.Constraints.Routing
	if routing != nil {
		if routing.MaxHops != nil && parsed.Hops != nil && *parsed.Hops > *routing.MaxHops {
			result.Fail("constraints.routing.max_hops", fmt.Sprintf("observed %d hops exceeds cap %d", *parsed.Hops, *routing.MaxHops))
		}

		if len(routing.Blacklist) > 0 {
			blacklisted := toSet(routing.Blacklist)
			for _, protocol := range parsed.Protocols {
				if blacklisted[protocol] {
					result.Fail("constraints.routing.blacklist", fmt.Sprintf("protocol %s is blacklisted", protocol))
					break
				}
			}
		}

		if len(routing.Whitelist) > 0 {
			whitelisted := toSet(routing.Whitelist)
			for _, protocol := range parsed.Protocols {
				if !whitelisted[protocol] {
					result.Fail("constraints.routing.whitelist", fmt.Sprintf("protocol %s is not whitelisted", protocol))
					break
				}
			}
		}
	}

	return result
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// ExtractProtocol returns the package identifier — the first
// "::"-separated segment — of a fully qualified identifier, used by feature
// extraction. The Phase-1 routing checks compare the pre-parsed protocol
// identifiers as given and do not call it.
func ExtractProtocol(identifier string) string {
	if idx := strings.Index(identifier, "::"); idx >= 0 {
		return identifier[:idx]
	}
	return identifier
}
