package ksconsensus

// ProposerSelector deterministically chooses the proposer
// for a height and round from the active validator set.
// Every validator must arrive at the same choice from the same inputs.
type ProposerSelector interface {
	ProposerAt(height uint64, round uint32, vals ValidatorSet) Validator
}

// WeightedRoundRobinSelector is the default [ProposerSelector].
// It maps (height, round) onto the cumulative weight line of the set,
// so over many heights each validator proposes in proportion to its weight,
// and a failed proposer is skipped by the next round without coordination.
//
// The zero value is ready to use.
type WeightedRoundRobinSelector struct{}

var _ ProposerSelector = WeightedRoundRobinSelector{}

func (WeightedRoundRobinSelector) ProposerAt(height uint64, round uint32, vals ValidatorSet) Validator {
	total := vals.TotalPower()
	if total == 0 || len(vals.Validators) == 0 {
		panic("BUG: ProposerAt called with an empty validator set")
	}

	// Stride by a constant coprime-ish to typical power sums
	// so consecutive heights don't sweep the weight line linearly.
	target := (height*7919 + uint64(round)*104729) % total

	var acc uint64
	for _, v := range vals.Validators {
		acc += v.Power
		if target < acc {
			return v
		}
	}

	// Unreachable: target < total and the loop accumulates to total.
	return vals.Validators[len(vals.Validators)-1]
}
