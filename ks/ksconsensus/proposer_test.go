package ksconsensus_test

import (
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/stretchr/testify/require"
)

func TestWeightedRoundRobinSelector_deterministic(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(4)
	vs := fx.ValSet()

	var sel ksconsensus.WeightedRoundRobinSelector

	for h := uint64(1); h <= 20; h++ {
		for r := uint32(0); r < 3; r++ {
			v1 := sel.ProposerAt(h, r, vs)
			v2 := sel.ProposerAt(h, r, vs)

			require.True(t, v1.PubKey.Equal(v2.PubKey))
			require.True(t, vs.Contains(v1.PubKey))
		}
	}
}

func TestWeightedRoundRobinSelector_proportionalOverHeights(t *testing.T) {
	t.Parallel()

	privVals := ksconsensustest.DeterministicValidators(3)

	// Powers chosen so 60 consecutive heights cover the weight line exactly.
	vs := ksconsensus.ValidatorSet{
		Validators: []ksconsensus.Validator{
			{PubKey: privVals[0].Signer.PubKey(), Power: 10},
			{PubKey: privVals[1].Signer.PubKey(), Power: 20},
			{PubKey: privVals[2].Signer.PubKey(), Power: 30},
		},
	}

	var sel ksconsensus.WeightedRoundRobinSelector

	counts := make([]int, 3)
	for h := uint64(1); h <= 60; h++ {
		v := sel.ProposerAt(h, 0, vs)
		for i, val := range vs.Validators {
			if val.PubKey.Equal(v.PubKey) {
				counts[i]++
			}
		}
	}

	require.Equal(t, []int{10, 20, 30}, counts)
}

func TestWeightedRoundRobinSelector_roundAdvancesProposer(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(4)
	vs := fx.ValSet()

	var sel ksconsensus.WeightedRoundRobinSelector

	// A failed proposer must not be guaranteed the next round too.
	// The stride constants don't promise a change at any single round,
	// so confirm a change happens within a few rounds.
	first := sel.ProposerAt(5, 0, vs)
	changed := false
	for r := uint32(1); r < 5; r++ {
		if !sel.ProposerAt(5, r, vs).PubKey.Equal(first.PubKey) {
			changed = true
			break
		}
	}
	require.True(t, changed)
}

func TestWeightedRoundRobinSelector_emptySetPanics(t *testing.T) {
	t.Parallel()

	var sel ksconsensus.WeightedRoundRobinSelector

	require.Panics(t, func() {
		_ = sel.ProposerAt(1, 0, ksconsensus.ValidatorSet{})
	})
}
