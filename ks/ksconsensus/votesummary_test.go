package ksconsensus_test

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/stretchr/testify/require"
)

func TestVoteSummary_powers(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vals := fx.Vals()

	vs := ksconsensus.NewVoteSummary()
	vs.SetAvailablePower(vals)

	prevoteMap := fx.PrevoteProofMap(ctx, 1, 0, map[string][]int{
		"":           {0},
		"some_block": {1, 2, 3},
	})

	precommitMap := fx.PrecommitProofMap(ctx, 1, 0, map[string][]int{
		"":           {0},
		"some_block": {1, 2, 3},
	})

	vs.SetVotePowers(vals, prevoteMap, precommitMap)
	nilPow := vals[0].Power
	blockPow := vals[1].Power + vals[2].Power + vals[3].Power

	require.Equal(t, nilPow+blockPow, vs.AvailablePower)

	t.Run("prevotes", func(t *testing.T) {
		require.Equal(t, vs.AvailablePower, vs.TotalPrevotePower)
		require.Equal(t, "some_block", vs.MostVotedPrevoteHash)
		require.Equal(t, map[string]uint64{
			"":           nilPow,
			"some_block": blockPow,
		}, vs.PrevoteBlockPower)
	})

	t.Run("precommits", func(t *testing.T) {
		require.Equal(t, vs.AvailablePower, vs.TotalPrecommitPower)
		require.Equal(t, "some_block", vs.MostVotedPrecommitHash)
		require.Equal(t, map[string]uint64{
			"":           nilPow,
			"some_block": blockPow,
		}, vs.PrecommitBlockPower)
	})
}

func TestVoteSummary_mostVotedTieBreak(t *testing.T) {
	t.Parallel()

	// Four validators with near-equal power would not split evenly;
	// use two so each block hash gets exactly one vote,
	// then confirm ties resolve to the earlier hash.
	fx := ksconsensustest.NewFixture(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vals := fx.Vals()

	// Make the tie exact despite the fixture's descending powers.
	vals[0].Power = vals[1].Power

	vs := ksconsensus.NewVoteSummary()
	vs.SetAvailablePower(vals)

	prevoteMap := fx.PrevoteProofMap(ctx, 1, 0, map[string][]int{
		"block_a": {0},
		"block_b": {1},
	})

	vs.SetPrevotePowers(vals, prevoteMap)
	require.Equal(t, "block_a", vs.MostVotedPrevoteHash)
}

func TestVoteSummary_resets(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vals := fx.Vals()

	vs := ksconsensus.NewVoteSummary()
	vs.SetAvailablePower(vals)

	voteMap := map[string][]int{"some_block": {0, 1, 2}}
	vs.SetVotePowers(
		vals,
		fx.PrevoteProofMap(ctx, 1, 0, voteMap),
		fx.PrecommitProofMap(ctx, 1, 0, voteMap),
	)

	t.Run("ResetForSameHeight clears votes but keeps available power", func(t *testing.T) {
		clone := vs.Clone()
		clone.ResetForSameHeight()

		require.Equal(t, vs.AvailablePower, clone.AvailablePower)
		require.Zero(t, clone.TotalPrevotePower)
		require.Zero(t, clone.TotalPrecommitPower)
		require.Empty(t, clone.PrevoteBlockPower)
		require.Empty(t, clone.PrecommitBlockPower)
		require.Empty(t, clone.MostVotedPrevoteHash)
		require.Empty(t, clone.MostVotedPrecommitHash)
	})

	t.Run("Reset clears everything", func(t *testing.T) {
		clone := vs.Clone()
		clone.Reset()

		require.Zero(t, clone.AvailablePower)
		require.Zero(t, clone.TotalPrevotePower)
		require.Zero(t, clone.TotalPrecommitPower)
	})
}
