package ksconsensus_test

import (
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/stretchr/testify/require"
)

func TestValidatorSlicesEqual(t *testing.T) {
	t.Parallel()

	t.Run("equivalent slices are equal", func(t *testing.T) {
		fx1 := ksconsensustest.NewFixture(2)
		fx2 := ksconsensustest.NewFixture(2)

		require.True(t, ksconsensus.ValidatorSlicesEqual(fx1.Vals(), fx2.Vals()))
	})

	t.Run("equivalent items but different order are not equal", func(t *testing.T) {
		fx1 := ksconsensustest.NewFixture(2)
		fx2 := ksconsensustest.NewFixture(2)
		vals2 := fx2.Vals()
		vals2[0], vals2[1] = vals2[1], vals2[0]

		require.False(t, ksconsensus.ValidatorSlicesEqual(fx1.Vals(), vals2))
	})

	t.Run("different lengths are not equal", func(t *testing.T) {
		fx1 := ksconsensustest.NewFixture(2)
		fx2 := ksconsensustest.NewFixture(3)

		require.False(t, ksconsensus.ValidatorSlicesEqual(fx1.Vals(), fx2.Vals()))
		require.False(t, ksconsensus.ValidatorSlicesEqual(fx2.Vals(), fx1.Vals()))
	})

	t.Run("same length with different entries are not equal", func(t *testing.T) {
		fx1 := ksconsensustest.NewFixture(2)
		fx2 := ksconsensustest.NewFixture(3)

		vals1 := fx1.Vals()
		vals2 := fx2.Vals()[1:]

		require.False(t, ksconsensus.ValidatorSlicesEqual(vals1, vals2))
		require.False(t, ksconsensus.ValidatorSlicesEqual(vals2, vals1))
	})
}

func TestValidatorSet_Equal(t *testing.T) {
	t.Parallel()

	t.Run("same validators and epoch", func(t *testing.T) {
		vs1 := ksconsensustest.NewFixture(3).ValSet()
		vs2 := ksconsensustest.NewFixture(3).ValSet()

		require.True(t, vs1.Equal(vs2))
	})

	t.Run("same validators, different epoch", func(t *testing.T) {
		fx := ksconsensustest.NewFixture(3)

		vs1 := fx.ValSet()

		vs2, err := ksconsensus.NewValidatorSet(2, fx.Vals(), fx.HashScheme)
		require.NoError(t, err)

		require.False(t, vs1.Equal(vs2))
	})

	t.Run("different validators", func(t *testing.T) {
		vs1 := ksconsensustest.NewFixture(3).ValSet()
		vs2 := ksconsensustest.NewFixture(4).ValSet()

		require.False(t, vs1.Equal(vs2))
	})
}

func TestValidatorSet_QuorumThreshold(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(4)
	vs := fx.ValSet()

	require.Equal(t, ksconsensus.ByzantineMajority(vs.TotalPower()), vs.QuorumThreshold())
}

func TestValidatorSet_Contains(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	vs := fx.ValSet()

	for i := range fx.PrivVals {
		require.True(t, vs.Contains(fx.ValidatorPubKey(i)))
	}

	outsider := ksconsensustest.DeterministicValidators(4)[3]
	require.False(t, vs.Contains(outsider.Signer.PubKey()))
}

func TestSortValidators(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(4)

	vals := fx.Vals()

	// Fixture validators are generated in descending power order;
	// reverse and confirm sorting restores the original order.
	shuffled := make([]ksconsensus.Validator, len(vals))
	for i, v := range vals {
		shuffled[len(vals)-1-i] = v
	}
	require.False(t, ksconsensus.ValidatorSlicesEqual(vals, shuffled))

	ksconsensus.SortValidators(shuffled)
	require.True(t, ksconsensus.ValidatorSlicesEqual(vals, shuffled))
}
