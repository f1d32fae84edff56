package ksepoch_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksepoch"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_CurrentSet(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	vs := fx.ValSet()

	m := ksepoch.NewManager(testLogger(), 1, vs)

	require.True(t, m.CurrentSet().Equal(vs))
}

func TestManager_SetAtHeight(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	vs1 := fx.ValSet()

	vs2, err := ksconsensus.NewValidatorSet(
		2, ksconsensustest.NewFixture(4).Vals(), fx.HashScheme,
	)
	require.NoError(t, err)

	m := ksepoch.NewManager(testLogger(), 1, vs1)
	require.NoError(t, m.ScheduleTransition(10, vs2))

	t.Run("heights before the transition", func(t *testing.T) {
		for _, h := range []uint64{1, 5, 9} {
			require.True(t, m.SetAtHeight(h).Equal(vs1))
		}
	})

	t.Run("heights at and after the transition", func(t *testing.T) {
		for _, h := range []uint64{10, 11, 100} {
			require.True(t, m.SetAtHeight(h).Equal(vs2))
		}
	})

	t.Run("heights below the first entry resolve to it", func(t *testing.T) {
		require.True(t, m.SetAtHeight(0).Equal(vs1))
	})

	require.True(t, m.CurrentSet().Equal(vs2))
}

func TestManager_IsValidVoter(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	vs1 := fx.ValSet()

	// The larger set shares the first three deterministic keys,
	// so take only the last validator as the genuinely new identity.
	bigger := ksconsensustest.DeterministicValidators(4)
	newcomer := bigger[3]

	vs2, err := ksconsensus.NewValidatorSet(2, bigger.Vals(), fx.HashScheme)
	require.NoError(t, err)

	m := ksepoch.NewManager(testLogger(), 1, vs1)
	require.NoError(t, m.ScheduleTransition(10, vs2))

	require.False(t, m.IsValidVoter(newcomer.Signer.PubKey(), 9))
	require.True(t, m.IsValidVoter(newcomer.Signer.PubKey(), 10))

	require.True(t, m.IsValidVoter(fx.ValidatorPubKey(0), 9))
	require.True(t, m.IsValidVoter(fx.ValidatorPubKey(0), 10))
}

func TestManager_CheckVoter(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	m := ksepoch.NewManager(testLogger(), 1, fx.ValSet())

	require.NoError(t, m.CheckVoter(fx.ValidatorPubKey(0), 5))

	outsider := ksconsensustest.DeterministicValidators(4)[3]
	err := m.CheckVoter(outsider.Signer.PubKey(), 5)

	var invalidErr ksconsensus.InvalidVoterError
	require.ErrorAs(t, err, &invalidErr)
	require.Equal(t, uint64(5), invalidErr.Height)
	require.Equal(t, outsider.Signer.PubKey().PubKeyBytes(), invalidErr.PubKeyBytes)
}

func TestManager_ScheduleTransition_ordering(t *testing.T) {
	t.Parallel()

	fx := ksconsensustest.NewFixture(3)
	vs1 := fx.ValSet()

	vs2, err := ksconsensus.NewValidatorSet(2, fx.Vals(), fx.HashScheme)
	require.NoError(t, err)

	m := ksepoch.NewManager(testLogger(), 1, vs1)

	t.Run("effective height must advance", func(t *testing.T) {
		err := m.ScheduleTransition(1, vs2)

		var schedErr ksepoch.TransitionScheduleError
		require.ErrorAs(t, err, &schedErr)
	})

	t.Run("epoch must advance", func(t *testing.T) {
		sameEpoch, err := ksconsensus.NewValidatorSet(1, fx.Vals(), fx.HashScheme)
		require.NoError(t, err)

		var regErr ksepoch.EpochRegressionError
		require.ErrorAs(t, m.ScheduleTransition(10, sameEpoch), &regErr)
	})

	require.NoError(t, m.ScheduleTransition(10, vs2))
}
