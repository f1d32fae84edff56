package ksstoretest

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/stretchr/testify/require"
)

type FinalizationStoreFactory func(cleanup func(func())) (ksstore.FinalizationStore, error)

func TestFinalizationStoreCompliance(t *testing.T, f FinalizationStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		valSet := ksconsensustest.NewFixture(3).ValSet()

		require.NoError(t, s.SaveFinalization(ctx, 1, 3, "my_block_hash", valSet, "my_app_state_hash"))

		round, blockHash, newValSet, appStateHash, err := s.LoadFinalizationByHeight(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, uint32(3), round)
		require.Equal(t, "my_block_hash", blockHash)
		require.True(t, valSet.Equal(newValSet))
		require.Equal(t, "my_app_state_hash", appStateHash)
	})

	t.Run("returns HeightUnknownError when loading unknown height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, _, _, _, err = s.LoadFinalizationByHeight(ctx, 10)
		require.Error(t, err)
		require.ErrorIs(t, err, ksconsensus.HeightUnknownError{Want: 10})
	})

	t.Run("returns FinalizationOverwriteError on a double save", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		valSet := ksconsensustest.NewFixture(3).ValSet()

		require.NoError(t, s.SaveFinalization(ctx, 1, 3, "my_block_hash", valSet, "my_app_state_hash"))

		// Overwrite error even with exact same values.
		expErr := ksstore.FinalizationOverwriteError{Height: 1}
		require.ErrorIs(t, s.SaveFinalization(ctx, 1, 3, "my_block_hash", valSet, "my_app_state_hash"), expErr)

		// Overwrite error with same round and different hashes.
		require.ErrorIs(t, s.SaveFinalization(ctx, 1, 3, "my_block_hash_2", valSet, "my_app_state_hash_2"), expErr)

		// Overwrite error with different round.
		require.ErrorIs(t, s.SaveFinalization(ctx, 1, 100, "my_block_hash_2", valSet, "my_app_state_hash_2"), expErr)

		// Original values unmodified.
		round, blockHash, newValSet, appStateHash, err := s.LoadFinalizationByHeight(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, uint32(3), round)
		require.Equal(t, "my_block_hash", blockHash)
		require.True(t, valSet.Equal(newValSet))
		require.Equal(t, "my_app_state_hash", appStateHash)
	})

	t.Run("Height tracks the highest finalized height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.Height(ctx)
		require.ErrorIs(t, err, ksstore.ErrStoreUninitialized)

		valSet := ksconsensustest.NewFixture(3).ValSet()

		for _, h := range []uint64{1, 2, 3} {
			require.NoError(t, s.SaveFinalization(ctx, h, 0, "block_hash", valSet, "app_state_hash"))
		}

		got, err := s.Height(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), got)
	})
}
