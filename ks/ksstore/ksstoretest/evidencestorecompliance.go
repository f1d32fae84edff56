package ksstoretest

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/stretchr/testify/require"
)

type EvidenceStoreFactory func(cleanup func(func())) (ksstore.EvidenceStore, error)

func TestEvidenceStoreCompliance(t *testing.T, f EvidenceStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := ksconsensustest.NewFixture(2)

		ev := ksconsensus.DoubleSignEvidence{
			Height:     3,
			Round:      1,
			Kind:       ksconsensus.VoteKindPrevote,
			PubKey:     fx.ValidatorPubKey(0),
			FirstHash:  "block_a",
			SecondHash: "block_b",
		}

		require.NoError(t, s.SaveDoubleSignEvidence(ctx, ev))

		got, err := s.LoadEvidence(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, ev, got[0])
	})

	t.Run("empty result for height without evidence", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		got, err := s.LoadEvidence(ctx, 42)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("duplicate submissions are deduplicated", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := ksconsensustest.NewFixture(2)

		ev := ksconsensus.DoubleSignEvidence{
			Height:     3,
			Round:      1,
			Kind:       ksconsensus.VoteKindPrecommit,
			PubKey:     fx.ValidatorPubKey(0),
			FirstHash:  "block_a",
			SecondHash: "block_b",
		}

		require.NoError(t, s.SaveDoubleSignEvidence(ctx, ev))
		require.NoError(t, s.SaveDoubleSignEvidence(ctx, ev))

		got, err := s.LoadEvidence(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("distinct evidence at the same height accumulates", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := ksconsensustest.NewFixture(2)

		ev1 := ksconsensus.DoubleSignEvidence{
			Height:     3,
			Round:      1,
			Kind:       ksconsensus.VoteKindPrevote,
			PubKey:     fx.ValidatorPubKey(0),
			FirstHash:  "block_a",
			SecondHash: "block_b",
		}
		ev2 := ev1
		ev2.PubKey = fx.ValidatorPubKey(1)

		require.NoError(t, s.SaveDoubleSignEvidence(ctx, ev1))
		require.NoError(t, s.SaveDoubleSignEvidence(ctx, ev2))

		got, err := s.LoadEvidence(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 2)
	})
}
