package ksstoretest

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/stretchr/testify/require"
)

type CommittedBlockStoreFactory func(cleanup func(func())) (ksstore.CommittedBlockStore, error)

func TestCommittedBlockStoreCompliance(t *testing.T, f CommittedBlockStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := ksconsensustest.NewFixture(4)

		ph := fx.NextProposedHeader([]byte("app_data_1"), 0)
		fx.CommitHeader(ctx, ph.Header, []byte("app_state_1"), 0)

		ch := ksconsensus.CommittedHeader{
			Header: ph.Header,
			QC:     fx.LastCommitQC(),
		}

		require.NoError(t, s.SaveCommittedBlock(ctx, ch))

		got, err := s.LoadCommittedBlock(ctx, ph.Header.Height)
		require.NoError(t, err)
		require.Equal(t, ch, got)
	})

	t.Run("returns HeightUnknownError when loading unknown height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadCommittedBlock(ctx, 10)
		require.ErrorIs(t, err, ksconsensus.HeightUnknownError{Want: 10})
	})

	t.Run("returns CommittedBlockOverwriteError on a double save", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		fx := ksconsensustest.NewFixture(4)

		ph := fx.NextProposedHeader([]byte("app_data_1"), 0)
		fx.CommitHeader(ctx, ph.Header, []byte("app_state_1"), 0)

		ch := ksconsensus.CommittedHeader{
			Header: ph.Header,
			QC:     fx.LastCommitQC(),
		}

		require.NoError(t, s.SaveCommittedBlock(ctx, ch))

		expErr := ksstore.CommittedBlockOverwriteError{Height: ph.Header.Height}
		require.ErrorIs(t, s.SaveCommittedBlock(ctx, ch), expErr)
	})
}
