// Package kscodectest provides a reusable compliance test
// for [kscodec.MarshalCodec] implementations.
package kscodectest

import (
	"context"
	"testing"

	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
	"github.com/kestrel-chain/kestrel/xb/xbridge/xbridgetest"
	"github.com/stretchr/testify/require"
)

// TestMarshalCodecCompliance runs the compliance suite
// against codecs returned by f.
func TestMarshalCodecCompliance(t *testing.T, f func() kscodec.MarshalCodec) {
	t.Run("proposed header", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		ph := fx.NextProposedHeader([]byte("app_data"), 0)
		fx.SignProposal(ctx, &ph, 0)

		b, err := c.MarshalProposedHeader(ph)
		require.NoError(t, err)

		var got ksconsensus.ProposedHeader
		require.NoError(t, c.UnmarshalProposedHeader(b, &got))

		require.Equal(t, ph, got)
	})

	t.Run("proposed header with previous commit certificate", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		ph1 := fx.NextProposedHeader([]byte("app_data_1"), 0)
		fx.CommitHeader(ctx, ph1.Header, []byte("app_state_1"), 0)

		ph2 := fx.NextProposedHeader([]byte("app_data_2"), 1)
		fx.SignProposal(ctx, &ph2, 1)

		b, err := c.MarshalProposedHeader(ph2)
		require.NoError(t, err)

		var got ksconsensus.ProposedHeader
		require.NoError(t, c.UnmarshalProposedHeader(b, &got))

		require.Equal(t, ph2, got)
	})

	t.Run("prevote proof", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		proof := ksconsensus.PrevoteSparseProof{
			Height:     1,
			Round:      0,
			PubKeyHash: string(fx.ValSet().PubKeyHash),
			Proofs: fx.SparsePrevoteProofMap(ctx, 1, 0, map[string][]int{
				"":           {0},
				"some_block": {1, 2, 3},
			}),
		}

		b, err := c.MarshalPrevoteProof(proof)
		require.NoError(t, err)

		var got ksconsensus.PrevoteSparseProof
		require.NoError(t, c.UnmarshalPrevoteProof(b, &got))

		require.Equal(t, proof, got)
	})

	t.Run("precommit proof", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		proof := ksconsensus.PrecommitSparseProof{
			Height:     1,
			Round:      2,
			PubKeyHash: string(fx.ValSet().PubKeyHash),
			Proofs: fx.SparsePrecommitProofMap(ctx, 1, 2, map[string][]int{
				"some_block": {0, 1, 2, 3},
			}),
		}

		b, err := c.MarshalPrecommitProof(proof)
		require.NoError(t, err)

		var got ksconsensus.PrecommitSparseProof
		require.NoError(t, c.UnmarshalPrecommitProof(b, &got))

		require.Equal(t, proof, got)
	})

	t.Run("quorum certificate", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		qc := fx.QuorumCertificate(ctx, 3, 1, "some_block", []int{0, 1, 2})

		b, err := c.MarshalQuorumCertificate(qc)
		require.NoError(t, err)

		var got ksconsensus.QuorumCertificate
		require.NoError(t, c.UnmarshalQuorumCertificate(b, &got))

		require.Equal(t, qc, got)
	})

	t.Run("foreign header", func(t *testing.T) {
		t.Parallel()

		c := f()
		fx := xbridgetest.NewForeignChainFixture()

		h := fx.AddBlock([][]byte{[]byte("transfer_1"), []byte("transfer_2")})

		b, err := c.MarshalForeignHeader(h)
		require.NoError(t, err)

		var got xbridge.ForeignHeader
		require.NoError(t, c.UnmarshalForeignHeader(b, &got))

		require.Equal(t, h, got)
	})

	t.Run("cross-chain proof", func(t *testing.T) {
		t.Parallel()

		c := f()
		fx := xbridgetest.NewForeignChainFixture()

		_ = fx.AddBlock([][]byte{[]byte("transfer_1"), []byte("transfer_2"), []byte("transfer_3")})
		p := fx.Proof(1, 1, "acct_a", 7)

		b, err := c.MarshalCrossChainProof(p)
		require.NoError(t, err)

		var got xbridge.CrossChainProof
		require.NoError(t, c.UnmarshalCrossChainProof(b, &got))

		require.Equal(t, p, got)
	})

	t.Run("consensus message variants", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fx := ksconsensustest.NewFixture(4)
		bfx := xbridgetest.NewForeignChainFixture()

		ph := fx.NextProposedHeader([]byte("app_data"), 0)
		fx.SignProposal(ctx, &ph, 0)

		qc := fx.QuorumCertificate(ctx, 1, 0, "some_block", []int{0, 1, 2})

		fh := bfx.AddBlock([][]byte{[]byte("transfer_1")})
		ccp := bfx.Proof(1, 0, "acct_a", 0)

		prevote := ksconsensus.PrevoteSparseProof{
			Height:     1,
			PubKeyHash: string(fx.ValSet().PubKeyHash),
			Proofs: fx.SparsePrevoteProofMap(ctx, 1, 0, map[string][]int{
				"some_block": {0, 1},
			}),
		}
		precommit := ksconsensus.PrecommitSparseProof{
			Height:     1,
			PubKeyHash: string(fx.ValSet().PubKeyHash),
			Proofs: fx.SparsePrecommitProofMap(ctx, 1, 0, map[string][]int{
				"some_block": {0, 1},
			}),
		}

		for _, tc := range []struct {
			name string
			msg  kscodec.ConsensusMessage
		}{
			{name: "proposed header", msg: kscodec.ConsensusMessage{ProposedHeader: &ph}},
			{name: "prevote proof", msg: kscodec.ConsensusMessage{PrevoteProof: &prevote}},
			{name: "precommit proof", msg: kscodec.ConsensusMessage{PrecommitProof: &precommit}},
			{name: "quorum certificate", msg: kscodec.ConsensusMessage{QuorumCertificate: &qc}},
			{name: "foreign header", msg: kscodec.ConsensusMessage{ForeignHeader: &fh}},
			{name: "cross-chain proof", msg: kscodec.ConsensusMessage{CrossChainProof: &ccp}},
		} {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				c := f()

				b, err := c.MarshalConsensusMessage(tc.msg)
				require.NoError(t, err)

				var got kscodec.ConsensusMessage
				require.NoError(t, c.UnmarshalConsensusMessage(b, &got))

				require.Equal(t, tc.msg, got)
			})
		}
	})

	t.Run("deterministic output", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := f()
		fx := ksconsensustest.NewFixture(4)

		// Multiple map entries force the codec to prove its ordering.
		proof := ksconsensus.PrevoteSparseProof{
			Height:     1,
			PubKeyHash: string(fx.ValSet().PubKeyHash),
			Proofs: fx.SparsePrevoteProofMap(ctx, 1, 0, map[string][]int{
				"":        {0},
				"block_a": {1},
				"block_b": {2, 3},
			}),
		}

		b1, err := c.MarshalPrevoteProof(proof)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			b2, err := c.MarshalPrevoteProof(proof)
			require.NoError(t, err)
			require.Equal(t, b1, b2)
		}
	})
}
