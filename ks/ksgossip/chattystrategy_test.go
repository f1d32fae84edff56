package ksgossip_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
	"github.com/kestrel-chain/kestrel/ks/ksgossip"
	"github.com/kestrel-chain/kestrel/ks/ksp2p/ksp2ptest"
)

func TestChattyStrategy_broadcastsFullViewOnRoundChange(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cb := ksp2ptest.NewChannelBroadcaster(ctx)
	s := ksgossip.NewChattyStrategy(ctx, ktest.NewLogger(t), cb)
	defer s.Wait()
	defer cancel()

	updates := make(chan kslink.RoundStateUpdate)
	s.Start(updates)

	fx := ksconsensustest.NewFixture(4)

	ph := fx.NextProposedHeader([]byte("app_data_1"), 0)
	fx.SignProposal(ctx, &ph, 0)
	blockHash := string(ph.Header.Hash)

	rv := ksconsensus.RoundView{
		Height: 1, Round: 0,
		ValidatorSet: fx.ValSet(),

		ProposedHeaders: []ksconsensus.ProposedHeader{ph},

		PrevoteProofs: fx.PrevoteProofMap(ctx, 1, 0, map[string][]int{blockHash: {0}}),
	}

	ktest.SendSoon(t, updates, kslink.RoundStateUpdate{Voting: &rv})

	gotPH := ktest.ReceiveSoon(t, cb.ProposedHeaders())
	require.Equal(t, ph.Header.Hash, gotPH.Header.Hash)

	gotPrevotes := ktest.ReceiveSoon(t, cb.PrevoteProofs())
	require.Equal(t, uint64(1), gotPrevotes.Height)
	require.Len(t, gotPrevotes.Proofs[blockHash], 1)

	// No precommits in the view, so nothing to broadcast for them.
	ktest.NotSending(t, cb.PrecommitProofs())
}

func TestChattyStrategy_rebroadcastsOnlyChangedProofs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cb := ksp2ptest.NewChannelBroadcaster(ctx)
	s := ksgossip.NewChattyStrategy(ctx, ktest.NewLogger(t), cb)
	defer s.Wait()
	defer cancel()

	updates := make(chan kslink.RoundStateUpdate)
	s.Start(updates)

	fx := ksconsensustest.NewFixture(4)

	ph := fx.NextProposedHeader([]byte("app_data_1"), 0)
	fx.SignProposal(ctx, &ph, 0)
	blockHash := string(ph.Header.Hash)

	rv1 := ksconsensus.RoundView{
		Height: 1, Round: 0,
		ValidatorSet: fx.ValSet(),

		ProposedHeaders: []ksconsensus.ProposedHeader{ph},

		PrevoteProofs: fx.PrevoteProofMap(ctx, 1, 0, map[string][]int{blockHash: {0}}),
	}
	ktest.SendSoon(t, updates, kslink.RoundStateUpdate{Voting: &rv1})

	_ = ktest.ReceiveSoon(t, cb.ProposedHeaders())
	_ = ktest.ReceiveSoon(t, cb.PrevoteProofs())

	// Same height and round with one more prevote:
	// only the prevote proofs go out again.
	rv2 := rv1.Clone()
	rv2.PrevoteProofs = fx.PrevoteProofMap(ctx, 1, 0, map[string][]int{blockHash: {0, 1}})
	ktest.SendSoon(t, updates, kslink.RoundStateUpdate{Voting: &rv2})

	gotPrevotes := ktest.ReceiveSoon(t, cb.PrevoteProofs())
	require.Len(t, gotPrevotes.Proofs[blockHash], 2)

	ktest.NotSending(t, cb.ProposedHeaders())
	ktest.NotSending(t, cb.PrecommitProofs())
}

func TestChattyStrategy_broadcastsCommittedCertificate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cb := ksp2ptest.NewChannelBroadcaster(ctx)
	s := ksgossip.NewChattyStrategy(ctx, ktest.NewLogger(t), cb)
	defer s.Wait()
	defer cancel()

	updates := make(chan kslink.RoundStateUpdate)
	s.Start(updates)

	fx := ksconsensustest.NewFixture(4)

	ph := fx.NextProposedHeader([]byte("app_data_1"), 0)
	fx.SignProposal(ctx, &ph, 0)
	blockHash := string(ph.Header.Hash)

	qc := fx.QuorumCertificate(ctx, 1, 0, blockHash, []int{0, 1, 2})

	rv := ksconsensus.RoundView{
		Height: 1, Round: 0,
		ValidatorSet: fx.ValSet(),

		ProposedHeaders: []ksconsensus.ProposedHeader{ph},
	}

	ktest.SendSoon(t, updates, kslink.RoundStateUpdate{
		Voting:      &rv,
		CommittedQC: &qc,
	})

	gotQC := ktest.ReceiveSoon(t, cb.QuorumCertificates())
	require.Equal(t, blockHash, gotQC.BlockHash)
	require.Equal(t, uint64(1), gotQC.Height)

	// The view itself still broadcasts after the certificate.
	gotPH := ktest.ReceiveSoon(t, cb.ProposedHeaders())
	require.Equal(t, ph.Header.Hash, gotPH.Header.Hash)
}
