package ksengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksengine"
	"github.com/kestrel-chain/kestrel/ks/ksengine/ksenginetest"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

func prevoteProofMsg(
	ctx context.Context,
	efx *ksenginetest.Fixture,
	height uint64, round uint32,
	votes map[string][]int,
) ksconsensus.PrevoteSparseProof {
	return ksconsensus.PrevoteSparseProof{
		Height: height, Round: round,
		PubKeyHash: string(efx.Fx.ValSet().PubKeyHash),
		Proofs:     efx.Fx.SparsePrevoteProofMap(ctx, height, round, votes),
	}
}

func precommitProofMsg(
	ctx context.Context,
	efx *ksenginetest.Fixture,
	height uint64, round uint32,
	votes map[string][]int,
) ksconsensus.PrecommitSparseProof {
	return ksconsensus.PrecommitSparseProof{
		Height: height, Round: round,
		PubKeyHash: string(efx.Fx.ValSet().PubKeyHash),
		Proofs:     efx.Fx.SparsePrecommitProofMap(ctx, height, round, votes),
	}
}

// handlePrecommitAsync relays precommit proofs on a background goroutine,
// so the test goroutine stays free to serve the driver finalize request
// that a commit triggers.
func handlePrecommitAsync(
	ctx context.Context,
	e *ksengine.Engine,
	p ksconsensus.PrecommitSparseProof,
) <-chan ksconsensus.HandleVoteProofsResult {
	ch := make(chan ksconsensus.HandleVoteProofsResult, 1)
	go func() {
		ch <- e.HandlePrecommitProofs(ctx, p)
	}()
	return ch
}

func handleProposedHeaderAsync(
	ctx context.Context,
	e *ksengine.Engine,
	ph ksconsensus.ProposedHeader,
) <-chan ksconsensus.HandleProposedHeaderResult {
	ch := make(chan ksconsensus.HandleProposedHeaderResult, 1)
	go func() {
		ch <- e.HandleProposedHeader(ctx, ph)
	}()
	return ch
}

func TestEngine_entersInitialRoundFromGenesis(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)
	started := efx.RoundTimer.ProposalStartNotification(1, 0)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(1), erc.RV.Height)
	require.Zero(t, erc.RV.Round)
	require.Equal(t, efx.Fx.ValSet().Epoch, erc.RV.ValidatorSet.Epoch)

	_ = ktest.ReceiveSoon(t, started)
	efx.RoundTimer.RequireActiveProposalTimer(t, 1, 0)

	u := ktest.ReceiveSoon(t, efx.Gossip.Updates)
	require.Equal(t, uint64(1), u.Voting.Height)
	require.Nil(t, u.CommittedQC)
}

func TestEngine_observerCommitsOnPrecommitQuorum(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	proposerIdx := efx.ProposerIdx(1, 0)
	ph := efx.Fx.NextProposedHeader([]byte("app_data_1"), proposerIdx)
	efx.Fx.SignProposal(ctx, &ph, proposerIdx)

	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, ph))
	require.Equal(t, ksconsensus.HandleProposedHeaderAlreadyStored, e.HandleProposedHeader(ctx, ph))

	blockHash := string(ph.Header.Hash)

	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))
	require.Equal(t, ksconsensus.HandleVoteProofsNoNewSignatures, e.HandlePrevoteProofs(ctx, prevotes))

	badHash := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {3}})
	badHash.PubKeyHash = "bogus"
	require.Equal(t, ksconsensus.HandleVoteProofsBadPubKeyHash, e.HandlePrevoteProofs(ctx, badHash))

	future := prevoteProofMsg(ctx, efx, 9, 0, map[string][]int{blockHash: {3}})
	require.Equal(t, ksconsensus.HandleVoteProofsTooFarInFuture, e.HandlePrevoteProofs(ctx, future))

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2, 3}})
	resCh := handlePrecommitAsync(ctx, e, precommits)

	req := efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),
	})
	require.Equal(t, ph.Header.Hash, req.Header.Hash)
	require.Empty(t, req.RelayEntries)

	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	fh, err := efx.FinStore.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), fh)

	round, gotHash, _, appStateHash, err := efx.FinStore.LoadFinalizationByHeight(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, round)
	require.Equal(t, blockHash, gotHash)
	require.Equal(t, "app_state_1", appStateHash)

	ch, err := efx.BlockStore.LoadCommittedBlock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, ph.Header.Hash, ch.Header.Hash)
	require.Equal(t, blockHash, ch.QC.BlockHash)

	efx.RoundTimer.RequireActiveCommitWaitTimer(t, 1, 0)

	nextStarted := efx.RoundTimer.ProposalStartNotification(2, 0)
	require.NoError(t, efx.RoundTimer.ElapseCommitWaitTimer(1, 0))

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(2), erc.RV.Height)
	require.Zero(t, erc.RV.Round)

	_ = ktest.ReceiveSoon(t, nextStarted)
}

func TestEngine_participantProposesAndCommits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)
	efx.CStrat.HandleConsider(func(
		phs []ksconsensus.ProposedHeader, _ ksconsensus.ConsiderProposedHeadersReason,
	) (string, error) {
		if len(phs) == 0 {
			return "", ksconsensus.ErrProposedHeaderChoiceNotReady
		}
		return string(phs[0].Header.Hash), nil
	})

	// The deterministic proposer at 1/0 must be the local signer
	// for the proposal flow to run.
	signerIdx := efx.ProposerIdx(1, 0)

	e := efx.MustNewEngine(ctx, t, ksengine.WithSigner(efx.Signer(signerIdx)))
	defer e.Wait()
	defer cancel()

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	erc.ProposalOut <- ksconsensus.Proposal{DataID: []byte("app_data_1")}

	// The engine must compose the same header the fixture builds
	// from the same inputs.
	expPH := efx.Fx.NextProposedHeader([]byte("app_data_1"), signerIdx)
	blockHash := string(expPH.Header.Hash)

	otherIdxs := make([]int, 0, 3)
	for i := range 4 {
		if i != signerIdx {
			otherIdxs = append(otherIdxs, i)
		}
	}

	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: otherIdxs})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: otherIdxs})
	resCh := handlePrecommitAsync(ctx, e, precommits)

	req := efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),
	})
	require.Equal(t, expPH.Header.Hash, req.Header.Hash)

	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	round, gotHash, _, _, err := efx.FinStore.LoadFinalizationByHeight(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, round)
	require.Equal(t, blockHash, gotHash)
}

func TestEngine_advancesRoundOnNilPrecommitQuorum(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	nextStarted := efx.RoundTimer.ProposalStartNotification(1, 1)

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{"": {0, 1, 2, 3}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrecommitProofs(ctx, precommits))

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(1), erc.RV.Height)
	require.Equal(t, uint32(1), erc.RV.Round)

	_ = ktest.ReceiveSoon(t, nextStarted)

	// Nothing was committed.
	_, err := efx.FinStore.Height(ctx)
	require.Error(t, err)
}

func TestEngine_jumpsToRoundWithQuorumWeightVotes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Zero(t, erc.RV.Round)

	// Votes for round 2 arrive while we sit in round 0.
	// Below quorum weight, they are only stored.
	partial := prevoteProofMsg(ctx, efx, 1, 2, map[string][]int{"some_block": {0, 1}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, partial))
	require.Equal(t, ksconsensus.HandleVoteProofsNoNewSignatures, e.HandlePrevoteProofs(ctx, partial))

	jumped := efx.RoundTimer.ProposalStartNotification(1, 2)

	// A third distinct validator seen in the same round,
	// via the other vote kind, tips the weight to quorum:
	// the network left rounds 0 and 1 behind.
	precommits := precommitProofMsg(ctx, efx, 1, 2, map[string][]int{"": {2}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrecommitProofs(ctx, precommits))

	erc = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(1), erc.RV.Height)
	require.Equal(t, uint32(2), erc.RV.Round)

	_ = ktest.ReceiveSoon(t, jumped)

	// The stored votes became the new round's working proofs.
	require.Equal(t, ksconsensus.HandleVoteProofsNoNewSignatures, e.HandlePrevoteProofs(ctx, partial))
	require.Equal(t, ksconsensus.HandleVoteProofsNoNewSignatures, e.HandlePrecommitProofs(ctx, precommits))
}

func TestEngine_prevoteDelayOnSplitPrevotes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)
	proposalStarted := efx.RoundTimer.ProposalStartNotification(1, 0)
	delayStarted := efx.RoundTimer.PrevoteDelayStartNotification(1, 0)

	e := efx.MustNewEngine(ctx, t, ksengine.WithSigner(efx.Signer(0)))
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	_ = ktest.ReceiveSoon(t, proposalStarted)

	// No proposal arrived; the default choice on timeout is a nil prevote.
	require.NoError(t, efx.RoundTimer.ElapseProposalTimer(1, 0))

	// Two more prevotes for a block the engine never saw:
	// quorum weight is present but no single target has quorum.
	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{"other_block": {1, 2}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	_ = ktest.ReceiveSoon(t, delayStarted)

	nextStarted := efx.RoundTimer.ProposalStartNotification(1, 1)

	// On the delay elapsing, the most voted block has no quorum,
	// so the engine precommits nil.
	require.NoError(t, efx.RoundTimer.ElapsePrevoteDelayTimer(1, 0))

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{"": {1, 2, 3}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrecommitProofs(ctx, precommits))

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(1), erc.RV.Height)
	require.Equal(t, uint32(1), erc.RV.Round)

	_ = ktest.ReceiveSoon(t, nextStarted)
}

func TestEngine_lockedPrevoteAndQCAdoption(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)
	efx.CStrat.HandleConsider(func(
		phs []ksconsensus.ProposedHeader, _ ksconsensus.ConsiderProposedHeadersReason,
	) (string, error) {
		if len(phs) == 0 {
			return "", ksconsensus.ErrProposedHeaderChoiceNotReady
		}
		return string(phs[0].Header.Hash), nil
	})

	proposer0 := efx.ProposerIdx(1, 0)

	// Sign as a validator that does not propose at 1/0.
	signerIdx := (proposer0 + 1) % 4

	e := efx.MustNewEngine(ctx, t, ksengine.WithSigner(efx.Signer(signerIdx)))
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	phA := efx.Fx.NextProposedHeader([]byte("data_a"), proposer0)
	efx.Fx.SignProposal(ctx, &phA, proposer0)
	hashA := string(phA.Header.Hash)

	// The engine prevotes for block A through the scripted strategy.
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, phA))

	otherIdxs := make([]int, 0, 3)
	for i := range 4 {
		if i != signerIdx {
			otherIdxs = append(otherIdxs, i)
		}
	}

	// Full prevote power for A makes the engine precommit A,
	// locking on it.
	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{hashA: otherIdxs})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	round1Started := efx.RoundTimer.ProposalStartNotification(1, 1)

	// Everyone else precommitted nil, so the round cannot commit.
	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{"": otherIdxs})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrecommitProofs(ctx, precommits))

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint32(1), erc.RV.Round)
	_ = ktest.ReceiveSoon(t, round1Started)

	// With no proposals in the new round the default choice is nil,
	// but the lock overrides it: the engine must prevote A again.
	require.NoError(t, efx.RoundTimer.ElapseProposalTimer(1, 1))

	for {
		u := ktest.ReceiveSoon(t, efx.Gossip.Updates)
		if u.Voting.Round != 1 {
			continue
		}
		if _, ok := u.Voting.PrevoteProofs[hashA]; ok {
			break
		}
	}

	// A certificate for a different block releases the lock
	// and commits once its header arrives.
	proposer1 := efx.ProposerIdx(1, 1)
	phB := efx.Fx.NextProposedHeader([]byte("data_b"), proposer1)
	phB.Round = 1
	efx.Fx.SignProposal(ctx, &phB, proposer1)
	hashB := string(phB.Header.Hash)

	qc := efx.Fx.QuorumCertificate(ctx, 1, 1, hashB, otherIdxs)
	require.Equal(t, ksconsensus.HandleQCAccepted, e.HandleQuorumCertificate(ctx, qc))

	resCh := handleProposedHeaderAsync(ctx, e, phB)

	req := efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_b"),
	})
	require.Equal(t, phB.Header.Hash, req.Header.Hash)
	require.Equal(t, uint32(1), req.Round)

	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, ktest.ReceiveSoon(t, resCh))

	round, gotHash, _, _, err := efx.FinStore.LoadFinalizationByHeight(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), round)
	require.Equal(t, hashB, gotHash)
}

func TestEngine_recordsDoubleSignEvidence(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	proposerIdx := efx.ProposerIdx(1, 0)

	ph1 := efx.Fx.NextProposedHeader([]byte("data_1"), proposerIdx)
	efx.Fx.SignProposal(ctx, &ph1, proposerIdx)
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, ph1))

	// A second, different proposal from the same proposer in the same round.
	ph2 := efx.Fx.NextProposedHeader([]byte("data_2"), proposerIdx)
	efx.Fx.SignProposal(ctx, &ph2, proposerIdx)
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, ph2))

	evs, err := efx.EvStore.LoadEvidence(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, ksconsensus.VoteKindUnknown, evs[0].Kind)
	require.True(t, evs[0].PubKey.Equal(efx.Fx.ValidatorPubKey(proposerIdx)))

	// One validator prevoting two different blocks.
	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{
		"block_x": {1},
		"block_y": {1},
	})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	evs, err = efx.EvStore.LoadEvidence(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	var voteEv ksconsensus.DoubleSignEvidence
	for _, ev := range evs {
		if ev.Kind == ksconsensus.VoteKindPrevote {
			voteEv = ev
		}
	}
	require.Equal(t, ksconsensus.VoteKindPrevote, voteEv.Kind)
	require.True(t, voteEv.PubKey.Equal(efx.Fx.ValidatorPubKey(1)))
	require.Equal(t, "block_x", voteEv.FirstHash)
	require.Equal(t, "block_y", voteEv.SecondHash)
}

func TestEngine_relayEntriesFollowOwnProposal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)
	efx.CStrat.HandleConsider(func(
		phs []ksconsensus.ProposedHeader, _ ksconsensus.ConsiderProposedHeadersReason,
	) (string, error) {
		if len(phs) == 0 {
			return "", ksconsensus.ErrProposedHeaderChoiceNotReady
		}
		return string(phs[0].Header.Hash), nil
	})

	efx.RelayQueue.Enqueue(xbridge.RelayEntry{
		ChainID: "chain_a", Account: "acct_1", Seq: 0, Payload: []byte("payload_0"),
	})
	efx.RelayQueue.Enqueue(xbridge.RelayEntry{
		ChainID: "chain_a", Account: "acct_1", Seq: 1, Payload: []byte("payload_1"),
	})

	signerIdx := efx.ProposerIdx(1, 0)

	e := efx.MustNewEngine(ctx, t,
		ksengine.WithSigner(efx.Signer(signerIdx)),
		ksengine.WithRelayQueue(efx.RelayQueue, 8),
	)
	defer e.Wait()
	defer cancel()

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	erc.ProposalOut <- ksconsensus.Proposal{DataID: []byte("app_data_1")}

	// The collected entries ride in the driver annotation,
	// under the header hash.
	expPH := efx.Fx.NextProposedHeader([]byte("app_data_1"), signerIdx)
	enc, err := xbridge.EncodeRelayEntries([]xbridge.RelayEntry{
		{ChainID: "chain_a", Account: "acct_1", Seq: 0, Payload: []byte("payload_0")},
		{ChainID: "chain_a", Account: "acct_1", Seq: 1, Payload: []byte("payload_1")},
	})
	require.NoError(t, err)
	expPH.Header.Annotations.Driver = enc
	efx.Fx.RecalculateHash(&expPH.Header)

	blockHash := string(expPH.Header.Hash)

	otherIdxs := make([]int, 0, 3)
	for i := range 4 {
		if i != signerIdx {
			otherIdxs = append(otherIdxs, i)
		}
	}

	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: otherIdxs})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: otherIdxs})
	resCh := handlePrecommitAsync(ctx, e, precommits)

	req := efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),
	})
	require.Len(t, req.RelayEntries, 2)
	require.Equal(t, uint64(0), req.RelayEntries[0].Seq)
	require.Equal(t, uint64(1), req.RelayEntries[1].Seq)

	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	// The committed entries left the queue for good.
	require.Zero(t, efx.RelayQueue.Len())
}

func TestEngine_relayEntriesInPeerBlockReachDriver(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	// The same verified payload sits on the local queue,
	// but another validator's proposal carries it first.
	entries := []xbridge.RelayEntry{
		{ChainID: "chain_a", Account: "acct_1", Seq: 0, Payload: []byte("payload_0")},
	}
	efx.RelayQueue.Enqueue(entries[0])

	e := efx.MustNewEngine(ctx, t,
		ksengine.WithRelayQueue(efx.RelayQueue, 8),
	)
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	proposerIdx := efx.ProposerIdx(1, 0)
	ph := efx.Fx.NextProposedHeader([]byte("app_data_1"), proposerIdx)

	enc, err := xbridge.EncodeRelayEntries(entries)
	require.NoError(t, err)
	ph.Header.Annotations.Driver = enc
	efx.Fx.RecalculateHash(&ph.Header)
	efx.Fx.SignProposal(ctx, &ph, proposerIdx)

	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, ph))

	blockHash := string(ph.Header.Hash)

	prevotes := prevoteProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2}})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, e.HandlePrevoteProofs(ctx, prevotes))

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2, 3}})
	resCh := handlePrecommitAsync(ctx, e, precommits)

	// Every validator folds the block-carried entries into state,
	// not only the proposer.
	req := efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),
	})
	require.Equal(t, entries, req.RelayEntries)

	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	// The local copy is spent; it will not ride a later proposal.
	require.Zero(t, efx.RelayQueue.Len())
	require.Nil(t, efx.RelayQueue.Collect(2, 8))
}

func TestEngine_epochTransitionFromDriver(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	efx := ksenginetest.NewFixture(ctx, t, 4)

	e := efx.MustNewEngine(ctx, t)
	defer e.Wait()
	defer cancel()

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	proposerIdx := efx.ProposerIdx(1, 0)
	ph := efx.Fx.NextProposedHeader([]byte("app_data_1"), proposerIdx)
	efx.Fx.SignProposal(ctx, &ph, proposerIdx)
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e.HandleProposedHeader(ctx, ph))

	blockHash := string(ph.Header.Hash)

	precommits := precommitProofMsg(ctx, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2, 3}})
	resCh := handlePrecommitAsync(ctx, e, precommits)

	// The driver signals an epoch boundary, effective next height.
	_ = efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),

		Validators: efx.Fx.Vals(),
		Epoch:      2,
	})

	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	require.NoError(t, efx.RoundTimer.ElapseCommitWaitTimer(1, 0))

	erc := ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(2), erc.RV.Height)
	require.Equal(t, uint64(2), erc.RV.ValidatorSet.Epoch)
}

func TestEngine_resumesFromStores(t *testing.T) {
	t.Parallel()

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	efx := ksenginetest.NewFixture(ctx1, t, 4)

	e1 := efx.MustNewEngine(ctx1, t)

	_ = ktest.ReceiveSoon(t, efx.CStrat.EnterRoundCalls)

	proposerIdx := efx.ProposerIdx(1, 0)
	ph1 := efx.Fx.NextProposedHeader([]byte("app_data_1"), proposerIdx)
	efx.Fx.SignProposal(ctx1, &ph1, proposerIdx)
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e1.HandleProposedHeader(ctx1, ph1))

	blockHash := string(ph1.Header.Hash)

	precommits := precommitProofMsg(ctx1, efx, 1, 0, map[string][]int{blockHash: {0, 1, 2, 3}})
	resCh := handlePrecommitAsync(ctx1, e1, precommits)
	_ = efx.RespondFinalize(t, ksdriver.FinalizeBlockResponse{
		AppStateHash: []byte("app_state_1"),
	})
	require.Equal(t, ksconsensus.HandleVoteProofsAccepted, ktest.ReceiveSoon(t, resCh))

	cancel1()
	e1.Wait()

	// A new engine over the same stores resumes at the next height.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	efx2 := ksenginetest.NewFixture(ctx2, t, 4)
	efx2.FinStore = efx.FinStore
	efx2.BlockStore = efx.BlockStore

	e2 := efx2.MustNewEngine(ctx2, t)
	defer e2.Wait()
	defer cancel2()

	erc := ktest.ReceiveSoon(t, efx2.CStrat.EnterRoundCalls)
	require.Equal(t, uint64(2), erc.RV.Height)
	require.Zero(t, erc.RV.Round)

	// A header chaining from the committed block is accepted,
	// including verification of its previous-commit certificate.
	efx2.Fx.CommitHeader(ctx2, ph1.Header, []byte("app_state_1"), 0)

	proposer2 := efx2.ProposerIdx(2, 0)
	ph2 := efx2.Fx.NextProposedHeader([]byte("app_data_2"), proposer2)
	efx2.Fx.SignProposal(ctx2, &ph2, proposer2)
	require.Equal(t, ksconsensus.HandleProposedHeaderAccepted, e2.HandleProposedHeader(ctx2, ph2))
}
