package ksengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/kestrel-chain/kestrel/internal/kchan"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// kernelState is the mutable state owned by the kernel goroutine.
// Nothing here is safe to touch from any other goroutine.
type kernelState struct {
	rv ksconsensus.RoundView

	step Step

	prevBlockHash    []byte
	prevAppStateHash []byte

	prevCommitQC    ksconsensus.QuorumCertificate
	hasPrevCommitQC bool

	// The NextValidatorSet for headers proposed at the current height.
	nextVals ksconsensus.ValidatorSet

	// Proof-of-lock state. A lock is taken when we precommit a block
	// and released on entering a new height,
	// or when a certificate for a different block proves the network moved on.
	lockedRound     uint32
	lockedBlockHash string
	hasLock         bool

	prevoteCast   bool
	precommitCast bool

	// Whether a background ChooseProposedHeader call is in flight.
	choosing bool

	// First block hash each validator index was seen voting for
	// in the current round, per vote kind.
	prevoteSeen, precommitSeen map[int]string

	// Vote proofs observed for later rounds of the current height.
	// Quorum-weight participation in a later round proves the
	// network moved on without us.
	futureRounds map[uint32]*futureRoundVotes

	// Bridge payloads collected for our own proposal at the current height.
	relayCollected []xbridge.RelayEntry
	relayInFlight  bool

	// A verified certificate for a block whose header we have not yet seen.
	pendingQC    ksconsensus.QuorumCertificate
	hasPendingQC bool

	committedHeight uint64

	timerElapsed <-chan struct{}
	timerCancel  func()
	runningTimer timerKind

	// Receives the strategy's proposal data when we are the proposer.
	// Replaced each round so stale sends are discarded.
	proposalCh chan ksconsensus.Proposal

	// Receives results of background ChooseProposedHeader calls.
	choiceCh chan headerChoice

	pendingGossip *kslink.RoundStateUpdate
}

// futureRoundVotes accumulates proofs for one not-yet-entered round
// of the current height.
type futureRoundVotes struct {
	prevotes, precommits map[string]kcrypto.SignatureProof
}

// votingPower totals the weight of distinct validators seen voting
// in this round, across both vote kinds and all block hashes.
func (fr *futureRoundVotes) votingPower(vals []ksconsensus.Validator) uint64 {
	var union *bitset.BitSet
	for _, proofs := range []map[string]kcrypto.SignatureProof{fr.prevotes, fr.precommits} {
		for _, proof := range proofs {
			bs := proof.SignatureBitSet()
			if union == nil {
				union = bs.Clone()
			} else {
				union.InPlaceUnion(bs)
			}
		}
	}
	if union == nil {
		return 0
	}

	var power uint64
	for i, ok := union.NextSet(0); ok && int(i) < len(vals); i, ok = union.NextSet(i + 1) {
		power += vals[i].Power
	}
	return power
}

type headerChoice struct {
	Height uint64
	Round  uint32

	Hash string
	Err  error
}

func newKernelState() *kernelState {
	return &kernelState{
		rv: ksconsensus.RoundView{
			PrevoteProofs:   make(map[string]kcrypto.SignatureProof),
			PrecommitProofs: make(map[string]kcrypto.SignatureProof),

			VoteSummary: ksconsensus.NewVoteSummary(),
		},

		step: StepAwaitingProposal,

		prevoteSeen:   make(map[int]string),
		precommitSeen: make(map[int]string),

		futureRounds: make(map[uint32]*futureRoundVotes),

		choiceCh: make(chan headerChoice, 4),
	}
}

func (ks *kernelState) cancelTimer() {
	if ks.timerCancel != nil {
		ks.timerCancel()
	}
	ks.timerElapsed = nil
	ks.timerCancel = nil
	ks.runningTimer = timerNone
}

// pendGossip stages a round state snapshot for the gossip strategy.
// A committed certificate already staged is carried forward
// so a fast height transition cannot drop it.
func (ks *kernelState) pendGossip(qc *ksconsensus.QuorumCertificate) {
	rvc := ks.rv.Clone()
	u := kslink.RoundStateUpdate{Voting: &rvc}

	if qc != nil {
		qcc := qc.Clone()
		u.CommittedQC = &qcc
	} else if ks.pendingGossip != nil && ks.pendingGossip.CommittedQC != nil {
		u.CommittedQC = ks.pendingGossip.CommittedQC
	}

	ks.pendingGossip = &u
}

func (e *Engine) kernel(ctx context.Context, ks *kernelState) {
	defer close(e.kernelDone)

	defer func() {
		if ks.timerCancel != nil {
			ks.timerCancel()
		}
	}()

	wdSig := e.watchdog.Monitor(ctx, kwatchdog.MonitorConfig{
		Name:     "engine",
		Interval: 10 * time.Second, Jitter: time.Second,
		ResponseTimeout: 5 * time.Second,
	})

	e.enterRound(ctx, ks)

	for {
		// The gossip send is only selectable while an update is staged;
		// a nil channel never sends.
		var gossipCh chan<- kslink.RoundStateUpdate
		var gossipVal kslink.RoundStateUpdate
		if ks.pendingGossip != nil {
			gossipCh = e.gossipOut
			gossipVal = *ks.pendingGossip
		}

		select {
		case <-ctx.Done():
			e.log.Info("Engine kernel stopping", "cause", context.Cause(ctx))
			return

		case sig := <-wdSig:
			close(sig.Alive)

		case req := <-e.phRequests:
			req.Resp <- e.handleProposedHeader(ctx, ks, req.PH)

		case req := <-e.prevoteRequests:
			req.Resp <- e.handlePrevoteProofs(ctx, ks, req.Proof)

		case req := <-e.precommitRequests:
			req.Resp <- e.handlePrecommitProofs(ctx, ks, req.Proof)

		case req := <-e.qcRequests:
			req.Resp <- e.handleQuorumCertificate(ctx, ks, req.QC)

		case p := <-ks.proposalCh:
			e.composeProposal(ctx, ks, p)

		case c := <-ks.choiceCh:
			if c.Height != ks.rv.Height || c.Round != ks.rv.Round {
				// Stale result from a round we already left.
				continue
			}
			ks.choosing = false
			if c.Err != nil {
				e.fatal(fmt.Errorf("consensus strategy failed to choose proposed header: %w", c.Err))
				return
			}
			e.castPrevote(ctx, ks, c.Hash)

		case <-ks.timerElapsed:
			e.handleTimerElapsed(ctx, ks)

		case gossipCh <- gossipVal:
			ks.pendingGossip = nil
		}
	}
}

// fatal reports an unrecoverable error and asks the watchdog
// to bring down the node. The kernel keeps running until
// the resulting context cancellation reaches it.
func (e *Engine) fatal(err error) {
	e.log.Error("Fatal engine error", "err", err)
	e.watchdog.Terminate("engine: " + err.Error())
}

func (e *Engine) startTimer(ctx context.Context, ks *kernelState, kind timerKind) {
	ks.cancelTimer()

	h, r := ks.rv.Height, ks.rv.Round

	var ch <-chan struct{}
	var cancel func()
	switch kind {
	case timerProposal:
		ch, cancel = e.timer.ProposalTimer(ctx, h, r)
	case timerPrevoteDelay:
		ch, cancel = e.timer.PrevoteDelayTimer(ctx, h, r)
	case timerPrecommitDelay:
		ch, cancel = e.timer.PrecommitDelayTimer(ctx, h, r)
	case timerCommitWait:
		ch, cancel = e.timer.CommitWaitTimer(ctx, h, r)
	default:
		panic(fmt.Errorf("BUG: startTimer called with invalid timer kind %d", kind))
	}

	ks.timerElapsed = ch
	ks.timerCancel = cancel
	ks.runningTimer = kind
}

func (e *Engine) emitMetrics(ks *kernelState) {
	if e.metricsCh == nil {
		return
	}

	m := Metrics{
		CommittedHeight: ks.committedHeight,

		VotingHeight: ks.rv.Height,
		VotingRound:  ks.rv.Round,
	}

	// Best effort; a slow receiver only misses intermediate snapshots.
	select {
	case e.metricsCh <- m:
	default:
	}
}

// enterHeight resets per-height state and begins round zero at h.
func (e *Engine) enterHeight(ctx context.Context, ks *kernelState, h uint64) {
	ks.cancelTimer()

	ks.rv.Reset()
	ks.rv.Height = h
	ks.rv.ValidatorSet = e.epochs.SetAtHeight(h)

	ks.hasLock = false
	ks.lockedRound = 0
	ks.lockedBlockHash = ""

	ks.hasPendingQC = false
	ks.pendingQC = ksconsensus.QuorumCertificate{}

	ks.relayCollected = nil
	ks.relayInFlight = false

	clear(ks.prevoteSeen)
	clear(ks.precommitSeen)
	clear(ks.futureRounds)

	e.enterRound(ctx, ks)
}

// advanceRound moves to the next round of the same height.
func (e *Engine) advanceRound(ctx context.Context, ks *kernelState) {
	e.moveToRound(ctx, ks, ks.rv.Round+1)
}

// moveToRound leaves the current round for target,
// returning any collected bridge payloads to the relay queue.
// Vote proofs already gathered for target become the round's proofs.
func (e *Engine) moveToRound(ctx context.Context, ks *kernelState, target uint32) {
	ks.cancelTimer()

	if e.relay != nil && ks.relayInFlight {
		e.relay.Abandoned(ks.rv.Height)
		ks.relayCollected = nil
		ks.relayInFlight = false
	}

	ks.rv.ResetForSameHeight()
	ks.rv.Round = target

	clear(ks.prevoteSeen)
	clear(ks.precommitSeen)

	e.enterRound(ctx, ks)

	e.adoptFutureRoundVotes(ctx, ks)
}

// adoptFutureRoundVotes folds stored proofs for the now-current round
// into the round view and discards entries for rounds already passed.
func (e *Engine) adoptFutureRoundVotes(ctx context.Context, ks *kernelState) {
	for r := range ks.futureRounds {
		if r < ks.rv.Round {
			delete(ks.futureRounds, r)
		}
	}

	fr := ks.futureRounds[ks.rv.Round]
	if fr == nil {
		return
	}
	delete(ks.futureRounds, ks.rv.Round)

	for blockHash, proof := range fr.prevotes {
		ks.rv.PrevoteProofs[blockHash] = proof
	}
	for blockHash, proof := range fr.precommits {
		ks.rv.PrecommitProofs[blockHash] = proof
	}

	e.recordEquivocations(ctx, ks, ksconsensus.VoteKindPrevote, ks.rv.PrevoteProofs, ks.prevoteSeen)
	e.recordEquivocations(ctx, ks, ksconsensus.VoteKindPrecommit, ks.rv.PrecommitProofs, ks.precommitSeen)

	ks.rv.VoteSummary.SetPrevotePowers(ks.rv.ValidatorSet.Validators, ks.rv.PrevoteProofs)
	ks.rv.VoteSummary.SetPrecommitPowers(ks.rv.ValidatorSet.Validators, ks.rv.PrecommitProofs)
	ks.pendGossip(nil)

	e.checkPrevotes(ctx, ks)
	e.checkPrecommits(ctx, ks)
}

func (e *Engine) enterRound(ctx context.Context, ks *kernelState) {
	ks.step = StepAwaitingProposal
	ks.prevoteCast = false
	ks.precommitCast = false
	ks.choosing = false

	ks.rv.VoteSummary.SetAvailablePower(ks.rv.ValidatorSet.Validators)

	e.log.Info("Entering round", "height", ks.rv.Height, "round", ks.rv.Round)

	// A fresh channel each round so proposal data
	// from an abandoned round cannot leak in.
	ks.proposalCh = make(chan ksconsensus.Proposal, 1)

	if err := e.cStrat.EnterRound(ctx, ks.rv.Clone(), ks.proposalCh); err != nil {
		e.fatal(fmt.Errorf("consensus strategy failed to enter round %d/%d: %w", ks.rv.Height, ks.rv.Round, err))
		return
	}

	e.startTimer(ctx, ks, timerProposal)

	ks.pendGossip(nil)
	e.emitMetrics(ks)
}

func (e *Engine) handleTimerElapsed(ctx context.Context, ks *kernelState) {
	kind := ks.runningTimer

	// The timer fired; there is nothing to cancel.
	ks.timerElapsed = nil
	ks.timerCancel = nil
	ks.runningTimer = timerNone

	switch kind {
	case timerProposal:
		e.chooseProposedHeader(ctx, ks)
	case timerPrevoteDelay:
		e.decidePrecommit(ctx, ks)
	case timerPrecommitDelay:
		e.advanceRound(ctx, ks)
	case timerCommitWait:
		e.enterHeight(ctx, ks, ks.rv.Height+1)
	default:
		panic(fmt.Errorf("BUG: timer elapsed with invalid timer kind %d", kind))
	}
}

// chooseProposedHeader runs the strategy's blocking choice
// in a background goroutine, reporting back through choiceCh.
func (e *Engine) chooseProposedHeader(ctx context.Context, ks *kernelState) {
	if ks.prevoteCast || ks.choosing {
		return
	}
	ks.choosing = true

	phs := slices.Clone(ks.rv.ProposedHeaders)
	h, r := ks.rv.Height, ks.rv.Round
	ch := ks.choiceCh

	go func() {
		hash, err := e.cStrat.ChooseProposedHeader(ctx, phs)
		kchan.SendC(
			ctx, e.log,
			ch, headerChoice{Height: h, Round: r, Hash: hash, Err: err},
			"sending proposed header choice",
		)
	}()
}

// composeProposal turns the strategy's proposal data into a signed
// proposed header from the local validator.
func (e *Engine) composeProposal(ctx context.Context, ks *kernelState, p ksconsensus.Proposal) {
	if e.signer == nil {
		e.log.Warn("Ignoring proposal data: engine has no signer")
		return
	}
	if ks.step != StepAwaitingProposal {
		e.log.Warn("Ignoring proposal data arriving after the proposal step", "step", ks.step)
		return
	}

	// Relay entries ride in the driver annotation so they are
	// covered by the header hash and signature, and every
	// validator finalizing this block sees the same payloads.
	ann := p.HeaderAnnotations
	if e.relay != nil && !ks.relayInFlight {
		ks.relayCollected = e.relay.Collect(ks.rv.Height, e.maxRelayPerBlock)
		ks.relayInFlight = len(ks.relayCollected) > 0
	}
	if len(ks.relayCollected) > 0 {
		enc, err := xbridge.EncodeRelayEntries(ks.relayCollected)
		if err != nil {
			e.fatal(fmt.Errorf("failed to encode relay entries: %w", err))
			return
		}
		ann.Driver = enc
	}

	h := ksconsensus.Header{
		PrevBlockHash: bytes.Clone(ks.prevBlockHash),
		Height:        ks.rv.Height,

		ValidatorSet:     ks.rv.ValidatorSet,
		NextValidatorSet: ks.nextVals,

		DataID: p.DataID,

		PrevAppStateHash: bytes.Clone(ks.prevAppStateHash),

		Annotations: ann,
	}
	if ks.hasPrevCommitQC {
		h.PrevCommitQC = ks.prevCommitQC.Clone()
	}

	hash, err := e.hashScheme.Header(h)
	if err != nil {
		e.fatal(fmt.Errorf("failed to hash proposed header: %w", err))
		return
	}
	h.Hash = hash

	ph := ksconsensus.ProposedHeader{
		Header: h,
		Round:  ks.rv.Round,

		ProposerPubKey: e.signer.PubKey(),

		Annotations: p.ProposalAnnotations,
	}
	if err := e.signer.SignProposedHeader(ctx, &ph); err != nil {
		e.fatal(fmt.Errorf("failed to sign proposed header: %w", err))
		return
	}

	ks.rv.ProposedHeaders = append(ks.rv.ProposedHeaders, ph)
	ks.pendGossip(nil)

	// A precommit quorum may have arrived before our own proposal
	// finished composing.
	if ks.hasPendingQC && ks.pendingQC.BlockHash == string(hash) {
		qc := ks.pendingQC
		ks.hasPendingQC = false
		ks.pendingQC = ksconsensus.QuorumCertificate{}

		e.finalizeBlock(ctx, ks, ph, qc)
		return
	}

	e.considerProposals(ctx, ks, []string{string(hash)})
}

func (e *Engine) considerProposals(ctx context.Context, ks *kernelState, newHashes []string) {
	if ks.step != StepAwaitingProposal || ks.prevoteCast || ks.choosing {
		return
	}

	reason := ksconsensus.ConsiderProposedHeadersReason{
		NewProposedHeaders: newHashes,

		MajorityVotingPowerPresent: ks.rv.VoteSummary.TotalPrevotePower >= ks.rv.ValidatorSet.QuorumThreshold(),
	}

	hash, err := e.cStrat.ConsiderProposedHeaders(ctx, slices.Clone(ks.rv.ProposedHeaders), reason)
	if err != nil {
		if errors.Is(err, ksconsensus.ErrProposedHeaderChoiceNotReady) {
			return
		}
		e.fatal(fmt.Errorf("consensus strategy failed considering proposed headers: %w", err))
		return
	}

	e.castPrevote(ctx, ks, hash)
}

func (e *Engine) castPrevote(ctx context.Context, ks *kernelState, blockHash string) {
	if ks.prevoteCast {
		return
	}

	if ks.hasLock {
		// A locked validator keeps prevoting its locked block
		// until a certificate releases the lock.
		blockHash = ks.lockedBlockHash
	}

	ks.cancelTimer()
	ks.step = StepAwaitingPrevotes
	ks.prevoteCast = true

	if e.signer != nil {
		vt := ksconsensus.VoteTarget{
			Height:    ks.rv.Height,
			Round:     ks.rv.Round,
			BlockHash: blockHash,
		}
		signContent, sig, err := e.signer.Prevote(ctx, vt)
		if err != nil {
			e.fatal(fmt.Errorf("failed to sign prevote: %w", err))
			return
		}
		if err := e.addOwnVote(ks, ks.rv.PrevoteProofs, blockHash, signContent, sig); err != nil {
			e.fatal(fmt.Errorf("failed to record own prevote: %w", err))
			return
		}
	}

	ks.rv.VoteSummary.SetPrevotePowers(ks.rv.ValidatorSet.Validators, ks.rv.PrevoteProofs)
	ks.pendGossip(nil)

	e.checkPrevotes(ctx, ks)
}

// addOwnVote records the local validator's signature
// into the proof for the targeted block.
func (e *Engine) addOwnVote(
	ks *kernelState,
	proofs map[string]kcrypto.SignatureProof,
	blockHash string,
	signContent, sig []byte,
) error {
	proof, ok := proofs[blockHash]
	if !ok {
		var err error
		proof, err = e.sps.New(
			signContent,
			ksconsensus.ValidatorsToPubKeys(ks.rv.ValidatorSet.Validators),
			string(ks.rv.ValidatorSet.PubKeyHash),
		)
		if err != nil {
			return fmt.Errorf("failed to build signature proof: %w", err)
		}
		proofs[blockHash] = proof
	}

	return proof.AddSignature(sig, e.signer.PubKey())
}

func (e *Engine) checkPrevotes(ctx context.Context, ks *kernelState) {
	if ks.step == StepCommitWait {
		return
	}

	vs := &ks.rv.VoteSummary
	thresh := ks.rv.ValidatorSet.QuorumThreshold()

	if !ks.prevoteCast {
		// A prevote quorum arriving before our own prevote
		// is a strong signal to stop waiting for more proposals.
		if vs.TotalPrevotePower >= thresh {
			e.considerProposals(ctx, ks, nil)
		}
		return
	}
	if ks.precommitCast {
		return
	}

	mostPow := vs.PrevoteBlockPower[vs.MostVotedPrevoteHash]
	switch {
	case mostPow >= thresh || vs.TotalPrevotePower == vs.AvailablePower:
		e.decidePrecommit(ctx, ks)
	case vs.TotalPrevotePower >= thresh && ks.runningTimer != timerPrevoteDelay:
		// Quorum weight present but split; give stragglers a bounded window.
		e.startTimer(ctx, ks, timerPrevoteDelay)
	}
}

func (e *Engine) decidePrecommit(ctx context.Context, ks *kernelState) {
	if ks.precommitCast {
		return
	}

	hash, err := e.cStrat.DecidePrecommit(ctx, ks.rv.VoteSummary.Clone())
	if err != nil {
		e.fatal(fmt.Errorf("consensus strategy failed to decide precommit: %w", err))
		return
	}

	if hash != "" && ks.rv.VoteSummary.PrevoteBlockPower[hash] < ks.rv.ValidatorSet.QuorumThreshold() {
		// Precommitting a block requires a prevote quorum for it.
		e.log.Warn(
			"Consensus strategy chose a precommit without prevote quorum; precommitting nil instead",
			"block_hash", fmt.Sprintf("%x", hash),
		)
		hash = ""
	}

	e.castPrecommit(ctx, ks, hash)
}

func (e *Engine) castPrecommit(ctx context.Context, ks *kernelState, blockHash string) {
	ks.cancelTimer()
	ks.step = StepAwaitingPrecommits
	ks.precommitCast = true

	if blockHash != "" {
		ks.hasLock = true
		ks.lockedRound = ks.rv.Round
		ks.lockedBlockHash = blockHash
	}

	if e.signer != nil {
		vt := ksconsensus.VoteTarget{
			Height:    ks.rv.Height,
			Round:     ks.rv.Round,
			BlockHash: blockHash,
		}
		signContent, sig, err := e.signer.Precommit(ctx, vt)
		if err != nil {
			e.fatal(fmt.Errorf("failed to sign precommit: %w", err))
			return
		}
		if err := e.addOwnVote(ks, ks.rv.PrecommitProofs, blockHash, signContent, sig); err != nil {
			e.fatal(fmt.Errorf("failed to record own precommit: %w", err))
			return
		}
	}

	ks.rv.VoteSummary.SetPrecommitPowers(ks.rv.ValidatorSet.Validators, ks.rv.PrecommitProofs)
	ks.pendGossip(nil)

	e.checkPrecommits(ctx, ks)
}

func (e *Engine) checkPrecommits(ctx context.Context, ks *kernelState) {
	if ks.step == StepCommitWait {
		return
	}

	vs := &ks.rv.VoteSummary
	thresh := ks.rv.ValidatorSet.QuorumThreshold()

	most := vs.MostVotedPrecommitHash
	mostPow := vs.PrecommitBlockPower[most]

	switch {
	case mostPow >= thresh && most != "":
		e.commitBlock(ctx, ks, most)
	case mostPow >= thresh:
		// Quorum precommitted nil; this round cannot commit.
		e.advanceRound(ctx, ks)
	case vs.TotalPrecommitPower == vs.AvailablePower:
		// Everyone voted and nothing reached quorum.
		e.advanceRound(ctx, ks)
	case vs.TotalPrecommitPower >= thresh && ks.precommitCast && ks.runningTimer != timerPrecommitDelay:
		e.startTimer(ctx, ks, timerPrecommitDelay)
	}
}

func findProposedHeader(ks *kernelState, blockHash string) (ksconsensus.ProposedHeader, bool) {
	for _, ph := range ks.rv.ProposedHeaders {
		if string(ph.Header.Hash) == blockHash {
			return ph, true
		}
	}
	return ksconsensus.ProposedHeader{}, false
}

func (e *Engine) commitBlock(ctx context.Context, ks *kernelState, blockHash string) {
	proof, ok := ks.rv.PrecommitProofs[blockHash]
	if !ok {
		panic(fmt.Errorf(
			"BUG: commit requested for block %x with no precommit proof", blockHash,
		))
	}

	qc := ksconsensus.NewQuorumCertificate(ks.rv.Height, ks.rv.Round, blockHash, proof)

	ph, haveHeader := findProposedHeader(ks, blockHash)
	if !haveHeader {
		// Quorum for a block we have not seen proposed.
		// Keep the certificate and finish once the header arrives.
		ks.pendingQC = qc
		ks.hasPendingQC = true
		return
	}

	e.finalizeBlock(ctx, ks, ph, qc)
}

func (e *Engine) finalizeBlock(
	ctx context.Context,
	ks *kernelState,
	ph ksconsensus.ProposedHeader,
	qc ksconsensus.QuorumCertificate,
) {
	h := ks.rv.Height

	ks.cancelTimer()
	ks.step = StepCommitWait

	if err := e.blockStore.SaveCommittedBlock(ctx, ksconsensus.CommittedHeader{
		Header: ph.Header,
		QC:     qc,
	}); err != nil {
		e.fatal(fmt.Errorf("failed to save committed block at height %d: %w", h, err))
		return
	}

	ours := e.signer != nil && e.signer.PubKey().Equal(ph.ProposerPubKey)

	// The committed header's driver annotation is the single source
	// of relay entries, so proposer and observers fold the same
	// payloads into app state. The annotation is under the header
	// hash; a malformed one cannot have gathered a quorum.
	entries, err := xbridge.DecodeRelayEntries(ph.Header.Annotations.Driver)
	if err != nil {
		// Every honest node decodes the same bytes and drops the
		// same malformed annotation, so state stays in agreement.
		e.log.Warn(
			"Ignoring malformed relay annotation in committed header",
			"height", h, "err", err,
		)
		entries = nil
	}

	req := ksdriver.FinalizeBlockRequest{
		Header: ph.Header,
		Round:  qc.Round,

		RelayEntries: entries,

		Resp: make(chan ksdriver.FinalizeBlockResponse, 1),
	}
	resp, ok := kchan.ReqResp(
		ctx, e.log,
		e.finalizeCh, req,
		req.Resp,
		"finalize block",
	)
	if !ok {
		// Context canceled; the kernel is shutting down.
		return
	}

	if err := e.finStore.SaveFinalization(
		ctx,
		h, qc.Round,
		qc.BlockHash,
		ks.rv.ValidatorSet,
		string(resp.AppStateHash),
	); err != nil {
		e.fatal(fmt.Errorf("failed to save finalization at height %d: %w", h, err))
		return
	}

	if e.relay != nil {
		if ks.relayInFlight {
			if ours {
				e.relay.Committed(h)
			} else {
				e.relay.Abandoned(h)
			}
			ks.relayCollected = nil
			ks.relayInFlight = false
		}
		if !ours {
			// Another proposer's block carried these entries;
			// drop any local copies so they are not proposed again.
			e.relay.Spent(entries)
		}
	}

	if resp.Epoch > ks.rv.ValidatorSet.Epoch {
		nv, err := ksconsensus.NewValidatorSet(resp.Epoch, resp.Validators, e.hashScheme)
		if err != nil {
			e.fatal(fmt.Errorf("failed to build validator set for epoch %d: %w", resp.Epoch, err))
			return
		}
		if err := e.epochs.ScheduleTransition(h+1, nv); err != nil {
			e.fatal(fmt.Errorf("failed to schedule epoch transition: %w", err))
			return
		}
		ks.nextVals = nv
	}

	ks.prevBlockHash = ph.Header.Hash
	ks.prevAppStateHash = resp.AppStateHash
	ks.prevCommitQC = qc
	ks.hasPrevCommitQC = true
	ks.committedHeight = h

	e.log.Info(
		"Committed block",
		"height", h, "round", qc.Round,
		"block_hash", fmt.Sprintf("%x", qc.BlockHash),
	)

	ks.pendGossip(&qc)
	e.emitMetrics(ks)

	e.startTimer(ctx, ks, timerCommitWait)
}

func (e *Engine) handleProposedHeader(
	ctx context.Context,
	ks *kernelState,
	ph ksconsensus.ProposedHeader,
) ksconsensus.HandleProposedHeaderResult {
	h := ph.Header

	if h.Height < ks.rv.Height || (h.Height == ks.rv.Height && ph.Round < ks.rv.Round) {
		return ksconsensus.HandleProposedHeaderRoundTooOld
	}
	if h.Height > ks.rv.Height || ph.Round > ks.rv.Round {
		return ksconsensus.HandleProposedHeaderRoundTooFarInFuture
	}

	if !ks.rv.ValidatorSet.Contains(ph.ProposerPubKey) {
		return ksconsensus.HandleProposedHeaderSignerUnrecognized
	}
	expProposer := e.propSel.ProposerAt(h.Height, ph.Round, ks.rv.ValidatorSet)
	if !expProposer.PubKey.Equal(ph.ProposerPubKey) {
		return ksconsensus.HandleProposedHeaderSignerUnrecognized
	}

	signContent, err := ksconsensus.ProposalSignBytes(h, ph.Round, ph.Annotations, e.sigScheme)
	if err != nil {
		e.log.Warn("Failed to build proposal sign bytes", "err", err)
		return ksconsensus.HandleProposedHeaderInternalError
	}
	if !ph.ProposerPubKey.Verify(signContent, ph.Signature) {
		return ksconsensus.HandleProposedHeaderBadSignature
	}

	wantHash, err := e.hashScheme.Header(h)
	if err != nil {
		e.log.Warn("Failed to hash incoming proposed header", "err", err)
		return ksconsensus.HandleProposedHeaderInternalError
	}
	if !bytes.Equal(wantHash, h.Hash) {
		return ksconsensus.HandleProposedHeaderBadBlockHash
	}

	if !bytes.Equal(h.PrevBlockHash, ks.prevBlockHash) {
		e.log.Info(
			"Rejecting proposed header building on a different previous block",
			"got", fmt.Sprintf("%x", h.PrevBlockHash),
			"want", fmt.Sprintf("%x", ks.prevBlockHash),
		)
		return ksconsensus.HandleProposedHeaderBadBlockHash
	}

	if ks.hasPrevCommitQC {
		if h.PrevCommitQC.Height != h.Height-1 ||
			h.PrevCommitQC.BlockHash != string(h.PrevBlockHash) {
			return ksconsensus.HandleProposedHeaderBadPrevCommitQC
		}

		prevVals := e.epochs.SetAtHeight(h.Height - 1)
		if err := ksconsensus.VerifyQuorumCertificate(
			h.PrevCommitQC, prevVals, e.sps, e.sigScheme,
		); err != nil {
			e.log.Info("Rejecting proposed header with invalid previous-commit certificate", "err", err)
			return ksconsensus.HandleProposedHeaderBadPrevCommitQC
		}
	}

	for i := range ks.rv.ProposedHeaders {
		existing := &ks.rv.ProposedHeaders[i]
		if bytes.Equal(existing.Header.Hash, h.Hash) {
			return ksconsensus.HandleProposedHeaderAlreadyStored
		}
		if existing.ProposerPubKey.Equal(ph.ProposerPubKey) {
			// Two different proposals from one proposer in one round.
			e.saveEvidence(ctx, ks, ksconsensus.DoubleSignEvidence{
				Height: h.Height,
				Round:  ph.Round,

				Kind: ksconsensus.VoteKindUnknown,

				PubKey: ph.ProposerPubKey,

				FirstHash:  string(existing.Header.Hash),
				SecondHash: string(h.Hash),
			})
		}
	}

	ks.rv.ProposedHeaders = append(ks.rv.ProposedHeaders, ph.Clone())
	ks.pendGossip(nil)

	if ks.hasPendingQC && ks.pendingQC.BlockHash == string(h.Hash) {
		qc := ks.pendingQC
		ks.hasPendingQC = false
		ks.pendingQC = ksconsensus.QuorumCertificate{}

		e.finalizeBlock(ctx, ks, ph, qc)
		return ksconsensus.HandleProposedHeaderAccepted
	}

	e.considerProposals(ctx, ks, []string{string(h.Hash)})

	return ksconsensus.HandleProposedHeaderAccepted
}

// checkVoteBounds reports whether votes at (h, r) apply to the current round.
func (ks *kernelState) checkVoteBounds(h uint64, r uint32) (ksconsensus.HandleVoteProofsResult, bool) {
	if h < ks.rv.Height || (h == ks.rv.Height && r < ks.rv.Round) {
		return ksconsensus.HandleVoteProofsRoundTooOld, false
	}
	if h > ks.rv.Height || r > ks.rv.Round {
		return ksconsensus.HandleVoteProofsTooFarInFuture, false
	}
	return 0, true
}

func (e *Engine) handlePrevoteProofs(
	ctx context.Context,
	ks *kernelState,
	p ksconsensus.PrevoteSparseProof,
) ksconsensus.HandleVoteProofsResult {
	if p.Height == ks.rv.Height && p.Round > ks.rv.Round {
		return e.absorbFutureRoundVotes(ctx, ks, p.Round, p.PubKeyHash, p.Proofs, ksconsensus.VoteKindPrevote)
	}
	if res, ok := ks.checkVoteBounds(p.Height, p.Round); !ok {
		return res
	}
	if len(p.Proofs) == 0 {
		return ksconsensus.HandleVoteProofsEmpty
	}
	if p.PubKeyHash != string(ks.rv.ValidatorSet.PubKeyHash) {
		return ksconsensus.HandleVoteProofsBadPubKeyHash
	}

	increased, err := e.mergeSparseVotes(ks, ks.rv.PrevoteProofs, p.Proofs, p.Height, p.Round, ksconsensus.PrevoteSignBytes)
	if err != nil {
		e.log.Warn("Failed to merge prevote proofs", "err", err)
		return ksconsensus.HandleVoteProofsInternalError
	}
	if !increased {
		return ksconsensus.HandleVoteProofsNoNewSignatures
	}

	e.recordEquivocations(ctx, ks, ksconsensus.VoteKindPrevote, ks.rv.PrevoteProofs, ks.prevoteSeen)

	ks.rv.VoteSummary.SetPrevotePowers(ks.rv.ValidatorSet.Validators, ks.rv.PrevoteProofs)
	ks.pendGossip(nil)

	e.checkPrevotes(ctx, ks)

	return ksconsensus.HandleVoteProofsAccepted
}

func (e *Engine) handlePrecommitProofs(
	ctx context.Context,
	ks *kernelState,
	p ksconsensus.PrecommitSparseProof,
) ksconsensus.HandleVoteProofsResult {
	if p.Height == ks.rv.Height && p.Round > ks.rv.Round {
		return e.absorbFutureRoundVotes(ctx, ks, p.Round, p.PubKeyHash, p.Proofs, ksconsensus.VoteKindPrecommit)
	}
	if res, ok := ks.checkVoteBounds(p.Height, p.Round); !ok {
		return res
	}
	if len(p.Proofs) == 0 {
		return ksconsensus.HandleVoteProofsEmpty
	}
	if p.PubKeyHash != string(ks.rv.ValidatorSet.PubKeyHash) {
		return ksconsensus.HandleVoteProofsBadPubKeyHash
	}

	increased, err := e.mergeSparseVotes(ks, ks.rv.PrecommitProofs, p.Proofs, p.Height, p.Round, ksconsensus.PrecommitSignBytes)
	if err != nil {
		e.log.Warn("Failed to merge precommit proofs", "err", err)
		return ksconsensus.HandleVoteProofsInternalError
	}
	if !increased {
		return ksconsensus.HandleVoteProofsNoNewSignatures
	}

	e.recordEquivocations(ctx, ks, ksconsensus.VoteKindPrecommit, ks.rv.PrecommitProofs, ks.precommitSeen)

	ks.rv.VoteSummary.SetPrecommitPowers(ks.rv.ValidatorSet.Validators, ks.rv.PrecommitProofs)
	ks.pendGossip(nil)

	e.checkPrecommits(ctx, ks)

	return ksconsensus.HandleVoteProofsAccepted
}

// absorbFutureRoundVotes stores vote proofs for a later round of the
// current height. The same validator set signs every round of a height,
// so the signatures verify now.
//
// Seeing quorum weight vote in a later round means the network left
// this round behind; the kernel skips ahead instead of waiting out
// its timers.
func (e *Engine) absorbFutureRoundVotes(
	ctx context.Context,
	ks *kernelState,
	round uint32,
	pubKeyHash string,
	sparse map[string][]kcrypto.SparseSignature,
	kind ksconsensus.VoteKind,
) ksconsensus.HandleVoteProofsResult {
	if len(sparse) == 0 {
		return ksconsensus.HandleVoteProofsEmpty
	}
	if pubKeyHash != string(ks.rv.ValidatorSet.PubKeyHash) {
		return ksconsensus.HandleVoteProofsBadPubKeyHash
	}

	fr := ks.futureRounds[round]
	if fr == nil {
		fr = &futureRoundVotes{
			prevotes:   make(map[string]kcrypto.SignatureProof),
			precommits: make(map[string]kcrypto.SignatureProof),
		}
		ks.futureRounds[round] = fr
	}

	full := fr.prevotes
	signBytes := ksconsensus.PrevoteSignBytes
	if kind == ksconsensus.VoteKindPrecommit {
		full = fr.precommits
		signBytes = ksconsensus.PrecommitSignBytes
	}

	increased, err := e.mergeSparseVotes(ks, full, sparse, ks.rv.Height, round, signBytes)
	if err != nil {
		e.log.Warn("Failed to merge future round vote proofs", "round", round, "err", err)
		return ksconsensus.HandleVoteProofsInternalError
	}
	if !increased {
		return ksconsensus.HandleVoteProofsNoNewSignatures
	}

	if fr.votingPower(ks.rv.ValidatorSet.Validators) >= ks.rv.ValidatorSet.QuorumThreshold() {
		e.log.Info(
			"Skipping ahead to round with quorum-weight votes",
			"height", ks.rv.Height, "from_round", ks.rv.Round, "to_round", round,
		)
		e.moveToRound(ctx, ks, round)
	}

	return ksconsensus.HandleVoteProofsAccepted
}

// mergeSparseVotes absorbs sparse signatures into the round's full proofs,
// creating proofs for block hashes not yet seen.
// Invalid signatures are not absorbed and do not count as an increase.
func (e *Engine) mergeSparseVotes(
	ks *kernelState,
	full map[string]kcrypto.SignatureProof,
	sparse map[string][]kcrypto.SparseSignature,
	height uint64, round uint32,
	signBytes func(ksconsensus.VoteTarget, ksconsensus.SignatureScheme) ([]byte, error),
) (increased bool, err error) {
	for blockHash, sigs := range sparse {
		proof, ok := full[blockHash]
		if !ok {
			msg, err := signBytes(ksconsensus.VoteTarget{
				Height:    height,
				Round:     round,
				BlockHash: blockHash,
			}, e.sigScheme)
			if err != nil {
				return increased, fmt.Errorf("failed to build vote sign bytes: %w", err)
			}

			proof, err = e.sps.New(
				msg,
				ksconsensus.ValidatorsToPubKeys(ks.rv.ValidatorSet.Validators),
				string(ks.rv.ValidatorSet.PubKeyHash),
			)
			if err != nil {
				return increased, fmt.Errorf("failed to build signature proof: %w", err)
			}
			full[blockHash] = proof
		}

		res := proof.MergeSparse(kcrypto.SparseSignatureProof{
			PubKeyHash: string(ks.rv.ValidatorSet.PubKeyHash),
			Signatures: sigs,
		})
		increased = increased || res.IncreasedSignatures
	}

	return increased, nil
}

// recordEquivocations scans the round's proofs for validators
// with signatures on more than one target and saves evidence for each pair.
// The evidence store deduplicates repeat submissions.
func (e *Engine) recordEquivocations(
	ctx context.Context,
	ks *kernelState,
	kind ksconsensus.VoteKind,
	proofs map[string]kcrypto.SignatureProof,
	seen map[int]string,
) {
	vals := ks.rv.ValidatorSet.Validators

	for blockHash, proof := range proofs {
		bs := proof.SignatureBitSet()
		for i, ok := bs.NextSet(0); ok && int(i) < len(vals); i, ok = bs.NextSet(i + 1) {
			idx := int(i)

			first, saw := seen[idx]
			if !saw {
				seen[idx] = blockHash
				continue
			}
			if first == blockHash {
				continue
			}

			e.saveEvidence(ctx, ks, ksconsensus.DoubleSignEvidence{
				Height: ks.rv.Height,
				Round:  ks.rv.Round,

				Kind: kind,

				PubKey: vals[idx].PubKey,

				FirstHash:  first,
				SecondHash: blockHash,
			})
		}
	}
}

func (e *Engine) saveEvidence(ctx context.Context, ks *kernelState, ev ksconsensus.DoubleSignEvidence) {
	// Normalize the hash pair so the same conflict observed in
	// either order deduplicates to one record.
	if ev.FirstHash > ev.SecondHash {
		ev.FirstHash, ev.SecondHash = ev.SecondHash, ev.FirstHash
	}

	e.log.Warn("Recording double sign evidence", "evidence", ev)

	if err := e.evStore.SaveDoubleSignEvidence(ctx, ev); err != nil {
		// Evidence is advisory; failing to record it never halts consensus.
		e.log.Warn("Failed to save double sign evidence", "err", err)
	}
}

func (e *Engine) handleQuorumCertificate(
	ctx context.Context,
	ks *kernelState,
	qc ksconsensus.QuorumCertificate,
) ksconsensus.HandleQCResult {
	if qc.Height < ks.rv.Height || (qc.Height == ks.rv.Height && ks.step == StepCommitWait) {
		return ksconsensus.HandleQCAlreadyCommitted
	}
	if qc.Height > ks.rv.Height {
		return ksconsensus.HandleQCTooFarInFuture
	}

	if err := ksconsensus.VerifyQuorumCertificate(
		qc, ks.rv.ValidatorSet, e.sps, e.sigScheme,
	); err != nil {
		e.log.Info("Rejecting invalid quorum certificate", "err", err)
		return ksconsensus.HandleQCInvalid
	}

	if ks.hasLock && ks.lockedBlockHash != qc.BlockHash {
		// A valid certificate proves the network committed elsewhere;
		// the lock no longer serves its purpose.
		ks.hasLock = false
		ks.lockedBlockHash = ""
	}

	if ph, ok := findProposedHeader(ks, qc.BlockHash); ok {
		e.finalizeBlock(ctx, ks, ph, qc)
	} else {
		ks.pendingQC = qc.Clone()
		ks.hasPendingQC = true
	}

	return ksconsensus.HandleQCAccepted
}
