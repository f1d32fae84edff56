package ksengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kestrel-chain/kestrel/internal/kchan"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
	"github.com/kestrel-chain/kestrel/ks/ksepoch"
	"github.com/kestrel-chain/kestrel/ks/ksgossip"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Engine drives rounds of consensus:
// it collects proposals and votes, casts the local validator's votes
// according to the configured [ksconsensus.ConsensusStrategy],
// and finalizes committed blocks through the driver.
//
// All state transitions happen on a single kernel goroutine;
// the [ksconsensus.FineGrainedConsensusHandler] methods
// relay inbound messages to that goroutine and block for the outcome.
type Engine struct {
	log *slog.Logger

	genesis *ksconsensus.ExternalGenesis

	gs ksgossip.Strategy

	hashScheme ksconsensus.HashScheme
	sigScheme  ksconsensus.SignatureScheme
	sps        kcrypto.SignatureProofScheme

	signer  ksconsensus.Signer
	propSel ksconsensus.ProposerSelector
	cStrat  ksconsensus.ConsensusStrategy
	timer   RoundTimer

	epochs *ksepoch.Manager

	finStore   ksstore.FinalizationStore
	blockStore ksstore.CommittedBlockStore
	evStore    ksstore.EvidenceStore

	relay            *xbridge.RelayQueue
	maxRelayPerBlock int

	initChainCh chan<- ksdriver.InitChainRequest
	finalizeCh  chan<- ksdriver.FinalizeBlockRequest

	metricsCh chan<- Metrics

	watchdog *kwatchdog.Watchdog

	phRequests        chan phRequest
	prevoteRequests   chan prevoteRequest
	precommitRequests chan precommitRequest
	qcRequests        chan qcRequest

	gossipOut chan kslink.RoundStateUpdate

	kernelDone chan struct{}
}

// Metrics is a snapshot of engine progress,
// emitted on the channel set by [WithMetricsChannel].
type Metrics struct {
	CommittedHeight uint64

	VotingHeight uint64
	VotingRound  uint32
}

type phRequest struct {
	PH   ksconsensus.ProposedHeader
	Resp chan ksconsensus.HandleProposedHeaderResult
}

type prevoteRequest struct {
	Proof ksconsensus.PrevoteSparseProof
	Resp  chan ksconsensus.HandleVoteProofsResult
}

type precommitRequest struct {
	Proof ksconsensus.PrecommitSparseProof
	Resp  chan ksconsensus.HandleVoteProofsResult
}

type qcRequest struct {
	QC   ksconsensus.QuorumCertificate
	Resp chan ksconsensus.HandleQCResult
}

func New(ctx context.Context, log *slog.Logger, opts ...Opt) (*Engine, error) {
	e := &Engine{
		log: log,

		propSel: ksconsensus.WeightedRoundRobinSelector{},

		phRequests:        make(chan phRequest),
		prevoteRequests:   make(chan prevoteRequest),
		precommitRequests: make(chan precommitRequest),
		qcRequests:        make(chan qcRequest),

		// Unbuffered so gossip sees each update exactly when the kernel offers it.
		gossipOut: make(chan kslink.RoundStateUpdate),

		kernelDone: make(chan struct{}),
	}

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(e))
	}
	if err != nil {
		return nil, err
	}

	if err := e.validateSettings(); err != nil {
		return nil, err
	}

	ks, err := e.initialKernelState(ctx)
	if err != nil {
		return nil, err
	}

	// The init chain channel is only consulted once.
	e.initChainCh = nil

	e.epochs = ksepoch.NewManager(
		log.With("e_sys", "epochs"),
		ks.rv.Height, ks.rv.ValidatorSet,
	)

	go e.kernel(ctx, ks)

	e.gs.Start(e.gossipOut)

	return e, nil
}

// Wait blocks until the engine's background goroutines finish.
func (e *Engine) Wait() {
	<-e.kernelDone
	if e.gs != nil {
		e.gs.Wait()
	}
}

func (e *Engine) validateSettings() error {
	var err error

	if e.genesis == nil {
		err = errors.Join(err, errors.New("no genesis set (use ksengine.WithGenesis)"))
	}

	if e.hashScheme == nil {
		err = errors.Join(err, errors.New("no hash scheme set (use ksengine.WithHashScheme)"))
	}
	if e.sigScheme == nil {
		err = errors.Join(err, errors.New("no signature scheme set (use ksengine.WithSignatureScheme)"))
	}
	if e.sps == nil {
		err = errors.Join(err, errors.New("no signature proof scheme set (use ksengine.WithSignatureProofScheme)"))
	}

	if e.cStrat == nil {
		err = errors.Join(err, errors.New("no consensus strategy set (use ksengine.WithConsensusStrategy)"))
	}
	if e.gs == nil {
		err = errors.Join(err, errors.New("no gossip strategy set (use ksengine.WithGossipStrategy)"))
	}

	if e.finStore == nil {
		err = errors.Join(err, errors.New("no finalization store set (use ksengine.WithFinalizationStore)"))
	}
	if e.blockStore == nil {
		err = errors.Join(err, errors.New("no committed block store set (use ksengine.WithCommittedBlockStore)"))
	}
	if e.evStore == nil {
		err = errors.Join(err, errors.New("no evidence store set (use ksengine.WithEvidenceStore)"))
	}

	if e.finalizeCh == nil {
		err = errors.Join(err, errors.New("no finalization channel set (use ksengine.WithBlockFinalizationChannel)"))
	}

	if e.timer == nil {
		err = errors.Join(err, errors.New("no round timer set (use ksengine.WithTimeoutStrategy)"))
	}

	if e.watchdog == nil {
		err = errors.Join(err, errors.New("no watchdog set (use ksengine.WithWatchdog)"))
	}

	return err
}

// initialKernelState determines the height the engine starts voting at,
// and the previous-block values feeding the first proposal,
// either from the finalization store or by initializing the chain
// through the driver.
func (e *Engine) initialKernelState(ctx context.Context) (*kernelState, error) {
	ks := newKernelState()

	fh, err := e.finStore.Height(ctx)
	switch {
	case err == nil:
		return ks, e.resumeFromStore(ctx, ks, fh)
	case errors.Is(err, ksstore.ErrStoreUninitialized):
		return ks, e.startFromGenesis(ctx, ks)
	default:
		return nil, fmt.Errorf("failed to read finalization height: %w", err)
	}
}

func (e *Engine) startFromGenesis(ctx context.Context, ks *kernelState) error {
	vals := e.genesis.GenesisValidatorSet
	appStateHash := []byte(nil)

	if e.initChainCh != nil {
		req := ksdriver.InitChainRequest{
			Genesis: *e.genesis,
			Resp:    make(chan ksdriver.InitChainResponse, 1),
		}

		resp, ok := kchan.ReqResp(
			ctx, e.log,
			e.initChainCh, req,
			req.Resp,
			"init chain",
		)
		if !ok {
			return fmt.Errorf("context canceled while initializing chain: %w", context.Cause(ctx))
		}

		appStateHash = resp.AppStateHash
		if resp.Validators != nil {
			vals, err := ksconsensus.NewValidatorSet(
				e.genesis.GenesisValidatorSet.Epoch, resp.Validators, e.hashScheme,
			)
			if err != nil {
				return fmt.Errorf("failed to build validator set from init chain response: %w", err)
			}

			return e.seedGenesisState(ks, vals, appStateHash)
		}
	}

	return e.seedGenesisState(ks, vals, appStateHash)
}

func (e *Engine) seedGenesisState(
	ks *kernelState,
	vals ksconsensus.ValidatorSet,
	appStateHash []byte,
) error {
	g := ksconsensus.Genesis{
		ChainID:             e.genesis.ChainID,
		InitialHeight:       e.genesis.InitialHeight,
		CurrentAppStateHash: appStateHash,
		ValidatorSet:        vals,
	}

	gh, err := g.Header(e.hashScheme)
	if err != nil {
		return fmt.Errorf("failed to build genesis header: %w", err)
	}

	ks.rv.Height = e.genesis.InitialHeight
	ks.rv.ValidatorSet = vals
	ks.nextVals = vals

	ks.prevBlockHash = gh.Hash
	ks.prevAppStateHash = appStateHash

	return nil
}

func (e *Engine) resumeFromStore(ctx context.Context, ks *kernelState, finalizedHeight uint64) error {
	_, _, _, appStateHash, err := e.finStore.LoadFinalizationByHeight(ctx, finalizedHeight)
	if err != nil {
		return fmt.Errorf("failed to load finalization at height %d: %w", finalizedHeight, err)
	}

	ch, err := e.blockStore.LoadCommittedBlock(ctx, finalizedHeight)
	if err != nil {
		return fmt.Errorf("failed to load committed block at height %d: %w", finalizedHeight, err)
	}

	ks.rv.Height = finalizedHeight + 1
	ks.rv.ValidatorSet = ch.Header.NextValidatorSet
	ks.nextVals = ch.Header.NextValidatorSet

	ks.prevBlockHash = ch.Header.Hash
	ks.prevAppStateHash = []byte(appStateHash)

	ks.prevCommitQC = ch.QC
	ks.hasPrevCommitQC = true

	return nil
}

// HandleProposedHeader relays an inbound proposed header to the kernel.
func (e *Engine) HandleProposedHeader(ctx context.Context, ph ksconsensus.ProposedHeader) ksconsensus.HandleProposedHeaderResult {
	req := phRequest{
		PH:   ph,
		Resp: make(chan ksconsensus.HandleProposedHeaderResult, 1),
	}

	res, ok := kchan.ReqResp(
		ctx, e.log,
		e.phRequests, req,
		req.Resp,
		"handle proposed header",
	)
	if !ok {
		return ksconsensus.HandleProposedHeaderInternalError
	}
	return res
}

// HandlePrevoteProofs relays inbound prevote proofs to the kernel.
func (e *Engine) HandlePrevoteProofs(ctx context.Context, p ksconsensus.PrevoteSparseProof) ksconsensus.HandleVoteProofsResult {
	req := prevoteRequest{
		Proof: p,
		Resp:  make(chan ksconsensus.HandleVoteProofsResult, 1),
	}

	res, ok := kchan.ReqResp(
		ctx, e.log,
		e.prevoteRequests, req,
		req.Resp,
		"handle prevote proofs",
	)
	if !ok {
		return ksconsensus.HandleVoteProofsInternalError
	}
	return res
}

// HandlePrecommitProofs relays inbound precommit proofs to the kernel.
func (e *Engine) HandlePrecommitProofs(ctx context.Context, p ksconsensus.PrecommitSparseProof) ksconsensus.HandleVoteProofsResult {
	req := precommitRequest{
		Proof: p,
		Resp:  make(chan ksconsensus.HandleVoteProofsResult, 1),
	}

	res, ok := kchan.ReqResp(
		ctx, e.log,
		e.precommitRequests, req,
		req.Resp,
		"handle precommit proofs",
	)
	if !ok {
		return ksconsensus.HandleVoteProofsInternalError
	}
	return res
}

// HandleQuorumCertificate relays an inbound certificate to the kernel.
func (e *Engine) HandleQuorumCertificate(ctx context.Context, qc ksconsensus.QuorumCertificate) ksconsensus.HandleQCResult {
	req := qcRequest{
		QC:   qc,
		Resp: make(chan ksconsensus.HandleQCResult, 1),
	}

	res, ok := kchan.ReqResp(
		ctx, e.log,
		e.qcRequests, req,
		req.Resp,
		"handle quorum certificate",
	)
	if !ok {
		return ksconsensus.HandleQCInternalError
	}
	return res
}

var _ ksconsensus.FineGrainedConsensusHandler = (*Engine)(nil)
