package ksenginetest

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrel-chain/kestrel/internal/ktest"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus/ksconsensustest"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksengine"
	"github.com/kestrel-chain/kestrel/ks/ksstore/ksmemstore"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Fixture assembles everything an engine needs in tests:
// deterministic validators, mocked strategy and timer,
// in-memory stores, and driver channels under test control.
type Fixture struct {
	Log *slog.Logger

	Fx *ksconsensustest.Fixture

	CStrat     *MockConsensusStrategy
	RoundTimer *MockRoundTimer
	Gossip     *ChannelGossipStrategy

	FinStore   *ksmemstore.FinalizationStore
	BlockStore *ksmemstore.CommittedBlockStore
	EvStore    *ksmemstore.EvidenceStore

	RelayQueue *xbridge.RelayQueue

	InitChainCh chan ksdriver.InitChainRequest
	FinalizeCh  chan ksdriver.FinalizeBlockRequest

	Watchdog *kwatchdog.Watchdog
}

func NewFixture(ctx context.Context, t *testing.T, numVals int) *Fixture {
	log := ktest.NewLogger(t)

	wd, _ := kwatchdog.NewNopWatchdog(ctx, log.With("sys", "watchdog"))

	return &Fixture{
		Log: log,

		Fx: ksconsensustest.NewFixture(numVals),

		CStrat:     NewMockConsensusStrategy(),
		RoundTimer: new(MockRoundTimer),
		Gossip:     NewChannelGossipStrategy(ctx),

		FinStore:   ksmemstore.NewFinalizationStore(),
		BlockStore: ksmemstore.NewCommittedBlockStore(),
		EvStore:    ksmemstore.NewEvidenceStore(),

		RelayQueue: xbridge.NewRelayQueue(),

		InitChainCh: make(chan ksdriver.InitChainRequest, 1),
		FinalizeCh:  make(chan ksdriver.FinalizeBlockRequest, 1),

		Watchdog: wd,
	}
}

// ExternalGenesis returns genesis input matching the inner fixture,
// so that headers built with [ksconsensustest.Fixture.NextProposedHeader]
// chain correctly from the engine's genesis state.
func (f *Fixture) ExternalGenesis() *ksconsensus.ExternalGenesis {
	return &ksconsensus.ExternalGenesis{
		ChainID:       f.Fx.Genesis.ChainID,
		InitialHeight: f.Fx.Genesis.InitialHeight,

		InitialAppState: bytes.NewReader([]byte("")),

		GenesisValidatorSet: f.Fx.ValSet(),
	}
}

// ProposerIdx returns the fixture validator index
// that the default proposer selection picks for height and round.
func (f *Fixture) ProposerIdx(height uint64, round uint32) int {
	p := ksconsensus.WeightedRoundRobinSelector{}.ProposerAt(height, round, f.Fx.ValSet())
	for i := range f.Fx.PrivVals {
		if f.Fx.PrivVals[i].CVal.PubKey.Equal(p.PubKey) {
			return i
		}
	}
	panic("BUG: selected proposer not in fixture validator set")
}

// Signer returns a signer acting as the fixture validator at idx.
func (f *Fixture) Signer(idx int) ksconsensus.Signer {
	return ksconsensus.PassthroughSigner{
		Signer:          f.Fx.PrivVals[idx].Signer,
		SignatureScheme: f.Fx.SignatureScheme,
	}
}

// Opts returns the baseline engine options for this fixture.
// Tests append or override options before calling [ksengine.New].
func (f *Fixture) Opts() []ksengine.Opt {
	return []ksengine.Opt{
		ksengine.WithGenesis(f.ExternalGenesis()),

		ksengine.WithHashScheme(f.Fx.HashScheme),
		ksengine.WithSignatureScheme(f.Fx.SignatureScheme),
		ksengine.WithSignatureProofScheme(f.Fx.SignatureProofScheme),

		ksengine.WithConsensusStrategy(f.CStrat),
		ksengine.WithGossipStrategy(f.Gossip),
		ksengine.WithInternalRoundTimer(f.RoundTimer),

		ksengine.WithFinalizationStore(f.FinStore),
		ksengine.WithCommittedBlockStore(f.BlockStore),
		ksengine.WithEvidenceStore(f.EvStore),

		ksengine.WithInitChainChannel(f.InitChainCh),
		ksengine.WithBlockFinalizationChannel(f.FinalizeCh),

		ksengine.WithWatchdog(f.Watchdog),
	}
}

// MustNewEngine constructs an engine with the fixture's baseline options
// plus any extra opts, serving any init chain request along the way.
// It fails the test if construction errors.
func (f *Fixture) MustNewEngine(ctx context.Context, t *testing.T, opts ...ksengine.Opt) *ksengine.Engine {
	t.Helper()

	type newResult struct {
		E   *ksengine.Engine
		Err error
	}
	resCh := make(chan newResult, 1)

	allOpts := append(f.Opts(), opts...)
	go func() {
		e, err := ksengine.New(ctx, f.Log.With("sys", "engine"), allOpts...)
		resCh <- newResult{E: e, Err: err}
	}()

	timeout := time.After(time.Duration(ktest.ScaleMs(1000)))
	for {
		select {
		case req := <-f.InitChainCh:
			req.Resp <- ksdriver.InitChainResponse{
				AppStateHash: f.Fx.Genesis.CurrentAppStateHash,
			}
		case res := <-resCh:
			if res.Err != nil {
				t.Fatalf("failed to construct engine: %v", res.Err)
			}
			return res.E
		case <-timeout:
			t.Fatalf("engine construction did not complete within timeout")
		}
	}
}

// RespondInitChain serves one init chain request,
// reporting the inner fixture's genesis app state
// so the engine's first proposal chains from the same genesis header.
func (f *Fixture) RespondInitChain(t *testing.T) {
	t.Helper()

	req := ktest.ReceiveSoon(t, f.InitChainCh)
	req.Resp <- ksdriver.InitChainResponse{
		AppStateHash: f.Fx.Genesis.CurrentAppStateHash,
	}
}

// RespondFinalize serves one finalize block request with resp,
// filling in the height, round, and block hash from the request,
// and defaulting the validators to the executing set at the same epoch
// when resp leaves them empty.
//
// It returns the request for the test to inspect.
func (f *Fixture) RespondFinalize(
	t *testing.T,
	resp ksdriver.FinalizeBlockResponse,
) ksdriver.FinalizeBlockRequest {
	t.Helper()

	req := ktest.ReceiveSoon(t, f.FinalizeCh)

	resp.Height = req.Header.Height
	resp.Round = req.Round
	resp.BlockHash = req.Header.Hash

	if resp.Validators == nil {
		resp.Validators = req.Header.ValidatorSet.Validators
		resp.Epoch = req.Header.ValidatorSet.Epoch
	}

	req.Resp <- resp

	return req
}
