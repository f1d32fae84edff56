package ksengine

import (
	"context"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksdriver"
	"github.com/kestrel-chain/kestrel/ks/ksgossip"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
	"github.com/kestrel-chain/kestrel/kwatchdog"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Opt is an option for the Engine.
type Opt func(*Engine) error

// WithGenesis sets the engine's ExternalGenesis.
// This option is required.
func WithGenesis(g *ksconsensus.ExternalGenesis) Opt {
	return func(e *Engine) error {
		e.genesis = g
		return nil
	}
}

// WithSigner sets the engine's signer.
// If omitted or nil, the engine never actively participates in consensus;
// it only operates as an observer.
func WithSigner(s ksconsensus.Signer) Opt {
	return func(e *Engine) error {
		e.signer = s
		return nil
	}
}

// WithHashScheme sets the engine's hash scheme.
// This option is required.
func WithHashScheme(h ksconsensus.HashScheme) Opt {
	return func(e *Engine) error {
		e.hashScheme = h
		return nil
	}
}

// WithSignatureScheme sets the engine's signature scheme.
// This option is required.
func WithSignatureScheme(s ksconsensus.SignatureScheme) Opt {
	return func(e *Engine) error {
		e.sigScheme = s
		return nil
	}
}

// WithSignatureProofScheme sets the engine's signature proof scheme.
// This option is required.
func WithSignatureProofScheme(s kcrypto.SignatureProofScheme) Opt {
	return func(e *Engine) error {
		e.sps = s
		return nil
	}
}

// WithProposerSelector sets how the engine chooses
// the proposer for each height and round.
// If omitted, [ksconsensus.WeightedRoundRobinSelector] is used.
func WithProposerSelector(ps ksconsensus.ProposerSelector) Opt {
	return func(e *Engine) error {
		e.propSel = ps
		return nil
	}
}

// WithConsensusStrategy sets the engine's consensus strategy.
// This option is required.
func WithConsensusStrategy(cs ksconsensus.ConsensusStrategy) Opt {
	return func(e *Engine) error {
		e.cStrat = cs
		return nil
	}
}

// WithGossipStrategy sets the engine's gossip strategy.
// This option is required.
func WithGossipStrategy(gs ksgossip.Strategy) Opt {
	return func(e *Engine) error {
		e.gs = gs
		return nil
	}
}

// WithFinalizationStore sets the engine's finalization store.
// This option is required.
func WithFinalizationStore(s ksstore.FinalizationStore) Opt {
	return func(e *Engine) error {
		e.finStore = s
		return nil
	}
}

// WithCommittedBlockStore sets the engine's committed block store.
// This option is required.
func WithCommittedBlockStore(s ksstore.CommittedBlockStore) Opt {
	return func(e *Engine) error {
		e.blockStore = s
		return nil
	}
}

// WithEvidenceStore sets the engine's evidence store.
// This option is required.
func WithEvidenceStore(s ksstore.EvidenceStore) Opt {
	return func(e *Engine) error {
		e.evStore = s
		return nil
	}
}

// WithRelayQueue sets the bridge relay queue the engine drains
// when composing its own proposals.
// maxPerBlock bounds how many relay entries one proposal carries.
// If omitted, the engine does not carry bridge payloads.
func WithRelayQueue(q *xbridge.RelayQueue, maxPerBlock int) Opt {
	return func(e *Engine) error {
		e.relay = q
		e.maxRelayPerBlock = maxPerBlock
		return nil
	}
}

// WithInitChainChannel sets the init chain channel for the engine to send on.
// This option is only required if the chain has not yet been initialized.
func WithInitChainChannel(ch chan<- ksdriver.InitChainRequest) Opt {
	return func(e *Engine) error {
		e.initChainCh = ch
		return nil
	}
}

// WithBlockFinalizationChannel sets the channel the engine sends on
// when a block is due to be finalized.
// The application must receive from this channel.
// This option is required.
func WithBlockFinalizationChannel(ch chan<- ksdriver.FinalizeBlockRequest) Opt {
	return func(e *Engine) error {
		e.finalizeCh = ch
		return nil
	}
}

// WithInternalRoundTimer sets the round timer directly.
// This is only intended for testing.
//
// Non-test usage should call [WithTimeoutStrategy] instead.
func WithInternalRoundTimer(rt RoundTimer) Opt {
	return func(e *Engine) error {
		e.timer = rt
		return nil
	}
}

// WithTimeoutStrategy sets the timeout strategy for the engine's timers.
// The context controls the lifecycle of the underlying timer goroutine.
func WithTimeoutStrategy(ctx context.Context, s TimeoutStrategy) Opt {
	return WithInternalRoundTimer(NewStandardRoundTimer(ctx, s))
}

// WithWatchdog sets the engine's watchdog.
// This option is required.
// Tests may use [kwatchdog.NewNopWatchdog] to avoid extra goroutines.
func WithWatchdog(wd *kwatchdog.Watchdog) Opt {
	return func(e *Engine) error {
		e.watchdog = wd
		return nil
	}
}

// WithMetricsChannel sets an optional channel where the engine
// emits metrics snapshots. Sends are best effort;
// a slow receiver only misses intermediate snapshots.
func WithMetricsChannel(ch chan<- Metrics) Opt {
	return func(e *Engine) error {
		e.metricsCh = ch
		return nil
	}
}
