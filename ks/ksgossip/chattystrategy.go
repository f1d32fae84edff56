package ksgossip

import (
	"context"
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/kestrel-chain/kestrel/internal/kchan"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksengine/kslink"
	"github.com/kestrel-chain/kestrel/ks/ksp2p"
)

// ChattyStrategy is a naive [Strategy] that broadcasts
// every round state change to the p2p network.
//
// It is wasteful of bandwidth and is intended for
// small networks and for tests.
type ChattyStrategy struct {
	log *slog.Logger

	cb ksp2p.ConsensusBroadcaster

	startCh    chan (<-chan kslink.RoundStateUpdate)
	kernelDone chan struct{}
}

func NewChattyStrategy(
	ctx context.Context,
	log *slog.Logger,
	cb ksp2p.ConsensusBroadcaster,
) *ChattyStrategy {
	s := &ChattyStrategy{
		log: log,

		cb: cb,

		startCh:    make(chan (<-chan kslink.RoundStateUpdate), 1),
		kernelDone: make(chan struct{}),
	}

	go s.kernel(ctx)
	return s
}

func (s *ChattyStrategy) Wait() {
	<-s.kernelDone
}

func (s *ChattyStrategy) Start(updates <-chan kslink.RoundStateUpdate) {
	s.startCh <- updates
	close(s.startCh)
}

func (s *ChattyStrategy) kernel(ctx context.Context) {
	defer close(s.kernelDone)

	updates, ok := kchan.RecvC(
		ctx, s.log,
		s.startCh,
		"waiting for start signal",
	)
	if !ok {
		// Already logged in RecvC.
		return
	}

	var prev ksconsensus.RoundView

	for {
		select {
		case <-ctx.Done():
			s.log.Info(
				"Quitting due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return
		case u := <-updates:
			if u.CommittedQC != nil {
				if !kchan.SendC(
					ctx, s.log,
					s.cb.OutgoingQuorumCertificates(), *u.CommittedQC,
					"sending quorum certificate",
				) {
					return
				}
			}

			if u.Voting == nil {
				continue
			}

			if !s.broadcastViewDiff(ctx, prev, *u.Voting) {
				return
			}
			prev = u.Voting.Clone()
		}
	}
}

func (s *ChattyStrategy) broadcastViewDiff(ctx context.Context, prev, cur ksconsensus.RoundView) bool {
	if cur.Height == prev.Height && cur.Round == prev.Round {
		return s.broadcastUpdatesOnly(ctx, prev, cur)
	}

	return s.broadcastAll(ctx, cur)
}

func (s *ChattyStrategy) broadcastProposedHeaders(ctx context.Context, view ksconsensus.RoundView) bool {
	for _, ph := range view.ProposedHeaders {
		if !kchan.SendC(
			ctx, s.log,
			s.cb.OutgoingProposedHeaders(), ph,
			"sending proposed headers",
		) {
			return false
		}
	}

	return true
}

func (s *ChattyStrategy) broadcastPrevotes(ctx context.Context, view ksconsensus.RoundView) bool {
	if len(view.PrevoteProofs) == 0 {
		return true
	}

	prevoteProof := ksconsensus.PrevoteProof{
		Height: view.Height,
		Round:  view.Round,

		Proofs: view.PrevoteProofs,
	}

	sparse, err := prevoteProof.AsSparse()
	if err != nil {
		s.log.Warn(
			"Failed to produce sparse prevote proofs",
			"err", err,
		)
		return false
	}

	return kchan.SendC(
		ctx, s.log,
		s.cb.OutgoingPrevoteProofs(), sparse,
		"sending prevote proofs",
	)
}

func (s *ChattyStrategy) broadcastPrecommits(ctx context.Context, view ksconsensus.RoundView) bool {
	if len(view.PrecommitProofs) == 0 {
		return true
	}

	precommitProof := ksconsensus.PrecommitProof{
		Height: view.Height,
		Round:  view.Round,

		Proofs: view.PrecommitProofs,
	}

	sparse, err := precommitProof.AsSparse()
	if err != nil {
		s.log.Warn(
			"Failed to produce sparse precommit proofs",
			"err", err,
		)
		return false
	}

	return kchan.SendC(
		ctx, s.log,
		s.cb.OutgoingPrecommitProofs(), sparse,
		"sending precommit proofs",
	)
}

func (s *ChattyStrategy) broadcastAll(ctx context.Context, view ksconsensus.RoundView) bool {
	return s.broadcastProposedHeaders(ctx, view) &&
		s.broadcastPrevotes(ctx, view) &&
		s.broadcastPrecommits(ctx, view)
}

func (s *ChattyStrategy) broadcastUpdatesOnly(ctx context.Context, prev, cur ksconsensus.RoundView) bool {
	if len(cur.ProposedHeaders) != len(prev.ProposedHeaders) {
		if !s.broadcastProposedHeaders(ctx, cur) {
			return false
		}
	}

	// Compare the per-kind signature bitsets to decide
	// whether the vote proofs carry anything new.
	if unionCount(cur.PrevoteProofs) != unionCount(prev.PrevoteProofs) {
		if !s.broadcastPrevotes(ctx, cur) {
			return false
		}
	}

	if unionCount(cur.PrecommitProofs) != unionCount(prev.PrecommitProofs) {
		if !s.broadcastPrecommits(ctx, cur) {
			return false
		}
	}

	return true
}

func unionCount(proofs map[string]kcrypto.SignatureProof) uint {
	u := bitset.New(0)
	for _, p := range proofs {
		u.InPlaceUnion(p.SignatureBitSet())
	}
	return u.Count()
}
