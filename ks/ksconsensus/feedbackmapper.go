package ksconsensus

import (
	"context"
	"fmt"

	"github.com/kestrel-chain/kestrel/kexchange"
)

// DropDuplicateFeedbackMapper adapts a [FineGrainedConsensusHandler]
// into a [ConsensusHandler], marking duplicate messages ignored
// so they stop propagating, while novel valid messages are accepted.
type DropDuplicateFeedbackMapper struct {
	Handler FineGrainedConsensusHandler
}

var _ ConsensusHandler = DropDuplicateFeedbackMapper{}

func (m DropDuplicateFeedbackMapper) HandleProposedHeader(
	ctx context.Context, ph ProposedHeader,
) kexchange.Feedback {
	f := m.Handler.HandleProposedHeader(ctx, ph)
	switch f {
	case HandleProposedHeaderAccepted:
		return kexchange.FeedbackAccepted

	case HandleProposedHeaderAlreadyStored,
		HandleProposedHeaderRoundTooOld,
		HandleProposedHeaderRoundTooFarInFuture,
		HandleProposedHeaderInternalError:
		return kexchange.FeedbackIgnored

	case HandleProposedHeaderSignerUnrecognized,
		HandleProposedHeaderBadBlockHash,
		HandleProposedHeaderBadSignature,
		HandleProposedHeaderBadPrevCommitQC:
		return kexchange.FeedbackRejected

	default:
		panic(fmt.Errorf("BUG: no HandleProposedHeaderResult mapping set for %d", f))
	}
}

func (m DropDuplicateFeedbackMapper) HandlePrevoteProofs(
	ctx context.Context, p PrevoteSparseProof,
) kexchange.Feedback {
	return mapVoteResult(m.Handler.HandlePrevoteProofs(ctx, p), "HandlePrevoteProofs")
}

func (m DropDuplicateFeedbackMapper) HandlePrecommitProofs(
	ctx context.Context, p PrecommitSparseProof,
) kexchange.Feedback {
	return mapVoteResult(m.Handler.HandlePrecommitProofs(ctx, p), "HandlePrecommitProofs")
}

func (m DropDuplicateFeedbackMapper) HandleQuorumCertificate(
	ctx context.Context, qc QuorumCertificate,
) kexchange.Feedback {
	f := m.Handler.HandleQuorumCertificate(ctx, qc)
	switch f {
	case HandleQCAccepted:
		return kexchange.FeedbackAccepted

	case HandleQCAlreadyCommitted,
		HandleQCTooFarInFuture,
		HandleQCInternalError:
		return kexchange.FeedbackIgnored

	case HandleQCInvalid:
		return kexchange.FeedbackRejected

	default:
		panic(fmt.Errorf("BUG: no HandleQCResult mapping set for %d", f))
	}
}

func mapVoteResult(f HandleVoteProofsResult, name string) kexchange.Feedback {
	switch f {
	case HandleVoteProofsAccepted:
		return kexchange.FeedbackAccepted

	case HandleVoteProofsRoundTooOld,
		HandleVoteProofsTooFarInFuture,
		HandleVoteProofsNoNewSignatures,
		HandleVoteProofsInternalError:
		return kexchange.FeedbackIgnored

	case HandleVoteProofsEmpty,
		HandleVoteProofsBadPubKeyHash:
		return kexchange.FeedbackRejected

	default:
		panic(fmt.Errorf("BUG: no %s mapping set for %d", name, f))
	}
}
