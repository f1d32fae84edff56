package ksconsensus

import (
	"context"

	"github.com/kestrel-chain/kestrel/kexchange"
)

// ConsensusHandler is the interface the p2p layer uses
// to deliver inbound consensus messages.
type ConsensusHandler interface {
	HandleProposedHeader(context.Context, ProposedHeader) kexchange.Feedback
	HandlePrevoteProofs(context.Context, PrevoteSparseProof) kexchange.Feedback
	HandlePrecommitProofs(context.Context, PrecommitSparseProof) kexchange.Feedback
	HandleQuorumCertificate(context.Context, QuorumCertificate) kexchange.Feedback
}

// FineGrainedConsensusHandler reports the precise handling outcome
// for each message kind. Use a feedback mapper to adapt it
// to a [ConsensusHandler].
type FineGrainedConsensusHandler interface {
	HandleProposedHeader(context.Context, ProposedHeader) HandleProposedHeaderResult
	HandlePrevoteProofs(context.Context, PrevoteSparseProof) HandleVoteProofsResult
	HandlePrecommitProofs(context.Context, PrecommitSparseProof) HandleVoteProofsResult
	HandleQuorumCertificate(context.Context, QuorumCertificate) HandleQCResult
}

// HandleProposedHeaderResult enumerates the outcomes of handling
// an inbound proposed header.
type HandleProposedHeaderResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type HandleProposedHeaderResult -trimprefix=HandleProposedHeader .
const (
	// Keep the zero value invalid so returning 0 is meaningful.
	_ HandleProposedHeaderResult = iota

	// A new proposed header was added to our store.
	HandleProposedHeaderAccepted

	// We already stored a copy of this proposed header.
	HandleProposedHeaderAlreadyStored

	// The signer was not a validator in the active set for that height.
	HandleProposedHeaderSignerUnrecognized

	// Our calculation of the block hash disagreed with the header.
	HandleProposedHeaderBadBlockHash

	// Signature verification on the proposed header failed.
	HandleProposedHeaderBadSignature

	// The header's previous-commit QC failed verification.
	HandleProposedHeaderBadPrevCommitQC

	// Proposal was for an older height or round than our current view.
	HandleProposedHeaderRoundTooOld

	// Proposal is beyond the heights and rounds we track.
	HandleProposedHeaderRoundTooFarInFuture

	// Internal error not necessarily correlated with the message itself.
	HandleProposedHeaderInternalError
)

// HandleVoteProofsResult enumerates the outcomes of handling
// inbound prevote or precommit proofs.
type HandleVoteProofsResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type HandleVoteProofsResult -trimprefix=HandleVoteProofs .
const (
	_ HandleVoteProofsResult = iota

	// Proofs were added to the store.
	HandleVoteProofsAccepted

	// We already had all the signatures in the given proof.
	HandleVoteProofsNoNewSignatures

	// There were no proofs in the message.
	// This only happens on messages from a misbehaving peer.
	HandleVoteProofsEmpty

	// The public key hash did not match the active set at that height.
	HandleVoteProofsBadPubKeyHash

	// Votes were for an older height or round than our current view.
	HandleVoteProofsRoundTooOld

	// Votes are beyond the heights and rounds we track.
	HandleVoteProofsTooFarInFuture

	// Internal error not necessarily correlated with the message itself.
	HandleVoteProofsInternalError
)

// HandleQCResult enumerates the outcomes of handling
// an inbound quorum certificate.
type HandleQCResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type HandleQCResult -trimprefix=HandleQC .
const (
	_ HandleQCResult = iota

	// The certificate verified and advanced our committed height.
	HandleQCAccepted

	// The certificate was for a height we already committed.
	HandleQCAlreadyCommitted

	// The certificate did not verify against the validator set at its height.
	HandleQCInvalid

	// The certificate references a height too far ahead to evaluate.
	HandleQCTooFarInFuture

	// Internal error not necessarily correlated with the message itself.
	HandleQCInternalError
)
