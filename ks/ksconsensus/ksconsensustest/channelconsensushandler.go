package ksconsensustest

import (
	"context"
	"sync"

	"github.com/kestrel-chain/kestrel/kexchange"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// ChannelConsensusHandler is a [ksconsensus.ConsensusHandler]
// that emits messages to a set of channels.
//
// This is useful in tests where you have a "client-only" connection
// and you want to observe messages sent to the network,
// without interfering with any individual engine.
type ChannelConsensusHandler struct {
	incomingProposedHeaders chan ksconsensus.ProposedHeader

	incomingPrevoteProofs   chan ksconsensus.PrevoteSparseProof
	incomingPrecommitProofs chan ksconsensus.PrecommitSparseProof

	incomingQCs chan ksconsensus.QuorumCertificate

	closeOnce sync.Once
}

// NewChannelConsensusHandler returns a ChannelConsensusHandler
// whose channels are all sized according to bufSize.
func NewChannelConsensusHandler(bufSize int) *ChannelConsensusHandler {
	return &ChannelConsensusHandler{
		incomingProposedHeaders: make(chan ksconsensus.ProposedHeader, bufSize),

		incomingPrevoteProofs:   make(chan ksconsensus.PrevoteSparseProof, bufSize),
		incomingPrecommitProofs: make(chan ksconsensus.PrecommitSparseProof, bufSize),

		incomingQCs: make(chan ksconsensus.QuorumCertificate, bufSize),
	}
}

// HandleProposedHeader implements [ksconsensus.ConsensusHandler].
func (h *ChannelConsensusHandler) HandleProposedHeader(ctx context.Context, ph ksconsensus.ProposedHeader) kexchange.Feedback {
	select {
	case h.incomingProposedHeaders <- ph:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

func (h *ChannelConsensusHandler) HandlePrevoteProofs(ctx context.Context, p ksconsensus.PrevoteSparseProof) kexchange.Feedback {
	select {
	case h.incomingPrevoteProofs <- p:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

func (h *ChannelConsensusHandler) HandlePrecommitProofs(ctx context.Context, p ksconsensus.PrecommitSparseProof) kexchange.Feedback {
	select {
	case h.incomingPrecommitProofs <- p:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

func (h *ChannelConsensusHandler) HandleQuorumCertificate(ctx context.Context, qc ksconsensus.QuorumCertificate) kexchange.Feedback {
	select {
	case h.incomingQCs <- qc:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

// IncomingProposedHeaders returns a channel of the values that were passed to HandleProposedHeader.
func (h *ChannelConsensusHandler) IncomingProposedHeaders() <-chan ksconsensus.ProposedHeader {
	return h.incomingProposedHeaders
}

// IncomingPrevoteProofs returns a channel of the values that were passed to HandlePrevoteProofs.
func (h *ChannelConsensusHandler) IncomingPrevoteProofs() <-chan ksconsensus.PrevoteSparseProof {
	return h.incomingPrevoteProofs
}

// IncomingPrecommitProofs returns a channel of the values that were passed to HandlePrecommitProofs.
func (h *ChannelConsensusHandler) IncomingPrecommitProofs() <-chan ksconsensus.PrecommitSparseProof {
	return h.incomingPrecommitProofs
}

// IncomingQuorumCertificates returns a channel of the values that were passed to HandleQuorumCertificate.
func (h *ChannelConsensusHandler) IncomingQuorumCertificates() <-chan ksconsensus.QuorumCertificate {
	return h.incomingQCs
}

// Close closes h.
// It is safe to call Close multiple times.
func (h *ChannelConsensusHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.incomingProposedHeaders)
	})
}
