package xbridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kestrel-chain/kestrel/kexchange"
)

// NetworkHandler feeds bridge messages gossiped by peers
// into header chains and a proof verifier,
// translating each outcome into propagation feedback.
//
// Only provably bad messages are rejected.
// Outcomes that merely reflect this node's position,
// such as an already-processed proof or an unknown chain,
// are ignored so the relaying peer is not penalized.
type NetworkHandler struct {
	log *slog.Logger

	chains   map[string]*HeaderChain
	verifier *ProofVerifier
}

func NewNetworkHandler(log *slog.Logger, chains []*HeaderChain, verifier *ProofVerifier) *NetworkHandler {
	byID := make(map[string]*HeaderChain, len(chains))
	for _, c := range chains {
		byID[c.ChainID()] = c
	}

	return &NetworkHandler{
		log: log,

		chains:   byID,
		verifier: verifier,
	}
}

func (nh *NetworkHandler) HandleForeignHeader(ctx context.Context, fh ForeignHeader) kexchange.Feedback {
	chain, ok := nh.chains[fh.ChainID]
	if !ok {
		// We do not track this chain, but other validators might.
		return kexchange.FeedbackIgnored
	}

	res, err := chain.AddHeader(fh)
	if err != nil {
		var orphanErr OrphanHeaderError
		if errors.As(err, &orphanErr) {
			// A full orphan buffer says nothing about the header.
			return kexchange.FeedbackIgnored
		}

		nh.log.Info("Rejecting gossiped foreign header", "header", fh, "err", err)
		return kexchange.FeedbackRejected
	}

	switch res {
	case HeaderAccepted, HeaderBuffered:
		return kexchange.FeedbackAccepted
	case HeaderAlreadyKnown:
		return kexchange.FeedbackIgnored
	default:
		return kexchange.FeedbackIgnored
	}
}

func (nh *NetworkHandler) HandleCrossChainProof(ctx context.Context, p CrossChainProof) kexchange.Feedback {
	res, err := nh.verifier.VerifyProof(ctx, p)

	switch res {
	case ProofAccepted:
		return kexchange.FeedbackAccepted
	case ProofBuffered:
		// Ahead of our sequence but inclusion-verified;
		// peers with the gap already closed can use it now.
		return kexchange.FeedbackAccepted
	case ProofAlreadyProcessed:
		return kexchange.FeedbackIgnored
	case ProofInvalid:
		var unknownChain UnknownChainError
		var unknownHeader UnknownHeaderError
		if errors.As(err, &unknownChain) || errors.As(err, &unknownHeader) {
			// The proof may outrun our view of the foreign chain.
			return kexchange.FeedbackIgnored
		}

		nh.log.Info("Rejecting gossiped cross-chain proof", "proof", p, "err", err)
		return kexchange.FeedbackRejected
	default:
		if err != nil {
			nh.log.Warn("Failed to verify gossiped cross-chain proof", "err", err)
		}
		return kexchange.FeedbackIgnored
	}
}
