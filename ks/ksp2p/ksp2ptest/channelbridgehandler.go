package ksp2ptest

import (
	"context"

	"github.com/kestrel-chain/kestrel/kexchange"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// ChannelBridgeHandler is a [ksp2p.BridgeHandler]
// that emits messages to a set of channels.
//
// This is useful in tests that need to observe bridge messages
// arriving from the network, without standing up a header chain
// or proof verifier behind the connection.
type ChannelBridgeHandler struct {
	incomingForeignHeaders   chan xbridge.ForeignHeader
	incomingCrossChainProofs chan xbridge.CrossChainProof
}

// NewChannelBridgeHandler returns a ChannelBridgeHandler
// whose channels are all sized according to bufSize.
func NewChannelBridgeHandler(bufSize int) *ChannelBridgeHandler {
	return &ChannelBridgeHandler{
		incomingForeignHeaders:   make(chan xbridge.ForeignHeader, bufSize),
		incomingCrossChainProofs: make(chan xbridge.CrossChainProof, bufSize),
	}
}

// HandleForeignHeader implements [ksp2p.BridgeHandler].
func (h *ChannelBridgeHandler) HandleForeignHeader(ctx context.Context, fh xbridge.ForeignHeader) kexchange.Feedback {
	select {
	case h.incomingForeignHeaders <- fh:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

// HandleCrossChainProof implements [ksp2p.BridgeHandler].
func (h *ChannelBridgeHandler) HandleCrossChainProof(ctx context.Context, p xbridge.CrossChainProof) kexchange.Feedback {
	select {
	case h.incomingCrossChainProofs <- p:
		return kexchange.FeedbackAccepted
	case <-ctx.Done():
		return kexchange.FeedbackIgnored
	}
}

// IncomingForeignHeaders returns the channel of foreign headers
// that arrived from the network.
func (h *ChannelBridgeHandler) IncomingForeignHeaders() <-chan xbridge.ForeignHeader {
	return h.incomingForeignHeaders
}

// IncomingCrossChainProofs returns the channel of cross-chain proofs
// that arrived from the network.
func (h *ChannelBridgeHandler) IncomingCrossChainProofs() <-chan xbridge.CrossChainProof {
	return h.incomingCrossChainProofs
}
