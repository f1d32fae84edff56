package ksp2p

import (
	"context"

	"github.com/kestrel-chain/kestrel/kexchange"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Connection is the generalized connection to the p2p network.
//
// It exposes narrower interfaces for specific layers of the network,
// such as [ConsensusBroadcaster] for outgoing consensus messages.
//
// It also supports disconnecting from the network altogether,
// which invalidates further use of the connection,
// and dynamically changing the underlying [ksconsensus.ConsensusHandler].
type Connection interface {
	// ConsensusBroadcaster returns a ConsensusBroadcaster derived from this connection,
	// or nil if the connection does not support consensus broadcasting.
	ConsensusBroadcaster() ConsensusBroadcaster

	// SetConsensusHandler sets the handler for incoming consensus messages.
	// The implementation may have special handling for nil values.
	//
	// This is a runtime method rather than a constructor parameter
	// because a connection typically exists before the engine does;
	// once the engine is running, conn.SetConsensusHandler wires it in
	// so new messages are validated against engine state.
	SetConsensusHandler(context.Context, ksconsensus.ConsensusHandler)

	// Disconnect the connection, rendering it unusable.
	Disconnect()

	// Disconnected returns a channel that is closed after Disconnect completes.
	Disconnected() <-chan struct{}
}

// BridgeHandler receives the cross-chain bridge messages that travel
// on the same gossip layer as consensus traffic:
// foreign headers and inclusion proofs relayed by peers.
//
// Connections carrying bridge traffic expose a SetBridgeHandler method;
// a connection with no bridge handler set ignores these messages
// rather than penalizing the peers relaying them.
type BridgeHandler interface {
	HandleForeignHeader(context.Context, xbridge.ForeignHeader) kexchange.Feedback
	HandleCrossChainProof(context.Context, xbridge.CrossChainProof) kexchange.Feedback
}

// BridgeBroadcaster is the set of channels for publishing
// bridge messages to the network.
//
// A validator that accepts a relayer submission rebroadcasts it here,
// so other validators learn the foreign header or proof without
// a direct relayer connection of their own.
type BridgeBroadcaster interface {
	OutgoingForeignHeaders() chan<- xbridge.ForeignHeader
	OutgoingCrossChainProofs() chan<- xbridge.CrossChainProof
}

// ConnectionScheme establishes connections to one particular kind of network.
//
// It mainly exists so that node setup code can be written against
// an abstract network, with the concrete transport picked by configuration.
type ConnectionScheme interface {
	Connect(context.Context) (Connection, error)
}

// ConsensusBroadcaster is the set of channels for publishing
// consensus messages to the network.
type ConsensusBroadcaster interface {
	OutgoingProposedHeaders() chan<- ksconsensus.ProposedHeader

	OutgoingPrevoteProofs() chan<- ksconsensus.PrevoteSparseProof
	OutgoingPrecommitProofs() chan<- ksconsensus.PrecommitSparseProof

	// Certificates extracted at commit time are re-broadcast
	// so lagging peers can finish a height without waiting
	// to re-accumulate individual precommits.
	OutgoingQuorumCertificates() chan<- ksconsensus.QuorumCertificate
}
