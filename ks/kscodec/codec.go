package kscodec

import (
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// Marshaler serializes consensus and bridge values to byte slices.
type Marshaler interface {
	MarshalConsensusMessage(ConsensusMessage) ([]byte, error)

	MarshalHeader(ksconsensus.Header) ([]byte, error)
	MarshalProposedHeader(ksconsensus.ProposedHeader) ([]byte, error)

	MarshalPrevoteProof(ksconsensus.PrevoteSparseProof) ([]byte, error)
	MarshalPrecommitProof(ksconsensus.PrecommitSparseProof) ([]byte, error)

	MarshalQuorumCertificate(ksconsensus.QuorumCertificate) ([]byte, error)

	MarshalForeignHeader(xbridge.ForeignHeader) ([]byte, error)
	MarshalCrossChainProof(xbridge.CrossChainProof) ([]byte, error)
}

// Unmarshaler deserializes byte slices into consensus and bridge values.
type Unmarshaler interface {
	UnmarshalConsensusMessage([]byte, *ConsensusMessage) error

	UnmarshalHeader([]byte, *ksconsensus.Header) error
	UnmarshalProposedHeader([]byte, *ksconsensus.ProposedHeader) error

	UnmarshalPrevoteProof([]byte, *ksconsensus.PrevoteSparseProof) error
	UnmarshalPrecommitProof([]byte, *ksconsensus.PrecommitSparseProof) error

	UnmarshalQuorumCertificate([]byte, *ksconsensus.QuorumCertificate) error

	UnmarshalForeignHeader([]byte, *xbridge.ForeignHeader) error
	UnmarshalCrossChainProof([]byte, *xbridge.CrossChainProof) error
}

// MarshalCodec marshals and unmarshals values, producing byte slices.
type MarshalCodec interface {
	Marshaler
	Unmarshaler
}

// ConsensusMessage is a wrapper around the values sent between nodes.
// Exactly one of the fields must be set.
// If zero or multiple fields are set, behavior is undefined.
type ConsensusMessage struct {
	ProposedHeader *ksconsensus.ProposedHeader

	PrevoteProof   *ksconsensus.PrevoteSparseProof
	PrecommitProof *ksconsensus.PrecommitSparseProof

	// Standalone certificate gossip, so a lagging node
	// can adopt a committed block without replaying votes.
	QuorumCertificate *ksconsensus.QuorumCertificate

	ForeignHeader   *xbridge.ForeignHeader
	CrossChainProof *xbridge.CrossChainProof
}
