package kscodec

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// CompressedMarshalCodec wraps another codec,
// snappy-compressing every marshalled message.
// Both ends of a connection must agree on its use.
type CompressedMarshalCodec struct {
	Inner MarshalCodec
}

var _ MarshalCodec = CompressedMarshalCodec{}

func (c CompressedMarshalCodec) compress(b []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

func (c CompressedMarshalCodec) decompress(b []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress message: %w", err)
	}
	return out, nil
}

func (c CompressedMarshalCodec) MarshalConsensusMessage(m ConsensusMessage) ([]byte, error) {
	return c.compress(c.Inner.MarshalConsensusMessage(m))
}

func (c CompressedMarshalCodec) UnmarshalConsensusMessage(b []byte, m *ConsensusMessage) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalConsensusMessage(raw, m)
}

func (c CompressedMarshalCodec) MarshalHeader(h ksconsensus.Header) ([]byte, error) {
	return c.compress(c.Inner.MarshalHeader(h))
}

func (c CompressedMarshalCodec) UnmarshalHeader(b []byte, h *ksconsensus.Header) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalHeader(raw, h)
}

func (c CompressedMarshalCodec) MarshalProposedHeader(ph ksconsensus.ProposedHeader) ([]byte, error) {
	return c.compress(c.Inner.MarshalProposedHeader(ph))
}

func (c CompressedMarshalCodec) UnmarshalProposedHeader(b []byte, ph *ksconsensus.ProposedHeader) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalProposedHeader(raw, ph)
}

func (c CompressedMarshalCodec) MarshalPrevoteProof(p ksconsensus.PrevoteSparseProof) ([]byte, error) {
	return c.compress(c.Inner.MarshalPrevoteProof(p))
}

func (c CompressedMarshalCodec) UnmarshalPrevoteProof(b []byte, p *ksconsensus.PrevoteSparseProof) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalPrevoteProof(raw, p)
}

func (c CompressedMarshalCodec) MarshalPrecommitProof(p ksconsensus.PrecommitSparseProof) ([]byte, error) {
	return c.compress(c.Inner.MarshalPrecommitProof(p))
}

func (c CompressedMarshalCodec) UnmarshalPrecommitProof(b []byte, p *ksconsensus.PrecommitSparseProof) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalPrecommitProof(raw, p)
}

func (c CompressedMarshalCodec) MarshalQuorumCertificate(qc ksconsensus.QuorumCertificate) ([]byte, error) {
	return c.compress(c.Inner.MarshalQuorumCertificate(qc))
}

func (c CompressedMarshalCodec) UnmarshalQuorumCertificate(b []byte, qc *ksconsensus.QuorumCertificate) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalQuorumCertificate(raw, qc)
}

func (c CompressedMarshalCodec) MarshalForeignHeader(h xbridge.ForeignHeader) ([]byte, error) {
	return c.compress(c.Inner.MarshalForeignHeader(h))
}

func (c CompressedMarshalCodec) UnmarshalForeignHeader(b []byte, h *xbridge.ForeignHeader) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalForeignHeader(raw, h)
}

func (c CompressedMarshalCodec) MarshalCrossChainProof(p xbridge.CrossChainProof) ([]byte, error) {
	return c.compress(c.Inner.MarshalCrossChainProof(p))
}

func (c CompressedMarshalCodec) UnmarshalCrossChainProof(b []byte, p *xbridge.CrossChainProof) error {
	raw, err := c.decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalCrossChainProof(raw, p)
}
