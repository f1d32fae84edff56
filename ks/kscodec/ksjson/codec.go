package ksjson

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/kscodec"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// MarshalCodec is a [kscodec.MarshalCodec] that
// translates consensus and bridge values to and from JSON.
type MarshalCodec struct {
	CryptoRegistry *kcrypto.Registry
}

var _ kscodec.MarshalCodec = MarshalCodec{}

func (c MarshalCodec) MarshalHeader(h ksconsensus.Header) ([]byte, error) {
	jh := toJSONHeader(h, c.CryptoRegistry)
	return json.Marshal(jh)
}

func (c MarshalCodec) UnmarshalHeader(b []byte, header *ksconsensus.Header) error {
	var jh jsonHeader
	err := json.Unmarshal(b, &jh)
	if err != nil {
		return err
	}

	*header, err = jh.ToHeader(c.CryptoRegistry)
	return err
}

func (c MarshalCodec) MarshalProposedHeader(ph ksconsensus.ProposedHeader) ([]byte, error) {
	jph := toJSONProposedHeader(ph, c.CryptoRegistry)
	return json.Marshal(jph)
}

func (c MarshalCodec) UnmarshalProposedHeader(b []byte, ph *ksconsensus.ProposedHeader) error {
	var jph jsonProposedHeader
	err := json.Unmarshal(b, &jph)
	if err != nil {
		return err
	}

	*ph, err = jph.ToProposedHeader(c.CryptoRegistry)
	return err
}

type jsonSparseProof struct {
	Height     uint64
	Round      uint32
	PubKeyHash []byte // Has to be a byte slice for JSON round trips.
	Proofs     []jsonProofEntry
}

type jsonProofEntry struct {
	BlockHash  []byte // Normally encoded as string entry in map.
	Signatures []kcrypto.SparseSignature
}

func toJSONSparseProof(
	height uint64, round uint32,
	pubKeyHash string,
	proofs map[string][]kcrypto.SparseSignature,
) jsonSparseProof {
	jsp := jsonSparseProof{
		Height:     height,
		Round:      round,
		PubKeyHash: []byte(pubKeyHash),
		Proofs:     make([]jsonProofEntry, 0, len(proofs)),
	}

	for blockHash, sigs := range proofs {
		jsp.Proofs = append(jsp.Proofs, jsonProofEntry{
			BlockHash:  []byte(blockHash),
			Signatures: sigs,
		})
	}

	// Because we are translating a map to a slice,
	// and because codec output must be deterministic,
	// we sort the proofs slice by block hash.
	slices.SortFunc(jsp.Proofs, func(a, b jsonProofEntry) int {
		return bytes.Compare(a.BlockHash, b.BlockHash)
	})

	return jsp
}

func (jsp jsonSparseProof) proofMap() map[string][]kcrypto.SparseSignature {
	m := make(map[string][]kcrypto.SparseSignature, len(jsp.Proofs))
	for _, e := range jsp.Proofs {
		m[string(e.BlockHash)] = e.Signatures
	}
	return m
}

func (c MarshalCodec) MarshalPrevoteProof(p ksconsensus.PrevoteSparseProof) ([]byte, error) {
	return json.Marshal(toJSONSparseProof(p.Height, p.Round, p.PubKeyHash, p.Proofs))
}

func (c MarshalCodec) UnmarshalPrevoteProof(b []byte, p *ksconsensus.PrevoteSparseProof) error {
	var jsp jsonSparseProof

	if err := json.Unmarshal(b, &jsp); err != nil {
		return err
	}

	*p = ksconsensus.PrevoteSparseProof{
		Height:     jsp.Height,
		Round:      jsp.Round,
		PubKeyHash: string(jsp.PubKeyHash),
		Proofs:     jsp.proofMap(),
	}

	return nil
}

func (c MarshalCodec) MarshalPrecommitProof(p ksconsensus.PrecommitSparseProof) ([]byte, error) {
	return json.Marshal(toJSONSparseProof(p.Height, p.Round, p.PubKeyHash, p.Proofs))
}

func (c MarshalCodec) UnmarshalPrecommitProof(b []byte, p *ksconsensus.PrecommitSparseProof) error {
	var jsp jsonSparseProof

	if err := json.Unmarshal(b, &jsp); err != nil {
		return err
	}

	*p = ksconsensus.PrecommitSparseProof{
		Height:     jsp.Height,
		Round:      jsp.Round,
		PubKeyHash: string(jsp.PubKeyHash),
		Proofs:     jsp.proofMap(),
	}

	return nil
}

func (c MarshalCodec) MarshalQuorumCertificate(qc ksconsensus.QuorumCertificate) ([]byte, error) {
	return json.Marshal(toJSONQuorumCertificate(qc))
}

func (c MarshalCodec) UnmarshalQuorumCertificate(b []byte, qc *ksconsensus.QuorumCertificate) error {
	var jqc jsonQuorumCertificate
	if err := json.Unmarshal(b, &jqc); err != nil {
		return err
	}

	*qc = jqc.ToQuorumCertificate()
	return nil
}

func (c MarshalCodec) MarshalForeignHeader(h xbridge.ForeignHeader) ([]byte, error) {
	// All fields are already JSON-safe.
	return json.Marshal(h)
}

func (c MarshalCodec) UnmarshalForeignHeader(b []byte, h *xbridge.ForeignHeader) error {
	return json.Unmarshal(b, h)
}

func (c MarshalCodec) MarshalCrossChainProof(p xbridge.CrossChainProof) ([]byte, error) {
	return json.Marshal(toJSONCrossChainProof(p))
}

func (c MarshalCodec) UnmarshalCrossChainProof(b []byte, p *xbridge.CrossChainProof) error {
	var jp jsonCrossChainProof
	if err := json.Unmarshal(b, &jp); err != nil {
		return err
	}

	*p = jp.ToCrossChainProof()
	return nil
}

type jsonConsensusMessage struct {
	ProposedHeader    json.RawMessage `json:",omitempty"`
	PrevoteProof      json.RawMessage `json:",omitempty"`
	PrecommitProof    json.RawMessage `json:",omitempty"`
	QuorumCertificate json.RawMessage `json:",omitempty"`
	ForeignHeader     json.RawMessage `json:",omitempty"`
	CrossChainProof   json.RawMessage `json:",omitempty"`
}

func (c MarshalCodec) MarshalConsensusMessage(m kscodec.ConsensusMessage) ([]byte, error) {
	var jcm jsonConsensusMessage
	switch {
	case m.ProposedHeader != nil:
		b, err := c.MarshalProposedHeader(*m.ProposedHeader)
		if err != nil {
			return nil, err
		}
		jcm.ProposedHeader = json.RawMessage(b)
	case m.PrevoteProof != nil:
		b, err := c.MarshalPrevoteProof(*m.PrevoteProof)
		if err != nil {
			return nil, err
		}
		jcm.PrevoteProof = json.RawMessage(b)
	case m.PrecommitProof != nil:
		b, err := c.MarshalPrecommitProof(*m.PrecommitProof)
		if err != nil {
			return nil, err
		}
		jcm.PrecommitProof = json.RawMessage(b)
	case m.QuorumCertificate != nil:
		b, err := c.MarshalQuorumCertificate(*m.QuorumCertificate)
		if err != nil {
			return nil, err
		}
		jcm.QuorumCertificate = json.RawMessage(b)
	case m.ForeignHeader != nil:
		b, err := c.MarshalForeignHeader(*m.ForeignHeader)
		if err != nil {
			return nil, err
		}
		jcm.ForeignHeader = json.RawMessage(b)
	case m.CrossChainProof != nil:
		b, err := c.MarshalCrossChainProof(*m.CrossChainProof)
		if err != nil {
			return nil, err
		}
		jcm.CrossChainProof = json.RawMessage(b)
	}

	return json.Marshal(jcm)
}

func (c MarshalCodec) UnmarshalConsensusMessage(b []byte, m *kscodec.ConsensusMessage) error {
	var jcm jsonConsensusMessage
	if err := json.Unmarshal(b, &jcm); err != nil {
		return err
	}

	switch {
	case jcm.ProposedHeader != nil:
		var ph ksconsensus.ProposedHeader
		if err := c.UnmarshalProposedHeader(jcm.ProposedHeader, &ph); err != nil {
			return err
		}
		m.ProposedHeader = &ph
	case jcm.PrevoteProof != nil:
		var proof ksconsensus.PrevoteSparseProof
		if err := c.UnmarshalPrevoteProof(jcm.PrevoteProof, &proof); err != nil {
			return err
		}
		m.PrevoteProof = &proof
	case jcm.PrecommitProof != nil:
		var proof ksconsensus.PrecommitSparseProof
		if err := c.UnmarshalPrecommitProof(jcm.PrecommitProof, &proof); err != nil {
			return err
		}
		m.PrecommitProof = &proof
	case jcm.QuorumCertificate != nil:
		var qc ksconsensus.QuorumCertificate
		if err := c.UnmarshalQuorumCertificate(jcm.QuorumCertificate, &qc); err != nil {
			return err
		}
		m.QuorumCertificate = &qc
	case jcm.ForeignHeader != nil:
		var h xbridge.ForeignHeader
		if err := c.UnmarshalForeignHeader(jcm.ForeignHeader, &h); err != nil {
			return err
		}
		m.ForeignHeader = &h
	case jcm.CrossChainProof != nil:
		var p xbridge.CrossChainProof
		if err := c.UnmarshalCrossChainProof(jcm.CrossChainProof, &p); err != nil {
			return err
		}
		m.CrossChainProof = &p
	}

	return nil
}
