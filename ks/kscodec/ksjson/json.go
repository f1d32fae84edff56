package ksjson

import (
	"fmt"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/kmerkle"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/xb/xbridge"
)

// jsonProposedHeader is a converted [ksconsensus.ProposedHeader]
// that can be safely marshalled as JSON.
type jsonProposedHeader struct {
	Header jsonHeader

	Round uint32

	ProposerPubKey []byte

	Signature []byte

	UserAnnotation, DriverAnnotation []byte
}

func (jph jsonProposedHeader) ToProposedHeader(
	reg *kcrypto.Registry,
) (ksconsensus.ProposedHeader, error) {
	h, err := jph.Header.ToHeader(reg)
	if err != nil {
		return ksconsensus.ProposedHeader{}, fmt.Errorf(
			"failed to unmarshal proposed header: %w", err,
		)
	}

	pubKey, err := reg.Unmarshal(jph.ProposerPubKey)
	if err != nil {
		return ksconsensus.ProposedHeader{}, fmt.Errorf(
			"failed to unmarshal proposer pubkey: %w", err,
		)
	}

	return ksconsensus.ProposedHeader{
		Header:         h,
		Round:          jph.Round,
		ProposerPubKey: pubKey,
		Signature:      jph.Signature,
		Annotations: ksconsensus.Annotations{
			User:   jph.UserAnnotation,
			Driver: jph.DriverAnnotation,
		},
	}, nil
}

func toJSONProposedHeader(ph ksconsensus.ProposedHeader, reg *kcrypto.Registry) jsonProposedHeader {
	return jsonProposedHeader{
		Header:         toJSONHeader(ph.Header, reg),
		Round:          ph.Round,
		ProposerPubKey: reg.Marshal(ph.ProposerPubKey),
		Signature:      ph.Signature,

		UserAnnotation:   ph.Annotations.User,
		DriverAnnotation: ph.Annotations.Driver,
	}
}

// jsonHeader is a converted [ksconsensus.Header]
// that can be safely marshalled as JSON.
type jsonHeader struct {
	Hash          []byte
	PrevBlockHash []byte

	Height uint64

	PrevCommitQC jsonQuorumCertificate

	ValidatorSet     jsonValidatorSet
	NextValidatorSet jsonValidatorSet

	DataID           []byte
	PrevAppStateHash []byte

	UserAnnotation, DriverAnnotation []byte
}

func (jh jsonHeader) ToHeader(
	reg *kcrypto.Registry,
) (ksconsensus.Header, error) {
	vs, err := jh.ValidatorSet.ToValidatorSet(reg)
	if err != nil {
		return ksconsensus.Header{}, fmt.Errorf(
			"failed to unmarshal validator set: %w", err,
		)
	}

	nvs, err := jh.NextValidatorSet.ToValidatorSet(reg)
	if err != nil {
		return ksconsensus.Header{}, fmt.Errorf(
			"failed to unmarshal next validator set: %w", err,
		)
	}

	var qc ksconsensus.QuorumCertificate
	if len(jh.PrevCommitQC.BlockHash) > 0 {
		qc = jh.PrevCommitQC.ToQuorumCertificate()
	}

	return ksconsensus.Header{
		Hash:          jh.Hash,
		PrevBlockHash: jh.PrevBlockHash,

		Height: jh.Height,

		PrevCommitQC: qc,

		ValidatorSet:     vs,
		NextValidatorSet: nvs,

		DataID:           jh.DataID,
		PrevAppStateHash: jh.PrevAppStateHash,

		Annotations: ksconsensus.Annotations{
			User:   jh.UserAnnotation,
			Driver: jh.DriverAnnotation,
		},
	}, nil
}

func toJSONHeader(h ksconsensus.Header, reg *kcrypto.Registry) jsonHeader {
	return jsonHeader{
		Hash:          h.Hash,
		PrevBlockHash: h.PrevBlockHash,

		Height: h.Height,

		PrevCommitQC: toJSONQuorumCertificate(h.PrevCommitQC),

		ValidatorSet:     toJSONValidatorSet(h.ValidatorSet, reg),
		NextValidatorSet: toJSONValidatorSet(h.NextValidatorSet, reg),

		DataID:           h.DataID,
		PrevAppStateHash: h.PrevAppStateHash,

		UserAnnotation:   h.Annotations.User,
		DriverAnnotation: h.Annotations.Driver,
	}
}

// jsonValidatorSet is a converted [ksconsensus.ValidatorSet]
// that can be safely marshalled as JSON.
type jsonValidatorSet struct {
	Epoch uint64

	Validators []jsonValidator

	PubKeyHash, VotePowerHash []byte
}

func (jvs jsonValidatorSet) ToValidatorSet(reg *kcrypto.Registry) (ksconsensus.ValidatorSet, error) {
	vals := make([]ksconsensus.Validator, len(jvs.Validators))
	for i, jv := range jvs.Validators {
		var err error
		vals[i], err = jv.ToValidator(reg)
		if err != nil {
			return ksconsensus.ValidatorSet{}, fmt.Errorf(
				"failed to unmarshal validator at index %d: %w",
				i, err,
			)
		}
	}

	return ksconsensus.ValidatorSet{
		Epoch: jvs.Epoch,

		Validators: vals,

		PubKeyHash:    jvs.PubKeyHash,
		VotePowerHash: jvs.VotePowerHash,
	}, nil
}

func toJSONValidatorSet(vs ksconsensus.ValidatorSet, reg *kcrypto.Registry) jsonValidatorSet {
	jVals := make([]jsonValidator, len(vs.Validators))
	for i, v := range vs.Validators {
		jVals[i] = toJSONValidator(v, reg)
	}

	return jsonValidatorSet{
		Epoch: vs.Epoch,

		Validators: jVals,

		PubKeyHash:    vs.PubKeyHash,
		VotePowerHash: vs.VotePowerHash,
	}
}

// jsonValidator is a converted [ksconsensus.Validator]
// that can be safely marshalled as JSON.
type jsonValidator struct {
	PubKey []byte
	Power  uint64
}

func (jv jsonValidator) ToValidator(reg *kcrypto.Registry) (ksconsensus.Validator, error) {
	pubKey, err := reg.Unmarshal(jv.PubKey)
	if err != nil {
		return ksconsensus.Validator{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return ksconsensus.Validator{
		PubKey: pubKey,
		Power:  jv.Power,
	}, nil
}

func toJSONValidator(v ksconsensus.Validator, reg *kcrypto.Registry) jsonValidator {
	return jsonValidator{
		PubKey: reg.Marshal(v.PubKey),
		Power:  v.Power,
	}
}

// jsonQuorumCertificate is a converted [ksconsensus.QuorumCertificate]
// that can be safely marshalled as JSON.
type jsonQuorumCertificate struct {
	Height uint64
	Round  uint32

	BlockHash []byte // Has to be a byte slice for JSON round trips.

	PubKeyHash []byte

	Signatures []kcrypto.SparseSignature
}

func (jqc jsonQuorumCertificate) ToQuorumCertificate() ksconsensus.QuorumCertificate {
	return ksconsensus.QuorumCertificate{
		Height: jqc.Height,
		Round:  jqc.Round,

		BlockHash:  string(jqc.BlockHash),
		PubKeyHash: string(jqc.PubKeyHash),

		Signatures: jqc.Signatures,
	}
}

func toJSONQuorumCertificate(qc ksconsensus.QuorumCertificate) jsonQuorumCertificate {
	return jsonQuorumCertificate{
		Height: qc.Height,
		Round:  qc.Round,

		BlockHash:  []byte(qc.BlockHash),
		PubKeyHash: []byte(qc.PubKeyHash),

		Signatures: qc.Signatures,
	}
}

// jsonCrossChainProof is a converted [xbridge.CrossChainProof]
// that can be safely marshalled as JSON.
// The inclusion path's string IDs hold raw hashes,
// so they travel as byte slices.
type jsonCrossChainProof struct {
	ChainID string

	SourceAccount string
	Seq           uint64

	Payload []byte

	HeaderHash []byte

	LeafIndex int
	Steps     []jsonProofStep
}

type jsonProofStep struct {
	ID   []byte
	Left bool
}

func (jp jsonCrossChainProof) ToCrossChainProof() xbridge.CrossChainProof {
	// A single-leaf tree has a nil step path;
	// decoding must not turn that into an empty non-nil slice.
	var steps []kmerkle.ProofStep[string]
	if len(jp.Steps) > 0 {
		steps = make([]kmerkle.ProofStep[string], len(jp.Steps))
		for i, s := range jp.Steps {
			steps[i] = kmerkle.ProofStep[string]{
				ID:   string(s.ID),
				Left: s.Left,
			}
		}
	}

	return xbridge.CrossChainProof{
		ChainID: jp.ChainID,

		SourceAccount: jp.SourceAccount,
		Seq:           jp.Seq,

		Payload: jp.Payload,

		HeaderHash: jp.HeaderHash,

		Inclusion: kmerkle.InclusionProof[string]{
			LeafIndex: jp.LeafIndex,
			Steps:     steps,
		},
	}
}

func toJSONCrossChainProof(p xbridge.CrossChainProof) jsonCrossChainProof {
	steps := make([]jsonProofStep, len(p.Inclusion.Steps))
	for i, s := range p.Inclusion.Steps {
		steps[i] = jsonProofStep{
			ID:   []byte(s.ID),
			Left: s.Left,
		}
	}

	return jsonCrossChainProof{
		ChainID: p.ChainID,

		SourceAccount: p.SourceAccount,
		Seq:           p.Seq,

		Payload: p.Payload,

		HeaderHash: p.HeaderHash,

		LeafIndex: p.Inclusion.LeafIndex,
		Steps:     steps,
	}
}
