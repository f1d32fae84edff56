package ksconsensus

import (
	"bytes"
	"slices"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// Header is the logical representation of a block header.
// It may be transformed before storage or network transmission,
// such as replacing validator sets with their hashes.
type Header struct {
	// Derived from all the other fields through a [HashScheme].
	Hash []byte

	// Hash of the previous block.
	PrevBlockHash []byte

	// Height of this block.
	Height uint64

	// Proof that the previous block was committed.
	PrevCommitQC QuorumCertificate

	// The validators for this block, and for the next block.
	// A NextValidatorSet with a higher epoch marks an epoch boundary:
	// the new set is effective at the height immediately after
	// this block finalizes.
	ValidatorSet, NextValidatorSet ValidatorSet

	// ID of the data for this block, typically the transactions root.
	// The driver is responsible for resolving the ID to raw data.
	DataID []byte

	// The app state hash resulting from executing the previous block.
	PrevAppStateHash []byte

	// Arbitrary data persisted to chain and respected in the block hash.
	// Low-level driver code may set Annotations.Driver;
	// on-chain code may set Annotations.User.
	Annotations Annotations
}

// QuorumCertificate proves that at least quorum-threshold voting weight
// precommitted one block at one height and round.
// At most one QC can exist per height across honest executions.
type QuorumCertificate struct {
	Height uint64
	Round  uint32

	// Hash of the committed block; an empty string would be a malformed QC,
	// as nil precommits never aggregate into a certificate.
	BlockHash string

	// Hash of the ordered validator public keys at Height,
	// needed to interpret the sparse key IDs below.
	PubKeyHash string

	// Precommit signatures for BlockHash.
	Signatures []kcrypto.SparseSignature
}

// Clone returns a copy of q sharing no references with it.
func (q QuorumCertificate) Clone() QuorumCertificate {
	sigs := make([]kcrypto.SparseSignature, len(q.Signatures))
	for i, sig := range q.Signatures {
		sigs[i] = kcrypto.SparseSignature{
			KeyID: bytes.Clone(sig.KeyID),
			Sig:   bytes.Clone(sig.Sig),
		}
	}

	return QuorumCertificate{
		Height:     q.Height,
		Round:      q.Round,
		BlockHash:  q.BlockHash,
		PubKeyHash: q.PubKeyHash,
		Signatures: sigs,
	}
}

// CommittedHeader is a header together with the proof that it was committed.
type CommittedHeader struct {
	Header Header
	QC     QuorumCertificate
}

// ProposedHeader is the data a proposer sends at the beginning of a round.
type ProposedHeader struct {
	// The header of the block to consider committing.
	Header Header

	// The round in which this header was proposed.
	Round uint32

	// The public key of the proposer, used to verify Signature.
	ProposerPubKey kcrypto.PubKey

	// Arbitrary data covered by the proposal signature
	// but not persisted to chain.
	Annotations Annotations

	// Signature of the proposer over content
	// determined by the engine's [SignatureScheme].
	Signature []byte
}

// Clone returns a copy of ph.
// The header's validator sets and public keys are shared,
// as those are immutable.
func (ph ProposedHeader) Clone() ProposedHeader {
	h := ph.Header
	h.Hash = bytes.Clone(h.Hash)
	h.PrevBlockHash = bytes.Clone(h.PrevBlockHash)
	h.PrevCommitQC = h.PrevCommitQC.Clone()
	h.DataID = bytes.Clone(h.DataID)
	h.PrevAppStateHash = bytes.Clone(h.PrevAppStateHash)

	return ProposedHeader{
		Header:         h,
		Round:          ph.Round,
		ProposerPubKey: ph.ProposerPubKey,
		Annotations: Annotations{
			User:   bytes.Clone(ph.Annotations.User),
			Driver: bytes.Clone(ph.Annotations.Driver),
		},
		Signature: slices.Clone(ph.Signature),
	}
}

// Annotations is arbitrary data associated with a [Header] or [ProposedHeader].
//
// Driver annotations are set by low-level driver code;
// User annotations come from the higher-level application.
type Annotations struct {
	User, Driver []byte
}
