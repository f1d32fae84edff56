package kcrypto

import (
	"github.com/bits-and-blooms/bitset"
)

// SignatureProof accumulates signatures from a known candidate key set,
// all over one common message.
//
// The engine uses one proof per (height, round, vote kind, block hash),
// where the candidate keys are the active validator public keys.
type SignatureProof interface {
	// Message is the signed content shared by every signature in this proof.
	Message() []byte

	// PubKeyHash is a hash identifying the candidate key set,
	// used as a cheap check that two proofs refer to the same validators.
	PubKeyHash() []byte

	// AddSignature verifies and records one signature from one candidate key.
	// It is intended for the local signer's own signature;
	// incoming proofs go through Merge or MergeSparse instead.
	AddSignature(sig []byte, key PubKey) error

	// Matches reports whether other refers to the same message and key set.
	// It does not compare held signatures.
	Matches(other SignatureProof) bool

	// Merge verifies and absorbs the signatures in other,
	// leaving other unmodified. Values in other are untrusted.
	// Merge panics if other is a different concrete type.
	Merge(other SignatureProof) ProofMergeResult

	// MergeSparse verifies and absorbs a sparse proof received from a peer.
	MergeSparse(SparseSignatureProof) ProofMergeResult

	// HasSparseKeyID reports whether this proof already holds a signature for
	// the given sparse key ID. valid is false if the ID does not map into
	// the candidate key set.
	HasSparseKeyID(keyID []byte) (has, valid bool)

	// Clone returns a copy, so that a reader goroutine can hold a snapshot
	// without contending with the writer.
	Clone() SignatureProof

	// Derive returns a copy with all signature data cleared,
	// keeping the message and candidate key set.
	Derive() SignatureProof

	// SignatureBitSet indicates which candidate keys have signatures here.
	SignatureBitSet() *bitset.BitSet

	// AsSparse returns the compact form used on the wire.
	AsSparse() SparseSignatureProof
}

// SparseSignatureProof is the wire form of a signature proof.
// It carries only key IDs and signatures; the receiver reconstructs
// the full proof from its own knowledge of the candidate key set.
type SparseSignatureProof struct {
	// PubKeyHash of the full proof this was derived from.
	PubKeyHash string

	// Signatures, with implementation-specific key IDs.
	Signatures []SparseSignature
}

// SparseSignature pairs an opaque key ID with a signature.
type SparseSignature struct {
	// KeyID identifies which candidate key produced Sig.
	// Its format is specific to the proof implementation.
	KeyID []byte

	// Sig holds the signature bytes.
	Sig []byte
}

// SignatureProofScheme constructs empty proofs for a given message and key set.
type SignatureProofScheme interface {
	New(msg []byte, candidateKeys []PubKey, pubKeyHash string) (SignatureProof, error)
}

// SignatureProofSchemeFunc adapts a plain constructor function to a scheme.
type SignatureProofSchemeFunc func(msg []byte, candidateKeys []PubKey, pubKeyHash string) (SignatureProof, error)

func (f SignatureProofSchemeFunc) New(msg []byte, candidateKeys []PubKey, pubKeyHash string) (SignatureProof, error) {
	return f(msg, candidateKeys, pubKeyHash)
}
