package ksconsensus

import (
	"fmt"
	"slices"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// PrevoteProof holds the full prevote signature proofs for one round,
// keyed by block hash (empty string for nil votes).
type PrevoteProof struct {
	Height uint64
	Round  uint32

	Proofs map[string]kcrypto.SignatureProof
}

// PrecommitProof holds the full precommit signature proofs for one round,
// keyed by block hash (empty string for nil votes).
type PrecommitProof struct {
	Height uint64
	Round  uint32

	Proofs map[string]kcrypto.SignatureProof
}

// PrevoteSparseProof is the network representation of a round's prevotes.
type PrevoteSparseProof struct {
	Height uint64
	Round  uint32

	PubKeyHash string

	Proofs map[string][]kcrypto.SparseSignature
}

// PrecommitSparseProof is the network representation of a round's precommits.
type PrecommitSparseProof struct {
	Height uint64
	Round  uint32

	PubKeyHash string

	Proofs map[string][]kcrypto.SparseSignature
}

func (p PrevoteProof) AsSparse() (PrevoteSparseProof, error) {
	pubKeyHash, proofs, err := sparsifyProofs(p.Proofs)
	if err != nil {
		return PrevoteSparseProof{}, fmt.Errorf("cannot convert prevote proof to sparse: %w", err)
	}

	return PrevoteSparseProof{
		Height: p.Height,
		Round:  p.Round,

		PubKeyHash: pubKeyHash,
		Proofs:     proofs,
	}, nil
}

func (p PrecommitProof) AsSparse() (PrecommitSparseProof, error) {
	pubKeyHash, proofs, err := sparsifyProofs(p.Proofs)
	if err != nil {
		return PrecommitSparseProof{}, fmt.Errorf("cannot convert precommit proof to sparse: %w", err)
	}

	return PrecommitSparseProof{
		Height: p.Height,
		Round:  p.Round,

		PubKeyHash: pubKeyHash,
		Proofs:     proofs,
	}, nil
}

func sparsifyProofs(full map[string]kcrypto.SignatureProof) (string, map[string][]kcrypto.SparseSignature, error) {
	out := make(map[string][]kcrypto.SparseSignature, len(full))

	// Use an arbitrary entry to establish the public key hash.
	var pubKeyHash string
	for _, proof := range full {
		pubKeyHash = string(proof.PubKeyHash())
		break
	}

	for blockHash, proof := range full {
		s := proof.AsSparse()
		if s.PubKeyHash != pubKeyHash {
			return "", nil, fmt.Errorf(
				"public key hash mismatch: expected %x, got %x",
				pubKeyHash, s.PubKeyHash,
			)
		}
		out[blockHash] = s.Signatures
	}

	return pubKeyHash, out, nil
}

func (p PrevoteSparseProof) Clone() PrevoteSparseProof {
	return PrevoteSparseProof{
		Height: p.Height,
		Round:  p.Round,

		PubKeyHash: p.PubKeyHash,

		Proofs: cloneSparseProofMap(p.Proofs),
	}
}

func (p PrecommitSparseProof) Clone() PrecommitSparseProof {
	return PrecommitSparseProof{
		Height: p.Height,
		Round:  p.Round,

		PubKeyHash: p.PubKeyHash,

		Proofs: cloneSparseProofMap(p.Proofs),
	}
}

func cloneSparseProofMap(in map[string][]kcrypto.SparseSignature) map[string][]kcrypto.SparseSignature {
	m := make(map[string][]kcrypto.SparseSignature, len(in))
	for k, v := range in {
		m[k] = slices.Clone(v)
	}
	return m
}

// ToFull reconstructs full prevote proofs from the sparse form,
// verifying every signature against trustedVals.
func (p PrevoteSparseProof) ToFull(
	sps kcrypto.SignatureProofScheme,
	sigScheme SignatureScheme,
	hashScheme HashScheme,
	trustedVals []Validator,
) (PrevoteProof, error) {
	proofs, err := expandSparseProofs(
		p.Proofs, p.Height, p.Round, p.PubKeyHash,
		sps, hashScheme, trustedVals,
		func(vt VoteTarget) ([]byte, error) { return PrevoteSignBytes(vt, sigScheme) },
	)
	if err != nil {
		return PrevoteProof{}, err
	}

	return PrevoteProof{
		Height: p.Height,
		Round:  p.Round,
		Proofs: proofs,
	}, nil
}

// ToFull reconstructs full precommit proofs from the sparse form,
// verifying every signature against trustedVals.
func (p PrecommitSparseProof) ToFull(
	sps kcrypto.SignatureProofScheme,
	sigScheme SignatureScheme,
	hashScheme HashScheme,
	trustedVals []Validator,
) (PrecommitProof, error) {
	proofs, err := expandSparseProofs(
		p.Proofs, p.Height, p.Round, p.PubKeyHash,
		sps, hashScheme, trustedVals,
		func(vt VoteTarget) ([]byte, error) { return PrecommitSignBytes(vt, sigScheme) },
	)
	if err != nil {
		return PrecommitProof{}, err
	}

	return PrecommitProof{
		Height: p.Height,
		Round:  p.Round,
		Proofs: proofs,
	}, nil
}

func expandSparseProofs(
	sparse map[string][]kcrypto.SparseSignature,
	height uint64,
	round uint32,
	claimedPubKeyHash string,
	sps kcrypto.SignatureProofScheme,
	hashScheme HashScheme,
	trustedVals []Validator,
	signBytes func(VoteTarget) ([]byte, error),
) (map[string]kcrypto.SignatureProof, error) {
	out := make(map[string]kcrypto.SignatureProof, len(sparse))

	valPubKeys := ValidatorsToPubKeys(trustedVals)
	bValPubKeyHash, err := hashScheme.PubKeys(valPubKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator pub key hash: %w", err)
	}
	valPubKeyHash := string(bValPubKeyHash)

	for h, sigs := range sparse {
		vt := VoteTarget{
			Height:    height,
			Round:     round,
			BlockHash: h,
		}
		msg, err := signBytes(vt)
		if err != nil {
			return nil, fmt.Errorf("failed to build vote sign bytes: %w", err)
		}

		out[h], err = sps.New(msg, valPubKeys, valPubKeyHash)
		if err != nil {
			return nil, fmt.Errorf("failed to build signature proof: %w", err)
		}

		// The merge verifies each signature individually;
		// unverifiable sparse entries are simply not absorbed.
		_ = out[h].MergeSparse(kcrypto.SparseSignatureProof{
			PubKeyHash: claimedPubKeyHash,
			Signatures: sigs,
		})
	}

	return out, nil
}
