package kcrypto

import (
	"bytes"
	"encoding/binary"
	"maps"
	"slices"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// BasicSignatureProofScheme builds [BasicSignatureProof] values.
var BasicSignatureProofScheme SignatureProofScheme = SignatureProofSchemeFunc(
	func(msg []byte, candidateKeys []PubKey, pubKeyHash string) (SignatureProof, error) {
		return NewBasicSignatureProof(msg, candidateKeys, pubKeyHash)
	},
)

// BasicSignatureProof tracks independent signature-key pairs with no
// aggregation. Sparse key IDs are big-endian uint16 indices into the
// candidate key slice.
type BasicSignatureProof struct {
	msg []byte

	// string(signature bytes) -> the key that produced it.
	sigs map[string]PubKey

	// Candidate keys in canonical order.
	keys []PubKey

	// string(pub key bytes) -> index in keys.
	keyIdxs map[string]int

	// Identifies the candidate key set across proofs.
	keyHash string

	bits *bitset.BitSet
}

func NewBasicSignatureProof(msg []byte, candidateKeys []PubKey, pubKeyHash string) (BasicSignatureProof, error) {
	keyIdxs := make(map[string]int, len(candidateKeys))
	for i, k := range candidateKeys {
		keyIdxs[string(k.PubKeyBytes())] = i
	}

	return BasicSignatureProof{
		msg:  msg,
		sigs: make(map[string]PubKey),

		keys:    candidateKeys,
		keyIdxs: keyIdxs,
		keyHash: pubKeyHash,

		bits: bitset.New(uint(len(candidateKeys))),
	}, nil
}

func (p BasicSignatureProof) Message() []byte {
	return p.msg
}

func (p BasicSignatureProof) PubKeyHash() []byte {
	return []byte(p.keyHash)
}

func (p BasicSignatureProof) AddSignature(sig []byte, key PubKey) error {
	keyIdx, ok := p.keyIdxs[string(key.PubKeyBytes())]
	if !ok {
		return ErrUnknownKey
	}
	if !key.Verify(p.msg, sig) {
		return ErrInvalidSignature
	}

	p.sigs[string(sig)] = key
	p.bits.Set(uint(keyIdx))
	return nil
}

func (p BasicSignatureProof) Matches(other SignatureProof) bool {
	o := other.(BasicSignatureProof)

	if !bytes.Equal(p.msg, o.msg) {
		return false
	}

	if p.keyHash != o.keyHash {
		return false
	}

	return slices.EqualFunc(p.keys, o.keys, func(a, b PubKey) bool {
		return a.Equal(b)
	})
}

func (p BasicSignatureProof) Merge(other SignatureProof) ProofMergeResult {
	o := other.(BasicSignatureProof)

	if !p.Matches(o) {
		return ProofMergeResult{}
	}

	res := ProofMergeResult{
		// Optimistic until a bad signature shows up.
		AllValidSignatures: true,
	}

	// Judge supersetness against the incoming bits before we mutate p.bits.
	// Two empty proofs count as a strict superset here,
	// so an empty exchange doesn't look like a regression to the caller.
	looksLikeStrictSuperset := (o.bits.None() && p.bits.None()) || o.bits.IsStrictSuperSet(p.bits)

	// Our existing signatures are trusted; everything in o gets re-verified.
	for otherSig, otherKey := range o.sigs {
		curKey, ok := p.sigs[otherSig]
		if !ok {
			// New signature. AddSignature verifies it,
			// and Matches already confirmed the key set.
			if err := p.AddSignature([]byte(otherSig), otherKey); err == nil {
				res.IncreasedSignatures = true
			} else {
				res.AllValidSignatures = false
			}

			continue
		}

		// Already held, so the claimed key must agree.
		if !curKey.Equal(otherKey) {
			res.AllValidSignatures = false
		}
	}

	res.WasStrictSuperset = looksLikeStrictSuperset && res.AllValidSignatures
	return res
}

func (p BasicSignatureProof) MergeSparse(s SparseSignatureProof) ProofMergeResult {
	if p.keyHash != s.PubKeyHash {
		return ProofMergeResult{}
	}

	res := ProofMergeResult{
		AllValidSignatures: true,
	}

	addedBits := bitset.New(uint(len(p.keys)))
	bitsBefore := p.bits.Clone()

	for _, sparseSig := range s.Signatures {
		if len(sparseSig.KeyID) != 2 {
			res.AllValidSignatures = false
			continue
		}

		n := int(binary.BigEndian.Uint16(sparseSig.KeyID))
		if n >= len(p.keys) {
			res.AllValidSignatures = false
			continue
		}

		if err := p.AddSignature(sparseSig.Sig, p.keys[n]); err != nil {
			res.AllValidSignatures = false
			continue
		}

		addedBits.Set(uint(n))
	}

	if p.bits.Count() > bitsBefore.Count() {
		res.IncreasedSignatures = true
	}

	res.WasStrictSuperset = addedBits.IsStrictSuperSet(bitsBefore)

	return res
}

func (p BasicSignatureProof) HasSparseKeyID(keyID []byte) (has, valid bool) {
	if len(keyID) != 2 {
		// Key IDs are big-endian uint16 indices.
		return false, false
	}

	u := binary.BigEndian.Uint16(keyID)
	if int(u) >= len(p.keys) {
		return false, false
	}

	return p.bits.Test(uint(u)), true
}

func (p BasicSignatureProof) Clone() SignatureProof {
	return BasicSignatureProof{
		msg: bytes.Clone(p.msg),

		sigs: maps.Clone(p.sigs), // Shared references to key values are fine.

		keys:    p.keys,
		keyIdxs: maps.Clone(p.keyIdxs),
		keyHash: p.keyHash,

		bits: p.bits.Clone(),
	}
}

func (p BasicSignatureProof) Derive() SignatureProof {
	return BasicSignatureProof{
		msg:  bytes.Clone(p.msg),
		sigs: make(map[string]PubKey),

		keys:    p.keys,
		keyIdxs: maps.Clone(p.keyIdxs),
		keyHash: p.keyHash,

		bits: bitset.New(uint(len(p.keys))),
	}
}

func (p BasicSignatureProof) SignatureBitSet() *bitset.BitSet {
	return p.bits
}

func (p BasicSignatureProof) AsSparse() SparseSignatureProof {
	sparseSigs := make([]SparseSignature, 0, len(p.sigs))
	for sigBytes, pubKey := range p.sigs {
		keyIdx := p.keyIdxs[string(pubKey.PubKeyBytes())]

		b := [2]byte{}
		binary.BigEndian.PutUint16(b[:], uint16(keyIdx))

		sparseSigs = append(sparseSigs, SparseSignature{
			KeyID: b[:],
			Sig:   []byte(sigBytes),
		})
	}

	// Canonical key ID order on the wire.
	sort.Slice(sparseSigs, func(i, j int) bool {
		return bytes.Compare(sparseSigs[i].KeyID, sparseSigs[j].KeyID) < 0
	})

	return SparseSignatureProof{
		PubKeyHash: p.keyHash,
		Signatures: sparseSigs,
	}
}
