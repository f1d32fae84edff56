package ksconsensustest

import (
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/kcrypto/kcryptotest"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// PrivVal pairs a consensus validator with its ed25519 signer.
type PrivVal struct {
	// The plain consensus validator.
	CVal ksconsensus.Validator

	Signer kcrypto.Ed25519Signer
}

// PrivVals is a slice of PrivVal.
type PrivVals []PrivVal

// Vals returns the Validator slice for types that expect it.
func (vs PrivVals) Vals() []ksconsensus.Validator {
	out := make([]ksconsensus.Validator, len(vs))
	for i, v := range vs {
		out[i] = v.CVal
	}
	return out
}

// PubKeys returns the public keys corresponding to vs.
func (vs PrivVals) PubKeys() []kcrypto.PubKey {
	out := make([]kcrypto.PubKey, len(vs))
	for i, v := range vs {
		out[i] = v.Signer.PubKey()
	}
	return out
}

// DeterministicValidators returns a deterministic set
// of validators with ed25519 keys, cached across calls
// so repeated tests pay no key generation cost
// and logged key material stays stable between runs.
func DeterministicValidators(n int) PrivVals {
	res := make([]PrivVal, n)
	signers := kcryptotest.DeterministicEd25519Signers(n)

	for i := range res {
		res[i] = PrivVal{
			CVal: ksconsensus.Validator{
				PubKey: signers[i].PubKey().(kcrypto.Ed25519PubKey),

				// Descending power with negligible differences,
				// so sorted validator order matches deterministic key order.
				Power: uint64(100_000 - i),
			},
			Signer: signers[i],
		}
	}

	return res
}
