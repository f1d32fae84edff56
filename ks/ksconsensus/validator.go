package ksconsensus

import (
	"bytes"
	"fmt"
	"slices"
	"sort"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// Validator is one entry in a validator set:
// an identity and its voting weight.
type Validator struct {
	PubKey kcrypto.PubKey
	Power  uint64
}

// ValidatorSet is the fixed, ordered collection of validators for one epoch.
// Sets are immutable values; epoch transitions replace the whole set.
type ValidatorSet struct {
	// The epoch this set belongs to.
	Epoch uint64

	Validators []Validator

	// Hashes generated via a [HashScheme].
	PubKeyHash, VotePowerHash []byte
}

// NewValidatorSet returns a ValidatorSet for epoch over vs,
// with hashes calculated using hs.
//
// NewValidatorSet takes ownership of vs;
// the slice must not be modified afterwards.
func NewValidatorSet(epoch uint64, vs []Validator, hs HashScheme) (ValidatorSet, error) {
	s := ValidatorSet{Epoch: epoch, Validators: vs}

	var err error
	s.PubKeyHash, err = hs.PubKeys(ValidatorsToPubKeys(vs))
	if err != nil {
		return ValidatorSet{}, fmt.Errorf("failed to calculate public key hash: %w", err)
	}

	s.VotePowerHash, err = hs.VotePowers(ValidatorsToVotePowers(vs))
	if err != nil {
		return ValidatorSet{}, fmt.Errorf("failed to calculate vote power hash: %w", err)
	}

	return s, nil
}

// Equal reports whether v and other hold the same epoch, validators, and hashes.
func (v ValidatorSet) Equal(other ValidatorSet) bool {
	return v.Epoch == other.Epoch &&
		bytes.Equal(v.PubKeyHash, other.PubKeyHash) &&
		bytes.Equal(v.VotePowerHash, other.VotePowerHash) &&
		ValidatorSlicesEqual(v.Validators, other.Validators)
}

// TotalPower returns the sum of all voting weight in the set.
func (v ValidatorSet) TotalPower() uint64 {
	var total uint64
	for _, val := range v.Validators {
		total += val.Power
	}
	return total
}

// QuorumThreshold returns the minimum weight for a quorum certificate
// over this set, derived from the total weight.
func (v ValidatorSet) QuorumThreshold() uint64 {
	return ByzantineMajority(v.TotalPower())
}

// Contains reports whether pubKey belongs to the set.
func (v ValidatorSet) Contains(pubKey kcrypto.PubKey) bool {
	for _, val := range v.Validators {
		if val.PubKey.Equal(pubKey) {
			return true
		}
	}
	return false
}

// SortValidators sorts vs in place, by power descending
// and then by public key ascending.
func SortValidators(vs []Validator) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].Power == vs[j].Power {
			return bytes.Compare(vs[i].PubKey.PubKeyBytes(), vs[j].PubKey.PubKeyBytes()) < 0
		}
		return vs[i].Power > vs[j].Power
	})
}

// ValidatorsToPubKeys returns just the public keys of vs, in order.
func ValidatorsToPubKeys(vs []Validator) []kcrypto.PubKey {
	out := make([]kcrypto.PubKey, len(vs))
	for i, v := range vs {
		out[i] = v.PubKey
	}
	return out
}

// ValidatorsToVotePowers returns just the vote powers of vs, in order.
func ValidatorsToVotePowers(vs []Validator) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = v.Power
	}
	return out
}

// ValidatorSlicesEqual reports whether vs1 and vs2 are equivalent.
func ValidatorSlicesEqual(vs1, vs2 []Validator) bool {
	return slices.EqualFunc(vs1, vs2, func(v1, v2 Validator) bool {
		return v1.Power == v2.Power && v1.PubKey.Equal(v2.PubKey)
	})
}
