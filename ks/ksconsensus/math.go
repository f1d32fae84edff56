package ksconsensus

import "errors"

// ByzantineMajority returns the smallest voting weight
// strictly greater than 2/3 of n.
// Callers compare accumulated weight against the result with >=.
//
// Any two weight subsets at or above this bound overlap
// in more than 1/3 of the total,
// which is the intersection argument behind single-quorum safety.
//
// ByzantineMajority(0) panics.
func ByzantineMajority(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("ByzantineMajority undefined for zero weight"))
	}

	third := n / 3
	if n%3 == 2 {
		return 2*third + 2
	}
	return 2*third + 1
}

// ByzantineMinority returns the smallest voting weight
// reaching 1/3 of n, that is, the least weight a faulty coalition
// needs to block a quorum.
// Callers compare accumulated weight against the result with >=.
//
// ByzantineMinority(0) panics.
func ByzantineMinority(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("ByzantineMinority undefined for zero weight"))
	}

	m := n / 3
	if n%3 != 0 {
		m++
	}
	return m
}
