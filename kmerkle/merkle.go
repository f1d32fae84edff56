// Package kmerkle provides a binary Merkle tree with inclusion proofs,
// used to verify that a cross-chain payload is committed
// under a foreign block header's root.
package kmerkle

import (
	"fmt"
)

// Scheme specifies how leaf and branch IDs are produced.
// Type parameter L is the leaf data and I is the node ID type,
// usually a string holding hash bytes so it can be a map key.
//
// Implementations should domain-separate leaf and pair hashing
// to prevent second preimage attacks.
type Scheme[L any, I comparable] interface {
	// LeafID calculates the ID for the given leaf data.
	LeafID(leafData L) (I, error)

	// PairID calculates the ID of the parent of two adjacent nodes.
	PairID(left, right I) (I, error)
}

// Tree is an immutable binary Merkle tree.
// All leaves are hashed up front; the tree holds no reference
// to leaf values afterwards, so methods are safe for concurrent use.
//
// A row with an odd node count raises its last node unchanged
// into the next row.
type Tree[I comparable] struct {
	nLeaves int

	// rows[0] holds the leaf IDs; the last row holds the lone root.
	rows [][]I
}

// NewTree builds a tree over leafData using scheme.
// It returns an error for empty leaf data
// or when the scheme fails to produce an ID.
func NewTree[L any, I comparable](scheme Scheme[L, I], leafData []L) (*Tree[I], error) {
	if len(leafData) == 0 {
		return nil, fmt.Errorf("cannot build a merkle tree over zero leaves")
	}

	row := make([]I, len(leafData))
	for i, ld := range leafData {
		id, err := scheme.LeafID(ld)
		if err != nil {
			return nil, fmt.Errorf("error generating leaf ID for leaf at index %d: %w", i, err)
		}
		row[i] = id
	}

	rows := [][]I{row}
	for len(row) > 1 {
		next := make([]I, 0, (len(row)+1)/2)
		for i := 0; i+1 < len(row); i += 2 {
			id, err := scheme.PairID(row[i], row[i+1])
			if err != nil {
				return nil, fmt.Errorf("error generating branch ID at depth %d, index %d: %w", len(rows), i/2, err)
			}
			next = append(next, id)
		}
		if len(row)%2 == 1 {
			// Raise the orphan unchanged.
			next = append(next, row[len(row)-1])
		}

		rows = append(rows, next)
		row = next
	}

	return &Tree[I]{
		nLeaves: len(leafData),
		rows:    rows,
	}, nil
}

// RootID returns the ID of the root of the tree.
func (t *Tree[I]) RootID() I {
	return t.rows[len(t.rows)-1][0]
}

// NLeaves returns how many leaves the tree was built over.
func (t *Tree[I]) NLeaves() int {
	return t.nLeaves
}

// LeafIndex returns the index of the leaf with the given ID,
// or -1 if no leaf matches.
func (t *Tree[I]) LeafIndex(id I) int {
	for i, leafID := range t.rows[0] {
		if leafID == id {
			return i
		}
	}
	return -1
}

// Prove returns the inclusion proof for the leaf at idx.
func (t *Tree[I]) Prove(idx int) (InclusionProof[I], error) {
	if idx < 0 || idx >= t.nLeaves {
		return InclusionProof[I]{}, fmt.Errorf("leaf index %d out of range [0, %d)", idx, t.nLeaves)
	}

	var steps []ProofStep[I]

	pos := idx
	for _, row := range t.rows[:len(t.rows)-1] {
		sibling := pos ^ 1
		if sibling < len(row) {
			steps = append(steps, ProofStep[I]{
				ID:   row[sibling],
				Left: sibling < pos,
			})
		}
		// A raised orphan contributes no step at this depth.

		pos /= 2
	}

	return InclusionProof[I]{
		LeafIndex: idx,
		Steps:     steps,
	}, nil
}
