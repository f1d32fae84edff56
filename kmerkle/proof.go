package kmerkle

import "fmt"

// ProofStep is one level of an inclusion proof:
// the sibling ID and which side of the pair it sits on.
type ProofStep[I comparable] struct {
	ID   I
	Left bool
}

// InclusionProof carries the sibling path from one leaf up to the root.
// It is produced by [Tree.Prove] and checked by [VerifyInclusion].
type InclusionProof[I comparable] struct {
	LeafIndex int
	Steps     []ProofStep[I]
}

// VerifyInclusion recomputes the root from leafData and proof,
// reporting whether it equals root.
//
// The scheme must match the one the tree was built with.
// A failure to compute an intermediate ID is returned as an error,
// distinct from a clean mismatch.
func VerifyInclusion[L any, I comparable](
	scheme Scheme[L, I],
	root I,
	leafData L,
	proof InclusionProof[I],
) (bool, error) {
	cur, err := scheme.LeafID(leafData)
	if err != nil {
		return false, fmt.Errorf("error hashing leaf: %w", err)
	}

	for i, step := range proof.Steps {
		if step.Left {
			cur, err = scheme.PairID(step.ID, cur)
		} else {
			cur, err = scheme.PairID(cur, step.ID)
		}
		if err != nil {
			return false, fmt.Errorf("error hashing pair at proof step %d: %w", i, err)
		}
	}

	return cur == root, nil
}
