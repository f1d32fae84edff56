package kcrypto

// ProofMergeResult reports what was learned by merging one signature proof
// into another, which the engine uses to decide whether the incoming
// message taught us anything and whether it should propagate further.
//
// If AllValidSignatures is false, the incoming message must not propagate.
type ProofMergeResult struct {
	// Whether every signature in the incoming proof verified.
	AllValidSignatures bool

	// Whether merging produced signatures we did not already hold.
	IncreasedSignatures bool

	// Whether the incoming proof strictly contained the current one.
	WasStrictSuperset bool
}

// Combine folds other into r, for call sites that merge several proofs
// in one pass, such as handling active and nil prevotes together.
func (r ProofMergeResult) Combine(other ProofMergeResult) ProofMergeResult {
	return ProofMergeResult{
		AllValidSignatures: r.AllValidSignatures && other.AllValidSignatures,

		IncreasedSignatures: r.IncreasedSignatures || other.IncreasedSignatures,

		WasStrictSuperset: r.WasStrictSuperset && other.WasStrictSuperset,
	}
}
