package ksconsensus

// VoteTarget is the reference of the block targeted for a prevote or precommit.
type VoteTarget struct {
	Height uint64
	Round  uint32

	// The block hash is a string rather than the conventional []byte,
	// for simpler map keys and because the hash is immutable after creation.
	// An empty string indicates a nil vote.
	BlockHash string
}
