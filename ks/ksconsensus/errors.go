package ksconsensus

import (
	"fmt"
)

// InvalidVoterError indicates a proposal or vote signed by an identity
// outside the active validator set for that height.
// Messages carrying this error are rejected permanently, never retried.
type InvalidVoterError struct {
	PubKeyBytes []byte
	Height      uint64
}

func (e InvalidVoterError) Error() string {
	return fmt.Sprintf(
		"public key %x is not an active validator at height %d",
		e.PubKeyBytes, e.Height,
	)
}

// HashUnknownError indicates a reference to an unknown or unrecognized hash.
type HashUnknownError struct {
	Got []byte
}

func (e HashUnknownError) Error() string {
	return fmt.Sprintf("hash %X unknown", e.Got)
}

// PreviousHashMismatchError indicates an input with the wrong previous block hash.
type PreviousHashMismatchError struct {
	Want, Got []byte
}

func (e PreviousHashMismatchError) Error() string {
	return fmt.Sprintf(
		"previous block hash mismatch: expected %X, got %X",
		e.Want, e.Got,
	)
}

// AppStateHashMismatchError indicates an input with the wrong app state hash.
type AppStateHashMismatchError struct {
	Want, Got []byte
}

func (e AppStateHashMismatchError) Error() string {
	return fmt.Sprintf(
		"app state hash mismatch: expected %X, got %X",
		e.Want, e.Got,
	)
}

// HeightMismatchError indicates an input with the wrong height.
type HeightMismatchError struct {
	Want, Got uint64
}

func (e HeightMismatchError) Error() string {
	return fmt.Sprintf(
		"height mismatch: expected %d, got %d",
		e.Want, e.Got,
	)
}

// HeightUnknownError indicates a request for a height that is not known.
type HeightUnknownError struct {
	Want uint64
}

func (e HeightUnknownError) Error() string {
	return fmt.Sprintf("height %d unknown", e.Want)
}

// RoundUnknownError indicates a request for a height and round with no record.
type RoundUnknownError struct {
	WantHeight uint64
	WantRound  uint32
}

func (e RoundUnknownError) Error() string {
	return fmt.Sprintf("height/round %d/%d unknown", e.WantHeight, e.WantRound)
}

// ProposalOverwriteError is returned when a proposal already exists
// for the height and round, regardless of whether the new attempt
// is identical to the original.
type ProposalOverwriteError struct {
	Height uint64
	Round  uint32
}

func (e ProposalOverwriteError) Error() string {
	return fmt.Sprintf("attempted to overwrite existing proposal at height/round %d/%d", e.Height, e.Round)
}

// VoteTargetMismatchError indicates two prevote or precommit values
// that disagree on their vote target.
type VoteTargetMismatchError struct {
	Want, Got VoteTarget
}

func (e VoteTargetMismatchError) Error() string {
	return fmt.Sprintf(
		"vote target mismatch: expected height=%d/round=%d/hash=%x; got height=%d/round=%d/hash=%x",
		e.Want.Height, e.Want.Round, e.Want.BlockHash, e.Got.Height, e.Got.Round, e.Got.BlockHash,
	)
}
