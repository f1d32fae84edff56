package xbridge

import (
	"errors"
	"fmt"
)

// ErrProofReplayed indicates a proof whose sequence number was already
// accepted for its (chain, account). The payload has been processed;
// callers report it as already-processed, not as a failure.
var ErrProofReplayed = errors.New("proof already processed")

// UnknownChainError indicates a message referencing a foreign chain
// this node has no anchor for.
type UnknownChainError struct {
	ChainID string
}

func (e UnknownChainError) Error() string {
	return fmt.Sprintf("no header chain configured for foreign chain %q", e.ChainID)
}

// UnknownHeaderError indicates a proof against a foreign header
// this node has not verified.
type UnknownHeaderError struct {
	ChainID    string
	HeaderHash []byte
}

func (e UnknownHeaderError) Error() string {
	return fmt.Sprintf(
		"unknown header %x on foreign chain %q",
		e.HeaderHash, e.ChainID,
	)
}

// InvalidInclusionProofError indicates an inclusion path that does not
// reproduce the commitment root of the claimed header.
type InvalidInclusionProofError struct {
	ChainID    string
	HeaderHash []byte
}

func (e InvalidInclusionProofError) Error() string {
	return fmt.Sprintf(
		"inclusion proof does not match commitment root of header %x on foreign chain %q",
		e.HeaderHash, e.ChainID,
	)
}

// OutOfOrderProofError indicates a proof whose sequence number
// skips ahead of the expected next sequence for its (chain, account).
// The proof is buffered and retried as the gap closes.
type OutOfOrderProofError struct {
	ChainID, Account string

	WantSeq, GotSeq uint64
}

func (e OutOfOrderProofError) Error() string {
	return fmt.Sprintf(
		"out of order proof for account %q on chain %q: expected sequence %d, got %d",
		e.Account, e.ChainID, e.WantSeq, e.GotSeq,
	)
}

// OrphanHeaderError indicates a buffered out-of-order header
// whose gap never filled before the orphan deadline.
type OrphanHeaderError struct {
	ChainID    string
	HeaderHash []byte
	Height     uint64
}

func (e OrphanHeaderError) Error() string {
	return fmt.Sprintf(
		"orphan header %x at height %d on foreign chain %q evicted before its parent arrived",
		e.HeaderHash, e.Height, e.ChainID,
	)
}

// AttestationThresholdError indicates a foreign header carrying
// fewer attestations than the configured threshold.
type AttestationThresholdError struct {
	ChainID   string
	Need, Got int
}

func (e AttestationThresholdError) Error() string {
	return fmt.Sprintf(
		"header on foreign chain %q has %d attestations, need %d",
		e.ChainID, e.Got, e.Need,
	)
}

// HeaderLinkError indicates a header that can never extend the chain:
// its height is at or below the verified head.
type HeaderLinkError struct {
	ChainID string

	HeadHeight, GotHeight uint64
}

func (e HeaderLinkError) Error() string {
	return fmt.Sprintf(
		"header at height %d on foreign chain %q cannot extend verified head at height %d",
		e.GotHeight, e.ChainID, e.HeadHeight,
	)
}
