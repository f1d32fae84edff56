package ksconsensus

import (
	"fmt"
	"io"
)

// Genesis initializes a consensus store.
//
// In normal use this is derived from the node's genesis file;
// tests construct it by hand, usually through a fixture.
type Genesis struct {
	ChainID string

	// The height of the first block to be proposed.
	InitialHeight uint64

	// Determines PrevAppStateHash for the first proposed block.
	CurrentAppStateHash []byte

	// The set of validators proposing and voting on the first block.
	ValidatorSet ValidatorSet
}

// Header returns the genesis header corresponding to g,
// with only Height, NextValidatorSet, and Hash set.
func (g Genesis) Header(hs HashScheme) (Header, error) {
	h := Header{
		// InitialHeight is the first block to propose,
		// so the stored genesis header sits one height below.
		Height: g.InitialHeight - 1,

		NextValidatorSet: g.ValidatorSet,
	}

	bh, err := hs.Header(h)
	if err != nil {
		return h, fmt.Errorf("failed to calculate genesis header hash: %w", err)
	}

	h.Hash = bh
	return h, nil
}

// ExternalGenesis is the externally defined genesis data,
// sent to the application driver during chain initialization.
type ExternalGenesis struct {
	ChainID string

	// Height to use for the first proposed block.
	InitialHeight uint64

	// Initial application state, opaque to the consensus engine.
	// A Reader rather than a byte slice,
	// so large state need not be held in memory at once.
	InitialAppState io.Reader

	// Validators according to the consensus engine's view.
	// The driver may override these in its init response.
	GenesisValidatorSet ValidatorSet
}
