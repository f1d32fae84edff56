// Package xbridge verifies state proofs from foreign chains
// and stages the proven payloads for relay into blocks.
//
// The bridge trusts a configured genesis anchor per foreign chain
// and an attestation threshold; beyond the signature count,
// foreign attestations are opaque to this package.
package xbridge

import (
	"bytes"
	"log/slog"

	"github.com/kestrel-chain/kestrel/internal/klog"
)

// ForeignHeader is a block header observed on a foreign chain.
//
// Only the fields the bridge needs are modeled;
// anything else the foreign chain puts in its headers
// is already folded into Hash by the foreign chain's own rules.
type ForeignHeader struct {
	ChainID string

	Height uint64

	Hash, ParentHash []byte

	// Root of the commitment tree over outbound bridge events
	// in the foreign block. Inclusion proofs verify against this.
	CommitmentRoot []byte

	// Opaque attestation signatures from the foreign validator set.
	// The bridge only counts them against the configured threshold.
	Attestations [][]byte
}

func (h ForeignHeader) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("chain_id", h.ChainID),
		slog.Uint64("height", h.Height),
		slog.Any("hash", klog.Hex(h.Hash)),
		slog.Any("parent_hash", klog.Hex(h.ParentHash)),
	)
}

// GenesisAnchor is the configured trusted starting point
// for one foreign chain's header verification.
type GenesisAnchor struct {
	ChainID string

	Height uint64

	Hash []byte
}

// linksTo reports whether h is the immediate child of
// a block at parentHeight with hash parentHash.
func (h ForeignHeader) linksTo(parentHash []byte, parentHeight uint64) bool {
	return h.Height == parentHeight+1 && bytes.Equal(h.ParentHash, parentHash)
}
