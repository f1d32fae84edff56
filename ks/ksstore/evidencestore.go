package ksstore

import (
	"context"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// EvidenceStore accumulates equivocation records
// for consumption by an external slashing process.
//
// Recording evidence never fails consensus;
// duplicate submissions of the same evidence are deduplicated.
type EvidenceStore interface {
	SaveDoubleSignEvidence(ctx context.Context, ev ksconsensus.DoubleSignEvidence) error

	// LoadEvidence returns all recorded evidence for height,
	// or an empty slice if none.
	LoadEvidence(ctx context.Context, height uint64) ([]ksconsensus.DoubleSignEvidence, error)
}
