package ksstore

import (
	"context"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// FinalizationStore is the append-only log of finalized heights.
//
// There is a single writer, the engine kernel at commit time;
// reads may happen concurrently from any goroutine.
type FinalizationStore interface {
	// SaveFinalization records the outcome of a finalized height.
	// Returns a [FinalizationOverwriteError] if the height already
	// has a finalization.
	SaveFinalization(
		ctx context.Context,
		height uint64, round uint32,
		blockHash string,
		vals ksconsensus.ValidatorSet,
		appStateHash string,
	) error

	LoadFinalizationByHeight(ctx context.Context, height uint64) (
		round uint32,
		blockHash string,
		vals ksconsensus.ValidatorSet,
		appStateHash string,
		err error,
	)

	// Height returns the highest finalized height,
	// or [ErrStoreUninitialized] if nothing has been finalized.
	Height(ctx context.Context) (uint64, error)
}
