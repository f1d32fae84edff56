package ksstore

import (
	"errors"
	"fmt"
)

// FinalizationOverwriteError is returned from [FinalizationStore.SaveFinalization]
// if a finalization already exists at the given height.
// The finalized log is append-only, so this indicates a serious programming bug.
type FinalizationOverwriteError struct {
	Height uint64
}

func (e FinalizationOverwriteError) Error() string {
	return fmt.Sprintf(
		"attempted to overwrite existing finalization with height = %d",
		e.Height,
	)
}

// CommittedBlockOverwriteError is returned from
// [CommittedBlockStore.SaveCommittedBlock] if a block already exists
// at the given height.
type CommittedBlockOverwriteError struct {
	Height uint64
}

func (e CommittedBlockOverwriteError) Error() string {
	return fmt.Sprintf(
		"attempted to overwrite existing committed block with height = %d",
		e.Height,
	)
}

// ErrStoreUninitialized is returned by certain store methods
// that need a corresponding Save call before a call to Load is valid.
var ErrStoreUninitialized = errors.New("uninitialized")
