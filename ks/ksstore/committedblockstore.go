package ksstore

import (
	"context"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// CommittedBlockStore holds full committed headers
// together with the quorum certificate that committed them.
//
// The certificate stored here is subjective:
// it holds whatever signatures this node had observed at commit time,
// which may differ from the canonical certificate
// embedded in the next block's PrevCommitQC field.
type CommittedBlockStore interface {
	// SaveCommittedBlock records ch at its header's height.
	// Returns a [CommittedBlockOverwriteError] if the height
	// already has a committed block.
	SaveCommittedBlock(ctx context.Context, ch ksconsensus.CommittedHeader) error

	LoadCommittedBlock(ctx context.Context, height uint64) (ksconsensus.CommittedHeader, error)
}
