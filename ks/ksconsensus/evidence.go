package ksconsensus

import (
	"fmt"
	"log/slog"

	"github.com/kestrel-chain/kestrel/internal/klog"
	"github.com/kestrel-chain/kestrel/kcrypto"
)

// VoteKind distinguishes the two vote phases in evidence records.
type VoteKind uint8

const (
	VoteKindUnknown VoteKind = iota
	VoteKindPrevote
	VoteKindPrecommit
)

func (k VoteKind) String() string {
	switch k {
	case VoteKindPrevote:
		return "prevote"
	case VoteKindPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("VoteKind(%d)", uint8(k))
	}
}

// DoubleSignEvidence records one validator signing two conflicting values
// for the same (height, round, kind).
// Evidence is recorded for external slashing or eviction;
// the engine continues operating when it observes a double sign.
type DoubleSignEvidence struct {
	Height uint64
	Round  uint32

	Kind VoteKind

	PubKey kcrypto.PubKey

	// The two conflicting targets.
	// For votes these are block hashes (empty string for nil);
	// for duplicate proposals they are the two proposed header hashes.
	FirstHash, SecondHash string
}

func (e DoubleSignEvidence) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("height", e.Height),
		slog.Uint64("round", uint64(e.Round)),
		slog.String("kind", e.Kind.String()),
		slog.Any("pub_key", klog.Hex(e.PubKey.PubKeyBytes())),
		slog.Any("first_hash", klog.Hex([]byte(e.FirstHash))),
		slog.Any("second_hash", klog.Hex([]byte(e.SecondHash))),
	)
}
