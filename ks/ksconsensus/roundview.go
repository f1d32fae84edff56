package ksconsensus

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// RoundView is the observed state of one (height, round):
// the proposals seen so far and the accumulating vote proofs.
//
// A RoundView may refer to a later height or round,
// or a different validator set, than the local state machine.
type RoundView struct {
	Height uint64
	Round  uint32

	ValidatorSet ValidatorSet

	ProposedHeaders []ProposedHeader

	// Vote proofs keyed by block hash; empty string is the nil vote.
	PrevoteProofs, PrecommitProofs map[string]kcrypto.SignatureProof

	VoteSummary VoteSummary
}

// Clone returns a RoundView with values identical to v
// and underlying slices and maps copied.
func (v *RoundView) Clone() RoundView {
	var prevoteClone map[string]kcrypto.SignatureProof
	if len(v.PrevoteProofs) > 0 {
		prevoteClone = make(map[string]kcrypto.SignatureProof, len(v.PrevoteProofs))
		for k, p := range v.PrevoteProofs {
			prevoteClone[k] = p.Clone()
		}
	}

	var precommitClone map[string]kcrypto.SignatureProof
	if len(v.PrecommitProofs) > 0 {
		precommitClone = make(map[string]kcrypto.SignatureProof, len(v.PrecommitProofs))
		for k, p := range v.PrecommitProofs {
			precommitClone[k] = p.Clone()
		}
	}

	return RoundView{
		Height: v.Height,
		Round:  v.Round,

		ValidatorSet: v.ValidatorSet,

		ProposedHeaders: slices.Clone(v.ProposedHeaders),

		PrevoteProofs:   prevoteClone,
		PrecommitProofs: precommitClone,

		VoteSummary: v.VoteSummary.Clone(),
	}
}

// Reset zeros out all fields of the RoundView,
// retaining allocated capacity in its slices and maps
// so views can be reused without reallocating.
func (v *RoundView) Reset() {
	v.Height = 0
	v.ValidatorSet = ValidatorSet{}

	v.ResetForSameHeight()
	v.VoteSummary.Reset()
}

// ResetForSameHeight clears the round, proposals, and vote data,
// keeping the height and validator set.
// Used when a view is reused within one height across round changes.
func (v *RoundView) ResetForSameHeight() {
	v.Round = 0

	clear(v.ProposedHeaders)
	v.ProposedHeaders = v.ProposedHeaders[:0]

	clear(v.PrevoteProofs)
	clear(v.PrecommitProofs)

	v.VoteSummary.ResetForSameHeight()
}

// LogValue converts v into an slog.Value.
// The output is detailed, so it is only appropriate for infrequent events
// such as a watchdog termination dump.
func (v RoundView) LogValue() slog.Value {
	valAttrs := make([]slog.Attr, len(v.ValidatorSet.Validators))
	for i, val := range v.ValidatorSet.Validators {
		valAttrs[i] = slog.Attr{
			Key: fmt.Sprintf("%x", val.PubKey.PubKeyBytes()),
			Value: slog.GroupValue(
				slog.Int("index", i),
				slog.Uint64("power", val.Power),
			),
		}
	}

	phHashes := make([]string, len(v.ProposedHeaders))
	for i, ph := range v.ProposedHeaders {
		phHashes[i] = fmt.Sprintf("%x", ph.Header.Hash)
	}

	prevoteAttrs := make([]slog.Attr, 0, len(v.PrevoteProofs))
	for hash, proof := range v.PrevoteProofs {
		key := fmt.Sprintf("%x", hash)
		if key == "" {
			key = "<nil>"
		}
		prevoteAttrs = append(prevoteAttrs, slog.String(key, proof.SignatureBitSet().String()))
	}
	sortSlogAttrsByKey(prevoteAttrs)

	precommitAttrs := make([]slog.Attr, 0, len(v.PrecommitProofs))
	for hash, proof := range v.PrecommitProofs {
		key := fmt.Sprintf("%x", hash)
		if key == "" {
			key = "<nil>"
		}
		precommitAttrs = append(precommitAttrs, slog.String(key, proof.SignatureBitSet().String()))
	}
	sortSlogAttrsByKey(precommitAttrs)

	return slog.GroupValue(
		slog.Uint64("height", v.Height),
		slog.Uint64("round", uint64(v.Round)), // slog has no uint32 value.

		slog.Uint64("epoch", v.ValidatorSet.Epoch),
		slog.Attr{Key: "validators", Value: slog.GroupValue(valAttrs...)},

		slog.String("proposed_headers", strings.Join(phHashes, ", ")),

		slog.Attr{Key: "prevote_proofs", Value: slog.GroupValue(prevoteAttrs...)},
		slog.Attr{Key: "precommit_proofs", Value: slog.GroupValue(precommitAttrs...)},
	)
}

// sortSlogAttrsByKey sorts attrs in place by key,
// keeping hash-keyed log output deterministic.
func sortSlogAttrsByKey(attrs []slog.Attr) {
	slices.SortFunc(attrs, func(a, b slog.Attr) int {
		return strings.Compare(a.Key, b.Key)
	})
}
