package ksconsensus

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/kestrel-chain/kestrel/kcrypto"
)

// VoteSummary aggregates the known voting weight in a round.
// Quorum decisions compare these totals
// against [ByzantineMajority] of AvailablePower.
type VoteSummary struct {
	// Combined power of every validator in the round,
	// whether or not they have voted yet.
	AvailablePower uint64

	// Cumulative power observed across all prevotes or precommits.
	TotalPrevotePower, TotalPrecommitPower uint64

	// Voting power keyed by block hash.
	// The empty string key is the nil vote.
	PrevoteBlockPower, PrecommitBlockPower map[string]uint64

	// The hash currently leading each vote kind.
	// Empty when nothing has votes or when nil leads.
	// Power ties break to the lexicographically earlier hash.
	MostVotedPrevoteHash, MostVotedPrecommitHash string
}

func NewVoteSummary() VoteSummary {
	return VoteSummary{
		PrevoteBlockPower:   make(map[string]uint64),
		PrecommitBlockPower: make(map[string]uint64),
	}
}

func (vs VoteSummary) Clone() VoteSummary {
	c := vs
	c.PrevoteBlockPower = maps.Clone(vs.PrevoteBlockPower)
	c.PrecommitBlockPower = maps.Clone(vs.PrecommitBlockPower)
	return c
}

func (vs *VoteSummary) SetAvailablePower(vals []Validator) {
	vs.AvailablePower = 0
	for _, v := range vals {
		vs.AvailablePower += v.Power
	}
}

func (vs *VoteSummary) SetVotePowers(vals []Validator, prevotes, precommits map[string]kcrypto.SignatureProof) {
	vs.SetPrevotePowers(vals, prevotes)
	vs.SetPrecommitPowers(vals, precommits)
}

func (vs *VoteSummary) SetPrevotePowers(vals []Validator, prevotes map[string]kcrypto.SignatureProof) {
	clear(vs.PrevoteBlockPower)
	vs.TotalPrevotePower, vs.MostVotedPrevoteHash =
		tallyVotePowers(vals, prevotes, vs.PrevoteBlockPower)
}

func (vs *VoteSummary) SetPrecommitPowers(vals []Validator, precommits map[string]kcrypto.SignatureProof) {
	clear(vs.PrecommitBlockPower)
	vs.TotalPrecommitPower, vs.MostVotedPrecommitHash =
		tallyVotePowers(vals, precommits, vs.PrecommitBlockPower)
}

// tallyVotePowers fills byBlock with the voting weight behind each
// block hash in proofs, returning the cumulative weight and the hash
// holding the most of it. Power ties break to the lexicographically
// earlier hash so every node reports the same leader.
func tallyVotePowers(
	vals []Validator,
	proofs map[string]kcrypto.SignatureProof,
	byBlock map[string]uint64,
) (total uint64, leader string) {
	var leadPow uint64
	for blockHash, proof := range proofs {
		var pow uint64
		bs := proof.SignatureBitSet()
		for i, ok := bs.NextSet(0); ok && int(i) < len(vals); i, ok = bs.NextSet(i + 1) {
			pow += vals[i].Power
		}
		total += pow

		byBlock[blockHash] = pow
		switch {
		case pow > leadPow:
			leadPow, leader = pow, blockHash
		case pow == leadPow:
			leader = min(leader, blockHash)
		}
	}

	return total, leader
}

func (vs *VoteSummary) Reset() {
	vs.AvailablePower = 0
	vs.ResetForSameHeight()
}

func (vs *VoteSummary) ResetForSameHeight() {
	vs.TotalPrevotePower = 0
	vs.TotalPrecommitPower = 0
	clear(vs.PrevoteBlockPower)
	clear(vs.PrecommitBlockPower)
	vs.MostVotedPrevoteHash = ""
	vs.MostVotedPrecommitHash = ""
}

func (vs VoteSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("available_power", vs.AvailablePower),
		slog.Uint64("prevote_power", vs.TotalPrevotePower),
		slog.String("prevote_block_power", formatBlockPower(vs.PrevoteBlockPower)),
		slog.Uint64("precommit_power", vs.TotalPrecommitPower),
		slog.String("precommit_block_power", formatBlockPower(vs.PrecommitBlockPower)),
	)
}

func formatBlockPower(byBlock map[string]uint64) string {
	entries := make([]string, 0, len(byBlock))
	for hash, pow := range byBlock {
		if hash == "" {
			// The nil block is always tracked,
			// but only worth logging once it draws votes.
			if pow > 0 {
				entries = append(entries, fmt.Sprintf("nil => %d", pow))
			}
			continue
		}
		entries = append(entries, fmt.Sprintf("%x => %d", hash, pow))
	}
	sort.Strings(entries)

	return strings.Join(entries, ", ")
}
