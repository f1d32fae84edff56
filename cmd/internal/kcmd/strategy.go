package kcmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrel-chain/kestrel/internal/klog"
	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"golang.org/x/crypto/blake2b"
)

// ValidatorStrategy proposes and votes on blocks for one validator.
//
// Block data is a deterministic function of the height and round,
// so every honest validator computes the same expected DataID
// and a proposer cannot smuggle arbitrary content past the strategy.
type ValidatorStrategy struct {
	log    *slog.Logger
	pubKey kcrypto.PubKey

	selector ksconsensus.ProposerSelector

	// Round-specific values.
	mu                sync.Mutex
	expProposerPubKey kcrypto.PubKey
	curH              uint64
	curR              uint32
}

func NewValidatorStrategy(log *slog.Logger, pubKey kcrypto.PubKey) *ValidatorStrategy {
	return &ValidatorStrategy{
		log:      log,
		pubKey:   pubKey,
		selector: ksconsensus.WeightedRoundRobinSelector{},
	}
}

// expectedDataID is the only block content the strategy will accept
// at a given height and round.
func expectedDataID(height uint64, round uint32) []byte {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("Height: %d; Round: %d", height, round)))
	return sum[:]
}

func (s *ValidatorStrategy) EnterRound(ctx context.Context, rv ksconsensus.RoundView, proposalOut chan<- ksconsensus.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.curH = rv.Height
	s.curR = rv.Round

	proposer := s.selector.ProposerAt(rv.Height, rv.Round, rv.ValidatorSet)
	s.expProposerPubKey = proposer.PubKey
	s.log.Info("Entering round", "height", rv.Height, "round", rv.Round)

	if s.expProposerPubKey.Equal(s.pubKey) {
		proposalOut <- ksconsensus.Proposal{
			DataID: expectedDataID(s.curH, s.curR),
		}
		s.log.Info("Proposing block", "h", s.curH, "r", s.curR)
	}

	return nil
}

func (s *ValidatorStrategy) ConsiderProposedHeaders(
	ctx context.Context,
	phs []ksconsensus.ProposedHeader,
	_ ksconsensus.ConsiderProposedHeadersReason,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ph := range phs {
		if !s.expProposerPubKey.Equal(ph.ProposerPubKey) {
			continue
		}

		// Found a proposed header from the expected proposer.
		expID := expectedDataID(s.curH, s.curR)
		if !bytes.Equal(ph.Header.DataID, expID) {
			s.log.Info(
				"Rejecting proposed header from expected proposer",
				"exp_id", klog.Hex(expID),
				"got_id", klog.Hex(ph.Header.DataID),
			)
			return "", nil
		}

		if s.pubKey != nil && s.pubKey.Equal(ph.ProposerPubKey) {
			s.log.Info(
				"Voting on a block that we proposed",
				"h", s.curH, "r", s.curR,
				"block_hash", klog.Hex(ph.Header.Hash),
			)
		}
		return string(ph.Header.Hash), nil
	}

	// Didn't see a proposed header from the expected proposer.
	return "", ksconsensus.ErrProposedHeaderChoiceNotReady
}

func (s *ValidatorStrategy) ChooseProposedHeader(ctx context.Context, phs []ksconsensus.ProposedHeader) (string, error) {
	// Follow the ConsiderProposedHeaders logic...
	hash, err := s.ConsiderProposedHeaders(ctx, phs, ksconsensus.ConsiderProposedHeadersReason{})
	if err == ksconsensus.ErrProposedHeaderChoiceNotReady {
		// ... and if there is no choice ready, then vote nil.
		return "", nil
	}
	return hash, err
}

func (s *ValidatorStrategy) DecidePrecommit(ctx context.Context, vs ksconsensus.VoteSummary) (string, error) {
	maj := ksconsensus.ByzantineMajority(vs.AvailablePower)
	if pow := vs.PrevoteBlockPower[vs.MostVotedPrevoteHash]; pow >= maj {
		s.log.Info(
			"Submitting precommit",
			"h", s.curH, "r", s.curR,
			"block_hash", klog.Hex([]byte(vs.MostVotedPrevoteHash)),
		)
		return vs.MostVotedPrevoteHash, nil
	}

	// Didn't reach consensus on one block; precommit nil.
	s.log.Info(
		"Submitting nil precommit",
		"h", s.curH, "r", s.curR,
	)
	return "", nil
}
