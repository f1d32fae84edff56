package ksenginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// EnterRoundCall holds the arguments of one call to
// [ksconsensus.ConsensusStrategy.EnterRound].
// The test may send a value on ProposalOut
// to simulate the driver proposing block data.
type EnterRoundCall struct {
	RV          ksconsensus.RoundView
	ProposalOut chan<- ksconsensus.Proposal
}

// MockConsensusStrategy is a [ksconsensus.ConsensusStrategy]
// whose decisions are plain functions supplied by the test.
//
// The engine calls the decision methods on its own goroutines,
// so the supplied functions must not block on the test body;
// they return immediately with the scripted choice.
// EnterRound calls are observable on the EnterRoundCalls channel.
type MockConsensusStrategy struct {
	// Receives one value per EnterRound call.
	EnterRoundCalls chan EnterRoundCall

	mu sync.Mutex

	// Overrides for each decision method.
	// A nil field selects the default described on the method.
	considerFunc func([]ksconsensus.ProposedHeader, ksconsensus.ConsiderProposedHeadersReason) (string, error)
	chooseFunc   func([]ksconsensus.ProposedHeader) (string, error)
	decideFunc   func(ksconsensus.VoteSummary) (string, error)
}

func NewMockConsensusStrategy() *MockConsensusStrategy {
	return &MockConsensusStrategy{
		EnterRoundCalls: make(chan EnterRoundCall, 8),
	}
}

// HandleConsider sets the behavior of ConsiderProposedHeaders.
func (s *MockConsensusStrategy) HandleConsider(
	fn func([]ksconsensus.ProposedHeader, ksconsensus.ConsiderProposedHeadersReason) (string, error),
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.considerFunc = fn
}

// HandleChoose sets the behavior of ChooseProposedHeader.
func (s *MockConsensusStrategy) HandleChoose(
	fn func([]ksconsensus.ProposedHeader) (string, error),
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chooseFunc = fn
}

// HandleDecide sets the behavior of DecidePrecommit.
func (s *MockConsensusStrategy) HandleDecide(
	fn func(ksconsensus.VoteSummary) (string, error),
) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decideFunc = fn
}

func (s *MockConsensusStrategy) EnterRound(
	ctx context.Context,
	rv ksconsensus.RoundView,
	proposalOut chan<- ksconsensus.Proposal,
) error {
	select {
	case s.EnterRoundCalls <- EnterRoundCall{RV: rv, ProposalOut: proposalOut}:
	default:
		panic(fmt.Errorf(
			"EnterRound called at h=%d r=%d with no capacity to record it; drain EnterRoundCalls",
			rv.Height, rv.Round,
		))
	}
	return nil
}

// ConsiderProposedHeaders applies the function set by [MockConsensusStrategy.HandleConsider].
// The default keeps waiting by returning [ksconsensus.ErrProposedHeaderChoiceNotReady].
func (s *MockConsensusStrategy) ConsiderProposedHeaders(
	_ context.Context,
	phs []ksconsensus.ProposedHeader,
	reason ksconsensus.ConsiderProposedHeadersReason,
) (string, error) {
	s.mu.Lock()
	fn := s.considerFunc
	s.mu.Unlock()

	if fn == nil {
		return "", ksconsensus.ErrProposedHeaderChoiceNotReady
	}
	return fn(phs, reason)
}

// ChooseProposedHeader applies the function set by [MockConsensusStrategy.HandleChoose].
// The default chooses the first proposed header, or nil if there are none.
func (s *MockConsensusStrategy) ChooseProposedHeader(
	_ context.Context, phs []ksconsensus.ProposedHeader,
) (string, error) {
	s.mu.Lock()
	fn := s.chooseFunc
	s.mu.Unlock()

	if fn == nil {
		if len(phs) == 0 {
			return "", nil
		}
		return string(phs[0].Header.Hash), nil
	}
	return fn(phs)
}

// DecidePrecommit applies the function set by [MockConsensusStrategy.HandleDecide].
// The default precommits the most prevoted block when it has quorum,
// otherwise nil.
func (s *MockConsensusStrategy) DecidePrecommit(
	_ context.Context, vs ksconsensus.VoteSummary,
) (string, error) {
	s.mu.Lock()
	fn := s.decideFunc
	s.mu.Unlock()

	if fn == nil {
		return vs.MostVotedPrevoteHash, nil
	}
	return fn(vs)
}
