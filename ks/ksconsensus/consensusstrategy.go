package ksconsensus

import (
	"context"
	"errors"
)

// Proposal is the data the application provides
// for the engine to compose a [ProposedHeader].
type Proposal struct {
	// The ID of the data inside the block,
	// used to set [Header.DataID].
	DataID []byte

	// Respectively set [ProposedHeader.Annotations] and [Header.Annotations].
	ProposalAnnotations, HeaderAnnotations Annotations
}

// ConsiderProposedHeadersReason hints at what is new in this call
// to [ConsensusStrategy.ConsiderProposedHeaders]
// compared to the previous one.
type ConsiderProposedHeadersReason struct {
	// Hashes of headers newly proposed since the previous call.
	NewProposedHeaders []string

	// Indicates whether more than 2/3 of voting power has prevoted,
	// though possibly split across blocks and nil.
	MajorityVotingPowerPresent bool
}

// ConsensusStrategy determines what the local validator proposes
// and which blocks it prevotes or precommits.
type ConsensusStrategy interface {
	// EnterRound is called synchronously when the state machine begins a round.
	// The view may already hold proposals or votes
	// if the local node is lagging the network.
	//
	// If this validator is the round's proposer,
	// it must publish its proposal information to proposalOut;
	// the state machine composes that into a proposed header.
	EnterRound(ctx context.Context, rv RoundView, proposalOut chan<- Proposal) error

	// ConsiderProposedHeaders is called as proposed headers arrive,
	// while the proposal timeout has not yet elapsed.
	//
	// A nil error means the returned string is the block hash to prevote,
	// with the empty string prevoting nil.
	// Returning ErrProposedHeaderChoiceNotReady defers the decision;
	// any other error is fatal.
	ConsiderProposedHeaders(
		ctx context.Context,
		phs []ProposedHeader,
		reason ConsiderProposedHeadersReason,
	) (string, error)

	// ChooseProposedHeader is called when the proposal delay has elapsed.
	// The phs slice may be empty.
	//
	// It must return the hash of the block to prevote.
	// Under a proof-of-lock the returned hash
	// may not be present in phs.
	//
	// The state machine calls this in a background goroutine;
	// the method may block but must respect context cancellation.
	ChooseProposedHeader(ctx context.Context, phs []ProposedHeader) (string, error)

	// DecidePrecommit is called when prevoting has concluded
	// and the state machine needs a precommit decision.
	//
	// The returned string is the block hash to precommit,
	// with the empty string precommitting nil.
	// A returned error is fatal.
	DecidePrecommit(ctx context.Context, vs VoteSummary) (string, error)
}

// ErrProposedHeaderChoiceNotReady is the sentinel a [ConsensusStrategy]
// returns from ConsiderProposedHeaders when it wants to keep waiting.
var ErrProposedHeaderChoiceNotReady = errors.New("not ready to choose proposed header")
