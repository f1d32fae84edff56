package ksengine

// Step is the engine's position within one round.
type Step uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type Step -trimprefix=Step .
const (
	// Keep the zero value invalid.
	_ Step = iota

	// Waiting for the round's proposal, before we have prevoted.
	StepAwaitingProposal

	// We have prevoted and are accumulating prevotes.
	StepAwaitingPrevotes

	// We have precommitted and are accumulating precommits.
	StepAwaitingPrecommits

	// The height is committed; a short pause lets
	// slower validators finish the round before the next height starts.
	StepCommitWait
)

// timerKind identifies which timer, if any, the kernel is running.
type timerKind uint8

const (
	timerNone timerKind = iota
	timerProposal
	timerPrevoteDelay
	timerPrecommitDelay
	timerCommitWait
)
