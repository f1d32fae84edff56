package ksengine

import "time"

// TimeoutStrategy informs the engine how to calculate per-step timeouts.
// Each method takes a height parameter, which will rarely influence
// the duration itself; it exists so a strategy can coordinate
// changing its timeouts after a certain height.
type TimeoutStrategy interface {
	ProposalTimeout(height uint64, round uint32) time.Duration
	PrevoteDelayTimeout(height uint64, round uint32) time.Duration
	PrecommitDelayTimeout(height uint64, round uint32) time.Duration
	CommitWaitTimeout(height uint64, round uint32) time.Duration
}

// LinearTimeoutStrategy produces timeouts that grow linearly with the round,
// so a network that keeps failing rounds gets progressively more time
// to converge. Zero values fall back to reasonable defaults.
type LinearTimeoutStrategy struct {
	ProposalBase      time.Duration
	ProposalIncrement time.Duration

	PrevoteDelayBase      time.Duration
	PrevoteDelayIncrement time.Duration

	PrecommitDelayBase      time.Duration
	PrecommitDelayIncrement time.Duration

	CommitWaitBase      time.Duration
	CommitWaitIncrement time.Duration
}

const (
	defaultTimeoutBase      = 5 * time.Second
	defaultCommitWaitBase   = 2 * time.Second
	defaultTimeoutIncrement = 500 * time.Millisecond
)

func linearTimeout(base, defBase, inc time.Duration, round uint32) time.Duration {
	if base == 0 {
		base = defBase
	}
	if inc == 0 {
		inc = defaultTimeoutIncrement
	}
	return base + (time.Duration(round) * inc)
}

func (s LinearTimeoutStrategy) ProposalTimeout(_ uint64, round uint32) time.Duration {
	return linearTimeout(s.ProposalBase, defaultTimeoutBase, s.ProposalIncrement, round)
}

func (s LinearTimeoutStrategy) PrevoteDelayTimeout(_ uint64, round uint32) time.Duration {
	return linearTimeout(s.PrevoteDelayBase, defaultTimeoutBase, s.PrevoteDelayIncrement, round)
}

func (s LinearTimeoutStrategy) PrecommitDelayTimeout(_ uint64, round uint32) time.Duration {
	return linearTimeout(s.PrecommitDelayBase, defaultTimeoutBase, s.PrecommitDelayIncrement, round)
}

func (s LinearTimeoutStrategy) CommitWaitTimeout(_ uint64, round uint32) time.Duration {
	return linearTimeout(s.CommitWaitBase, defaultCommitWaitBase, s.CommitWaitIncrement, round)
}
