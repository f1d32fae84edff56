// Package ksepoch tracks the active validator set across epoch transitions.
//
// Validator sets are immutable values; a transition replaces
// the whole set at a scheduled height rather than mutating it in place.
package ksepoch

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kestrel-chain/kestrel/kcrypto"
	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

// epochEntry is one immutable (effective height, set) pair.
type epochEntry struct {
	EffectiveHeight uint64
	Set             ksconsensus.ValidatorSet
}

// Manager resolves the active validator set for any known height.
//
// Reads of the current set are lock-free through an atomic pointer;
// transitions take a mutex, as they only happen at epoch boundaries.
type Manager struct {
	log *slog.Logger

	// The entry whose effective height is highest among those in effect.
	cur atomic.Pointer[epochEntry]

	mu sync.Mutex
	// All scheduled entries, ascending by effective height.
	// The first entry covers all heights at or below its effective height.
	entries []epochEntry
}

// NewManager returns a Manager whose initial set is effective
// from initialHeight onwards, until a transition is scheduled.
func NewManager(log *slog.Logger, initialHeight uint64, initial ksconsensus.ValidatorSet) *Manager {
	m := &Manager{log: log}

	e := epochEntry{EffectiveHeight: initialHeight, Set: initial}
	m.entries = []epochEntry{e}
	m.cur.Store(&e)

	return m
}

// CurrentSet returns the most recently effective validator set.
func (m *Manager) CurrentSet() ksconsensus.ValidatorSet {
	return m.cur.Load().Set
}

// SetAtHeight returns the validator set active at height.
// Heights below the first known entry resolve to that entry,
// so votes on early blocks remain verifiable after restarts.
func (m *Manager) SetAtHeight(height uint64) ksconsensus.ValidatorSet {
	// Fast path: the current entry covers most lookups.
	if cur := m.cur.Load(); height >= cur.EffectiveHeight {
		return cur.Set
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Last entry whose effective height does not exceed height.
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].EffectiveHeight > height
	})
	if idx == 0 {
		return m.entries[0].Set
	}
	return m.entries[idx-1].Set
}

// IsValidVoter reports whether pubKey belongs to the validator set
// active at height.
func (m *Manager) IsValidVoter(pubKey kcrypto.PubKey, height uint64) bool {
	return m.SetAtHeight(height).Contains(pubKey)
}

// CheckVoter returns an [ksconsensus.InvalidVoterError] if pubKey
// is not an active validator at height, nil otherwise.
func (m *Manager) CheckVoter(pubKey kcrypto.PubKey, height uint64) error {
	if m.IsValidVoter(pubKey, height) {
		return nil
	}
	return ksconsensus.InvalidVoterError{
		PubKeyBytes: pubKey.PubKeyBytes(),
		Height:      height,
	}
}

// TransitionScheduleError indicates a transition that would not
// extend the schedule forward.
type TransitionScheduleError struct {
	EffectiveHeight, LastEffectiveHeight uint64
}

func (e TransitionScheduleError) Error() string {
	return fmt.Sprintf(
		"transition at height %d does not follow last scheduled transition at height %d",
		e.EffectiveHeight, e.LastEffectiveHeight,
	)
}

// EpochRegressionError indicates a transition to an epoch
// at or below the currently scheduled latest epoch.
type EpochRegressionError struct {
	Epoch, LastEpoch uint64
}

func (e EpochRegressionError) Error() string {
	return fmt.Sprintf(
		"transition to epoch %d does not advance past epoch %d",
		e.Epoch, e.LastEpoch,
	)
}

// ScheduleTransition makes next the active set from effectiveHeight onwards.
//
// Call this when a finalized block carries an epoch boundary marker;
// effectiveHeight is the height immediately after the marker's finalization.
// Transitions must be scheduled in order, with strictly increasing
// effective heights and epochs.
func (m *Manager) ScheduleTransition(effectiveHeight uint64, next ksconsensus.ValidatorSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.entries[len(m.entries)-1]
	if effectiveHeight <= last.EffectiveHeight {
		return TransitionScheduleError{
			EffectiveHeight:     effectiveHeight,
			LastEffectiveHeight: last.EffectiveHeight,
		}
	}
	if next.Epoch <= last.Set.Epoch {
		return EpochRegressionError{
			Epoch:     next.Epoch,
			LastEpoch: last.Set.Epoch,
		}
	}

	e := epochEntry{EffectiveHeight: effectiveHeight, Set: next}
	m.entries = append(m.entries, e)
	m.cur.Store(&e)

	m.log.Info(
		"Scheduled validator set transition",
		"epoch", next.Epoch,
		"effective_height", effectiveHeight,
		"validators", len(next.Validators),
	)

	return nil
}
