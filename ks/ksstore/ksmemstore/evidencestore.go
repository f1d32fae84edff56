package ksmemstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
)

type EvidenceStore struct {
	mu sync.RWMutex

	byHeight map[uint64][]ksconsensus.DoubleSignEvidence

	// Dedup key over every evidence field.
	seen map[string]struct{}
}

func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{
		byHeight: make(map[uint64][]ksconsensus.DoubleSignEvidence),
		seen:     make(map[string]struct{}),
	}
}

func (s *EvidenceStore) SaveDoubleSignEvidence(_ context.Context, ev ksconsensus.DoubleSignEvidence) error {
	key := fmt.Sprintf(
		"%d/%d/%d/%x/%x/%x",
		ev.Height, ev.Round, ev.Kind,
		ev.PubKey.PubKeyBytes(), ev.FirstHash, ev.SecondHash,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}

	s.byHeight[ev.Height] = append(s.byHeight[ev.Height], ev)

	return nil
}

func (s *EvidenceStore) LoadEvidence(_ context.Context, height uint64) ([]ksconsensus.DoubleSignEvidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.byHeight[height]
	out := make([]ksconsensus.DoubleSignEvidence, len(evs))
	copy(out, evs)

	return out, nil
}
