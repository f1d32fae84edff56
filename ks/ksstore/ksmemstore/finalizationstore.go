package ksmemstore

import (
	"context"
	"sync"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
)

type FinalizationStore struct {
	mu sync.RWMutex

	byHeight map[uint64]fin

	maxHeight uint64
	any       bool
}

type fin struct {
	R            uint32
	BlockHash    string
	Vals         ksconsensus.ValidatorSet
	AppStateHash string
}

func NewFinalizationStore() *FinalizationStore {
	return &FinalizationStore{
		byHeight: make(map[uint64]fin),
	}
}

func (s *FinalizationStore) SaveFinalization(
	ctx context.Context,
	height uint64, round uint32,
	blockHash string,
	vals ksconsensus.ValidatorSet,
	appStateHash string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHeight[height]; ok {
		return ksstore.FinalizationOverwriteError{Height: height}
	}

	s.byHeight[height] = fin{
		R:            round,
		BlockHash:    blockHash,
		Vals:         vals,
		AppStateHash: appStateHash,
	}

	if !s.any || height > s.maxHeight {
		s.maxHeight = height
		s.any = true
	}

	return nil
}

func (s *FinalizationStore) LoadFinalizationByHeight(ctx context.Context, height uint64) (
	round uint32,
	blockHash string,
	vals ksconsensus.ValidatorSet,
	appStateHash string,
	err error,
) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fin, ok := s.byHeight[height]
	if !ok {
		return 0, "", ksconsensus.ValidatorSet{}, "", ksconsensus.HeightUnknownError{Want: height}
	}

	return fin.R, fin.BlockHash, fin.Vals, fin.AppStateHash, nil
}

func (s *FinalizationStore) Height(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.any {
		return 0, ksstore.ErrStoreUninitialized
	}
	return s.maxHeight, nil
}
