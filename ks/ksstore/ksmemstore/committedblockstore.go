package ksmemstore

import (
	"context"
	"sync"

	"github.com/kestrel-chain/kestrel/ks/ksconsensus"
	"github.com/kestrel-chain/kestrel/ks/ksstore"
)

type CommittedBlockStore struct {
	mu sync.RWMutex

	blocks map[uint64]ksconsensus.CommittedHeader
}

func NewCommittedBlockStore() *CommittedBlockStore {
	return &CommittedBlockStore{
		blocks: make(map[uint64]ksconsensus.CommittedHeader),
	}
}

func (s *CommittedBlockStore) SaveCommittedBlock(_ context.Context, ch ksconsensus.CommittedHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	height := ch.Header.Height
	if _, ok := s.blocks[height]; ok {
		return ksstore.CommittedBlockOverwriteError{Height: height}
	}

	s.blocks[height] = ch

	return nil
}

func (s *CommittedBlockStore) LoadCommittedBlock(_ context.Context, height uint64) (ksconsensus.CommittedHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.blocks[height]
	if !ok {
		return ksconsensus.CommittedHeader{}, ksconsensus.HeightUnknownError{Want: height}
	}

	return ch, nil
}
