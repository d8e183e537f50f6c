package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

type streamKey struct {
	contract common.Address
	event    string
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[streamKey]*domain.Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[streamKey]*domain.Checkpoint),
	}
}

// Get returns the checkpoint of a log stream.
func (s *CheckpointStore) Get(_ context.Context, contract common.Address, event string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[streamKey{contract, event}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

// Set inserts or replaces a checkpoint.
func (s *CheckpointStore) Set(_ context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.Event == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[streamKey{cp.Contract, cp.Event}] = copyCheckpoint(cp)
	return nil
}

func copyCheckpoint(cp *domain.Checkpoint) *domain.Checkpoint {
	out := *cp
	if cp.Total != nil {
		out.Total = new(big.Int).Set(cp.Total)
	}
	return &out
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
