package memory

import (
	"context"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	db *DB
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Latest returns the processed block with the greatest height.
func (s *CheckpointStore) Latest(_ context.Context) (*domain.ProcessedBlock, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if s.db.latest == nil {
		return nil, storage.ErrNotFound
	}
	b := *s.db.latest
	return &b, nil
}

// GetByHeight retrieves the processed block at height.
func (s *CheckpointStore) GetByHeight(_ context.Context, height uint64) (*domain.ProcessedBlock, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	b, exists := s.db.blocks[height]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}
