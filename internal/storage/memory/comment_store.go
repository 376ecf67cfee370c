package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DemandCommentStore is an in-memory implementation of storage.DemandCommentStore.
type DemandCommentStore struct {
	db *DB
}

var _ storage.DemandCommentStore = (*DemandCommentStore)(nil)

// GetByID retrieves a comment by id. Returns ErrNotFound if not exists.
func (s *DemandCommentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.DemandComment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	c, exists := s.db.comments[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	commentCopy := *c
	return &commentCopy, nil
}

// ListByDemand returns the comments on demandID ordered by created_at, id.
func (s *DemandCommentStore) ListByDemand(_ context.Context, demandID uuid.UUID) ([]*domain.DemandComment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.DemandComment
	for _, c := range s.db.comments {
		if c.DemandID == demandID {
			commentCopy := *c
			result = append(result, &commentCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}
