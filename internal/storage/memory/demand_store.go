package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DemandStore is an in-memory implementation of storage.DemandStore.
type DemandStore struct {
	db *DB
}

var _ storage.DemandStore = (*DemandStore)(nil)

// Insert adds a new demand. Returns ErrDuplicateKey if id exists.
func (s *DemandStore) Insert(_ context.Context, d *domain.Demand) error {
	if d == nil || d.ID == uuid.Nil {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.demands[d.ID]; exists {
		return storage.ErrDuplicateKey
	}
	demandCopy := *d
	s.db.demands[d.ID] = &demandCopy
	return nil
}

// GetByID retrieves a demand by id. Returns ErrNotFound if not exists.
func (s *DemandStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Demand, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	d, exists := s.db.demands[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	demandCopy := *d
	return &demandCopy, nil
}

// List returns demands matching f ordered by created_at, id.
func (s *DemandStore) List(_ context.Context, f storage.DemandFilter) ([]*domain.Demand, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.Demand
	for _, d := range s.db.demands {
		if f.Subtype != nil && d.Subtype != *f.Subtype {
			continue
		}
		if !since(d.UpdatedAt, f.UpdatedSince) {
			continue
		}
		demandCopy := *d
		result = append(result, &demandCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}
