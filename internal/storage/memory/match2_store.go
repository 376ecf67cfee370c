package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// Match2Store is an in-memory implementation of storage.Match2Store.
type Match2Store struct {
	db *DB
}

var _ storage.Match2Store = (*Match2Store)(nil)

// Insert adds a new match2. Returns ErrDuplicateKey if id exists.
func (s *Match2Store) Insert(_ context.Context, m *domain.Match2) error {
	if m == nil || m.ID == uuid.Nil {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.match2s[m.ID]; exists {
		return storage.ErrDuplicateKey
	}
	matchCopy := *m
	s.db.match2s[m.ID] = &matchCopy
	return nil
}

// GetByID retrieves a match2 by id. Returns ErrNotFound if not exists.
func (s *Match2Store) GetByID(_ context.Context, id uuid.UUID) (*domain.Match2, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	m, exists := s.db.match2s[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	matchCopy := *m
	return &matchCopy, nil
}

// List returns match2s matching f ordered by created_at, id.
func (s *Match2Store) List(_ context.Context, f storage.Match2Filter) ([]*domain.Match2, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.Match2
	for _, m := range s.db.match2s {
		if !since(m.UpdatedAt, f.UpdatedSince) {
			continue
		}
		matchCopy := *m
		result = append(result, &matchCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

// FindByLatestTokenID implements storage.LocalIDLookup over demands, then match2s.
func (db *DB) FindByLatestTokenID(_ context.Context, tokenID int64) (uuid.UUID, storage.EntityKind, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for id, d := range db.demands {
		if d.LatestTokenID != nil && *d.LatestTokenID == tokenID {
			return id, storage.EntityDemand, true, nil
		}
	}
	for id, m := range db.match2s {
		if m.LatestTokenID != nil && *m.LatestTokenID == tokenID {
			return id, storage.EntityMatch2, true, nil
		}
	}
	return uuid.Nil, "", false, nil
}
