package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	db *DB
}

var _ storage.TransactionStore = (*TransactionStore)(nil)

// Insert adds a new transaction. Returns ErrDuplicateKey if id or hash exists.
func (s *TransactionStore) Insert(_ context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == uuid.Nil || tx.Hash == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.transactions[tx.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.db.txByHash[tx.Hash]; exists {
		return storage.ErrDuplicateKey
	}
	txCopy := *tx
	s.db.transactions[tx.ID] = &txCopy
	s.db.txByHash[tx.Hash] = tx.ID
	return nil
}

// GetByID retrieves a transaction by id. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	tx, exists := s.db.transactions[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	txCopy := *tx
	return &txCopy, nil
}

// GetByHash retrieves a transaction by extrinsic hash. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByHash(_ context.Context, hash string) (*domain.Transaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	id, exists := s.db.txByHash[hash]
	if !exists {
		return nil, storage.ErrNotFound
	}
	txCopy := *s.db.transactions[id]
	return &txCopy, nil
}

// List returns transactions matching f ordered by submitted_at, id.
func (s *TransactionStore) List(_ context.Context, f storage.TransactionFilter) ([]*domain.Transaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.db.transactions {
		switch {
		case f.APIType != nil && tx.APIType != *f.APIType,
			f.LocalID != nil && tx.LocalID != *f.LocalID,
			f.Type != nil && tx.TransactionType != *f.Type,
			f.State != nil && tx.State != *f.State,
			!since(tx.UpdatedAt, f.UpdatedSince),
			f.SubmittedBefore != nil && !tx.SubmittedAt.Before(*f.SubmittedBefore):
			continue
		}
		txCopy := *tx
		result = append(result, &txCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return lessByTime(result[i].SubmittedAt, result[j].SubmittedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

// SetState moves the transaction with hash to state.
func (s *TransactionStore) SetState(_ context.Context, hash string, state domain.TransactionState) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.setTxState(hash, state), nil
}

// SettleSubmitted moves the transaction with hash to state if it is still
// submitted.
func (s *TransactionStore) SettleSubmitted(_ context.Context, hash string, state domain.TransactionState) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, exists := s.db.txByHash[hash]
	if !exists || s.db.transactions[id].State != domain.TransactionStateSubmitted {
		return false, nil
	}
	return s.db.setTxState(hash, state), nil
}

// setTxState updates the row only when the state differs. Caller holds mu.
func (db *DB) setTxState(hash string, state domain.TransactionState) bool {
	id, exists := db.txByHash[hash]
	if !exists {
		return false
	}
	tx := db.transactions[id]
	if tx.State == state {
		return false
	}
	tx.State = state
	tx.UpdatedAt = db.now()
	return true
}

// CountByState returns the number of transactions per state.
func (s *TransactionStore) CountByState(_ context.Context) (map[domain.TransactionState]int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	counts := make(map[domain.TransactionState]int)
	for _, tx := range s.db.transactions {
		counts[tx.State]++
	}
	return counts, nil
}
