package memory

import (
	"context"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// AttachmentStore is an in-memory implementation of storage.AttachmentStore.
type AttachmentStore struct {
	db *DB
}

var _ storage.AttachmentStore = (*AttachmentStore)(nil)

// Insert adds a new attachment. Returns ErrDuplicateKey if id exists.
func (s *AttachmentStore) Insert(_ context.Context, a *domain.Attachment) error {
	if a == nil || a.ID == uuid.Nil || a.IPFSHash == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, exists := s.db.attachments[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	attachmentCopy := *a
	s.db.attachments[a.ID] = &attachmentCopy
	return nil
}

// GetByID retrieves an attachment by id. Returns ErrNotFound if not exists.
func (s *AttachmentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Attachment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	a, exists := s.db.attachments[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	attachmentCopy := *a
	return &attachmentCopy, nil
}
