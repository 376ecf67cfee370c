package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// AttachmentStore implements storage.AttachmentStore using PostgreSQL.
type AttachmentStore struct {
	pool *Pool
}

// NewAttachmentStore creates a new AttachmentStore.
func NewAttachmentStore(pool *Pool) *AttachmentStore {
	return &AttachmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AttachmentStore = (*AttachmentStore)(nil)

// Insert adds a new attachment. Returns ErrDuplicateKey if id exists.
func (s *AttachmentStore) Insert(ctx context.Context, a *domain.Attachment) error {
	query := `
		INSERT INTO attachment (id, filename, ipfs_hash, size, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, a.ID, a.Filename, a.IPFSHash, a.Size, a.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetByID retrieves an attachment by id. Returns ErrNotFound if not exists.
func (s *AttachmentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error) {
	query := `
		SELECT id, filename, ipfs_hash, size, created_at
		FROM attachment
		WHERE id = $1
	`

	a, err := scanAttachment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get attachment by id: %w", err)
	}
	return a, nil
}

// scanAttachment scans a single row into an Attachment.
func scanAttachment(row pgx.Row) (*domain.Attachment, error) {
	var a domain.Attachment
	if err := row.Scan(&a.ID, &a.Filename, &a.IPFSHash, &a.Size, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
