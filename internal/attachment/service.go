// Package attachment stores files in the blob store and tracks them as
// attachment rows. It also resolves FILE metadata for the ledger client.
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/storage"
)

// Blobs is the content-addressed store behind attachments.
type Blobs interface {
	Add(ctx context.Context, filename string, content io.Reader) (hash string, size int64, err error)
	Cat(ctx context.Context, hash string) ([]byte, error)
}

// File is an attachment with its content.
type File struct {
	ID       uuid.UUID
	Filename string
	Size     int64
	Content  []byte
}

// Service reads and writes attachments.
type Service struct {
	store  storage.AttachmentStore
	blobs  Blobs
	now    func() time.Time
	logger *zap.Logger
}

var _ ledger.FileResolver = (*Service)(nil)

// NewService creates a Service.
func NewService(store storage.AttachmentStore, blobs Blobs, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, blobs: blobs, now: time.Now, logger: logger.Named("attachment")}
}

// Create uploads content and records it as a new attachment.
func (s *Service) Create(ctx context.Context, filename string, content []byte) (*domain.Attachment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", domain.ErrValidation)
	}
	if filename == "" {
		filename = "json"
	}

	hash, size, err := s.blobs.Add(ctx, filename, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	if size == 0 {
		size = int64(len(content))
	}

	a := &domain.Attachment{
		ID:        uuid.New(),
		Filename:  &filename,
		IPFSHash:  hash,
		Size:      &size,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	s.logger.Debug("attachment created", zap.Stringer("id", a.ID), zap.String("hash", hash))
	return a, nil
}

// Get returns an attachment with its content.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*File, error) {
	a, err := s.row(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.blobs.Cat(ctx, a.IPFSHash)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", id, err)
	}

	f := &File{ID: a.ID, Content: content, Size: int64(len(content))}
	if a.Filename != nil {
		f.Filename = *a.Filename
	}
	return f, nil
}

// ContentHash returns the blob hash of an attachment.
func (s *Service) ContentHash(ctx context.Context, id uuid.UUID) (string, error) {
	a, err := s.row(ctx, id)
	if err != nil {
		return "", err
	}
	return a.IPFSHash, nil
}

// Exists reports whether the attachment row is present.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) error {
	_, err := s.row(ctx, id)
	return err
}

func (s *Service) row(ctx context.Context, id uuid.UUID) (*domain.Attachment, error) {
	a, err := s.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: attachment %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	return a, nil
}
