package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a content-addressed file referenced by demands and comments.
// Immutable once created.
type Attachment struct {
	ID        uuid.UUID
	Filename  *string // unknown for files first seen on chain
	IPFSHash  string  // content address in the blob store
	Size      *int64
	CreatedAt time.Time
}
