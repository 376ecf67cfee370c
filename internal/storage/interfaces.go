package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
)

// DemandFilter narrows List results. Zero fields match everything.
type DemandFilter struct {
	Subtype      *domain.DemandSubtype
	UpdatedSince *time.Time
}

// Match2Filter narrows List results. Zero fields match everything.
type Match2Filter struct {
	UpdatedSince *time.Time
}

// TransactionFilter narrows List results. Zero fields match everything.
type TransactionFilter struct {
	APIType         *domain.APIType
	LocalID         *uuid.UUID
	Type            *domain.TransactionType
	State           *domain.TransactionState
	UpdatedSince    *time.Time
	SubmittedBefore *time.Time
}

// DemandStore provides access to demand storage.
type DemandStore interface {
	// Insert adds a new demand. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, d *domain.Demand) error

	// GetByID retrieves a demand. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Demand, error)

	// List returns demands ordered by created_at, id.
	List(ctx context.Context, f DemandFilter) ([]*domain.Demand, error)
}

// Match2Store provides access to match2 storage.
type Match2Store interface {
	// Insert adds a new match2. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, m *domain.Match2) error

	// GetByID retrieves a match2. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Match2, error)

	// List returns match2s ordered by created_at, id.
	List(ctx context.Context, f Match2Filter) ([]*domain.Match2, error)
}

// TransactionStore provides access to transaction storage. Rows are never deleted.
type TransactionStore interface {
	// Insert adds a new transaction. Returns ErrDuplicateKey if id or hash exists.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// GetByID retrieves a transaction. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// GetByHash retrieves a transaction by extrinsic hash. Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, hash string) (*domain.Transaction, error)

	// List returns transactions ordered by submitted_at, id.
	List(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, error)

	// SetState moves the transaction with hash to state. It reports whether a
	// row changed; setting the current state again is a no-op.
	SetState(ctx context.Context, hash string, state domain.TransactionState) (bool, error)

	// SettleSubmitted moves the transaction with hash to state only while it
	// is still submitted. It reports whether a row changed.
	SettleSubmitted(ctx context.Context, hash string, state domain.TransactionState) (bool, error)

	// CountByState returns the number of transactions per state.
	CountByState(ctx context.Context) (map[domain.TransactionState]int, error)
}

// AttachmentStore provides access to attachment storage. Rows are immutable.
type AttachmentStore interface {
	// Insert adds a new attachment. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, a *domain.Attachment) error

	// GetByID retrieves an attachment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error)
}

// DemandCommentStore provides read access to demand comments. Comments are
// written only through Applier.
type DemandCommentStore interface {
	// GetByID retrieves a comment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DemandComment, error)

	// ListByDemand returns the comments on a demand ordered by created_at, id.
	ListByDemand(ctx context.Context, demandID uuid.UUID) ([]*domain.DemandComment, error)
}

// CheckpointStore provides read access to processed blocks.
type CheckpointStore interface {
	// Latest returns the processed block with the greatest height.
	// Returns ErrNotFound if no block has been processed yet.
	Latest(ctx context.Context) (*domain.ProcessedBlock, error)

	// GetByHeight retrieves a processed block. Returns ErrNotFound if not exists.
	GetByHeight(ctx context.Context, height uint64) (*domain.ProcessedBlock, error)
}

// EntityKind names the table a token lookup resolved to.
type EntityKind string

const (
	EntityDemand EntityKind = "demand"
	EntityMatch2 EntityKind = "match2"
)

// LocalIDLookup resolves a token id to the local entity currently holding it.
type LocalIDLookup interface {
	// FindByLatestTokenID searches demands, then match2s, by latest_token_id.
	// found is false when no row holds the token.
	FindByLatestTokenID(ctx context.Context, tokenID int64) (id uuid.UUID, kind EntityKind, found bool, err error)
}

// TransactionOutcome is the final state of a local transaction seen in a block.
type TransactionOutcome struct {
	Hash  string
	State domain.TransactionState
}

// Application is everything derived from a contiguous range of finalized blocks.
type Application struct {
	Changes  changeset.ChangeSet
	Outcomes []TransactionOutcome
	Blocks   []domain.ProcessedBlock // ascending, contiguous
}

// Applier writes an Application atomically.
type Applier interface {
	// Apply writes the changes, transaction outcomes and processed blocks in
	// one transaction. Re-applying an already stored range is a no-op.
	// Returns ErrCheckpointMismatch if Blocks[0] does not extend the stored checkpoint.
	Apply(ctx context.Context, app Application) error
}

// EventRecord is one process run archived from a finalized block. Failed
// extrinsics are archived with an empty Process.
type EventRecord struct {
	BlockHeight    uint64
	BlockHash      string
	ExtrinsicIndex uint32
	ExtrinsicHash  string
	Success        bool
	DispatchError  string
	Process        string
	ProcessVersion uint32
	Sender         string
	Inputs         []int64
	Outputs        []int64
}

// EventArchive stores applied ledger events for analytics. Archiving the
// same block twice must not duplicate rows.
type EventArchive interface {
	Archive(ctx context.Context, events []EventRecord) error

	// CountByProcess returns the number of archived events per process
	// between two heights, inclusive.
	CountByProcess(ctx context.Context, fromHeight, toHeight uint64) (map[string]uint64, error)
}
