// Package memory implements the storage interfaces in process memory for
// unit and scenario tests.
package memory

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
)

// DB holds every table behind one lock so Apply is atomic across them.
type DB struct {
	mu sync.RWMutex

	demands      map[uuid.UUID]*domain.Demand
	match2s      map[uuid.UUID]*domain.Match2
	transactions map[uuid.UUID]*domain.Transaction
	txByHash     map[string]uuid.UUID
	attachments  map[uuid.UUID]*domain.Attachment
	comments     map[uuid.UUID]*domain.DemandComment
	blocks       map[uint64]domain.ProcessedBlock
	latest       *domain.ProcessedBlock

	now func() time.Time
}

// New creates an empty database.
func New() *DB {
	return &DB{
		demands:      make(map[uuid.UUID]*domain.Demand),
		match2s:      make(map[uuid.UUID]*domain.Match2),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		txByHash:     make(map[string]uuid.UUID),
		attachments:  make(map[uuid.UUID]*domain.Attachment),
		comments:     make(map[uuid.UUID]*domain.DemandComment),
		blocks:       make(map[uint64]domain.ProcessedBlock),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for created_at and updated_at.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// Demands returns the demand table.
func (db *DB) Demands() *DemandStore { return &DemandStore{db: db} }

// Match2s returns the match2 table.
func (db *DB) Match2s() *Match2Store { return &Match2Store{db: db} }

// Transactions returns the transaction table.
func (db *DB) Transactions() *TransactionStore { return &TransactionStore{db: db} }

// Attachments returns the attachment table.
func (db *DB) Attachments() *AttachmentStore { return &AttachmentStore{db: db} }

// Comments returns the demand_comment table.
func (db *DB) Comments() *DemandCommentStore { return &DemandCommentStore{db: db} }

// Checkpoints returns the processed_blocks table.
func (db *DB) Checkpoints() *CheckpointStore { return &CheckpointStore{db: db} }

func lessByTime(at, bt time.Time, a, b uuid.UUID) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return bytes.Compare(a[:], b[:]) < 0
}

func since(t time.Time, f *time.Time) bool {
	return f == nil || !t.Before(*f)
}
