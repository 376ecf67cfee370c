package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIType identifies which kind of local entity a Transaction targets.
type APIType string

const (
	APITypeOrder    APIType = "order"
	APITypeCapacity APIType = "capacity"
	APITypeMatch2   APIType = "match2"
)

// IsValid checks if the api type is a valid value.
func (t APIType) IsValid() bool {
	return t == APITypeOrder || t == APITypeCapacity || t == APITypeMatch2
}

// TransactionType is the kind of operation a Transaction submitted.
type TransactionType string

const (
	TransactionTypeCreation     TransactionType = "creation"
	TransactionTypeProposal     TransactionType = "proposal"
	TransactionTypeAccept       TransactionType = "accept"
	TransactionTypeRejection    TransactionType = "rejection"
	TransactionTypeCancellation TransactionType = "cancellation"
	TransactionTypeComment      TransactionType = "comment"
)

// IsValid checks if the transaction type is a valid value.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeCreation, TransactionTypeProposal, TransactionTypeAccept,
		TransactionTypeRejection, TransactionTypeCancellation, TransactionTypeComment:
		return true
	}
	return false
}

// TransactionState is the outcome of a submission attempt.
type TransactionState string

const (
	TransactionStateSubmitted TransactionState = "submitted"
	TransactionStateFinalised TransactionState = "finalised"
	TransactionStateFailed    TransactionState = "failed"
)

// IsValid checks if the state is a valid value.
func (s TransactionState) IsValid() bool {
	return s == TransactionStateSubmitted || s == TransactionStateFinalised || s == TransactionStateFailed
}

// Transaction is the local record of one submission attempt against the ledger.
// Corresponds to the transaction table in PostgreSQL.
type Transaction struct {
	ID              uuid.UUID
	LocalID         uuid.UUID // FK demand or match2
	APIType         APIType
	TransactionType TransactionType
	State           TransactionState
	Hash            string // extrinsic hash, lowercase hex without 0x
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// NormalizeHash lowercases a hex hash and strips its 0x prefix.
func NormalizeHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	return strings.TrimPrefix(hash, "0x")
}
