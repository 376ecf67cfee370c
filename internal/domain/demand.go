package domain

import (
	"time"

	"github.com/google/uuid"
)

// DemandSubtype distinguishes the two sides of a match.
type DemandSubtype string

const (
	DemandSubtypeOrder    DemandSubtype = "order"
	DemandSubtypeCapacity DemandSubtype = "capacity"
)

// String returns the string representation of DemandSubtype.
func (s DemandSubtype) String() string {
	return string(s)
}

// IsValid checks if the subtype is a valid value.
func (s DemandSubtype) IsValid() bool {
	return s == DemandSubtypeOrder || s == DemandSubtypeCapacity
}

// DemandState is the lifecycle state of a Demand.
type DemandState string

const (
	DemandStatePending   DemandState = "pending" // local only, not yet on chain
	DemandStateCreated   DemandState = "created"
	DemandStateAllocated DemandState = "allocated"
	DemandStateCancelled DemandState = "cancelled"
)

// String returns the string representation of DemandState.
func (s DemandState) String() string {
	return string(s)
}

// IsValid checks if the state is a valid value.
func (s DemandState) IsValid() bool {
	switch s {
	case DemandStatePending, DemandStateCreated, DemandStateAllocated, DemandStateCancelled:
		return true
	}
	return false
}

// Demand represents an order or capacity proposal backed by a parameters file.
// Corresponds to the demand table in PostgreSQL.
type Demand struct {
	ID                     uuid.UUID     // PRIMARY KEY, local only
	Owner                  string        // ledger address (SS58)
	Subtype                DemandSubtype // order | capacity
	State                  DemandState
	ParametersAttachmentID uuid.UUID     // FK attachment
	LatestTokenID          *int64        // most recent on-chain token, nil before creation
	OriginalTokenID        *int64        // first on-chain token, immutable once set
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// OnChain reports whether the demand has been created on the ledger.
func (d *Demand) OnChain() bool {
	return d.LatestTokenID != nil
}

// APIType maps the demand subtype onto the transaction api type.
func (d *Demand) APIType() APIType {
	if d.Subtype == DemandSubtypeCapacity {
		return APITypeCapacity
	}
	return APITypeOrder
}

// DemandComment is a comment attached to an on-chain demand.
// Corresponds to the demand_comment table in PostgreSQL.
type DemandComment struct {
	ID            uuid.UUID
	DemandID      uuid.UUID
	Owner         string
	State         DemandCommentState
	AttachmentID  uuid.UUID
	TransactionID *uuid.UUID // set when the comment was submitted from this node
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DemandCommentState is the lifecycle state of a DemandComment.
type DemandCommentState string

const (
	DemandCommentStateCreated DemandCommentState = "created"
)
