package domain

import (
	"time"

	"github.com/google/uuid"
)

// Match2State is the lifecycle state of a Match2.
type Match2State string

const (
	Match2StatePending       Match2State = "pending" // local only, not yet proposed on chain
	Match2StateProposed      Match2State = "proposed"
	Match2StateAcceptedA     Match2State = "acceptedA"
	Match2StateAcceptedB     Match2State = "acceptedB"
	Match2StateAcceptedFinal Match2State = "acceptedFinal"
	Match2StateRejected      Match2State = "rejected"
	Match2StateCancelled     Match2State = "cancelled"
)

// String returns the string representation of Match2State.
func (s Match2State) String() string {
	return string(s)
}

// IsValid checks if the state is a valid value.
func (s Match2State) IsValid() bool {
	switch s {
	case Match2StatePending, Match2StateProposed, Match2StateAcceptedA, Match2StateAcceptedB,
		Match2StateAcceptedFinal, Match2StateRejected, Match2StateCancelled:
		return true
	}
	return false
}

// Match2 pairs an order demand (A) with a capacity demand (B).
// Corresponds to the match2 table in PostgreSQL.
type Match2 struct {
	ID              uuid.UUID
	Optimiser       string     // ledger address of the proposer
	MemberA         string     // owner of DemandA at creation
	MemberB         string     // owner of DemandB at creation
	DemandA         uuid.UUID  // FK demand (order)
	DemandB         uuid.UUID  // FK demand (capacity)
	State           Match2State
	LatestTokenID   *int64
	OriginalTokenID *int64
	Replaces        *uuid.UUID // match2 this one supersedes (rematch)
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OnChain reports whether the match2 has been proposed on the ledger.
func (m *Match2) OnChain() bool {
	return m.LatestTokenID != nil
}

// IsRematch reports whether the match2 replaces a previous one.
func (m *Match2) IsRematch() bool {
	return m.Replaces != nil
}

// IsParty reports whether address takes part in the match.
func (m *Match2) IsParty(address string) bool {
	return address == m.Optimiser || address == m.MemberA || address == m.MemberB
}
