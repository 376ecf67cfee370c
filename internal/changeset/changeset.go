// Package changeset accumulates the storage mutations derived from ledger
// events. A ChangeSet is built per block or per catch-up range, applied once
// and discarded.
package changeset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/domain"
)

// ErrAmbiguousToken is returned when more than one entity claims the same token id.
var ErrAmbiguousToken = errors.New("token id claimed by more than one entity")

// Op tags a record as creating a row or mutating an existing one.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// DemandRecord is a partial demand row. Nil fields are left untouched.
type DemandRecord struct {
	Op                     Op
	ID                     uuid.UUID
	Owner                  *string
	Subtype                *domain.DemandSubtype
	State                  *domain.DemandState
	ParametersAttachmentID *uuid.UUID
	LatestTokenID          *int64
	OriginalTokenID        *int64
}

// Complete reports whether the record carries every column an insert needs.
func (r DemandRecord) Complete() bool {
	return r.Owner != nil && r.Subtype != nil && r.State != nil && r.ParametersAttachmentID != nil
}

// MatchRecord is a partial match2 row. Nil fields are left untouched.
type MatchRecord struct {
	Op              Op
	ID              uuid.UUID
	Optimiser       *string
	MemberA         *string
	MemberB         *string
	DemandA         *uuid.UUID
	DemandB         *uuid.UUID
	State           *domain.Match2State
	LatestTokenID   *int64
	OriginalTokenID *int64
	Replaces        *uuid.UUID
}

// Complete reports whether the record carries every column an insert needs.
func (r MatchRecord) Complete() bool {
	return r.Optimiser != nil && r.MemberA != nil && r.MemberB != nil &&
		r.DemandA != nil && r.DemandB != nil && r.State != nil
}

// AttachmentRecord is an attachment row. Attachments are only ever inserted.
type AttachmentRecord struct {
	Op       Op
	ID       uuid.UUID
	Filename *string
	IPFSHash *string
	Size     *int64
}

// Complete reports whether the record carries every column an insert needs.
func (r AttachmentRecord) Complete() bool {
	return r.IPFSHash != nil
}

// CommentRecord is a demand_comment row.
type CommentRecord struct {
	Op            Op
	ID            uuid.UUID
	DemandID      *uuid.UUID
	Owner         *string
	State         *domain.DemandCommentState
	AttachmentID  *uuid.UUID
	TransactionID *uuid.UUID
}

// Complete reports whether the record carries every column an insert needs.
func (r CommentRecord) Complete() bool {
	return r.DemandID != nil && r.Owner != nil && r.State != nil && r.AttachmentID != nil
}

// ChangeSet holds records keyed by entity id, per category.
type ChangeSet struct {
	Attachments map[uuid.UUID]AttachmentRecord
	Demands     map[uuid.UUID]DemandRecord
	Matches     map[uuid.UUID]MatchRecord
	Comments    map[uuid.UUID]CommentRecord
}

// New returns an empty ChangeSet.
func New() ChangeSet {
	return ChangeSet{
		Attachments: make(map[uuid.UUID]AttachmentRecord),
		Demands:     make(map[uuid.UUID]DemandRecord),
		Matches:     make(map[uuid.UUID]MatchRecord),
		Comments:    make(map[uuid.UUID]CommentRecord),
	}
}

// Len returns the total number of records.
func (c ChangeSet) Len() int {
	return len(c.Attachments) + len(c.Demands) + len(c.Matches) + len(c.Comments)
}

// IsEmpty reports whether the set carries no records.
func (c ChangeSet) IsEmpty() bool {
	return c.Len() == 0
}

// AddDemand merges r into the set.
func (c *ChangeSet) AddDemand(r DemandRecord) {
	c.ensure()
	if prev, ok := c.Demands[r.ID]; ok {
		r = mergeDemand(prev, r)
	}
	c.Demands[r.ID] = r
}

// AddMatch merges r into the set.
func (c *ChangeSet) AddMatch(r MatchRecord) {
	c.ensure()
	if prev, ok := c.Matches[r.ID]; ok {
		r = mergeMatch(prev, r)
	}
	c.Matches[r.ID] = r
}

// AddAttachment merges r into the set.
func (c *ChangeSet) AddAttachment(r AttachmentRecord) {
	c.ensure()
	if prev, ok := c.Attachments[r.ID]; ok {
		r = mergeAttachment(prev, r)
	}
	c.Attachments[r.ID] = r
}

// AddComment merges r into the set.
func (c *ChangeSet) AddComment(r CommentRecord) {
	c.ensure()
	if prev, ok := c.Comments[r.ID]; ok {
		r = mergeComment(prev, r)
	}
	c.Comments[r.ID] = r
}

func (c *ChangeSet) ensure() {
	if c.Attachments == nil {
		c.Attachments = make(map[uuid.UUID]AttachmentRecord)
	}
	if c.Demands == nil {
		c.Demands = make(map[uuid.UUID]DemandRecord)
	}
	if c.Matches == nil {
		c.Matches = make(map[uuid.UUID]MatchRecord)
	}
	if c.Comments == nil {
		c.Comments = make(map[uuid.UUID]CommentRecord)
	}
}

// Merge combines two sets, b being later in ledger order than a.
// Neither argument is modified.
func Merge(a, b ChangeSet) ChangeSet {
	out := New()
	for _, src := range []ChangeSet{a, b} {
		for _, r := range src.Attachments {
			out.AddAttachment(r)
		}
		for _, r := range src.Demands {
			out.AddDemand(r)
		}
		for _, r := range src.Matches {
			out.AddMatch(r)
		}
		for _, r := range src.Comments {
			out.AddComment(r)
		}
	}
	return out
}

// FindLocalID returns the entity whose accumulated latest token is tokenID.
// Demands are searched before matches. Token ids are allocated from a single
// ledger counter, so a second claimant is reported as ErrAmbiguousToken.
func FindLocalID(c ChangeSet, tokenID int64) (uuid.UUID, bool, error) {
	var matches []uuid.UUID
	for id, r := range c.Demands {
		if r.LatestTokenID != nil && *r.LatestTokenID == tokenID {
			matches = append(matches, id)
		}
	}
	for id, r := range c.Matches {
		if r.LatestTokenID != nil && *r.LatestTokenID == tokenID {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return uuid.Nil, false, nil
	case 1:
		return matches[0], true, nil
	default:
		return uuid.Nil, false, fmt.Errorf("%w: token %d", ErrAmbiguousToken, tokenID)
	}
}

func mergeOp(a, b Op) Op {
	if a == OpInsert || b == OpInsert {
		return OpInsert
	}
	return OpUpdate
}

func pick[T any](prev, next *T) *T {
	if next != nil {
		return next
	}
	return prev
}

func mergeDemand(a, b DemandRecord) DemandRecord {
	return DemandRecord{
		Op:                     mergeOp(a.Op, b.Op),
		ID:                     a.ID,
		Owner:                  pick(a.Owner, b.Owner),
		Subtype:                pick(a.Subtype, b.Subtype),
		State:                  pick(a.State, b.State),
		ParametersAttachmentID: pick(a.ParametersAttachmentID, b.ParametersAttachmentID),
		LatestTokenID:          pick(a.LatestTokenID, b.LatestTokenID),
		OriginalTokenID:        pick(a.OriginalTokenID, b.OriginalTokenID),
	}
}

func mergeMatch(a, b MatchRecord) MatchRecord {
	return MatchRecord{
		Op:              mergeOp(a.Op, b.Op),
		ID:              a.ID,
		Optimiser:       pick(a.Optimiser, b.Optimiser),
		MemberA:         pick(a.MemberA, b.MemberA),
		MemberB:         pick(a.MemberB, b.MemberB),
		DemandA:         pick(a.DemandA, b.DemandA),
		DemandB:         pick(a.DemandB, b.DemandB),
		State:           pick(a.State, b.State),
		LatestTokenID:   pick(a.LatestTokenID, b.LatestTokenID),
		OriginalTokenID: pick(a.OriginalTokenID, b.OriginalTokenID),
		Replaces:        pick(a.Replaces, b.Replaces),
	}
}

func mergeAttachment(a, b AttachmentRecord) AttachmentRecord {
	return AttachmentRecord{
		Op:       mergeOp(a.Op, b.Op),
		ID:       a.ID,
		Filename: pick(a.Filename, b.Filename),
		IPFSHash: pick(a.IPFSHash, b.IPFSHash),
		Size:     pick(a.Size, b.Size),
	}
}

func mergeComment(a, b CommentRecord) CommentRecord {
	return CommentRecord{
		Op:            mergeOp(a.Op, b.Op),
		ID:            a.ID,
		DemandID:      pick(a.DemandID, b.DemandID),
		Owner:         pick(a.Owner, b.Owner),
		State:         pick(a.State, b.State),
		AttachmentID:  pick(a.AttachmentID, b.AttachmentID),
		TransactionID: pick(a.TransactionID, b.TransactionID),
	}
}
