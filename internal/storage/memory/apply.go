package memory

import (
	"context"
	"fmt"
	"time"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

var (
	_ storage.Applier       = (*DB)(nil)
	_ storage.LocalIDLookup = (*DB)(nil)
)

// Apply implements storage.Applier. Validation happens before the first
// write so a failed application leaves every table untouched.
func (db *DB) Apply(_ context.Context, app storage.Application) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	applied, err := storage.CheckLinkage(db.latest, app.Blocks, func(h uint64) (string, bool, error) {
		b, ok := db.blocks[h]
		return b.Hash, ok, nil
	})
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if err := db.validate(app.Changes); err != nil {
		return err
	}

	now := db.now()
	for _, r := range app.Changes.Attachments {
		if _, exists := db.attachments[r.ID]; exists {
			continue
		}
		db.attachments[r.ID] = &domain.Attachment{
			ID:        r.ID,
			Filename:  r.Filename,
			IPFSHash:  *r.IPFSHash,
			Size:      r.Size,
			CreatedAt: now,
		}
	}
	for _, r := range app.Changes.Demands {
		db.applyDemand(r, now)
	}
	for _, r := range app.Changes.Matches {
		db.applyMatch(r, now)
	}
	for _, r := range app.Changes.Comments {
		db.applyComment(r, now)
	}
	for _, o := range app.Outcomes {
		db.setTxState(o.Hash, o.State)
	}
	for _, b := range app.Blocks {
		if _, exists := db.blocks[b.Height]; exists {
			continue
		}
		db.blocks[b.Height] = b
		if db.latest == nil || b.Height > db.latest.Height {
			latest := b
			db.latest = &latest
		}
	}
	return nil
}

// validate rejects inserts of new rows that miss required columns.
func (db *DB) validate(c changeset.ChangeSet) error {
	for id, r := range c.Attachments {
		if _, exists := db.attachments[id]; !exists && !r.Complete() {
			return fmt.Errorf("%w: attachment %s incomplete", storage.ErrInvalidInput, id)
		}
	}
	for id, r := range c.Demands {
		if _, exists := db.demands[id]; !exists && r.Op == changeset.OpInsert && !r.Complete() {
			return fmt.Errorf("%w: demand %s incomplete", storage.ErrInvalidInput, id)
		}
	}
	for id, r := range c.Matches {
		if _, exists := db.match2s[id]; !exists && r.Op == changeset.OpInsert && !r.Complete() {
			return fmt.Errorf("%w: match2 %s incomplete", storage.ErrInvalidInput, id)
		}
	}
	for id, r := range c.Comments {
		if _, exists := db.comments[id]; !exists && r.Op == changeset.OpInsert && !r.Complete() {
			return fmt.Errorf("%w: demand comment %s incomplete", storage.ErrInvalidInput, id)
		}
	}
	return nil
}

// set assigns next to *dst when next is non-nil and different.
func set[T comparable](dst *T, next *T) bool {
	if next == nil || *dst == *next {
		return false
	}
	*dst = *next
	return true
}

// setPtr is set for nullable columns.
func setPtr[T comparable](dst **T, next *T) bool {
	if next == nil || (*dst != nil && **dst == *next) {
		return false
	}
	v := *next
	*dst = &v
	return true
}

// setOnce fills a nullable column that is immutable once set.
func setOnce[T comparable](dst **T, next *T) bool {
	if *dst != nil {
		return false
	}
	return setPtr(dst, next)
}

func (db *DB) applyDemand(r changeset.DemandRecord, now time.Time) {
	d, exists := db.demands[r.ID]
	if !exists {
		if r.Op != changeset.OpInsert {
			return
		}
		d = &domain.Demand{ID: r.ID, CreatedAt: now, UpdatedAt: now}
		db.demands[r.ID] = d
	}

	changed := set(&d.Owner, r.Owner)
	changed = set(&d.Subtype, r.Subtype) || changed
	changed = set(&d.State, r.State) || changed
	changed = set(&d.ParametersAttachmentID, r.ParametersAttachmentID) || changed
	changed = setPtr(&d.LatestTokenID, r.LatestTokenID) || changed
	changed = setOnce(&d.OriginalTokenID, r.OriginalTokenID) || changed
	if changed && exists {
		d.UpdatedAt = now
	}
}

func (db *DB) applyMatch(r changeset.MatchRecord, now time.Time) {
	m, exists := db.match2s[r.ID]
	if !exists {
		if r.Op != changeset.OpInsert {
			return
		}
		m = &domain.Match2{ID: r.ID, CreatedAt: now, UpdatedAt: now}
		db.match2s[r.ID] = m
	}

	changed := set(&m.Optimiser, r.Optimiser)
	changed = set(&m.MemberA, r.MemberA) || changed
	changed = set(&m.MemberB, r.MemberB) || changed
	changed = set(&m.DemandA, r.DemandA) || changed
	changed = set(&m.DemandB, r.DemandB) || changed
	changed = set(&m.State, r.State) || changed
	changed = setPtr(&m.LatestTokenID, r.LatestTokenID) || changed
	changed = setOnce(&m.OriginalTokenID, r.OriginalTokenID) || changed
	changed = setPtr(&m.Replaces, r.Replaces) || changed
	if changed && exists {
		m.UpdatedAt = now
	}
}

func (db *DB) applyComment(r changeset.CommentRecord, now time.Time) {
	c, exists := db.comments[r.ID]
	if !exists {
		if r.Op != changeset.OpInsert {
			return
		}
		c = &domain.DemandComment{ID: r.ID, CreatedAt: now, UpdatedAt: now}
		db.comments[r.ID] = c
	}

	changed := set(&c.DemandID, r.DemandID)
	changed = set(&c.Owner, r.Owner) || changed
	changed = set(&c.State, r.State) || changed
	changed = set(&c.AttachmentID, r.AttachmentID) || changed
	changed = setPtr(&c.TransactionID, r.TransactionID) || changed
	if changed && exists {
		c.UpdatedAt = now
	}
}
