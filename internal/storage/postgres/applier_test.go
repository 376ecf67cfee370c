package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

func processed(h uint64) domain.ProcessedBlock {
	return domain.ProcessedBlock{
		Hash:   fmt.Sprintf("%064x", h),
		Parent: fmt.Sprintf("%064x", h-1),
		Height: h,
	}
}

// foreignDemandChanges inserts a demand created by another node, with its
// parameters attachment.
func foreignDemandChanges(id uuid.UUID, token int64) changeset.ChangeSet {
	attachmentID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id.String()))
	cs := changeset.New()
	cs.AddAttachment(changeset.AttachmentRecord{
		Op:       changeset.OpInsert,
		ID:       attachmentID,
		IPFSHash: ptr("QmForeign"),
	})
	cs.AddDemand(changeset.DemandRecord{
		Op:                     changeset.OpInsert,
		ID:                     id,
		Owner:                  ptr("bob"),
		Subtype:                ptr(domain.DemandSubtypeCapacity),
		State:                  ptr(domain.DemandStateCreated),
		ParametersAttachmentID: &attachmentID,
		LatestTokenID:          ptr(token),
		OriginalTokenID:        ptr(token),
	})
	return cs
}

func TestApplier_ReapplyIsByteIdentical(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	applier := NewApplier(pool)
	demands := NewDemandStore(pool)

	id := uuid.New()
	app := storage.Application{
		Changes: foreignDemandChanges(id, 3),
		Blocks:  []domain.ProcessedBlock{processed(1), processed(2)},
	}
	require.NoError(t, applier.Apply(ctx, app))
	first, err := demands.GetByID(ctx, id)
	require.NoError(t, err)

	require.NoError(t, applier.Apply(ctx, app))
	second, err := demands.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	latest, err := NewCheckpointStore(pool).Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, processed(2), *latest)
}

func TestApplier_NoChangeUpdateKeepsUpdatedAt(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	applier := NewApplier(pool)
	demands := NewDemandStore(pool)

	id := uuid.New()
	require.NoError(t, applier.Apply(ctx, storage.Application{Changes: foreignDemandChanges(id, 3)}))
	before, err := demands.GetByID(ctx, id)
	require.NoError(t, err)

	same := changeset.New()
	same.AddDemand(changeset.DemandRecord{
		Op:            changeset.OpUpdate,
		ID:            id,
		State:         ptr(domain.DemandStateCreated),
		LatestTokenID: ptr(int64(3)),
	})
	require.NoError(t, applier.Apply(ctx, storage.Application{Changes: same}))

	after, err := demands.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestApplier_OriginalTokenIDImmutable(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	applier := NewApplier(pool)

	id := uuid.New()
	require.NoError(t, applier.Apply(ctx, storage.Application{Changes: foreignDemandChanges(id, 3)}))

	cs := changeset.New()
	cs.AddDemand(changeset.DemandRecord{
		Op:              changeset.OpUpdate,
		ID:              id,
		State:           ptr(domain.DemandStateAllocated),
		LatestTokenID:   ptr(int64(9)),
		OriginalTokenID: ptr(int64(9)),
	})
	require.NoError(t, applier.Apply(ctx, storage.Application{Changes: cs}))

	got, err := NewDemandStore(pool).GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DemandStateAllocated, got.State)
	assert.Equal(t, int64(9), *got.LatestTokenID)
	assert.Equal(t, int64(3), *got.OriginalTokenID)
}

func TestApplier_UnknownUpdateIsNoop(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	id := uuid.New()
	cs := changeset.New()
	cs.AddMatch(changeset.MatchRecord{Op: changeset.OpUpdate, ID: id, State: ptr(domain.Match2StateCancelled)})

	require.NoError(t, NewApplier(pool).Apply(ctx, storage.Application{Changes: cs, Blocks: []domain.ProcessedBlock{processed(1)}}))

	_, err := NewMatch2Store(pool).GetByID(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplier_CheckpointMonotonic(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	applier := NewApplier(pool)
	require.NoError(t, applier.Apply(ctx, storage.Application{Blocks: []domain.ProcessedBlock{processed(1), processed(2)}}))

	id := uuid.New()
	gap := storage.Application{Changes: foreignDemandChanges(id, 5), Blocks: []domain.ProcessedBlock{processed(4)}}
	assert.ErrorIs(t, applier.Apply(ctx, gap), storage.ErrCheckpointMismatch)

	fork := processed(3)
	fork.Parent = "ff"
	assert.ErrorIs(t, applier.Apply(ctx, storage.Application{Blocks: []domain.ProcessedBlock{fork}}), storage.ErrCheckpointMismatch)

	_, err := NewDemandStore(pool).GetByID(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, applier.Apply(ctx, storage.Application{Blocks: []domain.ProcessedBlock{processed(3)}}))
	latest, err := NewCheckpointStore(pool).Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Height)
}

func TestApplier_TransactionOutcomesAndComments(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	applier := NewApplier(pool)
	txs := NewTransactionStore(pool)

	demandID := uuid.New()
	require.NoError(t, applier.Apply(ctx, storage.Application{Changes: foreignDemandChanges(demandID, 1)}))

	txID := uuid.New()
	require.NoError(t, txs.Insert(ctx, &domain.Transaction{
		ID:              txID,
		LocalID:         demandID,
		APIType:         domain.APITypeCapacity,
		TransactionType: domain.TransactionTypeComment,
		State:           domain.TransactionStateSubmitted,
		Hash:            "c0ffee",
	}))

	commentID := uuid.New()
	attachmentID := uuid.New()
	cs := changeset.New()
	cs.AddAttachment(changeset.AttachmentRecord{Op: changeset.OpInsert, ID: attachmentID, IPFSHash: ptr("QmComment")})
	cs.AddDemand(changeset.DemandRecord{Op: changeset.OpUpdate, ID: demandID, LatestTokenID: ptr(int64(2))})
	cs.AddComment(changeset.CommentRecord{
		Op:            changeset.OpInsert,
		ID:            commentID,
		DemandID:      &demandID,
		Owner:         ptr("bob"),
		State:         ptr(domain.DemandCommentStateCreated),
		AttachmentID:  &attachmentID,
		TransactionID: &txID,
	})
	require.NoError(t, applier.Apply(ctx, storage.Application{
		Changes:  cs,
		Outcomes: []storage.TransactionOutcome{{Hash: "c0ffee", State: domain.TransactionStateFinalised}},
	}))

	comments, err := NewDemandCommentStore(pool).ListByDemand(ctx, demandID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, commentID, comments[0].ID)
	assert.Equal(t, &txID, comments[0].TransactionID)

	tx, err := txs.GetByID(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateFinalised, tx.State)

	id, kind, found, err := applier.FindByLatestTokenID(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, demandID, id)
	assert.Equal(t, storage.EntityDemand, kind)

	_, _, found, err = applier.FindByLatestTokenID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}
