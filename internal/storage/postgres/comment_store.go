package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DemandCommentStore implements storage.DemandCommentStore using PostgreSQL.
type DemandCommentStore struct {
	pool *Pool
}

// NewDemandCommentStore creates a new DemandCommentStore.
func NewDemandCommentStore(pool *Pool) *DemandCommentStore {
	return &DemandCommentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DemandCommentStore = (*DemandCommentStore)(nil)

const commentColumns = `id, demand_id, owner, state, attachment_id, transaction_id, created_at, updated_at`

// GetByID retrieves a comment by id. Returns ErrNotFound if not exists.
func (s *DemandCommentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.DemandComment, error) {
	query := `SELECT ` + commentColumns + ` FROM demand_comment WHERE id = $1`

	c, err := scanComment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get demand comment by id: %w", err)
	}
	return c, nil
}

// ListByDemand returns the comments on demandID ordered by created_at, id.
func (s *DemandCommentStore) ListByDemand(ctx context.Context, demandID uuid.UUID) ([]*domain.DemandComment, error) {
	query := `SELECT ` + commentColumns + ` FROM demand_comment
		WHERE demand_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, demandID)
	if err != nil {
		return nil, fmt.Errorf("list demand comments: %w", err)
	}
	defer rows.Close()

	var comments []*domain.DemandComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan demand comment row: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate demand comment rows: %w", err)
	}
	return comments, nil
}

// scanComment scans a single row into a DemandComment.
func scanComment(row pgx.Row) (*domain.DemandComment, error) {
	var c domain.DemandComment
	var state string

	err := row.Scan(
		&c.ID,
		&c.DemandID,
		&c.Owner,
		&state,
		&c.AttachmentID,
		&c.TransactionID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.State = domain.DemandCommentState(state)
	return &c, nil
}
