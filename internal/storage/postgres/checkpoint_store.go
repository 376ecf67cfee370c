package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore over processed_blocks.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Latest returns the processed block with the greatest height.
func (s *CheckpointStore) Latest(ctx context.Context) (*domain.ProcessedBlock, error) {
	return latestCheckpoint(ctx, s.pool)
}

// GetByHeight retrieves the processed block at height.
func (s *CheckpointStore) GetByHeight(ctx context.Context, height uint64) (*domain.ProcessedBlock, error) {
	query := `SELECT hash, parent, height FROM processed_blocks WHERE height = $1`

	b, err := scanBlock(s.pool.QueryRow(ctx, query, int64(height)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get processed block: %w", err)
	}
	return b, nil
}

func latestCheckpoint(ctx context.Context, q querier) (*domain.ProcessedBlock, error) {
	query := `SELECT hash, parent, height FROM processed_blocks ORDER BY height DESC LIMIT 1`

	b, err := scanBlock(q.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest processed block: %w", err)
	}
	return b, nil
}

// scanBlock scans a single row into a ProcessedBlock.
func scanBlock(row pgx.Row) (*domain.ProcessedBlock, error) {
	var b domain.ProcessedBlock
	var height int64
	if err := row.Scan(&b.Hash, &b.Parent, &height); err != nil {
		return nil, err
	}
	b.Height = uint64(height)
	return &b, nil
}
