package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// Match2Store implements storage.Match2Store using PostgreSQL.
type Match2Store struct {
	pool *Pool
}

// NewMatch2Store creates a new Match2Store.
func NewMatch2Store(pool *Pool) *Match2Store {
	return &Match2Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Match2Store = (*Match2Store)(nil)

const match2Columns = `id, optimiser, member_a, member_b, demand_a, demand_b, state,
	latest_token_id, original_token_id, replaces, created_at, updated_at`

// Insert adds a new match2. Returns ErrDuplicateKey if id exists.
func (s *Match2Store) Insert(ctx context.Context, m *domain.Match2) error {
	query := `
		INSERT INTO match2 (
			id, optimiser, member_a, member_b, demand_a, demand_b, state,
			latest_token_id, original_token_id, replaces, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.Optimiser,
		m.MemberA,
		m.MemberB,
		m.DemandA,
		m.DemandB,
		string(m.State),
		m.LatestTokenID,
		m.OriginalTokenID,
		m.Replaces,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert match2: %w", err)
	}
	return nil
}

// GetByID retrieves a match2 by id. Returns ErrNotFound if not exists.
func (s *Match2Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match2, error) {
	query := `SELECT ` + match2Columns + ` FROM match2 WHERE id = $1`

	m, err := scanMatch2(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get match2 by id: %w", err)
	}
	return m, nil
}

// List returns match2s matching f ordered by created_at, id.
func (s *Match2Store) List(ctx context.Context, f storage.Match2Filter) ([]*domain.Match2, error) {
	query := `SELECT ` + match2Columns + ` FROM match2
		WHERE ($1::timestamptz IS NULL OR updated_at >= $1)
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, f.UpdatedSince)
	if err != nil {
		return nil, fmt.Errorf("list match2s: %w", err)
	}
	defer rows.Close()

	var matches []*domain.Match2
	for rows.Next() {
		m, err := scanMatch2(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match2 row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match2 rows: %w", err)
	}
	return matches, nil
}

// scanMatch2 scans a single row into a Match2.
func scanMatch2(row pgx.Row) (*domain.Match2, error) {
	var m domain.Match2
	var state string

	err := row.Scan(
		&m.ID,
		&m.Optimiser,
		&m.MemberA,
		&m.MemberB,
		&m.DemandA,
		&m.DemandB,
		&state,
		&m.LatestTokenID,
		&m.OriginalTokenID,
		&m.Replaces,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.State = domain.Match2State(state)
	return &m, nil
}
