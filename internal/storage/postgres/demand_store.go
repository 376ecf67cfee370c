package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DemandStore implements storage.DemandStore using PostgreSQL.
type DemandStore struct {
	pool *Pool
}

// NewDemandStore creates a new DemandStore.
func NewDemandStore(pool *Pool) *DemandStore {
	return &DemandStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DemandStore = (*DemandStore)(nil)

const demandColumns = `id, owner, subtype, state, parameters_attachment_id,
	latest_token_id, original_token_id, created_at, updated_at`

// Insert adds a new demand. Returns ErrDuplicateKey if id exists.
func (s *DemandStore) Insert(ctx context.Context, d *domain.Demand) error {
	query := `
		INSERT INTO demand (
			id, owner, subtype, state, parameters_attachment_id,
			latest_token_id, original_token_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		d.ID,
		d.Owner,
		string(d.Subtype),
		string(d.State),
		d.ParametersAttachmentID,
		d.LatestTokenID,
		d.OriginalTokenID,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert demand: %w", err)
	}
	return nil
}

// GetByID retrieves a demand by id. Returns ErrNotFound if not exists.
func (s *DemandStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Demand, error) {
	query := `SELECT ` + demandColumns + ` FROM demand WHERE id = $1`

	d, err := scanDemand(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get demand by id: %w", err)
	}
	return d, nil
}

// List returns demands matching f ordered by created_at, id.
func (s *DemandStore) List(ctx context.Context, f storage.DemandFilter) ([]*domain.Demand, error) {
	var (
		where []string
		args  []any
	)
	if f.Subtype != nil {
		args = append(args, string(*f.Subtype))
		where = append(where, fmt.Sprintf("subtype = $%d", len(args)))
	}
	if f.UpdatedSince != nil {
		args = append(args, *f.UpdatedSince)
		where = append(where, fmt.Sprintf("updated_at >= $%d", len(args)))
	}

	query := `SELECT ` + demandColumns + ` FROM demand`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list demands: %w", err)
	}
	defer rows.Close()

	var demands []*domain.Demand
	for rows.Next() {
		d, err := scanDemand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan demand row: %w", err)
		}
		demands = append(demands, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate demand rows: %w", err)
	}
	return demands, nil
}

// scanDemand scans a single row into a Demand.
func scanDemand(row pgx.Row) (*domain.Demand, error) {
	var d domain.Demand
	var subtype, state string

	err := row.Scan(
		&d.ID,
		&d.Owner,
		&subtype,
		&state,
		&d.ParametersAttachmentID,
		&d.LatestTokenID,
		&d.OriginalTokenID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Subtype = domain.DemandSubtype(subtype)
	d.State = domain.DemandState(state)
	return &d, nil
}
