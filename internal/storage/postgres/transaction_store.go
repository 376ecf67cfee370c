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

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const transactionColumns = `id, local_id, api_type, transaction_type, state, hash, submitted_at, updated_at`

// Insert adds a new transaction. Returns ErrDuplicateKey if id or hash exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transaction (
			id, local_id, api_type, transaction_type, state, hash, submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		tx.ID,
		tx.LocalID,
		string(tx.APIType),
		string(tx.TransactionType),
		string(tx.State),
		tx.Hash,
		tx.SubmittedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by id. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction WHERE id = $1`

	tx, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return tx, nil
}

// GetByHash retrieves a transaction by extrinsic hash. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transaction WHERE hash = $1`

	tx, err := scanTransaction(s.pool.QueryRow(ctx, query, hash))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by hash: %w", err)
	}
	return tx, nil
}

// List returns transactions matching f ordered by submitted_at, id.
func (s *TransactionStore) List(ctx context.Context, f storage.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.APIType != nil {
		add("api_type = $%d", string(*f.APIType))
	}
	if f.LocalID != nil {
		add("local_id = $%d", *f.LocalID)
	}
	if f.Type != nil {
		add("transaction_type = $%d", string(*f.Type))
	}
	if f.State != nil {
		add("state = $%d", string(*f.State))
	}
	if f.UpdatedSince != nil {
		add("updated_at >= $%d", *f.UpdatedSince)
	}
	if f.SubmittedBefore != nil {
		add("submitted_at < $%d", *f.SubmittedBefore)
	}

	query := `SELECT ` + transactionColumns + ` FROM transaction`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txs, nil
}

// SetState moves the transaction with hash to state.
func (s *TransactionStore) SetState(ctx context.Context, hash string, state domain.TransactionState) (bool, error) {
	return setTransactionState(ctx, s.pool, hash, state)
}

// setTransactionState leaves updated_at alone when the state is unchanged.
func setTransactionState(ctx context.Context, q querier, hash string, state domain.TransactionState) (bool, error) {
	query := `
		UPDATE transaction
		SET state = $2, updated_at = now()
		WHERE hash = $1 AND state IS DISTINCT FROM $2
	`

	tag, err := q.Exec(ctx, query, hash, string(state))
	if err != nil {
		return false, fmt.Errorf("set transaction state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SettleSubmitted moves the transaction with hash to state if it is still
// submitted, so an outcome the indexer already recorded is kept.
func (s *TransactionStore) SettleSubmitted(ctx context.Context, hash string, state domain.TransactionState) (bool, error) {
	query := `
		UPDATE transaction
		SET state = $2, updated_at = now()
		WHERE hash = $1 AND state = 'submitted'
	`

	tag, err := s.pool.Exec(ctx, query, hash, string(state))
	if err != nil {
		return false, fmt.Errorf("settle transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByState returns the number of transactions per state.
func (s *TransactionStore) CountByState(ctx context.Context) (map[domain.TransactionState]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM transaction GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count transactions by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TransactionState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan transaction count: %w", err)
		}
		counts[domain.TransactionState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction counts: %w", err)
	}
	return counts, nil
}

// scanTransaction scans a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var apiType, txType, state string

	err := row.Scan(
		&tx.ID,
		&tx.LocalID,
		&apiType,
		&txType,
		&state,
		&tx.Hash,
		&tx.SubmittedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.APIType = domain.APIType(apiType)
	tx.TransactionType = domain.TransactionType(txType)
	tx.State = domain.TransactionState(state)
	return &tx, nil
}
