package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"matchmaker-ledger/internal/storage"
)

// reconcilerLockKey is held by the single running reconciler.
const reconcilerLockKey int64 = 0x6d6d2d7265636f6e

// ProcessLock is a session advisory lock pinned to one pooled connection.
type ProcessLock struct {
	conn *pgxpool.Conn
}

// AcquireProcessLock takes the reconciler lock without waiting. Returns
// storage.ErrLocked if another session holds it.
func AcquireProcessLock(ctx context.Context, pool *Pool) (*ProcessLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, reconcilerLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, storage.ErrLocked
	}
	return &ProcessLock{conn: conn}, nil
}

// Release unlocks and returns the connection to the pool.
func (l *ProcessLock) Release(ctx context.Context) error {
	defer l.conn.Release()
	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, reconcilerLockKey); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
