package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchmaker-ledger/internal/storage"
)

func TestProcessLock_Exclusive(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	first, err := AcquireProcessLock(ctx, pool)
	require.NoError(t, err)

	_, err = AcquireProcessLock(ctx, pool)
	assert.ErrorIs(t, err, storage.ErrLocked)

	require.NoError(t, first.Release(ctx))

	again, err := AcquireProcessLock(ctx, pool)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
