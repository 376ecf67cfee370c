package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchmaker-ledger/internal/storage"
)

func TestEventArchive_ReplacesSameKey(t *testing.T) {
	a := NewEventArchive()
	ctx := context.Background()

	events := []storage.EventRecord{
		{BlockHeight: 1, ExtrinsicIndex: 0, Process: "demand-create", Outputs: []int64{1}},
		{BlockHeight: 2, ExtrinsicIndex: 0, Process: "match2-accept", Inputs: []int64{3}, Outputs: []int64{4}},
	}
	require.NoError(t, a.Archive(ctx, events))
	require.NoError(t, a.Archive(ctx, events))
	assert.Equal(t, 2, a.Len())

	counts, err := a.CountByProcess(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"match2-accept": 1}, counts)
}
