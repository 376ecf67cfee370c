package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchmaker-ledger/internal/domain"
)

func chain(from, to uint64) []domain.ProcessedBlock {
	var out []domain.ProcessedBlock
	for h := from; h <= to; h++ {
		out = append(out, domain.ProcessedBlock{
			Hash:   hashAt(h),
			Parent: hashAt(h - 1),
			Height: h,
		})
	}
	return out
}

func hashAt(h uint64) string {
	return string(rune('a'+h%26)) + "-hash"
}

func lookup(blocks []domain.ProcessedBlock) func(uint64) (string, bool, error) {
	return func(h uint64) (string, bool, error) {
		for _, b := range blocks {
			if b.Height == h {
				return b.Hash, true, nil
			}
		}
		return "", false, nil
	}
}

func TestCheckLinkage(t *testing.T) {
	stored := chain(1, 5)
	latest := &stored[len(stored)-1]

	forked := chain(6, 6)
	forked[0].Parent = "other"

	shadow := chain(4, 5)
	shadow[1].Hash = "fork"

	broken := chain(6, 8)
	broken[1].Parent = "x"

	tests := []struct {
		name     string
		latest   *domain.ProcessedBlock
		blocks   []domain.ProcessedBlock
		applied  bool
		mismatch bool
	}{
		{name: "empty", latest: latest},
		{name: "no checkpoint accepts any start", blocks: chain(10, 12)},
		{name: "extends checkpoint", latest: latest, blocks: chain(6, 8)},
		{name: "already applied", latest: latest, blocks: chain(3, 5), applied: true},
		{name: "stored hash differs", latest: latest, blocks: shadow, mismatch: true},
		{name: "partial overlap", latest: latest, blocks: chain(4, 7), mismatch: true},
		{name: "gap", latest: latest, blocks: chain(7, 8), mismatch: true},
		{name: "parent mismatch", latest: latest, blocks: forked, mismatch: true},
		{name: "range not contiguous", blocks: broken, mismatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := CheckLinkage(tt.latest, tt.blocks, lookup(stored))
			if tt.mismatch {
				require.ErrorIs(t, err, ErrCheckpointMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}
}
