package storage

import (
	"fmt"

	"matchmaker-ledger/internal/domain"
)

// CheckLinkage decides how blocks relate to the stored checkpoint latest
// (nil when nothing has been processed). storedHash looks up the hash
// recorded at a height.
//
// It reports applied=true when the whole range is already stored, in which
// case Apply must write nothing. Any gap, fork or partial overlap returns
// ErrCheckpointMismatch.
func CheckLinkage(latest *domain.ProcessedBlock, blocks []domain.ProcessedBlock, storedHash func(height uint64) (string, bool, error)) (applied bool, err error) {
	if len(blocks) == 0 {
		return false, nil
	}
	for i := 1; i < len(blocks); i++ {
		if !blocks[i].Follows(blocks[i-1]) {
			return false, fmt.Errorf("%w: block %d does not follow %d", ErrCheckpointMismatch, blocks[i].Height, blocks[i-1].Height)
		}
	}
	if latest == nil {
		return false, nil
	}

	first, last := blocks[0], blocks[len(blocks)-1]
	if last.Height <= latest.Height {
		hash, ok, err := storedHash(last.Height)
		if err != nil {
			return false, err
		}
		if ok && hash == last.Hash {
			return true, nil
		}
		return false, fmt.Errorf("%w: block %d hash %s differs from stored", ErrCheckpointMismatch, last.Height, last.Hash)
	}
	if first.Height <= latest.Height {
		return false, fmt.Errorf("%w: range %d..%d overlaps checkpoint %d", ErrCheckpointMismatch, first.Height, last.Height, latest.Height)
	}
	if !first.Follows(*latest) {
		return false, fmt.Errorf("%w: block %d (parent %s) after checkpoint %d (%s)",
			ErrCheckpointMismatch, first.Height, first.Parent, latest.Height, latest.Hash)
	}
	return false, nil
}
