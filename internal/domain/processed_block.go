package domain

// ProcessedBlock is an indexer checkpoint. Rows are append-only and the
// latest checkpoint is the row with the highest height.
type ProcessedBlock struct {
	Hash   string // lowercase hex without 0x
	Parent string
	Height uint64
}

// Follows reports whether b is the direct successor of prev.
func (b ProcessedBlock) Follows(prev ProcessedBlock) bool {
	return b.Height == prev.Height+1 && b.Parent == prev.Hash
}
