package reporting

import "time"

// Report is a reconciliation snapshot of the local mirror.
type Report struct {
	GeneratedAt time.Time
	StaleAfter  time.Duration

	// Checkpoint is nil before the first block has been indexed.
	Checkpoint *CheckpointRow

	TransactionCounts []StateCountRow // sorted by state
	DemandCounts      []StateCountRow
	Match2Counts      []StateCountRow

	// StaleTransactions are still submitted after StaleAfter, oldest first.
	StaleTransactions []StaleTransactionRow

	// ArchivedEvents counts archived process runs up to the checkpoint.
	// Empty when no event archive is configured.
	ArchivedEvents []ProcessCountRow
}

// CheckpointRow describes the latest processed block.
type CheckpointRow struct {
	Height uint64
	Hash   string
	Parent string
}

// StateCountRow counts rows in one state.
type StateCountRow struct {
	State string
	Count int
}

// StaleTransactionRow is a submission the mirror has not settled in time.
type StaleTransactionRow struct {
	ID          string
	LocalID     string
	APIType     string
	Type        string
	Hash        string
	SubmittedAt time.Time
	Age         time.Duration
}

// ProcessCountRow counts archived events of one process.
type ProcessCountRow struct {
	Process string // empty for failed extrinsics
	Count   uint64
}
