package clickhouse

import (
	"context"
	"fmt"
	"time"

	"matchmaker-ledger/internal/storage"
)

// EventArchive implements storage.EventArchive using a ReplacingMergeTree
// table, so archiving a block twice collapses to one row per event.
type EventArchive struct {
	conn *Conn
	now  func() time.Time
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

// Archive appends events in one batch.
func (a *EventArchive) Archive(ctx context.Context, events []storage.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			block_height, block_hash, extrinsic_index, extrinsic_hash,
			success, dispatch_error, process, process_version, sender,
			input_tokens, output_tokens, archived_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	archivedAt := a.now().UTC()
	for _, e := range events {
		var success uint8
		if e.Success {
			success = 1
		}
		inputs, outputs := e.Inputs, e.Outputs
		if inputs == nil {
			inputs = []int64{}
		}
		if outputs == nil {
			outputs = []int64{}
		}
		err = batch.Append(
			e.BlockHeight, e.BlockHash, e.ExtrinsicIndex, e.ExtrinsicHash,
			success, e.DispatchError, e.Process, e.ProcessVersion, e.Sender,
			inputs, outputs, archivedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByProcess returns the number of archived events per process in
// [fromHeight, toHeight]. FINAL collapses rows not yet merged.
func (a *EventArchive) CountByProcess(ctx context.Context, fromHeight, toHeight uint64) (map[string]uint64, error) {
	query := `
		SELECT process, count() AS n
		FROM ledger_events FINAL
		WHERE block_height >= ? AND block_height <= ?
		GROUP BY process
	`

	rows, err := a.conn.Query(ctx, query, fromHeight, toHeight)
	if err != nil {
		return nil, fmt.Errorf("count events by process: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var process string
		var n uint64
		if err := rows.Scan(&process, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[process] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}
