package memory

import (
	"context"
	"sync"

	"matchmaker-ledger/internal/storage"
)

type eventKey struct {
	height  uint64
	index   uint32
	process string
}

// EventArchive is an in-memory implementation of storage.EventArchive.
// Rows sharing a block height, extrinsic index and process replace each other.
type EventArchive struct {
	mu   sync.RWMutex
	data map[eventKey]storage.EventRecord
}

var _ storage.EventArchive = (*EventArchive)(nil)

// NewEventArchive creates an empty archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{data: make(map[eventKey]storage.EventRecord)}
}

// Archive stores events, replacing rows with the same key.
func (a *EventArchive) Archive(_ context.Context, events []storage.EventRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range events {
		e.Inputs = append([]int64(nil), e.Inputs...)
		e.Outputs = append([]int64(nil), e.Outputs...)
		a.data[eventKey{height: e.BlockHeight, index: e.ExtrinsicIndex, process: e.Process}] = e
	}
	return nil
}

// CountByProcess returns the number of archived events per process in [from, to].
func (a *EventArchive) CountByProcess(_ context.Context, from, to uint64) (map[string]uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[string]uint64)
	for k := range a.data {
		if k.height >= from && k.height <= to {
			counts[k.process]++
		}
	}
	return counts, nil
}

// Len returns the number of archived rows.
func (a *EventArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
