// Package reporting builds reconciliation reports over the local mirror.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/storage"
)

// DefaultStaleAfter is how long a transaction may stay submitted before it
// is reported.
const DefaultStaleAfter = 10 * time.Minute

// Generator produces reports from stored data.
type Generator struct {
	checkpoints  storage.CheckpointStore
	transactions storage.TransactionStore
	demands      storage.DemandStore
	match2s      storage.Match2Store
	archive      storage.EventArchive // optional
	staleAfter   time.Duration
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	checkpoints storage.CheckpointStore,
	transactions storage.TransactionStore,
	demands storage.DemandStore,
	match2s storage.Match2Store,
) *Generator {
	return &Generator{
		checkpoints:  checkpoints,
		transactions: transactions,
		demands:      demands,
		match2s:      match2s,
		staleAfter:   DefaultStaleAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithStaleAfter sets the age at which a submitted transaction is stale.
func (g *Generator) WithStaleAfter(d time.Duration) *Generator {
	if d > 0 {
		g.staleAfter = d
	}
	return g
}

// WithArchive adds archived event counts to the report.
func (g *Generator) WithArchive(a storage.EventArchive) *Generator {
	g.archive = a
	return g
}

// Generate produces a complete reconciliation report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	now := g.now()
	r := &Report{GeneratedAt: now, StaleAfter: g.staleAfter}

	latest, err := g.checkpoints.Latest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	default:
		r.Checkpoint = &CheckpointRow{Height: latest.Height, Hash: latest.Hash, Parent: latest.Parent}
	}

	txCounts, err := g.transactions.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	for state, n := range txCounts {
		r.TransactionCounts = append(r.TransactionCounts, StateCountRow{State: string(state), Count: n})
	}
	sortCounts(r.TransactionCounts)

	demands, err := g.demands.List(ctx, storage.DemandFilter{})
	if err != nil {
		return nil, fmt.Errorf("list demands: %w", err)
	}
	byDemandState := make(map[string]int)
	for _, d := range demands {
		byDemandState[string(d.State)]++
	}
	r.DemandCounts = countRows(byDemandState)

	matches, err := g.match2s.List(ctx, storage.Match2Filter{})
	if err != nil {
		return nil, fmt.Errorf("list match2s: %w", err)
	}
	byMatchState := make(map[string]int)
	for _, m := range matches {
		byMatchState[string(m.State)]++
	}
	r.Match2Counts = countRows(byMatchState)

	stale, err := g.Stale(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range stale {
		r.StaleTransactions = append(r.StaleTransactions, StaleTransactionRow{
			ID:          tx.ID.String(),
			LocalID:     tx.LocalID.String(),
			APIType:     string(tx.APIType),
			Type:        string(tx.TransactionType),
			Hash:        tx.Hash,
			SubmittedAt: tx.SubmittedAt,
			Age:         now.Sub(tx.SubmittedAt),
		})
	}

	if g.archive != nil && r.Checkpoint != nil {
		counts, err := g.archive.CountByProcess(ctx, 0, r.Checkpoint.Height)
		if err != nil {
			return nil, fmt.Errorf("count archived events: %w", err)
		}
		for process, n := range counts {
			r.ArchivedEvents = append(r.ArchivedEvents, ProcessCountRow{Process: process, Count: n})
		}
		sort.Slice(r.ArchivedEvents, func(i, j int) bool {
			return r.ArchivedEvents[i].Process < r.ArchivedEvents[j].Process
		})
	}

	return r, nil
}

// Stale returns transactions still submitted after the stale threshold,
// oldest first.
func (g *Generator) Stale(ctx context.Context) ([]*domain.Transaction, error) {
	state := domain.TransactionStateSubmitted
	before := g.now().Add(-g.staleAfter)
	txs, err := g.transactions.List(ctx, storage.TransactionFilter{State: &state, SubmittedBefore: &before})
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	return txs, nil
}

func countRows(m map[string]int) []StateCountRow {
	rows := make([]StateCountRow, 0, len(m))
	for state, n := range m {
		rows = append(rows, StateCountRow{State: state, Count: n})
	}
	sortCounts(rows)
	return rows
}

func sortCounts(rows []StateCountRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].State < rows[j].State })
}
