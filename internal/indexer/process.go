package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/idhash"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/processor"
	"matchmaker-ledger/internal/storage"
)

// process maps a validated block range onto one Application. Blocks are
// handled in height order and events in block order, each event seeing the
// changes of the ones before it.
func (ix *Indexer) process(ctx context.Context, blocks []*ledger.Block) (storage.Application, []storage.EventRecord, error) {
	app := storage.Application{
		Changes: changeset.New(),
		Blocks:  make([]domain.ProcessedBlock, 0, len(blocks)),
	}
	var events []storage.EventRecord

	for _, b := range blocks {
		for _, ext := range b.Extrinsics {
			hash := domain.NormalizeHash(ext.Hash)
			tx, err := ix.localTransaction(ctx, hash)
			if err != nil {
				return storage.Application{}, nil, err
			}
			if tx != nil {
				state := domain.TransactionStateFinalised
				if !ext.Success {
					state = domain.TransactionStateFailed
				}
				app.Outcomes = append(app.Outcomes, storage.TransactionOutcome{Hash: hash, State: state})
			}
			events = append(events, eventRecords(b.Header, ext, hash)...)

			if !ext.Success {
				continue
			}
			for _, ev := range ext.Processes {
				if err := ix.processEvent(ctx, &app.Changes, ev, tx); err != nil {
					return storage.Application{}, nil, fmt.Errorf("block %d extrinsic %d: %w", b.Height, ext.Index, err)
				}
			}
		}
		app.Blocks = append(app.Blocks, domain.ProcessedBlock{Hash: b.Hash, Parent: b.Parent, Height: b.Height})
	}
	return app, events, nil
}

func (ix *Indexer) processEvent(ctx context.Context, cs *changeset.ChangeSet, ev ledger.ProcessRan, tx *domain.Transaction) error {
	if _, ok := ix.registry.Lookup(ev.Process.ID); !ok {
		ix.logger.Warn("ignoring unknown process", zap.Stringer("process", ev.Process))
		ix.metrics.EventsIgnored.WithLabelValues(ev.Process.ID).Inc()
		return nil
	}

	ids, err := ix.resolveInputs(ctx, *cs, ev.Inputs)
	if err != nil {
		return err
	}
	frag, _, err := ix.registry.Run(processor.Input{Event: ev, Transaction: tx, InputIDs: ids})
	if err != nil {
		return err
	}
	*cs = changeset.Merge(*cs, frag)
	ix.metrics.EventsProcessed.WithLabelValues(ev.Process.ID).Inc()
	return nil
}

func (ix *Indexer) localTransaction(ctx context.Context, hash string) (*domain.Transaction, error) {
	tx, err := ix.transactions.GetByHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	return tx, nil
}

// resolveInputs finds the local id of each consumed token: first among the
// pending changes, then in storage, and finally by the id derived from the
// token's lineage.
func (ix *Indexer) resolveInputs(ctx context.Context, cs changeset.ChangeSet, inputs []ledger.Token) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(inputs))
	for i, tok := range inputs {
		id, ok, err := changeset.FindLocalID(cs, tok.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConsistency, err)
		}
		if ok {
			ids[i] = id
			continue
		}

		id, _, found, err := ix.lookup.FindByLatestTokenID(ctx, tok.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup token %d: %w", tok.ID, err)
		}
		if found {
			ids[i] = id
			continue
		}

		typ, _ := tok.Literal(processor.KeyType)
		switch typ {
		case processor.TypeDemand:
			ids[i] = idhash.ComputeEntityID(idhash.KindDemand, tok.OriginalID)
		case processor.TypeMatch2:
			ids[i] = idhash.ComputeEntityID(idhash.KindMatch2, tok.OriginalID)
		default:
			return nil, fmt.Errorf("%w: input token %d has type %q", processor.ErrProtocolMismatch, tok.ID, typ)
		}
	}
	return ids, nil
}

func eventRecords(h ledger.Header, ext ledger.ExtrinsicOutcome, hash string) []storage.EventRecord {
	base := storage.EventRecord{
		BlockHeight:    h.Height,
		BlockHash:      h.Hash,
		ExtrinsicIndex: uint32(ext.Index),
		ExtrinsicHash:  hash,
		Success:        ext.Success,
	}
	if ext.DispatchError != nil {
		base.DispatchError = ext.DispatchError.Name
	}
	if len(ext.Processes) == 0 {
		if ext.Success {
			return nil
		}
		return []storage.EventRecord{base}
	}

	out := make([]storage.EventRecord, 0, len(ext.Processes))
	for _, ev := range ext.Processes {
		r := base
		r.Process = ev.Process.ID
		r.ProcessVersion = ev.Process.Version
		r.Sender = ev.Sender
		r.Inputs = tokenIDs(ev.Inputs)
		r.Outputs = tokenIDs(ev.Outputs)
		out = append(out, r)
	}
	return out
}

func tokenIDs(tokens []ledger.Token) []int64 {
	ids := make([]int64, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids
}
