// Package indexer walks finalized ledger blocks and mirrors their process
// events into storage.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/observability"
	"matchmaker-ledger/internal/processor"
	"matchmaker-ledger/internal/retry"
	"matchmaker-ledger/internal/storage"
)

// Source is the read side of the ledger the indexer consumes.
type Source interface {
	FinalizedHead(ctx context.Context) (*ledger.Header, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	Block(ctx context.Context, hash string) (*ledger.Block, error)
	SubscribeFinalizedHeads(ctx context.Context) (<-chan ledger.Header, error)
}

// State is the indexer loop state.
type State int32

const (
	StateIdle State = iota
	StateCatchingUp
	StateApplying
	StateError
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCatchingUp:
		return "catching-up"
	case StateApplying:
		return "applying"
	case StateError:
		return "error"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options contains configuration for creating an Indexer.
type Options struct {
	Source       Source
	Applier      storage.Applier
	Lookup       storage.LocalIDLookup
	Checkpoints  storage.CheckpointStore
	Transactions storage.TransactionStore
	Registry     *processor.Registry
	Archive      storage.EventArchive // optional

	PollInterval      time.Duration // Default: 6s
	MaxBlocksPerApply int           // Default: 100
	FetchWorkers      int           // Default: 8
	StartHeight       uint64        // first height indexed when no checkpoint exists
	Retry             retry.Config

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Indexer applies finalized blocks in height order. One Indexer runs per process.
type Indexer struct {
	source       Source
	applier      storage.Applier
	lookup       storage.LocalIDLookup
	checkpoints  storage.CheckpointStore
	transactions storage.TransactionStore
	registry     *processor.Registry
	archive      storage.EventArchive

	pollInterval time.Duration
	maxBlocks    int
	startHeight  uint64
	retry        retry.Config

	pool    pond.ResultPool[*ledger.Block]
	logger  *zap.Logger
	metrics *observability.Metrics

	state   atomic.Int32
	mu      sync.Mutex
	lastErr error
}

// New creates an Indexer.
func New(opts Options) (*Indexer, error) {
	var errs []error
	if opts.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if opts.Applier == nil {
		errs = append(errs, errors.New("applier is required"))
	}
	if opts.Lookup == nil {
		errs = append(errs, errors.New("local id lookup is required"))
	}
	if opts.Checkpoints == nil {
		errs = append(errs, errors.New("checkpoint store is required"))
	}
	if opts.Transactions == nil {
		errs = append(errs, errors.New("transaction store is required"))
	}
	if opts.Registry == nil {
		errs = append(errs, errors.New("processor registry is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 6 * time.Second
	}
	maxBlocks := opts.MaxBlocksPerApply
	if maxBlocks <= 0 {
		maxBlocks = 100
	}
	workers := opts.FetchWorkers
	if workers <= 0 {
		workers = 8
	}
	retryCfg := opts.Retry
	if retryCfg.InitialDelay == 0 {
		retryCfg = retry.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.Discard()
	}

	return &Indexer{
		source:       opts.Source,
		applier:      opts.Applier,
		lookup:       opts.Lookup,
		checkpoints:  opts.Checkpoints,
		transactions: opts.Transactions,
		registry:     opts.Registry,
		archive:      opts.Archive,
		pollInterval: pollInterval,
		maxBlocks:    maxBlocks,
		startHeight:  opts.StartHeight,
		retry:        retryCfg,
		pool:         pond.NewResultPool[*ledger.Block](workers, pond.WithQueueSize(maxBlocks)),
		logger:       logger.Named("indexer"),
		metrics:      metrics,
	}, nil
}

// State returns the current loop state.
func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

func (ix *Indexer) setState(s State) {
	ix.state.Store(int32(s))
	ix.metrics.IndexerState.Set(float64(s))
}

func (ix *Indexer) fail(s State, err error) {
	ix.mu.Lock()
	ix.lastErr = err
	ix.mu.Unlock()
	ix.setState(s)
}

// Health reports the last error while the indexer is retrying or halted.
func (ix *Indexer) Health(context.Context) error {
	s := ix.State()
	if s != StateError && s != StateHalted {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return fmt.Errorf("indexer %s: %w", s, ix.lastErr)
}

// Close stops the fetch pool.
func (ix *Indexer) Close() {
	ix.pool.StopAndWait()
}

// IsFatal reports whether err means the mirror can no longer be trusted.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrConsistency) || errors.Is(err, processor.ErrProtocolMismatch)
}

// Run indexes until ctx is done or a fatal error halts it. Each finalized
// header, and each poll tick, triggers a catch-up to the finalized head.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.logger.Info("starting indexer",
		zap.Duration("poll_interval", ix.pollInterval),
		zap.Int("max_blocks_per_apply", ix.maxBlocks))

	heads := ix.subscribe(ctx)
	ticker := time.NewTicker(ix.pollInterval)
	defer ticker.Stop()

	for {
		if err := ix.syncWithRetry(ctx); err != nil {
			if IsFatal(err) {
				ix.fail(StateHalted, err)
				ix.logger.Error("indexer halted", zap.Error(err))
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Warn("catch-up gave up, waiting for next trigger", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			ix.logger.Info("indexer stopping")
			return ctx.Err()
		case h, ok := <-heads:
			if !ok {
				ix.logger.Warn("finalized head subscription closed, polling")
				heads = nil
				continue
			}
			ix.metrics.FinalizedHeight.Set(float64(h.Height))
		case <-ticker.C:
			if heads == nil {
				heads = ix.subscribe(ctx)
			}
		}
	}
}

// subscribe returns nil on failure; a nil channel never fires and the poll
// ticker takes over.
func (ix *Indexer) subscribe(ctx context.Context) <-chan ledger.Header {
	heads, err := ix.source.SubscribeFinalizedHeads(ctx)
	if err != nil {
		ix.logger.Warn("subscribe finalized heads failed", zap.Error(err))
		return nil
	}
	return heads
}

func (ix *Indexer) syncWithRetry(ctx context.Context) error {
	return retry.WithBackoff(ctx, ix.retry, ix.logger, "indexer catch-up", func() error {
		err := ix.Sync(ctx)
		switch {
		case err == nil:
			return nil
		case IsFatal(err):
			return retry.Permanent(err)
		case ctx.Err() != nil:
			return retry.Permanent(err)
		}
		ix.fail(StateError, err)
		ix.metrics.ApplyErrors.WithLabelValues(string(domain.KindOf(err))).Inc()
		return err
	})
}

// Sync applies every finalized block past the checkpoint, in ranges of at
// most MaxBlocksPerApply blocks.
func (ix *Indexer) Sync(ctx context.Context) error {
	head, err := ix.source.FinalizedHead(ctx)
	if err != nil {
		return fmt.Errorf("get finalized head: %w", err)
	}
	ix.metrics.FinalizedHeight.Set(float64(head.Height))

	latest, err := ix.checkpoints.Latest(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		latest = nil
	case err != nil:
		return fmt.Errorf("get checkpoint: %w", err)
	}

	from := max(ix.startHeight, 1)
	if latest != nil {
		from = latest.Height + 1
	}

	for from <= head.Height {
		to := min(from+uint64(ix.maxBlocks)-1, head.Height)

		ix.setState(StateCatchingUp)
		blocks, err := ix.fetch(ctx, from, to)
		if err != nil {
			return err
		}
		if err := checkRange(latest, from, blocks); err != nil {
			return err
		}

		ix.setState(StateApplying)
		next, err := ix.applyRange(ctx, blocks)
		if err != nil {
			return err
		}
		latest = next
		from = to + 1
	}

	ix.setState(StateIdle)
	return nil
}

// fetch loads blocks [from, to] concurrently and returns them in height order.
func (ix *Indexer) fetch(ctx context.Context, from, to uint64) ([]*ledger.Block, error) {
	group := ix.pool.NewGroupContext(ctx)
	for h := from; h <= to; h++ {
		height := h
		group.SubmitErr(func() (*ledger.Block, error) {
			hash, err := ix.source.BlockHash(ctx, height)
			if err != nil {
				return nil, fmt.Errorf("get block hash %d: %w", height, err)
			}
			b, err := ix.source.Block(ctx, hash)
			if err != nil {
				return nil, fmt.Errorf("get block %d: %w", height, err)
			}
			if b.Hash != hash {
				return nil, fmt.Errorf("%w: block %d returned hash %s, want %s", domain.ErrConsistency, height, b.Hash, hash)
			}
			return b, nil
		})
	}
	blocks, err := group.Wait()
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// checkRange validates a fetched range against the checkpoint before any of
// it is processed.
func checkRange(latest *domain.ProcessedBlock, from uint64, blocks []*ledger.Block) error {
	prevHash := ""
	if latest != nil {
		prevHash = latest.Hash
	}
	for i, b := range blocks {
		want := from + uint64(i)
		if b.Height != want {
			return fmt.Errorf("%w: expected height %d, got %d", domain.ErrConsistency, want, b.Height)
		}
		if (i > 0 || latest != nil) && b.Parent != prevHash {
			return fmt.Errorf("%w: block %d parent %s does not match %s", domain.ErrConsistency, b.Height, b.Parent, prevHash)
		}
		prevHash = b.Hash
	}
	return nil
}

// applyRange derives and writes one Application, then archives its events.
func (ix *Indexer) applyRange(ctx context.Context, blocks []*ledger.Block) (*domain.ProcessedBlock, error) {
	app, events, err := ix.process(ctx, blocks)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = ix.applier.Apply(ctx, app)
	ix.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, storage.ErrCheckpointMismatch) {
		return nil, fmt.Errorf("%w: %w", domain.ErrConsistency, err)
	}
	if err != nil {
		return nil, fmt.Errorf("apply blocks %d-%d: %w", app.Blocks[0].Height, app.Blocks[len(app.Blocks)-1].Height, err)
	}

	last := app.Blocks[len(app.Blocks)-1]
	ix.metrics.BlocksProcessed.Add(float64(len(app.Blocks)))
	ix.metrics.CheckpointHeight.Set(float64(last.Height))
	ix.metrics.LastSuccessfulApply.SetToCurrentTime()
	for _, o := range app.Outcomes {
		ix.metrics.TransactionsResolved.WithLabelValues(string(o.State), "indexer").Inc()
	}
	ix.logger.Debug("applied blocks",
		zap.Uint64("from", app.Blocks[0].Height),
		zap.Uint64("to", last.Height),
		zap.Int("changes", app.Changes.Len()),
		zap.Int("outcomes", len(app.Outcomes)))

	if ix.archive != nil && len(events) > 0 {
		if err := ix.archive.Archive(ctx, events); err != nil {
			ix.metrics.ArchiveErrors.Inc()
			ix.logger.Warn("archive events failed", zap.Uint64("to", last.Height), zap.Error(err))
		}
	}
	return &last, nil
}
