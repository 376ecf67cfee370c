// Package lifecycle validates and submits demand and match2 operations, and
// serves the read side of the mirror.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/identity"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/observability"
	"matchmaker-ledger/internal/storage"
)

// Submitter is the write side of the ledger.
type Submitter interface {
	Prepare(ctx context.Context, op ledger.Operation) (*ledger.Extrinsic, error)
	Submit(ctx context.Context, ext *ledger.Extrinsic) error
	WatchFinality(ctx context.Context, ext *ledger.Extrinsic, fn func(ledger.FinalityResult)) error
	Release(ctx context.Context, ext *ledger.Extrinsic) error
	Resync(ctx context.Context) error
}

const nonceSyncTimeout = 10 * time.Second

// Identity resolves the calling member and aliases for display.
type Identity interface {
	ResolveSelf(ctx context.Context, auth string) (*identity.Member, error)
	Alias(ctx context.Context, address, auth string) (string, error)
}

// Attachments checks that referenced files exist.
type Attachments interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger       Submitter
	Identity     Identity
	Attachments  Attachments
	Demands      storage.DemandStore
	Match2s      storage.Match2Store
	Transactions storage.TransactionStore
	Comments     storage.DemandCommentStore

	// AccelerateFinality watches each submission and records its outcome
	// as soon as the ledger reports it. The indexer records the same
	// outcome either way.
	AccelerateFinality bool
	DispatchTimeout    time.Duration // Default: 5m

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Service is the submission, local creation and read entry point.
type Service struct {
	ledger       Submitter
	identity     Identity
	attachments  Attachments
	demands      storage.DemandStore
	match2s      storage.Match2Store
	transactions storage.TransactionStore
	comments     storage.DemandCommentStore

	accelerate      bool
	dispatchTimeout time.Duration
	now             func() time.Time
	logger          *zap.Logger
	metrics         *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	var errs []error
	if opts.Ledger == nil {
		errs = append(errs, errors.New("ledger is required"))
	}
	if opts.Identity == nil {
		errs = append(errs, errors.New("identity is required"))
	}
	if opts.Attachments == nil {
		errs = append(errs, errors.New("attachments is required"))
	}
	if opts.Demands == nil || opts.Match2s == nil || opts.Transactions == nil || opts.Comments == nil {
		errs = append(errs, errors.New("all stores are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}

	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ledger:          opts.Ledger,
		identity:        opts.Identity,
		attachments:     opts.Attachments,
		demands:         opts.Demands,
		match2s:         opts.Match2s,
		transactions:    opts.Transactions,
		comments:        opts.Comments,
		accelerate:      opts.AccelerateFinality,
		dispatchTimeout: timeout,
		now:             time.Now,
		logger:          logger.Named("lifecycle"),
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Close waits for background dispatches until ctx is done, then abandons
// the rest. Abandoned transactions stay submitted for the indexer to settle.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Service) self(ctx context.Context, auth string) (string, error) {
	m, err := s.identity.ResolveSelf(ctx, auth)
	if err != nil {
		return "", fmt.Errorf("resolve self: %w", err)
	}
	return m.Address, nil
}

// submit prepares op, records the attempt and dispatches it in the background.
func (s *Service) submit(ctx context.Context, op ledger.Operation, localID uuid.UUID, api domain.APIType, typ domain.TransactionType) (*domain.Transaction, error) {
	ext, err := s.ledger.Prepare(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", op.Process.ID, err)
	}

	now := s.now().UTC()
	tx := &domain.Transaction{
		ID:              uuid.New(),
		LocalID:         localID,
		APIType:         api,
		TransactionType: typ,
		State:           domain.TransactionStateSubmitted,
		Hash:            domain.NormalizeHash(ext.Hash),
		SubmittedAt:     now,
		UpdatedAt:       now,
	}
	if err := s.transactions.Insert(ctx, tx); err != nil {
		s.release(ctx, ext)
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	s.logger.Info("submitting",
		zap.String("process", op.Process.ID),
		zap.Stringer("local_id", localID),
		zap.String("hash", tx.Hash))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.dispatchTimeout)
		defer cancel()
		if s.accelerate {
			s.watch(ctx, ext, tx)
			return
		}
		s.send(ctx, ext, tx)
	}()

	return tx, nil
}

func (s *Service) send(ctx context.Context, ext *ledger.Extrinsic, tx *domain.Transaction) {
	err := s.ledger.Submit(ctx, ext)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInvalidTransaction):
		s.resolve(ctx, tx, domain.TransactionStateFailed, err)
	default:
		s.logger.Warn("submit failed, leaving transaction submitted",
			zap.Stringer("id", tx.ID), zap.String("hash", tx.Hash), zap.Error(err))
		s.resync(ctx)
	}
}

func (s *Service) watch(ctx context.Context, ext *ledger.Extrinsic, tx *domain.Transaction) {
	err := s.ledger.WatchFinality(ctx, ext, func(res ledger.FinalityResult) {
		switch res.Status {
		case ledger.StatusInBlock, ledger.StatusFinalized:
			if res.Err != nil {
				s.resolve(ctx, tx, domain.TransactionStateFailed, res.Err)
				return
			}
			s.resolve(ctx, tx, domain.TransactionStateFinalised, nil)
		case ledger.StatusDropped, ledger.StatusInvalid:
			s.resolve(ctx, tx, domain.TransactionStateFailed, res.Err)
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInvalidTransaction):
		s.resolve(ctx, tx, domain.TransactionStateFailed, err)
	default:
		s.logger.Warn("finality watch ended early, leaving transaction to the indexer",
			zap.Stringer("id", tx.ID), zap.String("hash", tx.Hash), zap.Error(err))
		s.resync(ctx)
	}
}

// release hands back the nonce of an extrinsic that was never dispatched.
func (s *Service) release(ctx context.Context, ext *ledger.Extrinsic) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonceSyncTimeout)
	defer cancel()
	if err := s.ledger.Release(ctx, ext); err != nil {
		s.logger.Warn("release nonce failed", zap.Uint64("nonce", ext.Nonce), zap.Error(err))
	}
}

// resync reloads the nonce after a dispatch that may not have reached the
// pool. ctx may already be canceled by Close or the dispatch timeout.
func (s *Service) resync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonceSyncTimeout)
	defer cancel()
	if err := s.ledger.Resync(ctx); err != nil {
		s.logger.Warn("resync nonce failed", zap.Error(err))
	}
}

// resolve records an outcome unless the row has already left submitted. The
// indexer's write wins whenever it lands first.
func (s *Service) resolve(ctx context.Context, tx *domain.Transaction, state domain.TransactionState, cause error) {
	changed, err := s.transactions.SettleSubmitted(ctx, tx.Hash, state)
	if err != nil {
		s.logger.Warn("record transaction outcome failed",
			zap.Stringer("id", tx.ID), zap.String("state", string(state)), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	s.metrics.TransactionsResolved.WithLabelValues(string(state), "submission").Inc()
	fields := []zap.Field{zap.Stringer("id", tx.ID), zap.String("hash", tx.Hash), zap.String("state", string(state))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("transaction resolved", fields...)
}

func (s *Service) demand(ctx context.Context, id uuid.UUID) (*domain.Demand, error) {
	d, err := s.demands.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: demand %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get demand %s: %w", id, err)
	}
	return d, nil
}

func (s *Service) match2(ctx context.Context, id uuid.UUID) (*domain.Match2, error) {
	m, err := s.match2s.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: match2 %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get match2 %s: %w", id, err)
	}
	return m, nil
}

// match2Demands loads both demands of m.
func (s *Service) match2Demands(ctx context.Context, m *domain.Match2) (a, b *domain.Demand, err error) {
	if a, err = s.demand(ctx, m.DemandA); err != nil {
		return nil, nil, err
	}
	if b, err = s.demand(ctx, m.DemandB); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
