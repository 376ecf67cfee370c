package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matchmaker-ledger/internal/attachment"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/identity"
	"matchmaker-ledger/internal/indexer"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/ledger/stub"
	"matchmaker-ledger/internal/processor"
	"matchmaker-ledger/internal/retry"
	"matchmaker-ledger/internal/storage"
	"matchmaker-ledger/internal/storage/memory"
)

// fakeIdentity treats the auth token as the caller's address.
type fakeIdentity struct{}

func (fakeIdentity) ResolveSelf(_ context.Context, auth string) (*identity.Member, error) {
	if auth == "" {
		return nil, fmt.Errorf("%w: identity", domain.ErrUnavailable)
	}
	return &identity.Member{Alias: auth, Address: auth}, nil
}

func (fakeIdentity) Alias(_ context.Context, address, _ string) (string, error) {
	return "@" + address, nil
}

type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (b *memBlobs) Add(_ context.Context, _ string, r io.Reader) (string, int64, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	hash := fmt.Sprintf("Qm%04d", len(b.files))
	b.files[hash] = content
	return hash, int64(len(content)), nil
}

func (b *memBlobs) Cat(_ context.Context, hash string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[hash]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return content, nil
}

// failingInserts rejects every new transaction row.
type failingInserts struct {
	storage.TransactionStore
}

func (failingInserts) Insert(context.Context, *domain.Transaction) error {
	return errors.New("connection refused")
}

type fixture struct {
	ledger *stub.Ledger
	db     *memory.DB
	files  *attachment.Service
	svc    *Service
	ix     *indexer.Indexer
}

func newFixture(t *testing.T, accelerate bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db := memory.New()
	files := attachment.NewService(db.Attachments(), &memBlobs{files: make(map[string][]byte)}, logger)
	l := stub.New("node", files)

	svc, err := New(Options{
		Ledger:             l,
		Identity:           fakeIdentity{},
		Attachments:        files,
		Demands:            db.Demands(),
		Match2s:            db.Match2s(),
		Transactions:       db.Transactions(),
		Comments:           db.Comments(),
		AccelerateFinality: accelerate,
		DispatchTimeout:    5 * time.Second,
		Logger:             logger,
	})
	require.NoError(t, err)

	reg, err := processor.NewRegistry()
	require.NoError(t, err)
	ix, err := indexer.New(indexer.Options{
		Source:       l,
		Applier:      db,
		Lookup:       db,
		Checkpoints:  db.Checkpoints(),
		Transactions: db.Transactions(),
		Registry:     reg,
		Archive:      memory.NewEventArchive(),
		PollInterval: 10 * time.Millisecond,
		Retry:        retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
		Logger:       logger,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		ix.Close()
	})
	return &fixture{ledger: l, db: db, files: files, svc: svc, ix: ix}
}

func (f *fixture) upload(t *testing.T) uuid.UUID {
	t.Helper()
	a, err := f.files.Create(context.Background(), "params.json", []byte(`{"qty":1}`))
	require.NoError(t, err)
	return a.ID
}

// waitPending blocks until n extrinsics are queued on the ledger.
func (f *fixture) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.ledger.Pending() == n }, 2*time.Second, time.Millisecond)
}

// settle seals the n queued extrinsics into a block and indexes it.
func (f *fixture) settle(t *testing.T, n int) {
	t.Helper()
	f.waitPending(t, n)
	_, err := f.ledger.Seal(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.ix.Sync(context.Background()))
}

func (f *fixture) demand(t *testing.T, id uuid.UUID) *domain.Demand {
	t.Helper()
	d, err := f.db.Demands().GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) match2(t *testing.T, id uuid.UUID) *domain.Match2 {
	t.Helper()
	m, err := f.db.Match2s().GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (f *fixture) txState(t *testing.T, id uuid.UUID) domain.TransactionState {
	t.Helper()
	tx, err := f.svc.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx.State
}

// onChainDemand creates a demand owned by auth and settles its creation.
func (f *fixture) onChainDemand(t *testing.T, auth string, subtype domain.DemandSubtype) *domain.Demand {
	t.Helper()
	ctx := context.Background()
	d, err := f.svc.CreateDemand(ctx, auth, subtype, f.upload(t))
	require.NoError(t, err)
	_, err = f.svc.CreateDemandOnChain(ctx, d.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	return f.demand(t, d.ID)
}

// acceptedMatch runs a match between alice and bob to acceptedFinal.
func (f *fixture) acceptedMatch(t *testing.T) (a, b *domain.Demand, m *domain.Match2) {
	t.Helper()
	ctx := context.Background()
	a = f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b = f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)

	m, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ProposeMatch2OnChain(ctx, m.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	_, err = f.svc.AcceptMatch2OnChain(ctx, "bob", m.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	require.Equal(t, domain.Match2StateAcceptedB, f.match2(t, m.ID).State)
	_, err = f.svc.AcceptMatch2OnChain(ctx, "alice", m.ID)
	require.NoError(t, err)
	f.settle(t, 1)

	return f.demand(t, a.ID), f.demand(t, b.ID), f.match2(t, m.ID)
}

func TestLifecycle_MatchAndRematchConvergeThroughIndexer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a, b, m := f.acceptedMatch(t)
	assert.Equal(t, domain.Match2StateAcceptedFinal, m.State)
	assert.Equal(t, domain.DemandStateAllocated, a.State)
	assert.Equal(t, domain.DemandStateAllocated, b.State)
	assert.Equal(t, "alice", m.MemberA)
	assert.Equal(t, "bob", m.MemberB)
	assert.Equal(t, "opt", m.Optimiser)

	c := f.onChainDemand(t, "carol", domain.DemandSubtypeCapacity)
	rm, err := f.svc.CreateMatch2(ctx, "opt", a.ID, c.ID, &m.ID)
	require.NoError(t, err)
	_, err = f.svc.ProposeMatch2OnChain(ctx, rm.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	assert.Equal(t, domain.Match2StateProposed, f.match2(t, rm.ID).State)
	assert.Equal(t, domain.Match2StateAcceptedFinal, f.match2(t, m.ID).State)

	_, err = f.svc.AcceptMatch2OnChain(ctx, "alice", rm.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	assert.Equal(t, domain.Match2StateAcceptedA, f.match2(t, rm.ID).State)

	_, err = f.svc.AcceptMatch2OnChain(ctx, "carol", rm.ID)
	require.NoError(t, err)
	f.settle(t, 1)

	assert.Equal(t, domain.Match2StateAcceptedFinal, f.match2(t, rm.ID).State)
	assert.Equal(t, domain.Match2StateCancelled, f.match2(t, m.ID).State)
	assert.Equal(t, domain.DemandStateAllocated, f.demand(t, a.ID).State)
	assert.Equal(t, domain.DemandStateCancelled, f.demand(t, b.ID).State)
	assert.Equal(t, domain.DemandStateAllocated, f.demand(t, c.ID).State)

	counts, err := f.db.Transactions().CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[domain.TransactionStateSubmitted])
	assert.Equal(t, 0, counts[domain.TransactionStateFailed])
	assert.Equal(t, 9, counts[domain.TransactionStateFinalised])

	// Every row stays local; nothing came back as a foreign duplicate.
	ds, err := f.svc.ListDemands(ctx, "alice", storage.DemandFilter{})
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestLifecycle_CommentAndCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a, b, m := f.acceptedMatch(t)

	tx, err := f.svc.CommentOnDemand(ctx, "alice", a.ID, f.upload(t))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeComment, tx.TransactionType)
	f.settle(t, 1)

	comments, err := f.svc.ListDemandComments(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "node", comments[0].Owner)
	require.NotNil(t, comments[0].TransactionID)
	assert.Equal(t, tx.ID, *comments[0].TransactionID)
	assert.Equal(t, domain.DemandStateAllocated, f.demand(t, a.ID).State)

	tx, err = f.svc.CancelMatch2OnChain(ctx, "bob", m.ID, f.upload(t))
	require.NoError(t, err)
	f.settle(t, 1)

	assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))
	assert.Equal(t, domain.Match2StateCancelled, f.match2(t, m.ID).State)
	assert.Equal(t, domain.DemandStateCancelled, f.demand(t, a.ID).State)
	assert.Equal(t, domain.DemandStateCancelled, f.demand(t, b.ID).State)
}

func TestLifecycle_RejectByParty(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b := f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)

	m, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ProposeMatch2OnChain(ctx, m.ID)
	require.NoError(t, err)
	f.settle(t, 1)

	_, err = f.svc.RejectMatch2OnChain(ctx, "mallory", m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.RejectMatch2OnChain(ctx, "bob", m.ID)
	require.NoError(t, err)
	f.settle(t, 1)

	assert.Equal(t, domain.Match2StateRejected, f.match2(t, m.ID).State)
	assert.Equal(t, domain.DemandStateCreated, f.demand(t, a.ID).State)
}

func TestLifecycle_DoubleSpendFailsThroughIndexer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b := f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)

	m1, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	m2, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	tx1, err := f.svc.ProposeMatch2OnChain(ctx, m1.ID)
	require.NoError(t, err)
	f.waitPending(t, 1)
	tx2, err := f.svc.ProposeMatch2OnChain(ctx, m2.ID)
	require.NoError(t, err)
	f.settle(t, 2)

	assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx1.ID))
	assert.Equal(t, domain.TransactionStateFailed, f.txState(t, tx2.ID))
	assert.Equal(t, domain.Match2StateProposed, f.match2(t, m1.ID).State)
	assert.Equal(t, domain.Match2StatePending, f.match2(t, m2.ID).State)
}

func TestLifecycle_AcceleratorResolvesBeforeIndexer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
	require.NoError(t, err)
	tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateSubmitted, tx.State)

	f.waitPending(t, 1)
	_, err = f.ledger.Seal(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.txState(t, tx.ID) == domain.TransactionStateFinalised
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, domain.DemandStatePending, f.demand(t, d.ID).State)

	require.NoError(t, f.ix.Sync(ctx))
	assert.Equal(t, domain.DemandStateCreated, f.demand(t, d.ID).State)
	assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))
}

func TestLifecycle_AcceleratorRecordsDispatchFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a := f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b := f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)

	m1, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	m2, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	tx1, err := f.svc.ProposeMatch2OnChain(ctx, m1.ID)
	require.NoError(t, err)
	f.waitPending(t, 1)
	tx2, err := f.svc.ProposeMatch2OnChain(ctx, m2.ID)
	require.NoError(t, err)
	f.waitPending(t, 2)

	_, err = f.ledger.Seal(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.txState(t, tx1.ID) == domain.TransactionStateFinalised &&
			f.txState(t, tx2.ID) == domain.TransactionStateFailed
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, f.ix.Sync(ctx))
	assert.Equal(t, domain.TransactionStateFailed, f.txState(t, tx2.ID))
	assert.Equal(t, domain.Match2StatePending, f.match2(t, m2.ID).State)
}

func TestLifecycle_SubmitErrors(t *testing.T) {
	t.Run("invalid transaction fails the row", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
		require.NoError(t, err)

		f.ledger.FailNextSubmit(fmt.Errorf("%w: bad signature", ledger.ErrInvalidTransaction))
		tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return f.txState(t, tx.ID) == domain.TransactionStateFailed
		}, 2*time.Second, time.Millisecond)
	})

	t.Run("transport error leaves the row submitted", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
		require.NoError(t, err)

		f.ledger.FailNextSubmit(fmt.Errorf("%w: connection reset", domain.ErrUnavailable))
		tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
		require.NoError(t, err)
		require.NoError(t, f.svc.Close(ctx))
		assert.Equal(t, domain.TransactionStateSubmitted, f.txState(t, tx.ID))
		assert.Equal(t, 0, f.ledger.Pending())

		// The unsent nonce is reclaimed from the ledger.
		assert.Equal(t, 1, f.ledger.Resyncs())
		assert.Equal(t, uint64(0), f.ledger.NextNonce())
	})

	t.Run("lost watch leaves the row submitted", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
		require.NoError(t, err)

		f.ledger.DropNextWatch()
		tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
		require.NoError(t, err)
		f.settle(t, 1)
		require.NoError(t, f.svc.Close(ctx))

		// The indexer still settles what the watch missed.
		assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))
		assert.Equal(t, domain.DemandStateCreated, f.demand(t, d.ID).State)
	})
}

func TestLifecycle_AbandonedSubmissionKeepsNoncesContiguous(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	broken, err := New(Options{
		Ledger:       f.ledger,
		Identity:     fakeIdentity{},
		Attachments:  f.files,
		Demands:      f.db.Demands(),
		Match2s:      f.db.Match2s(),
		Transactions: failingInserts{f.db.Transactions()},
		Comments:     f.db.Comments(),
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
	require.NoError(t, err)
	_, err = broken.CreateDemandOnChain(ctx, d.ID)
	require.Error(t, err)
	assert.Equal(t, uint64(0), f.ledger.NextNonce())
	assert.Equal(t, 0, f.ledger.Pending())

	tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))
	assert.Equal(t, domain.DemandStateCreated, f.demand(t, d.ID).State)
	assert.Equal(t, uint64(1), f.ledger.NextNonce())
}

func TestLifecycle_LateAcceleratorKeepsIndexerOutcome(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	d, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, f.upload(t))
	require.NoError(t, err)
	tx, err := f.svc.CreateDemandOnChain(ctx, d.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	require.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))

	// A watch reporting after the indexer must not overwrite its outcome.
	f.svc.resolve(ctx, tx, domain.TransactionStateFailed, ledger.ErrWatchLost)
	assert.Equal(t, domain.TransactionStateFinalised, f.txState(t, tx.ID))
}

func TestLifecycle_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	params := f.upload(t)

	_, err := f.svc.CreateDemand(ctx, "alice", "barter", params)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.CreateDemand(ctx, "", domain.DemandSubtypeOrder, params)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	_, err = f.svc.CreateDemandOnChain(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetMatch2(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.ListDemandComments(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pendingA, err := f.svc.CreateDemand(ctx, "alice", domain.DemandSubtypeOrder, params)
	require.NoError(t, err)
	a := f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b := f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)

	_, err = f.svc.CreateDemandOnChain(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "already on chain")
	_, err = f.svc.CreateMatch2(ctx, "opt", b.ID, a.ID, nil)
	assert.ErrorIs(t, err, domain.ErrValidation, "sides swapped")

	offChain, err := f.svc.CreateMatch2(ctx, "opt", pendingA.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.ProposeMatch2OnChain(ctx, offChain.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "demand not on chain")

	m, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.AcceptMatch2OnChain(ctx, "alice", m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "not yet proposed")
	_, err = f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, &m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "replaced match not final")

	_, err = f.svc.ProposeMatch2OnChain(ctx, m.ID)
	require.NoError(t, err)
	f.settle(t, 1)
	_, err = f.svc.ProposeMatch2OnChain(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "already proposed")
	_, err = f.svc.AcceptMatch2OnChain(ctx, "mallory", m.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "not a member")
	_, err = f.svc.CancelMatch2OnChain(ctx, "alice", m.ID, uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrConflict, "not final")

	_, err = f.svc.CommentOnDemand(ctx, "bob", a.ID, params)
	assert.ErrorIs(t, err, domain.ErrConflict, "not the owner")
	_, err = f.svc.CommentOnDemand(ctx, "alice", pendingA.ID, params)
	assert.ErrorIs(t, err, domain.ErrConflict, "not on chain")
	_, err = f.svc.CommentOnDemand(ctx, "alice", a.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound, "missing attachment")
}

func TestLifecycle_ReadsResolveAliases(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.onChainDemand(t, "alice", domain.DemandSubtypeOrder)
	b := f.onChainDemand(t, "bob", domain.DemandSubtypeCapacity)
	m, err := f.svc.CreateMatch2(ctx, "opt", a.ID, b.ID, nil)
	require.NoError(t, err)

	dv, err := f.svc.GetDemand(ctx, "alice", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "@alice", dv.OwnerAlias)
	assert.Equal(t, a.ID, dv.ID)

	mv, err := f.svc.GetMatch2(ctx, "alice", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "@opt", mv.OptimiserAlias)
	assert.Equal(t, "@alice", mv.MemberAAlias)
	assert.Equal(t, "@bob", mv.MemberBAlias)

	capacity := domain.DemandSubtypeCapacity
	ds, err := f.svc.ListDemands(ctx, "alice", storage.DemandFilter{Subtype: &capacity})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, b.ID, ds[0].ID)

	ms, err := f.svc.ListMatch2s(ctx, "alice", storage.Match2Filter{})
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	txs, err := f.svc.ListTransactions(ctx, storage.TransactionFilter{LocalID: &a.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionTypeCreation, txs[0].TransactionType)
	assert.Equal(t, domain.APITypeOrder, txs[0].APIType)
}

func TestClose_AbandonsUnfinishedWatches(t *testing.T) {
	f := newFixture(t, true)
	d, err := f.svc.CreateDemand(context.Background(), "alice", domain.DemandSubtypeOrder, f.upload(t))
	require.NoError(t, err)
	tx, err := f.svc.CreateDemandOnChain(context.Background(), d.ID)
	require.NoError(t, err)
	f.waitPending(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.svc.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, domain.TransactionStateSubmitted, f.txState(t, tx.ID))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger is required")
	assert.Contains(t, err.Error(), "all stores are required")
}
