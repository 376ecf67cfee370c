// Package stub provides an in-memory ledger for tests.
//
// Token ids come from one counter. Output i of a process inherits the
// original id of input i; outputs past the last input start a new lineage.
package stub

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"matchmaker-ledger/internal/ledger"
)

// InputsNotFound is the dispatch error for consuming a missing or burnt token.
var InputsNotFound = ledger.DispatchError{Module: 9, Index: 0, Name: "InputsNotFound"}

type token struct {
	ledger.Token
	burnt bool
}

type pendingExt struct {
	ext      *ledger.Extrinsic
	sender   string
	watchers []func(ledger.FinalityResult)
	done     chan struct{}
}

// Ledger is an in-memory ledger. It implements the read and submit sides of
// ledger.Client. Blocks are sealed explicitly with Seal.
type Ledger struct {
	mu sync.Mutex

	sender string
	files  ledger.FileResolver

	nonce     uint64
	accepted  uint64
	resyncs   int
	lastToken int64
	tokens    map[int64]*token

	pending   []*pendingExt
	submitted map[string]*pendingExt

	blocks []*ledger.Block // index is height
	byHash map[string]*ledger.Block

	subs []chan ledger.Header

	submitErr error
	dropNext  bool
}

// New returns a ledger holding only the genesis block. sender is the account
// recorded on extrinsics submitted through Submit and WatchFinality.
func New(sender string, files ledger.FileResolver) *Ledger {
	genesis := &ledger.Block{Header: ledger.Header{Hash: blockHash(0, ""), Height: 0}}
	return &Ledger{
		sender:    sender,
		files:     files,
		tokens:    make(map[int64]*token),
		submitted: make(map[string]*pendingExt),
		blocks:    []*ledger.Block{genesis},
		byHash:    map[string]*ledger.Block{genesis.Hash: genesis},
	}
}

func blockHash(height uint64, parent string) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], height)
	sum := blake2b.Sum256(append(b[:], parent...))
	return hex.EncodeToString(sum[:])
}

// FailNextSubmit makes the next Submit or WatchFinality return err.
func (l *Ledger) FailNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// DropNextWatch makes the next WatchFinality end without a result.
func (l *Ledger) DropNextWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropNext = true
}

// Prepare allocates a nonce and a unique hash for op.
func (l *Ledger) Prepare(_ context.Context, op ledger.Operation) (*ledger.Extrinsic, error) {
	l.mu.Lock()
	nonce := l.nonce
	l.nonce++
	l.mu.Unlock()

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], nonce)
	sum := blake2b.Sum256(append(b[:], op.Process.ID...))
	return &ledger.Extrinsic{
		Hash:      hex.EncodeToString(sum[:]),
		Encoded:   sum[:],
		Nonce:     nonce,
		Operation: op,
	}, nil
}

// Release gives back ext's nonce, or resyncs when later nonces are out.
func (l *Ledger) Release(ctx context.Context, ext *ledger.Extrinsic) error {
	l.mu.Lock()
	if l.nonce == ext.Nonce+1 {
		l.nonce = ext.Nonce
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.Resync(ctx)
}

// Resync resets the next nonce to the number of extrinsics that reached the
// pool.
func (l *Ledger) Resync(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonce = l.accepted
	l.resyncs++
	return nil
}

// NextNonce returns the nonce the next Prepare will use.
func (l *Ledger) NextNonce() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonce
}

// Resyncs returns how many times the nonce was reloaded.
func (l *Ledger) Resyncs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resyncs
}

// Submit queues ext for the next block.
func (l *Ledger) Submit(_ context.Context, ext *ledger.Extrinsic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.enqueue(ext, l.sender)
	return err
}

func (l *Ledger) enqueue(ext *ledger.Extrinsic, sender string) (*pendingExt, error) {
	if err := l.submitErr; err != nil {
		l.submitErr = nil
		return nil, err
	}
	if p, ok := l.submitted[ext.Hash]; ok {
		return p, nil
	}
	p := &pendingExt{ext: ext, sender: sender, done: make(chan struct{})}
	l.accepted++
	l.pending = append(l.pending, p)
	l.submitted[ext.Hash] = p
	return p, nil
}

// SubmitAs queues op as if another account had submitted it and returns the
// extrinsic hash.
func (l *Ledger) SubmitAs(ctx context.Context, sender string, op ledger.Operation) (string, error) {
	ext, err := l.Prepare(ctx, op)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enqueue(ext, sender); err != nil {
		return "", err
	}
	return ext.Hash, nil
}

// WatchFinality queues ext and blocks until it is sealed into a block.
func (l *Ledger) WatchFinality(ctx context.Context, ext *ledger.Extrinsic, fn func(ledger.FinalityResult)) error {
	l.mu.Lock()
	p, err := l.enqueue(ext, l.sender)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if l.dropNext {
		l.dropNext = false
		l.mu.Unlock()
		return ledger.ErrWatchLost
	}
	p.watchers = append(p.watchers, fn)
	l.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of extrinsics waiting for the next block.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Seal applies every pending extrinsic in submission order into a new
// finalized block and returns it.
func (l *Ledger) Seal(ctx context.Context) (*ledger.Block, error) {
	l.mu.Lock()

	prev := l.blocks[len(l.blocks)-1]
	height := prev.Height + 1
	block := &ledger.Block{Header: ledger.Header{
		Hash:   blockHash(height, prev.Hash),
		Parent: prev.Hash,
		Height: height,
	}}

	type notice struct {
		p   *pendingExt
		res ledger.FinalityResult
	}
	var notices []notice

	for i, p := range l.pending {
		outcome, err := l.apply(ctx, i, p)
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		block.Extrinsics = append(block.Extrinsics, outcome)

		res := ledger.FinalityResult{Hash: p.ext.Hash, Status: ledger.StatusInBlock, BlockHash: block.Hash}
		if outcome.DispatchError != nil {
			res.Err = outcome.DispatchError
		}
		notices = append(notices, notice{p: p, res: res})
	}
	l.pending = nil

	l.blocks = append(l.blocks, block)
	l.byHash[block.Hash] = block
	for _, ch := range l.subs {
		select {
		case ch <- block.Header:
		default:
		}
	}
	l.mu.Unlock()

	for _, n := range notices {
		for _, fn := range n.p.watchers {
			fn(n.res)
		}
		close(n.p.done)
	}
	return block, nil
}

// apply runs one extrinsic against the token set. Caller holds l.mu.
func (l *Ledger) apply(ctx context.Context, index int, p *pendingExt) (ledger.ExtrinsicOutcome, error) {
	op := p.ext.Operation
	outcome := ledger.ExtrinsicOutcome{Index: index, Hash: p.ext.Hash}

	seen := make(map[int64]bool, len(op.Inputs))
	inputs := make([]ledger.Token, 0, len(op.Inputs))
	for _, id := range op.Inputs {
		t, ok := l.tokens[id]
		if !ok || t.burnt || seen[id] {
			de := InputsNotFound
			outcome.DispatchError = &de
			return outcome, nil
		}
		seen[id] = true
		inputs = append(inputs, t.Token)
	}

	outputs := make([]ledger.Token, 0, len(op.Outputs))
	for i, out := range op.Outputs {
		id := l.lastToken + int64(i) + 1
		original := id
		if i < len(inputs) {
			original = inputs[i].OriginalID
		}
		metadata, err := l.storedMetadata(ctx, out.Metadata)
		if err != nil {
			return outcome, err
		}
		outputs = append(outputs, ledger.Token{
			ID:         id,
			OriginalID: original,
			Roles:      copyRoles(out.Roles),
			Metadata:   metadata,
		})
	}

	for _, id := range op.Inputs {
		l.tokens[id].burnt = true
	}
	for _, t := range outputs {
		l.tokens[t.ID] = &token{Token: t}
	}
	l.lastToken += int64(len(outputs))

	outcome.Success = true
	outcome.Processes = []ledger.ProcessRan{{
		Process: op.Process,
		Sender:  p.sender,
		Inputs:  inputs,
		Outputs: outputs,
	}}
	return outcome, nil
}

// storedMetadata replaces FILE attachment ids with their content hash, as
// the ledger stores them.
func (l *Ledger) storedMetadata(ctx context.Context, in map[string]ledger.MetadataValue) (map[string]ledger.MetadataValue, error) {
	out := make(map[string]ledger.MetadataValue, len(in))
	for k, v := range in {
		if v.Kind == ledger.MetadataFile && l.files != nil {
			id, err := uuid.Parse(v.Value)
			if err != nil {
				return nil, err
			}
			hash, err := l.files.ContentHash(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resolve attachment %s: %w", v.Value, err)
			}
			v.Value = hash
		}
		out[k] = v
	}
	return out, nil
}

func copyRoles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Token returns a token by id, burnt or not.
func (l *Ledger) Token(id int64) (ledger.Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[id]
	if !ok {
		return ledger.Token{}, false
	}
	return t.Token, true
}

// LastTokenID returns the highest allocated token id.
func (l *Ledger) LastTokenID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastToken
}

// SetParent overwrites the parent hash recorded for the block at height.
func (l *Ledger) SetParent(height uint64, parent string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := *l.blocks[height]
	b.Parent = parent
	l.blocks[height] = &b
	l.byHash[b.Hash] = &b
}

// FinalizedHead returns the latest sealed block header.
func (l *Ledger) FinalizedHead(_ context.Context) (*ledger.Header, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.blocks[len(l.blocks)-1].Header
	return &h, nil
}

// BlockHash returns the hash of the block at height.
func (l *Ledger) BlockHash(_ context.Context, height uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if height >= uint64(len(l.blocks)) {
		return "", fmt.Errorf("%w: height %d", ledger.ErrBlockNotFound, height)
	}
	return l.blocks[height].Hash, nil
}

// Block returns a sealed block by hash.
func (l *Ledger) Block(_ context.Context, hash string) (*ledger.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrBlockNotFound, hash)
	}
	cp := *b
	return &cp, nil
}

// SubscribeFinalizedHeads delivers the header of every block sealed after
// the call until ctx is done. Slow readers miss headers.
func (l *Ledger) SubscribeFinalizedHeads(ctx context.Context) (<-chan ledger.Header, error) {
	ch := make(chan ledger.Header, 64)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, c := range l.subs {
			if c == ch {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
