// Package ledger talks to the process ledger node: it prepares, signs and
// submits run_process extrinsics and reads finalized blocks back.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/observability"
	"matchmaker-ledger/internal/retry"
)

// Config configures a Client.
type Config struct {
	URL        string // WebSocket endpoint
	HTTPURL    string // optional HTTP endpoint for one-shot calls
	SignerSeed string // 32-byte hex ed25519 seed
	SS58Prefix uint16
	CallIndex  CallIndex
	Retry      retry.Config
	WS         *WSConfig
}

// FileResolver maps a local attachment id to the content hash stored on chain.
type FileResolver interface {
	ContentHash(ctx context.Context, attachmentID uuid.UUID) (string, error)
}

type caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// Client is the ledger client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	ws      *WSTransport
	oneShot caller
	signer  *Signer
	files   FileResolver
	logger  *zap.Logger
	metrics *observability.Metrics

	info      chainInfo
	nonce     atomic.Uint64
	connected atomic.Bool

	rolesMu sync.RWMutex
	roles   map[string]uint8
}

// NewClient connects to the node and loads the chain info and account nonce.
func NewClient(ctx context.Context, cfg Config, files FileResolver, logger *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.Discard()
	}
	if cfg.SS58Prefix == 0 {
		cfg.SS58Prefix = DefaultSS58Prefix
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}

	signer, err := NewSigner(cfg.SignerSeed)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		signer:  signer,
		files:   files,
		logger:  logger.Named("ledger"),
		metrics: metrics,
	}

	var everConnected bool
	ws, err := NewWSTransport(ctx, cfg.URL, cfg.WS, c.logger, func(connected bool) {
		c.connected.Store(connected)
		if connected {
			metrics.LedgerConnected.Set(1)
			if everConnected {
				metrics.LedgerReconnects.Inc()
			}
			everConnected = true
		} else {
			metrics.LedgerConnected.Set(0)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	c.ws = ws
	c.oneShot = ws
	if cfg.HTTPURL != "" {
		c.oneShot = NewHTTPTransport(cfg.HTTPURL)
	}

	if err := c.loadChainInfo(ctx); err != nil {
		ws.Close()
		return nil, err
	}
	if err := c.resyncNonce(ctx); err != nil {
		ws.Close()
		return nil, err
	}

	c.logger.Info("ledger client ready",
		zap.String("account", signer.Address(cfg.SS58Prefix)),
		zap.Uint32("spec_version", c.info.specVersion),
		zap.Uint64("nonce", c.nonce.Load()),
	)
	return c, nil
}

// Connected reports whether the WebSocket connection is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Address returns the signing account.
func (c *Client) Address() string {
	return c.signer.Address(c.cfg.SS58Prefix)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.ws.Close()
}

// call performs one instrumented RPC.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	err := c.oneShot.Call(ctx, method, params, result)
	c.metrics.RPCCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
	return err
}

// callRetry retries transport failures. Node errors are returned at once.
func (c *Client) callRetry(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return retry.WithBackoff(ctx, c.cfg.Retry, c.logger, method, func() error {
		err := c.call(ctx, method, params, result)
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return retry.Permanent(err)
		}
		return err
	})
}

type runtimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

func (c *Client) loadChainInfo(ctx context.Context) error {
	var genesis string
	if err := c.callRetry(ctx, "chain_getBlockHash", []interface{}{0}, &genesis); err != nil {
		return fmt.Errorf("get genesis hash: %w", err)
	}
	g, err := hex.DecodeString(domain.NormalizeHash(genesis))
	if err != nil || len(g) != 32 {
		return fmt.Errorf("invalid genesis hash %q", genesis)
	}

	var rv runtimeVersion
	if err := c.callRetry(ctx, "state_getRuntimeVersion", nil, &rv); err != nil {
		return fmt.Errorf("get runtime version: %w", err)
	}

	c.info = chainInfo{genesis: g, specVersion: rv.SpecVersion, txVersion: rv.TransactionVersion}
	return nil
}

func (c *Client) resyncNonce(ctx context.Context) error {
	var next uint64
	if err := c.callRetry(ctx, "system_accountNextIndex", []interface{}{c.Address()}, &next); err != nil {
		return fmt.Errorf("get account nonce: %w", err)
	}
	c.nonce.Store(next)
	return nil
}

// Release gives back the nonce of an extrinsic that never reached the pool.
// When later nonces are already out, the counter is resynced from the node
// instead so the next Prepare fills the gap.
func (c *Client) Release(ctx context.Context, ext *Extrinsic) error {
	if c.nonce.CompareAndSwap(ext.Nonce+1, ext.Nonce) {
		return nil
	}
	return c.resyncNonce(ctx)
}

// Resync reloads the next nonce from the node. Use it after a submission
// whose fate is unknown.
func (c *Client) Resync(ctx context.Context) error {
	return c.resyncNonce(ctx)
}

// Prepare resolves roles and metadata, allocates a nonce and signs op.
func (c *Client) Prepare(ctx context.Context, op Operation) (*Extrinsic, error) {
	outputs := make([]encodedOutput, 0, len(op.Outputs))
	for _, out := range op.Outputs {
		enc := encodedOutput{
			roles:    make(map[uint8][]byte, len(out.Roles)),
			metadata: make(map[string][]byte, len(out.Metadata)),
		}
		for name, addr := range out.Roles {
			idx, err := c.ResolveRole(ctx, name)
			if err != nil {
				return nil, err
			}
			account, _, err := DecodeAddress(addr)
			if err != nil {
				return nil, fmt.Errorf("%w: role %s: %v", domain.ErrValidation, name, err)
			}
			enc.roles[idx] = account
		}
		for key, v := range out.Metadata {
			b, err := c.EncodeMetadataValue(ctx, v)
			if err != nil {
				return nil, fmt.Errorf("metadata %s: %w", key, err)
			}
			enc.metadata[key] = b
		}
		outputs = append(outputs, enc)
	}

	call := encodeRunProcess(c.cfg.CallIndex, op.Process, op.Inputs, outputs)
	nonce := c.nonce.Add(1) - 1
	encoded := buildSignedExtrinsic(c.signer, c.info, nonce, call)

	return &Extrinsic{
		Hash:      extrinsicHash(encoded),
		Encoded:   encoded,
		Nonce:     nonce,
		Operation: op,
	}, nil
}

// Submit hands ext to the transaction pool without waiting for inclusion.
func (c *Client) Submit(ctx context.Context, ext *Extrinsic) error {
	params := []interface{}{"0x" + hex.EncodeToString(ext.Encoded)}
	err := retry.WithBackoff(ctx, c.cfg.Retry, c.logger, "author_submitExtrinsic", func() error {
		var hash string
		err := c.call(ctx, "author_submitExtrinsic", params, &hash)
		if err == nil {
			return nil
		}
		if poolErr := c.classifyPoolError(ctx, err); poolErr != err {
			if poolErr == nil {
				return nil
			}
			return retry.Permanent(poolErr)
		}
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return retry.Permanent(err)
		}
		return err
	})

	c.recordSubmit(ext, err)
	return err
}

// classifyPoolError maps pool rejections. It returns err unchanged when err
// is not a pool rejection and nil when the extrinsic is already known.
func (c *Client) classifyPoolError(ctx context.Context, err error) error {
	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case codeAlreadyImported:
		return nil
	case codeInvalidTransaction, codeUnknownTransaction, codePoolError:
		if syncErr := c.resyncNonce(ctx); syncErr != nil {
			c.logger.Warn("nonce resync failed", zap.Error(syncErr))
		}
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, rpcErr.Message)
	}
	return err
}

func (c *Client) recordSubmit(ext *Extrinsic, err error) {
	result := "accepted"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidTransaction):
		result = "invalid"
	default:
		result = "error"
	}
	c.metrics.ExtrinsicsSubmitted.WithLabelValues(ext.Operation.Process.ID, result).Inc()
}

// WatchFinality submits ext and calls fn once with its first terminal
// status: in block (with any dispatch error), finalized, dropped or invalid.
// It returns ErrWatchLost if the watch ends without a status.
func (c *Client) WatchFinality(ctx context.Context, ext *Extrinsic, fn func(FinalityResult)) error {
	params := []interface{}{"0x" + hex.EncodeToString(ext.Encoded)}
	sub, err := c.ws.Subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic", params, false)
	if err != nil {
		if poolErr := c.classifyPoolError(ctx, err); poolErr != err {
			err = poolErr
		}
		c.recordSubmit(ext, err)
		if err == nil {
			// Already in the pool from an earlier attempt; the reconciler resolves it.
			return ErrWatchLost
		}
		return err
	}
	defer sub.Unsubscribe()
	c.recordSubmit(ext, nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-sub.C:
			if !ok {
				return ErrWatchLost
			}
			status, blockHash := parseExtrinsicStatus(raw)
			switch status {
			case StatusInBlock, StatusFinalized:
				res := FinalityResult{Hash: ext.Hash, Status: status, BlockHash: blockHash}
				dispatchErr, err := c.dispatchOutcome(ctx, blockHash, ext.Hash)
				if err != nil {
					return fmt.Errorf("read outcome in block %s: %w", blockHash, err)
				}
				if dispatchErr != nil {
					res.Err = dispatchErr
				}
				fn(res)
				return nil
			case StatusDropped, StatusInvalid:
				if syncErr := c.resyncNonce(ctx); syncErr != nil {
					c.logger.Warn("nonce resync failed", zap.Error(syncErr))
				}
				fn(FinalityResult{Hash: ext.Hash, Status: status, Err: ErrInvalidTransaction})
				return nil
			}
		}
	}
}

// parseExtrinsicStatus reads an author_extrinsicUpdate payload. Statuses
// other than in-block, finalized, dropped and invalid come back empty.
func parseExtrinsicStatus(raw json.RawMessage) (FinalityStatus, string) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "dropped", "usurped":
			return StatusDropped, ""
		case "invalid":
			return StatusInvalid, ""
		}
		return "", ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", ""
	}
	for key, status := range map[string]FinalityStatus{
		"inBlock":   StatusInBlock,
		"finalized": StatusFinalized,
	} {
		if v, ok := obj[key]; ok {
			var hash string
			_ = json.Unmarshal(v, &hash)
			return status, domain.NormalizeHash(hash)
		}
	}
	if _, ok := obj["usurped"]; ok {
		return StatusDropped, ""
	}
	return "", ""
}

// dispatchOutcome returns the dispatch error of extrinsic hash in block, if any.
func (c *Client) dispatchOutcome(ctx context.Context, block, hash string) (*DispatchError, error) {
	events, err := c.blockEvents(ctx, block)
	if err != nil {
		return nil, err
	}
	for _, ex := range events.Extrinsics {
		if domain.NormalizeHash(ex.Hash) != hash {
			continue
		}
		if ex.Success {
			return nil, nil
		}
		if ex.DispatchError == nil {
			return &DispatchError{Name: "Unknown"}, nil
		}
		return ex.DispatchError, nil
	}
	return nil, fmt.Errorf("extrinsic %s not in block %s", hash, block)
}

type rawHeader struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
}

func (h rawHeader) height() (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(h.Number, "0x"), 16, 64)
}

type rawBlockEvents struct {
	Extrinsics []rawExtrinsic `json:"extrinsics"`
}

type rawExtrinsic struct {
	Index         int             `json:"index"`
	Hash          string          `json:"hash"`
	Success       bool            `json:"success"`
	DispatchError *DispatchError  `json:"dispatchError"`
	ProcessRan    []rawProcessRan `json:"processRan"`
}

type rawProcessRan struct {
	Process ProcessID `json:"process"`
	Sender  string    `json:"sender"`
	Inputs  []int64   `json:"inputs"`
	Outputs []int64   `json:"outputs"`
}

func (c *Client) blockEvents(ctx context.Context, hash string) (*rawBlockEvents, error) {
	var events *rawBlockEvents
	if err := c.callRetry(ctx, "process_blockEvents", []interface{}{"0x" + hash}, &events); err != nil {
		return nil, err
	}
	if events == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	return events, nil
}

func (c *Client) header(ctx context.Context, hash string) (*Header, error) {
	var raw *rawHeader
	if err := c.callRetry(ctx, "chain_getHeader", []interface{}{"0x" + hash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	height, err := raw.height()
	if err != nil {
		return nil, fmt.Errorf("parse block number %q: %w", raw.Number, err)
	}
	return &Header{Hash: hash, Parent: domain.NormalizeHash(raw.ParentHash), Height: height}, nil
}

// FinalizedHead returns the latest finalized header.
func (c *Client) FinalizedHead(ctx context.Context) (*Header, error) {
	var hash string
	if err := c.callRetry(ctx, "chain_getFinalizedHead", nil, &hash); err != nil {
		return nil, err
	}
	return c.header(ctx, domain.NormalizeHash(hash))
}

// BlockHash returns the canonical hash at height.
func (c *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash *string
	if err := c.callRetry(ctx, "chain_getBlockHash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	if hash == nil {
		return "", fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	return domain.NormalizeHash(*hash), nil
}

// Block returns the header and ordered extrinsic outcomes of block hash, with
// the tokens of every ProcessRan event hydrated.
func (c *Client) Block(ctx context.Context, hash string) (*Block, error) {
	hash = domain.NormalizeHash(hash)
	h, err := c.header(ctx, hash)
	if err != nil {
		return nil, err
	}
	events, err := c.blockEvents(ctx, hash)
	if err != nil {
		return nil, err
	}

	tokens := make(map[int64]Token)
	token := func(id int64) (Token, error) {
		if t, ok := tokens[id]; ok {
			return t, nil
		}
		t, err := c.Token(ctx, id)
		if err != nil {
			return Token{}, err
		}
		tokens[id] = *t
		return *t, nil
	}
	hydrate := func(ids []int64) ([]Token, error) {
		out := make([]Token, 0, len(ids))
		for _, id := range ids {
			t, err := token(id)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	block := &Block{Header: *h, Extrinsics: make([]ExtrinsicOutcome, 0, len(events.Extrinsics))}
	for _, ex := range events.Extrinsics {
		outcome := ExtrinsicOutcome{
			Index:         ex.Index,
			Hash:          domain.NormalizeHash(ex.Hash),
			Success:       ex.Success,
			DispatchError: ex.DispatchError,
		}
		for _, pr := range ex.ProcessRan {
			inputs, err := hydrate(pr.Inputs)
			if err != nil {
				return nil, err
			}
			outputs, err := hydrate(pr.Outputs)
			if err != nil {
				return nil, err
			}
			outcome.Processes = append(outcome.Processes, ProcessRan{
				Process: pr.Process,
				Sender:  pr.Sender,
				Inputs:  inputs,
				Outputs: outputs,
			})
		}
		block.Extrinsics = append(block.Extrinsics, outcome)
	}
	return block, nil
}

// Token returns a token by id, including burnt tokens.
func (c *Client) Token(ctx context.Context, id int64) (*Token, error) {
	var t *Token
	if err := c.callRetry(ctx, "process_getToken", []interface{}{id}, &t); err != nil {
		return nil, fmt.Errorf("get token %d: %w", id, err)
	}
	if t == nil {
		return nil, fmt.Errorf("token %d not found", id)
	}
	return t, nil
}

// SubscribeFinalizedHeads streams finalized headers until ctx is done. The
// subscription is re-established after reconnects; heights may skip, so
// consumers treat each header as a trigger rather than a complete sequence.
func (c *Client) SubscribeFinalizedHeads(ctx context.Context) (<-chan Header, error) {
	sub, err := c.ws.Subscribe(ctx, "chain_subscribeFinalizedHeads", "chain_unsubscribeFinalizedHeads", nil, true)
	if err != nil {
		return nil, fmt.Errorf("subscribe finalized heads: %w", err)
	}

	out := make(chan Header, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.C:
				if !ok {
					return
				}
				var h rawHeader
				if err := json.Unmarshal(raw, &h); err != nil {
					c.logger.Warn("malformed finalized header", zap.Error(err))
					continue
				}
				height, err := h.height()
				if err != nil {
					c.logger.Warn("malformed block number", zap.String("number", h.Number))
					continue
				}
				hash, err := c.BlockHash(ctx, height)
				if err != nil {
					c.logger.Warn("resolve finalized head hash", zap.Uint64("height", height), zap.Error(err))
					continue
				}
				select {
				case out <- Header{Hash: hash, Parent: domain.NormalizeHash(h.ParentHash), Height: height}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type roleEntry struct {
	Name  string `json:"name"`
	Index uint8  `json:"index"`
}

// ResolveRole maps a role name to its runtime index. The table is fetched on
// first use and cached; a failed fetch is retried on the next call.
func (c *Client) ResolveRole(ctx context.Context, name string) (uint8, error) {
	c.rolesMu.RLock()
	roles := c.roles
	c.rolesMu.RUnlock()

	if roles == nil {
		c.rolesMu.Lock()
		if c.roles == nil {
			var entries []roleEntry
			if err := c.callRetry(ctx, "process_roles", nil, &entries); err != nil {
				c.rolesMu.Unlock()
				return 0, fmt.Errorf("load roles: %w", err)
			}
			table := make(map[string]uint8, len(entries))
			for _, e := range entries {
				table[e.Name] = e.Index
			}
			c.roles = table
		}
		roles = c.roles
		c.rolesMu.Unlock()
	}

	idx, ok := roles[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	return idx, nil
}

// EncodeMetadataValue encodes v for a run_process output. FILE values carry
// a local attachment id and are replaced by the attachment's content hash.
func (c *Client) EncodeMetadataValue(ctx context.Context, v MetadataValue) ([]byte, error) {
	switch v.Kind {
	case MetadataLiteral:
		return encodeMetadataValue(v.Kind, []byte(v.Value), 0), nil
	case MetadataTokenID:
		id, err := v.TokenID()
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: invalid token id %q", domain.ErrValidation, v.Value)
		}
		return encodeMetadataValue(v.Kind, nil, id), nil
	case MetadataFile:
		id, err := uuid.Parse(v.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid attachment id %q", domain.ErrValidation, v.Value)
		}
		if c.files == nil {
			return nil, errors.New("no file resolver configured")
		}
		hash, err := c.files.ContentHash(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment %s: %w", id, err)
		}
		return encodeMetadataValue(v.Kind, []byte(hash), 0), nil
	case MetadataNone:
		return encodeMetadataValue(v.Kind, nil, 0), nil
	}
	return nil, fmt.Errorf("%w: unknown metadata kind %q", domain.ErrValidation, v.Kind)
}
