package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/retry"
)

type staticFiles map[uuid.UUID]string

func (f staticFiles) ContentHash(_ context.Context, id uuid.UUID) (string, error) {
	h, ok := f[id]
	if !ok {
		return "", errors.New("attachment not found")
	}
	return h, nil
}

func newTestClient(t *testing.T, node *fakeNode, files FileResolver) *Client {
	t.Helper()

	cfg := Config{
		URL:        node.wsURL(),
		SignerSeed: testSeed,
		CallIndex:  CallIndex{Pallet: 9, Call: 0},
		Retry: retry.Config{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		WS: fastWSConfig(),
	}
	c, err := NewClient(context.Background(), cfg, files, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func heightParam(params []json.RawMessage) uint64 {
	var h uint64
	if len(params) > 0 {
		_ = json.Unmarshal(params[0], &h)
	}
	return h
}

func demandOperation(owner string) Operation {
	return Operation{
		Process: ProcessID{ID: "demand-create", Version: 1},
		Outputs: []Output{{
			Roles: map[string]string{"Owner": owner},
			Metadata: map[string]MetadataValue{
				"type":    Literal("DEMAND"),
				"state":   Literal("created"),
				"subtype": Literal("order"),
			},
		}},
	}
}

func TestClient_PrepareAllocatesNonces(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)

	first, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)
	second, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), first.Nonce)
	assert.Equal(t, uint64(8), second.Nonce)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, extrinsicHash(first.Encoded), first.Hash)
}

func TestClient_ReleaseRefillsAbandonedNonce(t *testing.T) {
	ctx := context.Background()

	t.Run("latest nonce is handed back", func(t *testing.T) {
		node := newFakeNode(t)
		c := newTestClient(t, node, nil)

		abandoned, err := c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
		require.NoError(t, c.Release(ctx, abandoned))

		next, err := c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), next.Nonce)
		assert.Equal(t, 1, node.callCount("system_accountNextIndex"))
	})

	t.Run("later nonces out resyncs from the node", func(t *testing.T) {
		node := newFakeNode(t)
		c := newTestClient(t, node, nil)

		abandoned, err := c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
		_, err = c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
		require.NoError(t, c.Release(ctx, abandoned))

		next, err := c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
		assert.Equal(t, uint64(7), next.Nonce)
		assert.Equal(t, 2, node.callCount("system_accountNextIndex"))
	})
}

func TestClient_ResyncReloadsNonce(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Prepare(ctx, demandOperation(aliceAddr))
		require.NoError(t, err)
	}

	// Only the first of the three reached the pool.
	node.handle("system_accountNextIndex", func([]json.RawMessage) (interface{}, *rpcError) {
		return 8, nil
	})
	require.NoError(t, c.Resync(ctx))

	next, err := c.Prepare(ctx, demandOperation(aliceAddr))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next.Nonce)
}

func TestClient_ResyncFailure(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)
	node.handle("system_accountNextIndex", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "not ready"}
	})

	assert.Error(t, c.Resync(context.Background()))

	// The counter is left alone.
	next, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next.Nonce)
}

func TestClient_PrepareRejectsInvalidAddress(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)

	_, err := c.Prepare(context.Background(), demandOperation("not-an-address"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClient_ResolveRole(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)

	idx, err := c.ResolveRole(context.Background(), "MemberB")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), idx)

	idx, err = c.ResolveRole(context.Background(), "Owner")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), idx)
	assert.Equal(t, 1, node.callCount("process_roles"))

	_, err = c.ResolveRole(context.Background(), "Nobody")
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.EqualError(t, err, "invalid role: Nobody")
}

func TestClient_ResolveRoleFailureNotCached(t *testing.T) {
	node := newFakeNode(t)
	node.handle("process_roles", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "not ready"}
	})
	c := newTestClient(t, node, nil)

	_, err := c.ResolveRole(context.Background(), "Owner")
	require.Error(t, err)

	node.handle("process_roles", func([]json.RawMessage) (interface{}, *rpcError) {
		return []map[string]interface{}{{"name": "Owner", "index": 4}}, nil
	})
	idx, err := c.ResolveRole(context.Background(), "Owner")
	require.NoError(t, err)
	assert.Equal(t, uint8(4), idx)
}

func TestClient_EncodeMetadataValue(t *testing.T) {
	node := newFakeNode(t)
	id := uuid.New()
	c := newTestClient(t, node, staticFiles{id: "QmHash"})
	ctx := context.Background()

	b, err := c.EncodeMetadataValue(ctx, File(id))
	require.NoError(t, err)
	assert.Equal(t, encodeMetadataValue(MetadataFile, []byte("QmHash"), 0), b)

	b, err = c.EncodeMetadataValue(ctx, TokenRef(12))
	require.NoError(t, err)
	assert.Equal(t, encodeMetadataValue(MetadataTokenID, nil, 12), b)

	_, err = c.EncodeMetadataValue(ctx, File(uuid.New()))
	assert.Error(t, err)

	_, err = c.EncodeMetadataValue(ctx, MetadataValue{Kind: "BOGUS"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.EncodeMetadataValue(ctx, MetadataValue{Kind: MetadataTokenID, Value: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClient_SubmitPoolRejection(t *testing.T) {
	node := newFakeNode(t)
	node.handle("author_submitExtrinsic", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: codeInvalidTransaction, Message: "Invalid Transaction", Data: "Transaction is outdated"}
	})
	c := newTestClient(t, node, nil)

	ext, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)

	err = c.Submit(context.Background(), ext)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
	assert.Equal(t, 1, node.callCount("author_submitExtrinsic"))
	// The nonce is resynced from the node after a rejection.
	assert.Equal(t, 2, node.callCount("system_accountNextIndex"))
}

func TestClient_SubmitAlreadyImported(t *testing.T) {
	node := newFakeNode(t)
	node.handle("author_submitExtrinsic", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: codeAlreadyImported, Message: "Transaction Already Imported"}
	})
	c := newTestClient(t, node, nil)

	ext, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)
	assert.NoError(t, c.Submit(context.Background(), ext))
}

func TestClient_SubmitSendsEncodedExtrinsic(t *testing.T) {
	node := newFakeNode(t)
	var sent string
	node.handle("author_submitExtrinsic", func(params []json.RawMessage) (interface{}, *rpcError) {
		_ = json.Unmarshal(params[0], &sent)
		return "0x00", nil
	})
	c := newTestClient(t, node, nil)

	ext, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)
	require.NoError(t, c.Submit(context.Background(), ext))
	assert.Equal(t, "0x"+hex.EncodeToString(ext.Encoded), sent)
}

func TestClient_WatchFinalityDispatchError(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)

	ext, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)

	const blockHash = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	node.handle("author_submitAndWatchExtrinsic", func([]json.RawMessage) (interface{}, *rpcError) {
		return "watch-1", nil
	})
	node.after("author_submitAndWatchExtrinsic", func(conn *nodeConn, _ interface{}) {
		_ = conn.notify("author_extrinsicUpdate", "watch-1", "ready")
		_ = conn.notify("author_extrinsicUpdate", "watch-1", map[string]string{"inBlock": blockHash})
	})
	node.handle("process_blockEvents", func([]json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"extrinsics": []map[string]interface{}{
				{"index": 0, "hash": "0x00", "success": true},
				{
					"index":         1,
					"hash":          "0x" + ext.Hash,
					"success":       false,
					"dispatchError": map[string]interface{}{"module": 9, "error": 2, "name": "InputsNotFound"},
				},
			},
		}, nil
	})

	var got FinalityResult
	err = c.WatchFinality(context.Background(), ext, func(r FinalityResult) { got = r })
	require.NoError(t, err)

	assert.Equal(t, StatusInBlock, got.Status)
	assert.Equal(t, blockHash[2:], got.BlockHash)
	assert.ErrorIs(t, got.Err, domain.ErrDispatchFailed)
	assert.EqualError(t, got.Err, "Node dispatch error: InputsNotFound")
}

func TestDispatchError_Message(t *testing.T) {
	assert.EqualError(t, &DispatchError{Module: 9, Index: 2}, "Node dispatch error: module 9 error 2")
	assert.EqualError(t, &DispatchError{Module: 9, Index: 2, Name: "AlreadyBurnt"}, "Node dispatch error: AlreadyBurnt")
	assert.ErrorIs(t, &DispatchError{Name: "AlreadyBurnt"}, domain.ErrDispatchFailed)
}

func TestClient_WatchFinalityDropped(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node, nil)

	node.handle("author_submitAndWatchExtrinsic", func([]json.RawMessage) (interface{}, *rpcError) {
		return "watch-2", nil
	})
	node.after("author_submitAndWatchExtrinsic", func(conn *nodeConn, _ interface{}) {
		_ = conn.notify("author_extrinsicUpdate", "watch-2", "dropped")
	})

	ext, err := c.Prepare(context.Background(), demandOperation(aliceAddr))
	require.NoError(t, err)

	var got FinalityResult
	require.NoError(t, c.WatchFinality(context.Background(), ext, func(r FinalityResult) { got = r }))
	assert.Equal(t, StatusDropped, got.Status)
	assert.ErrorIs(t, got.Err, ErrInvalidTransaction)
}

func TestClient_Block(t *testing.T) {
	node := newFakeNode(t)
	node.handle("chain_getHeader", func([]json.RawMessage) (interface{}, *rpcError) {
		return map[string]string{"parentHash": "0xAA", "number": "0x5"}, nil
	})
	node.handle("process_blockEvents", func([]json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"extrinsics": []map[string]interface{}{{
				"index":   0,
				"hash":    "0xE1",
				"success": true,
				"processRan": []map[string]interface{}{{
					"process": map[string]interface{}{"id": "match2-accept", "version": 1},
					"sender":  aliceAddr,
					"inputs":  []int{10},
					"outputs": []int{11},
				}},
			}},
		}, nil
	})
	node.handle("process_getToken", func(params []json.RawMessage) (interface{}, *rpcError) {
		var id int64
		_ = json.Unmarshal(params[0], &id)
		return map[string]interface{}{
			"id":         id,
			"originalId": 3,
			"roles":      map[string]string{"MemberA": aliceAddr},
			"metadata": map[string]interface{}{
				"state": map[string]string{"kind": "LITERAL", "value": "acceptedA"},
			},
		}, nil
	})
	c := newTestClient(t, node, nil)

	b, err := c.Block(context.Background(), "0xCC")
	require.NoError(t, err)

	assert.Equal(t, Header{Hash: "cc", Parent: "aa", Height: 5}, b.Header)
	require.Len(t, b.Extrinsics, 1)
	ex := b.Extrinsics[0]
	assert.Equal(t, "e1", ex.Hash)
	assert.True(t, ex.Success)
	require.Len(t, ex.Processes, 1)
	pr := ex.Processes[0]
	assert.Equal(t, ProcessID{ID: "match2-accept", Version: 1}, pr.Process)
	require.Len(t, pr.Inputs, 1)
	require.Len(t, pr.Outputs, 1)
	assert.Equal(t, int64(10), pr.Inputs[0].ID)
	assert.Equal(t, int64(11), pr.Outputs[0].ID)
	assert.Equal(t, int64(3), pr.Outputs[0].OriginalID)
	state, ok := pr.Outputs[0].Literal("state")
	assert.True(t, ok)
	assert.Equal(t, "acceptedA", state)
}

func TestClient_BlockHashNotFound(t *testing.T) {
	node := newFakeNode(t)
	node.handle("chain_getBlockHash", func(params []json.RawMessage) (interface{}, *rpcError) {
		if heightParam(params) == 0 {
			return testGenesis, nil
		}
		return nil, nil
	})
	c := newTestClient(t, node, nil)

	_, err := c.BlockHash(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestClient_SubscribeFinalizedHeads(t *testing.T) {
	node := newFakeNode(t)
	node.handle("chain_getBlockHash", func(params []json.RawMessage) (interface{}, *rpcError) {
		if heightParam(params) == 2 {
			return "0xCC", nil
		}
		return testGenesis, nil
	})
	node.handle("chain_subscribeFinalizedHeads", func([]json.RawMessage) (interface{}, *rpcError) {
		return "heads", nil
	})
	node.after("chain_subscribeFinalizedHeads", func(conn *nodeConn, _ interface{}) {
		_ = conn.notify("chain_finalizedHead", "heads", map[string]string{"parentHash": "0xAA", "number": "0x2"})
	})
	c := newTestClient(t, node, nil)

	ctx, cancel := context.WithCancel(context.Background())
	heads, err := c.SubscribeFinalizedHeads(ctx)
	require.NoError(t, err)

	select {
	case h := <-heads:
		assert.Equal(t, Header{Hash: "cc", Parent: "aa", Height: 2}, h)
	case <-time.After(2 * time.Second):
		t.Fatal("no header")
	}

	cancel()
	select {
	case _, ok := <-heads:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("heads channel not closed")
	}
}

func TestClient_HTTPOneShotCalls(t *testing.T) {
	node := newFakeNode(t)
	node.handle("chain_getFinalizedHead", func([]json.RawMessage) (interface{}, *rpcError) {
		return "0xDD", nil
	})
	node.handle("chain_getHeader", func([]json.RawMessage) (interface{}, *rpcError) {
		return map[string]string{"parentHash": "0xCC", "number": "0x10"}, nil
	})

	cfg := Config{
		URL:        node.wsURL(),
		HTTPURL:    node.server.URL,
		SignerSeed: testSeed,
	}
	c, err := NewClient(context.Background(), cfg, nil, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer c.Close()

	h, err := c.FinalizedHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Header{Hash: "dd", Parent: "cc", Height: 16}, h)
	assert.True(t, c.Connected())
}

func TestParseExtrinsicStatus(t *testing.T) {
	tests := []struct {
		raw    string
		status FinalityStatus
		block  string
	}{
		{`"ready"`, "", ""},
		{`{"broadcast":["peer"]}`, "", ""},
		{`{"inBlock":"0xAB"}`, StatusInBlock, "ab"},
		{`{"finalized":"0xCD"}`, StatusFinalized, "cd"},
		{`"dropped"`, StatusDropped, ""},
		{`{"usurped":"0x01"}`, StatusDropped, ""},
		{`"invalid"`, StatusInvalid, ""},
	}

	for _, tt := range tests {
		status, block := parseExtrinsicStatus(json.RawMessage(tt.raw))
		assert.Equal(t, tt.status, status, tt.raw)
		assert.Equal(t, tt.block, block, tt.raw)
	}
}
