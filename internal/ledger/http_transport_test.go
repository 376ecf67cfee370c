package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPTransport_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != "chain_getFinalizedHead" {
			t.Errorf("method = %s, want chain_getFinalizedHead", req.Method)
		}
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"0xabc"`)})
	}))
	defer server.Close()

	c := NewHTTPTransport(server.URL)
	var got string
	if err := c.Call(context.Background(), "chain_getFinalizedHead", nil, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "0xabc" {
		t.Errorf("result = %s, want 0xabc", got)
	}
}

func TestHTTPTransport_RetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`7`)})
	}))
	defer server.Close()

	c := NewHTTPTransport(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	var got uint64
	if err := c.Call(context.Background(), "system_accountNextIndex", []interface{}{"addr"}, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 7 {
		t.Errorf("result = %d, want 7", got)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestHTTPTransport_RPCErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: 1, Error: &rpcError{Code: codePoolError, Message: "Priority is too low"}})
	}))
	defer server.Close()

	c := NewHTTPTransport(server.URL, WithRetryDelay(time.Millisecond))
	err := c.Call(context.Background(), "author_submitExtrinsic", []interface{}{"0x00"}, nil)

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) || rpcErr.Code != codePoolError {
		t.Fatalf("error = %v, want rpc error %d", err, codePoolError)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestHTTPTransport_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewHTTPTransport(server.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	if err := c.Call(context.Background(), "chain_getFinalizedHead", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
