package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type nodeHandler func(params []json.RawMessage) (interface{}, *rpcError)

// fakeNode is a JSON-RPC node served over WebSocket and HTTP.
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	handlers  map[string]nodeHandler
	followups map[string]func(c *nodeConn, result interface{})
	calls     map[string]int
	conns     []*nodeConn
}

type nodeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *nodeConn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// notify pushes a subscription notification.
func (c *nodeConn) notify(method, subID string, result interface{}) error {
	return c.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  map[string]interface{}{"subscription": subID, "result": result},
	})
}

const testGenesis = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()

	n := &fakeNode{
		t:         t,
		handlers:  make(map[string]nodeHandler),
		followups: make(map[string]func(*nodeConn, interface{})),
		calls:     make(map[string]int),
	}
	n.handle("chain_getBlockHash", func(params []json.RawMessage) (interface{}, *rpcError) {
		return testGenesis, nil
	})
	n.handle("state_getRuntimeVersion", func([]json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{"specVersion": 100, "transactionVersion": 1}, nil
	})
	n.handle("system_accountNextIndex", func([]json.RawMessage) (interface{}, *rpcError) {
		return 7, nil
	})
	n.handle("process_roles", func([]json.RawMessage) (interface{}, *rpcError) {
		return []map[string]interface{}{
			{"name": "Owner", "index": 0},
			{"name": "Optimiser", "index": 1},
			{"name": "MemberA", "index": 2},
			{"name": "MemberB", "index": 3},
		}, nil
	})

	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) wsURL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func (n *fakeNode) handle(method string, h nodeHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

// after registers fn to run right after the response to method is written.
func (n *fakeNode) after(method string, fn func(c *nodeConn, result interface{})) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.followups[method] = fn
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) connCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// dropAll closes every open WebSocket connection.
func (n *fakeNode) dropAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		c.conn.Close()
	}
}

type nodeRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *fakeNode) dispatch(req nodeRequest) (map[string]interface{}, func(*nodeConn)) {
	n.mu.Lock()
	n.calls[req.Method]++
	h, ok := n.handlers[req.Method]
	follow := n.followups[req.Method]
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = &rpcError{Code: -32601, Message: "Method not found"}
		return resp, nil
	}

	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		resp["error"] = rpcErr
		return resp, nil
	}
	resp["result"] = result
	if follow == nil {
		return resp, nil
	}
	return resp, func(c *nodeConn) { follow(c, result) }
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		var req nodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, _ := n.dispatch(req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.t.Errorf("upgrade: %v", err)
		return
	}
	c := &nodeConn{conn: conn}
	n.mu.Lock()
	n.conns = append(n.conns, c)
	n.mu.Unlock()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req nodeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			n.t.Errorf("unmarshal request: %v", err)
			return
		}
		resp, follow := n.dispatch(req)
		if err := c.write(resp); err != nil {
			return
		}
		if follow != nil {
			follow(c)
		}
	}
}
