package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures WebSocket transport behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscriptionBuffer is the notification buffer per subscription.
	SubscriptionBuffer int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:     1 * time.Second,
		MaxReconnectDelay:  30 * time.Second,
		PingInterval:       20 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		SubscriptionBuffer: 1024,
	}
}

// WSTransport is a JSON-RPC 2.0 client over a single WebSocket connection.
// It reconnects on its own and re-establishes resubscribable subscriptions.
type WSTransport struct {
	endpoint string
	config   WSConfig
	logger   *zap.Logger
	onState  func(connected bool)

	conn      *websocket.Conn
	connMu    sync.Mutex // guards conn and all writes
	closed    atomic.Bool
	requestID atomic.Uint64

	pending   map[uint64]*pendingCall
	pendingMu sync.Mutex

	// subs maps the node's subscription id to the live subscription.
	subs map[string]*Subscription
	// active holds resubscribable subscriptions across reconnects.
	active map[*Subscription]struct{}
	subsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

type pendingCall struct {
	ch  chan wsMessage
	sub *Subscription // set for subscribe requests
}

// Subscription is a stream of raw notification results.
//
// C is closed when the transport closes, or on disconnect for subscriptions
// that cannot be re-established. Unsubscribe stops delivery but leaves C open.
type Subscription struct {
	C <-chan json.RawMessage

	c           chan json.RawMessage
	stop        chan struct{}
	stopOnce    sync.Once
	method      string
	unsubscribe string
	params      []interface{}
	resubscribe bool
	id          string // guarded by WSTransport.subsMu
	t           *WSTransport
}

// NewWSTransport connects to endpoint. onState, when set, is called on every
// connect and disconnect.
func NewWSTransport(ctx context.Context, endpoint string, config *WSConfig, logger *zap.Logger, onState func(connected bool)) (*WSTransport, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onState == nil {
		onState = func(bool) {}
	}

	t := &WSTransport{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With(zap.String("endpoint", endpoint)),
		onState:  onState,
		pending:  make(map[uint64]*pendingCall),
		subs:     make(map[string]*Subscription),
		active:   make(map[*Subscription]struct{}),
		done:     make(chan struct{}),
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	t.logger.Info("ledger connected")
	t.onState(true)

	t.wg.Add(2)
	go t.readLoop()
	go t.pingLoop()

	return t, nil
}

// connect establishes WebSocket connection.
func (t *WSTransport) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	})

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	return nil
}

// Call performs a JSON-RPC call and decodes the result into result.
func (t *WSTransport) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	msg, err := t.roundTrip(ctx, method, params, nil)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return msg.Error
	}
	if result != nil && len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Subscribe opens a subscription with method and cancels it with unsubscribe.
// When resubscribe is set the subscription survives reconnects.
func (t *WSTransport) Subscribe(ctx context.Context, method, unsubscribe string, params []interface{}, resubscribe bool) (*Subscription, error) {
	c := make(chan json.RawMessage, t.config.SubscriptionBuffer)
	sub := &Subscription{
		C:           c,
		c:           c,
		stop:        make(chan struct{}),
		method:      method,
		unsubscribe: unsubscribe,
		params:      params,
		resubscribe: resubscribe,
		t:           t,
	}

	msg, err := t.roundTrip(ctx, method, params, sub)
	if err != nil {
		return nil, err
	}
	if msg.Error != nil {
		return nil, msg.Error
	}

	if resubscribe {
		t.subsMu.Lock()
		t.active[sub] = struct{}{}
		t.subsMu.Unlock()
	}
	return sub, nil
}

// Unsubscribe stops delivery and asks the node to drop the subscription.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.stop)

		t := s.t
		t.subsMu.Lock()
		id := s.id
		if t.subs[id] == s {
			delete(t.subs, id)
		}
		delete(t.active, s)
		t.subsMu.Unlock()

		if id == "" || t.closed.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
		defer cancel()
		var ok bool
		if err := t.Call(ctx, s.unsubscribe, []interface{}{id}, &ok); err != nil {
			t.logger.Debug("unsubscribe failed", zap.String("method", s.unsubscribe), zap.Error(err))
		}
	})
}

func (t *WSTransport) roundTrip(ctx context.Context, method string, params []interface{}, sub *Subscription) (wsMessage, error) {
	if t.closed.Load() {
		return wsMessage{}, ErrClosed
	}
	if params == nil {
		params = []interface{}{}
	}

	reqID := t.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	call := &pendingCall{ch: make(chan wsMessage, 1), sub: sub}
	t.pendingMu.Lock()
	t.pending[reqID] = call
	t.pendingMu.Unlock()

	forget := func() {
		t.pendingMu.Lock()
		delete(t.pending, reqID)
		t.pendingMu.Unlock()
	}

	t.connMu.Lock()
	if t.conn == nil {
		t.connMu.Unlock()
		forget()
		return wsMessage{}, ErrDisconnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	err := t.conn.WriteJSON(req)
	t.connMu.Unlock()
	if err != nil {
		forget()
		return wsMessage{}, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case msg, ok := <-call.ch:
		if !ok {
			return wsMessage{}, fmt.Errorf("%s: %w", method, ErrDisconnected)
		}
		return msg, nil
	case <-t.done:
		return wsMessage{}, ErrClosed
	case <-ctx.Done():
		forget()
		return wsMessage{}, ctx.Err()
	}
}

// Close closes the connection and every subscription channel.
func (t *WSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.conn.Close()
	}
	t.connMu.Unlock()

	t.wg.Wait()

	// readLoop has exited, so nothing else sends on these channels.
	t.failPending()
	t.subsMu.Lock()
	seen := make(map[*Subscription]struct{})
	for id, sub := range t.subs {
		seen[sub] = struct{}{}
		close(sub.c)
		delete(t.subs, id)
	}
	for sub := range t.active {
		if _, ok := seen[sub]; !ok {
			close(sub.c)
		}
		delete(t.active, sub)
	}
	t.subsMu.Unlock()
	return nil
}

// readLoop reads messages and dispatches them. It owns reconnection and is
// the only goroutine that sends on or closes subscription channels.
func (t *WSTransport) readLoop() {
	defer t.wg.Done()

	for !t.closed.Load() {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.logger.Warn("ledger disconnected", zap.Error(err))
			t.handleDisconnect()
			if !t.reconnect() {
				return
			}
			continue
		}

		t.handleMessage(message)
	}
}

// handleDisconnect fails calls in flight and ends subscriptions that cannot
// be re-established.
func (t *WSTransport) handleDisconnect() {
	t.onState(false)

	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()

	t.failPending()

	t.subsMu.Lock()
	for id, sub := range t.subs {
		delete(t.subs, id)
		sub.id = ""
		if !sub.resubscribe {
			close(sub.c)
		}
	}
	t.subsMu.Unlock()
}

func (t *WSTransport) failPending() {
	t.pendingMu.Lock()
	for id, call := range t.pending {
		close(call.ch)
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

// reconnect retries with exponential backoff until connected or closed.
func (t *WSTransport) reconnect() bool {
	delay := t.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-t.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := t.connect(ctx)
		cancel()
		if err == nil {
			break
		}

		t.logger.Error("ledger reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err),
		)
		delay *= 2
		if delay > t.config.MaxReconnectDelay {
			delay = t.config.MaxReconnectDelay
		}
	}

	t.logger.Info("ledger connected")
	t.onState(true)

	// Subscribe responses are read by readLoop, so resubscription runs apart from it.
	t.wg.Add(1)
	go t.resubscribeAll()
	return true
}

// resubscribeAll re-establishes every active subscription after reconnect.
func (t *WSTransport) resubscribeAll() {
	defer t.wg.Done()

	t.subsMu.Lock()
	subs := make([]*Subscription, 0, len(t.active))
	for sub := range t.active {
		subs = append(subs, sub)
	}
	t.subsMu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.stop:
			continue
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		msg, err := t.roundTrip(ctx, sub.method, sub.params, sub)
		cancel()
		if err == nil && msg.Error != nil {
			err = msg.Error
		}
		if err != nil {
			// Retried on the next reconnect.
			t.logger.Error("resubscribe failed", zap.String("method", sub.method), zap.Error(err))
			continue
		}
		t.logger.Debug("resubscribed", zap.String("method", sub.method))
	}
}

// handleMessage processes incoming WebSocket message.
func (t *WSTransport) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		t.logger.Warn("malformed ledger message", zap.Error(err))
		return
	}

	if msg.ID != nil {
		t.handleResponse(msg)
		return
	}
	if msg.Params != nil {
		t.handleNotification(msg.Params)
	}
}

// handleResponse delivers a response. A successful subscribe response
// registers its subscription before returning, so notifications that follow
// on the wire are never dropped.
func (t *WSTransport) handleResponse(msg wsMessage) {
	t.pendingMu.Lock()
	call, ok := t.pending[*msg.ID]
	if ok {
		delete(t.pending, *msg.ID)
	}
	t.pendingMu.Unlock()

	if !ok {
		if msg.Error != nil {
			t.logger.Warn("ledger error response", zap.Uint64("id", *msg.ID), zap.Error(msg.Error))
		}
		return
	}

	if call.sub != nil && msg.Error == nil {
		id := subscriptionID(msg.Result)
		t.subsMu.Lock()
		call.sub.id = id
		t.subs[id] = call.sub
		t.subsMu.Unlock()
	}

	call.ch <- msg
}

// handleNotification dispatches a notification to its subscriber.
func (t *WSTransport) handleNotification(params *wsNotificationParams) {
	id := subscriptionID(params.Subscription)

	t.subsMu.Lock()
	sub, ok := t.subs[id]
	t.subsMu.Unlock()
	if !ok {
		return
	}

	// Block until delivered; the buffer absorbs bursts.
	select {
	case sub.c <- params.Result:
	case <-sub.stop:
	case <-t.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (t *WSTransport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.connMu.Lock()
			if t.conn != nil {
				t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = t.conn.WriteMessage(websocket.PingMessage, nil)
			}
			t.connMu.Unlock()
		}
	}
}

// subscriptionID normalizes string and numeric subscription ids.
func subscriptionID(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsMessage is either a response (ID set) or a notification (Params set).
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *rpcError             `json:"error,omitempty"`
	Method  string                `json:"method,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
