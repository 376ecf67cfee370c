package ledger

import (
	"errors"
	"fmt"

	"matchmaker-ledger/internal/domain"
)

var (
	// ErrUnknownRole is returned when an operation names a role the runtime does not define.
	ErrUnknownRole = errors.New("invalid role")

	// ErrInvalidTransaction is returned when the transaction pool rejects an extrinsic.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrBlockNotFound is returned when the node has no block at the requested height or hash.
	ErrBlockNotFound = errors.New("block not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")

	// ErrDisconnected is returned for calls in flight when the connection drops.
	ErrDisconnected = errors.New("disconnected")

	// ErrWatchLost is returned when a finality watch ends without a result.
	ErrWatchLost = errors.New("finality watch lost")
)

// Transaction pool error codes returned by author_submitExtrinsic.
const (
	codeInvalidTransaction = 1010
	codeUnknownTransaction = 1011
	codePoolError          = 1012
	codeAlreadyImported    = 1013
)

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// DispatchError is a module error raised while an extrinsic was applied.
type DispatchError struct {
	Module uint8  `json:"module"`
	Index  uint8  `json:"error"`
	Name   string `json:"name"`
}

func (e *DispatchError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("Node dispatch error: module %d error %d", e.Module, e.Index)
	}
	return "Node dispatch error: " + e.Name
}

// Unwrap classifies dispatch errors for the controller layer.
func (e *DispatchError) Unwrap() error {
	return domain.ErrDispatchFailed
}
