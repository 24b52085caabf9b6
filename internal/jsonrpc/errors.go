package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates the received payload was not valid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the payload was not a valid envelope.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist or is not
	// available on this connection. Capability-gated methods report this code
	// when the required capability was never declared.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates the params did not decode or validate.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates a handler failed while serving the
	// request.
	ErrorCodeInternalError ErrorCode = -32603
)

// Bridge-reserved error codes, outside the range reserved by JSON-RPC.
const (
	// ErrorCodeContentModality indicates a content payload used a modality
	// the receiving peer never declared support for.
	ErrorCodeContentModality ErrorCode = -32001
)

// Error is a JSON-RPC error object. It doubles as a Go error so callers can
// surface peer-reported failures through ordinary error returns.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
