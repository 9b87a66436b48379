package jsonrpc

import "encoding/json"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ErrorResponse is a JSON-RPC response carrying an error.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

// NewErrorResponse builds an error response echoing id. A missing id is
// encoded as null, as the protocol requires when the request id is unknown.
func NewErrorResponse(id json.RawMessage, code ErrorCode, message string) *ErrorResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &ErrorResponse{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}
