package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only JSON-RPC protocol version accepted.
const Version = "2.0"

// ErrBatch is returned by Decode for JSON-RPC batch arrays, which none of the
// gateway's transports accept.
var ErrBatch = errors.New("JSON-RPC batch arrays are not supported")

// Kind classifies a decoded message.
type Kind string

const (
	KindRequest      Kind = "request"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
)

// Envelope is the transport's view of one message: enough to route and log
// it. Params and results stay raw; the protocol library decodes them.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode validates raw as a single JSON-RPC 2.0 message.
func Decode(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty message")
	}
	if raw[0] == '[' {
		return nil, ErrBatch
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if env.JSONRPC != Version {
		return nil, fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, env.JSONRPC)
	}
	if bytes.Equal(env.ID, []byte("null")) {
		env.ID = nil
	}
	if env.ID != nil && env.ID[0] != '"' && !isNumber(env.ID) {
		return nil, fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", env.ID)
	}

	hasResult := len(env.Result) > 0
	hasError := env.Error != nil
	if env.Method != "" {
		if hasResult || hasError {
			return nil, errors.New("request message cannot have result or error fields")
		}
		return &env, nil
	}
	if hasResult && hasError {
		return nil, errors.New("response message cannot have both result and error fields")
	}
	if !hasResult && !hasError {
		return nil, errors.New("message has neither method nor result/error")
	}
	return &env, nil
}

// Kind returns the message's classification.
func (e *Envelope) Kind() Kind {
	if e.Method == "" {
		return KindResponse
	}
	if len(e.ID) == 0 {
		return KindNotification
	}
	return KindRequest
}

// IDString renders the ID for logs: strings unquoted, numbers verbatim.
func (e *Envelope) IDString() string {
	if len(e.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.ID, &s); err == nil {
		return s
	}
	return string(e.ID)
}

// IsInitialize reports whether e is the handshake request.
func (e *Envelope) IsInitialize() bool {
	return e.Method == "initialize" && e.Kind() == KindRequest
}

func isNumber(b json.RawMessage) bool {
	var f float64
	return json.Unmarshal(b, &f) == nil
}
