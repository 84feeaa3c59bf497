// ABOUTME: Line codec for newline-delimited JSON-RPC envelopes
// ABOUTME: Decoding is strict JSON parsing; encoding is total and never fails the stream

package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// FallbackID is echoed on responses to lines that could not be parsed,
// where no request identifier is recoverable.
var FallbackID = json.RawMessage("0")

// DecodeRequest parses one input line into a request envelope. It fails only
// when the line is not a complete, valid JSON document; field contents are
// the dispatcher's concern.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("invalid request line: %w", err)
	}
	return &req, nil
}

// NewResult builds a success response for id. If v cannot be serialized the
// response degrades to an InternalError envelope instead of propagating the
// failure up to the read loop.
func NewResult(id *json.RawMessage, v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return NewError(id, InternalError, fmt.Sprintf("result serialization failed: %v", err))
	}
	return &Response{JSONRPC: Version, Result: data, ID: id}
}

// NewError builds an error response for id with the given code and message.
func NewError(id *json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// NewErrorFrom builds an error response carrying a pre-built error object.
func NewErrorFrom(id *json.RawMessage, e *Error) *Response {
	return &Response{JSONRPC: Version, Error: e, ID: id}
}

// EncodeResponse serializes a response envelope as exactly one line,
// newline-terminated and never pretty-printed. Serialization failures fall
// back to an InternalError envelope for the same id; this function never
// returns an unwritable result.
func EncodeResponse(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		fallback := NewError(resp.ID, InternalError, fmt.Sprintf("response serialization failed: %v", err))
		data, err = json.Marshal(fallback)
		if err != nil {
			// Only the id can make the fallback unserializable; drop it.
			data, _ = json.Marshal(NewError(nil, InternalError, "response serialization failed"))
		}
	}
	return append(data, '\n')
}
