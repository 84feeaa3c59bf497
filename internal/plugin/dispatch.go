// ABOUTME: Per-line dispatch: decode, resolve, invoke, classify, respond
// ABOUTME: One request line in, exactly one response line out, always

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harper/plugkit/internal/jsonrpc"
	"github.com/harper/plugkit/internal/logger"
)

// emptyParams stands in for an absent params field so handlers always see a
// JSON object.
var emptyParams = json.RawMessage("{}")

// HandleLine processes one input line and returns exactly one response line.
// Every failure mode is converted to an error response; nothing escapes to
// the read loop.
func (p *Plugin) HandleLine(ctx context.Context, line []byte) []byte {
	req, err := jsonrpc.DecodeRequest(line)
	if err != nil {
		logger.Warn("unparseable request line: %v", err)
		return jsonrpc.EncodeResponse(jsonrpc.NewError(&jsonrpc.FallbackID, jsonrpc.ParseError, err.Error()))
	}

	handler, ok := p.methods[req.Method]
	if !ok {
		return jsonrpc.EncodeResponse(jsonrpc.NewError(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}

	params := req.Params
	if len(params) == 0 {
		params = emptyParams
	}

	result, err := p.invoke(ctx, handler, params)
	if err != nil {
		logger.Debug("method %q failed: %v", req.Method, err)
		return jsonrpc.EncodeResponse(jsonrpc.NewErrorFrom(req.ID, classify(err)))
	}

	return jsonrpc.EncodeResponse(jsonrpc.NewResult(req.ID, result))
}

// invoke calls a handler, converting a panic into an error so one failing
// request never ends the plugin's session.
func (p *Plugin) invoke(ctx context.Context, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, params)
}

// classify maps a handler failure to a wire error object. A *jsonrpc.Error
// anywhere in the chain is trusted verbatim, code included; everything else
// becomes ServerError with the error text as message.
func classify(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &jsonrpc.Error{Code: jsonrpc.ServerError, Message: err.Error()}
}
