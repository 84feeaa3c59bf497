// ABOUTME: Request/response correlation over the plugin's stdio protocol
// ABOUTME: Assigns numeric ids, writes one line per request, awaits the matching response

package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/harper/plugkit/internal/db"
	hosterrors "github.com/harper/plugkit/internal/errors"
	"github.com/harper/plugkit/internal/jsonrpc"
	"github.com/harper/plugkit/internal/logger"
)

// Call invokes one plugin method and returns its raw result. Params may be
// any JSON-serializable value; nil sends an empty object. An error envelope
// from the plugin is returned as a *jsonrpc.Error with code and data intact.
//
// Calls are serialized per instance: the wire protocol answers one request
// at a time, so there is never more than one in flight.
func (i *Instance) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.nextID++
	idRaw := json.RawMessage(strconv.FormatInt(i.nextID, 10))

	rawParams := json.RawMessage("{}")
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		rawParams = data
	}

	req := jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  rawParams,
		ID:      &idRaw,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %s: %w", method, err)
	}

	if i.db != nil {
		if err := i.db.LogMessage(i.ID, db.DirectionHostToPlugin, line); err != nil {
			logger.Warn("[%s] failed to log host->plugin message: %v", i.ID, err)
		}
	}

	line = append(line, '\n')
	if _, err := i.stdin.Write(line); err != nil {
		return nil, hosterrors.NewPluginGoneError(i.ID, fmt.Sprintf("write failed: %v", err))
	}

	timeout := time.NewTimer(i.callTimeout)
	defer timeout.Stop()

	for {
		select {
		case respLine, ok := <-i.fromPlugin:
			if !ok {
				return nil, hosterrors.NewPluginGoneError(i.ID, "output stream closed")
			}

			var resp jsonrpc.Response
			if err := json.Unmarshal(respLine, &resp); err != nil {
				logger.Warn("[%s] discarding unparseable response line: %v", i.ID, err)
				continue
			}
			if resp.ID == nil || string(*resp.ID) != string(idRaw) {
				// Usually a stale answer to a call that already timed out.
				logger.Warn("[%s] discarding response with unexpected id %s", i.ID, rawID(resp.ID))
				continue
			}

			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil

		case <-timeout.C:
			return nil, hosterrors.NewCallTimeoutError(method, int(i.callTimeout.Milliseconds()))

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func rawID(id *json.RawMessage) string {
	if id == nil {
		return "<none>"
	}
	return string(*id)
}

// Health is the result of the plugin's healthCheck builtin.
type Health struct {
	Healthy bool  `json:"healthy"`
	Uptime  int64 `json:"uptime"`
}

// Health invokes the healthCheck builtin.
func (i *Instance) Health(ctx context.Context) (*Health, error) {
	result, err := i.Call(ctx, "healthCheck", nil)
	if err != nil {
		return nil, err
	}
	var h Health
	if err := json.Unmarshal(result, &h); err != nil {
		return nil, fmt.Errorf("unexpected healthCheck result: %w", err)
	}
	return &h, nil
}

// Metadata is the host's view of a plugin descriptor. Raw preserves the
// descriptor exactly as the plugin sent it; the typed fields are a
// convenience projection.
type Metadata struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	ContentType string `json:"contentType"`

	Raw json.RawMessage `json:"-"`
}

// Metadata invokes the getMetadata builtin.
func (i *Instance) Metadata(ctx context.Context) (*Metadata, error) {
	result, err := i.Call(ctx, "getMetadata", nil)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(result, &meta); err != nil {
		return nil, fmt.Errorf("unexpected getMetadata result: %w", err)
	}
	meta.Raw = result
	return &meta, nil
}
