package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/harper/plugkit/internal/jsonrpc"
)

func newTestPlugin(t *testing.T, handlers map[string]Handler) *Plugin {
	t.Helper()
	p, err := New(Descriptor{
		Name:        "acme.test-format",
		DisplayName: "Test Format",
		ContentType: "text/plain",
	}, handlers)
	if err != nil {
		t.Fatalf("failed to construct plugin: %v", err)
	}
	return p
}

func decodeLine(t *testing.T, line []byte) *jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("response line is not valid JSON: %v (line: %s)", err, line)
	}
	return &resp
}

func TestHandleLine_HealthCheckRoundTrip(t *testing.T) {
	p := newTestPlugin(t, nil)

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"healthCheck","params":{},"id":17}`)))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(*resp.ID) != "17" {
		t.Errorf("expected id 17, got %s", string(*resp.ID))
	}

	var health HealthStatus
	if err := json.Unmarshal(resp.Result, &health); err != nil {
		t.Fatalf("failed to parse health result: %v", err)
	}
	if !health.Healthy {
		t.Error("expected healthy true")
	}
	if health.Uptime < 0 {
		t.Errorf("expected non-negative uptime, got %d", health.Uptime)
	}

	// Uptime must be monotonically non-decreasing across calls.
	resp2 := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"healthCheck","params":{},"id":18}`)))
	var health2 HealthStatus
	if err := json.Unmarshal(resp2.Result, &health2); err != nil {
		t.Fatalf("failed to parse second health result: %v", err)
	}
	if health2.Uptime < health.Uptime {
		t.Errorf("uptime decreased: %d -> %d", health.Uptime, health2.Uptime)
	}
}

func TestHandleLine_UnknownMethod(t *testing.T) {
	p := newTestPlugin(t, nil)

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"doesNotExist","params":{},"id":"req-1"}`)))

	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != jsonrpc.MethodNotFound {
		t.Errorf("expected code %d, got %d", jsonrpc.MethodNotFound, resp.Error.Code)
	}
	if string(*resp.ID) != `"req-1"` {
		t.Errorf("expected id echoed, got %s", string(*resp.ID))
	}
}

func TestHandleLine_MalformedLine(t *testing.T) {
	p := newTestPlugin(t, nil)

	resp := decodeLine(t, p.HandleLine(context.Background(), []byte(`not json at all`)))

	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != jsonrpc.ParseError {
		t.Errorf("expected code %d, got %d", jsonrpc.ParseError, resp.Error.Code)
	}
	if string(*resp.ID) != "0" {
		t.Errorf("expected fallback id 0, got %s", string(*resp.ID))
	}

	// The next well-formed request must still succeed.
	next := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"healthCheck","params":{},"id":2}`)))
	if next.Error != nil {
		t.Fatalf("loop did not recover after parse error: %+v", next.Error)
	}
}

func TestHandleLine_MetadataFidelity(t *testing.T) {
	desc := Descriptor{
		Name:        "acme.csv-lines",
		DisplayName: "CSV Lines",
		Version:     "1.2.0",
		ContentType: "text/csv",
		Methods:     []string{"transform", "getOutputSchema"},
		Extra:       map[string]any{"category": "tabular"},
	}
	p, err := New(desc, nil)
	if err != nil {
		t.Fatalf("failed to construct plugin: %v", err)
	}

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"getMetadata","params":{},"id":1}`)))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	want, _ := json.Marshal(desc)
	var wantMap, gotMap map[string]any
	if err := json.Unmarshal(want, &wantMap); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(resp.Result, &gotMap); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprintf("%v", wantMap) != fmt.Sprintf("%v", gotMap) {
		t.Errorf("metadata transformed: got %v, want %v", gotMap, wantMap)
	}
}

func TestHandleLine_HandlerErrorCodePassthrough(t *testing.T) {
	p := newTestPlugin(t, map[string]Handler{
		"transform": func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "csv parameter required"}
		},
	})

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"transform","params":{},"id":3}`)))

	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != jsonrpc.InvalidParams {
		t.Errorf("expected code %d, got %d", jsonrpc.InvalidParams, resp.Error.Code)
	}
	if resp.Error.Message != "csv parameter required" {
		t.Errorf("unexpected message: %s", resp.Error.Message)
	}
}

func TestHandleLine_PlainErrorBecomesServerError(t *testing.T) {
	p := newTestPlugin(t, map[string]Handler{
		"sensor": func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, errors.New("sensor offline")
		},
	})

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"sensor","params":{},"id":4}`)))

	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != jsonrpc.ServerError {
		t.Errorf("expected code %d, got %d", jsonrpc.ServerError, resp.Error.Code)
	}
}

func TestHandleLine_HandlerPanicIsIsolated(t *testing.T) {
	p := newTestPlugin(t, map[string]Handler{
		"sensor": func(ctx context.Context, params json.RawMessage) (any, error) {
			panic("boom")
		},
		"getOutputSchema": func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"type": "array"}, nil
		},
	})

	resp := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"sensor","params":{},"id":5}`)))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ServerError {
		t.Fatalf("expected ServerError for panicking handler, got %+v", resp)
	}

	// The next request on the same instance must still succeed.
	next := decodeLine(t, p.HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"getOutputSchema","params":{},"id":6}`)))
	if next.Error != nil {
		t.Fatalf("expected success after handler failure, got %+v", next.Error)
	}
	if string(*next.ID) != "6" {
		t.Errorf("expected id 6, got %s", string(*next.ID))
	}
}

func TestHandleLine_AbsentParamsDefaultToEmptyObject(t *testing.T) {
	var seen string
	p := newTestPlugin(t, map[string]Handler{
		"echo": func(ctx context.Context, params json.RawMessage) (any, error) {
			seen = string(params)
			return nil, nil
		},
	})

	p.HandleLine(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","id":7}`))
	if seen != "{}" {
		t.Errorf("expected empty object params, got %q", seen)
	}
}

func TestNew_BuiltinCollision(t *testing.T) {
	_, err := New(Descriptor{Name: "acme.test"}, map[string]Handler{
		"healthCheck": func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, nil
		},
	})
	if err == nil {
		t.Fatal("expected builtin collision to fail construction")
	}
}
