package errors

import (
	"encoding/json"
	"testing"

	"github.com/harper/plugkit/internal/jsonrpc"
)

func parseData(t *testing.T, err *jsonrpc.Error) map[string]interface{} {
	t.Helper()
	var parsed map[string]interface{}
	if jsonErr := json.Unmarshal(err.Data, &parsed); jsonErr != nil {
		t.Fatalf("failed to parse error data: %v", jsonErr)
	}
	return parsed
}

func TestPluginSpawnError(t *testing.T) {
	err := NewPluginSpawnError("/usr/local/bin/csv-plugin", 5000, "exit status 1")

	if err.Code != jsonrpc.ServerError {
		t.Errorf("expected code %d, got %d", jsonrpc.ServerError, err.Code)
	}

	parsed := parseData(t, err)
	if parsed["error_type"] != "plugin_spawn_failure" {
		t.Errorf("expected error_type plugin_spawn_failure, got %v", parsed["error_type"])
	}

	explanation, ok := parsed["explanation"].(string)
	if !ok || explanation == "" {
		t.Error("expected explanation to be set")
	}

	suggestions, ok := parsed["suggested_actions"].([]interface{})
	if !ok || len(suggestions) == 0 {
		t.Error("expected suggested_actions to be set")
	}

	if parsed["recoverable"] != true {
		t.Error("expected recoverable to be true")
	}
}

func TestCallTimeoutError(t *testing.T) {
	err := NewCallTimeoutError("transform", 30000)

	parsed := parseData(t, err)
	if parsed["error_type"] != "call_timeout" {
		t.Errorf("expected error_type call_timeout, got %v", parsed["error_type"])
	}

	state, ok := parsed["relevant_state"].(map[string]interface{})
	if !ok {
		t.Fatal("expected relevant_state to be set")
	}
	if state["method"] != "transform" {
		t.Errorf("expected method transform, got %v", state["method"])
	}
}

func TestPluginGoneError(t *testing.T) {
	err := NewPluginGoneError("plug_abc12345", "EOF")

	parsed := parseData(t, err)
	if parsed["error_type"] != "plugin_unavailable" {
		t.Errorf("expected error_type plugin_unavailable, got %v", parsed["error_type"])
	}
	if parsed["recoverable"] != false {
		t.Error("expected recoverable to be false")
	}
}
