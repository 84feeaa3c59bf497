// ABOUTME: Structured, actionable error values for host-side plugin failures
// ABOUTME: Each carries machine-readable context alongside a descriptive message

package errors

import (
	"encoding/json"
	"fmt"

	"github.com/harper/plugkit/internal/jsonrpc"
	"github.com/harper/plugkit/internal/logger"
)

// ErrorData is the structured payload attached to host-side errors.
type ErrorData struct {
	ErrorType        string                 `json:"error_type"`
	Explanation      string                 `json:"explanation"`
	PossibleCauses   []string               `json:"possible_causes,omitempty"`
	SuggestedActions []string               `json:"suggested_actions,omitempty"`
	RelevantState    map[string]interface{} `json:"relevant_state,omitempty"`
	Recoverable      bool                   `json:"recoverable"`
	Details          string                 `json:"details,omitempty"`
}

func marshalData(data ErrorData) json.RawMessage {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal error data: %v", err)
		dataBytes = []byte("{}")
	}
	return dataBytes
}

// NewPluginSpawnError describes a plugin subprocess that failed to start or
// to answer its first health check.
func NewPluginSpawnError(command string, timeoutMs int, details string) *jsonrpc.Error {
	message := fmt.Sprintf(
		"the plugin process failed to become ready within %dms; "+
			"the command is likely incorrect, the binary missing, or the plugin crashed during startup",
		timeoutMs,
	)

	data := ErrorData{
		ErrorType:   "plugin_spawn_failure",
		Explanation: "The host spawned the plugin subprocess but it did not answer the readiness health check in time.",
		PossibleCauses: []string{
			"The plugin command path is incorrect or the binary doesn't exist",
			"The plugin requires environment variables that aren't set",
			"The plugin crashed immediately on startup",
			"The plugin writes something other than protocol lines to stdout",
		},
		SuggestedActions: []string{
			"Check that the plugin command exists: ls -l /path/to/plugin",
			"Run the plugin manually and send it a healthCheck line on stdin",
			"Check the host's stderr log for forwarded plugin diagnostics",
			"Ensure required environment variables are set in config.yaml",
		},
		RelevantState: map[string]interface{}{
			"command":    command,
			"timeout_ms": timeoutMs,
		},
		Recoverable: true,
		Details:     details,
	}

	return &jsonrpc.Error{
		Code:    jsonrpc.ServerError,
		Message: message,
		Data:    marshalData(data),
	}
}

// NewCallTimeoutError describes a request the plugin did not answer in time.
// The plugin process is left running; kill policy stays with the operator.
func NewCallTimeoutError(method string, timeoutMs int) *jsonrpc.Error {
	message := fmt.Sprintf(
		"the plugin did not answer method %q within %dms; "+
			"the handler may be hung or processing unexpectedly large input",
		method, timeoutMs,
	)

	data := ErrorData{
		ErrorType:   "call_timeout",
		Explanation: "The host wrote a request line but no matching response arrived before the call deadline.",
		PossibleCauses: []string{
			"The handler is blocked on I/O or an infinite loop",
			"The input is much larger than the handler was designed for",
			"An earlier request is still being processed (the protocol is one request at a time)",
		},
		SuggestedActions: []string{
			"Raise call.timeout_seconds in config.yaml if the work is legitimately slow",
			"Inspect the traffic log for the last answered request",
			"Restart the plugin instance if it no longer answers healthCheck",
		},
		RelevantState: map[string]interface{}{
			"method":     method,
			"timeout_ms": timeoutMs,
		},
		Recoverable: true,
	}

	return &jsonrpc.Error{
		Code:    jsonrpc.ServerError,
		Message: message,
		Data:    marshalData(data),
	}
}

// NewPluginGoneError describes an instance whose process exited or whose
// output stream closed while a call was outstanding.
func NewPluginGoneError(instanceID string, details string) *jsonrpc.Error {
	message := fmt.Sprintf(
		"plugin instance %s is gone: its output stream closed before a response arrived; "+
			"treat the instance as unavailable and re-spawn it",
		instanceID,
	)

	data := ErrorData{
		ErrorType:   "plugin_unavailable",
		Explanation: "The plugin process terminated or closed stdout; per-request recovery is not possible.",
		PossibleCauses: []string{
			"The plugin crashed while handling the request",
			"The plugin was killed by the operating system or an operator",
			"The plugin exited after receiving a termination signal",
		},
		SuggestedActions: []string{
			"Check the plugin's exit status and the host's stderr log",
			"Re-spawn the instance; a terminated instance never restarts in place",
		},
		RelevantState: map[string]interface{}{
			"instance_id": instanceID,
		},
		Recoverable: false,
		Details:     details,
	}

	return &jsonrpc.Error{
		Code:    jsonrpc.ServerError,
		Message: message,
		Data:    marshalData(data),
	}
}
