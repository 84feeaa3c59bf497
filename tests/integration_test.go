// ABOUTME: Integration tests for the plugin host end-to-end flow
// ABOUTME: Runs a real plugin and host over in-memory pipes with traffic logging

package tests

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/plugkit/internal/db"
	"github.com/harper/plugkit/internal/host"
	"github.com/harper/plugkit/internal/jsonrpc"
	"github.com/harper/plugkit/internal/plugin"
)

func csvTransform(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CSV string `json:"csv"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.CSV == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "csv parameter is required"}
	}
	records, err := csv.NewReader(strings.NewReader(p.CSV)).ReadAll()
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "malformed csv"}
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return map[string]any{"rows": rows}, nil
}

func startStack(t *testing.T, database *db.DB) *host.Instance {
	t.Helper()

	p, err := plugin.New(plugin.Descriptor{
		Name:        "acme.csv-lines",
		DisplayName: "CSV Lines",
		Version:     "1.0.0",
		ContentType: "text/csv",
		Methods:     []string{"transform"},
	}, map[string]plugin.Handler{
		"transform": csvTransform,
	})
	require.NoError(t, err)

	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	p.SetStreams(stdinReader, stdoutWriter)

	go func() {
		_ = p.Serve(context.Background())
		_ = stdoutWriter.Close()
	}()

	inst := host.Connect(stdoutReader, stdinWriter, host.Options{
		CallTimeout: 5 * time.Second,
		DB:          database,
	})
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestEndToEnd_TransformFlow(t *testing.T) {
	inst := startStack(t, nil)
	ctx := context.Background()

	health, err := inst.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	meta, err := inst.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme.csv-lines", meta.Name)
	assert.Equal(t, "text/csv", meta.ContentType)

	result, err := inst.Call(ctx, "transform", map[string]string{
		"csv": "name,age\nalice,30\nbob,25\n",
	})
	require.NoError(t, err)

	var parsed struct {
		Rows []map[string]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(result, &parsed))
	require.Len(t, parsed.Rows, 2)
	assert.Equal(t, "alice", parsed.Rows[0]["name"])
	assert.Equal(t, "25", parsed.Rows[1]["age"])
}

func TestEndToEnd_ErrorsDoNotKillTheSession(t *testing.T) {
	inst := startStack(t, nil)
	ctx := context.Background()

	// Bad params: structured error back, instance still usable.
	_, err := inst.Call(ctx, "transform", map[string]string{})
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.InvalidParams, rpcErr.Code)

	// Unknown method: same story.
	_, err = inst.Call(ctx, "nope", nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.MethodNotFound, rpcErr.Code)

	health, err := inst.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
}

func TestEndToEnd_TrafficLogging(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "traffic.sqlite")
	database, err := db.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	inst := startStack(t, database)
	require.NoError(t, database.CreateInstance(inst.ID, "in-memory"))

	ctx := context.Background()
	_, err = inst.Call(ctx, "transform", map[string]string{"csv": "a,b\n1,2\n"})
	require.NoError(t, err)

	messages, err := database.GetInstanceMessages(inst.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, db.DirectionHostToPlugin, messages[0].Direction)
	assert.Equal(t, "request", messages[0].MessageType)
	assert.Equal(t, "transform", messages[0].Method)

	assert.Equal(t, db.DirectionPluginToHost, messages[1].Direction)
	assert.Equal(t, "response", messages[1].MessageType)
}
