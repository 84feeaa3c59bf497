// ABOUTME: Example plugin: transforms CSV text into JSON row objects
// ABOUTME: Serves the stdio protocol until its host hangs up

package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/harper/plugkit/internal/jsonrpc"
	"github.com/harper/plugkit/internal/plugin"
)

type transformParams struct {
	CSV string `json:"csv"`
}

// transform parses the csv param and returns one JSON object per data row,
// keyed by the header row.
func transform(ctx context.Context, params json.RawMessage) (any, error) {
	var p transformParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.InvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}
	if p.CSV == "" {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.InvalidParams,
			Message: "csv parameter is required",
		}
	}

	reader := csv.NewReader(strings.NewReader(p.CSV))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.InvalidParams,
			Message: fmt.Sprintf("malformed csv: %v", err),
		}
	}
	if len(records) == 0 {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.InvalidParams,
			Message: "csv has no header row",
		}
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

// getOutputSchema describes the shape transform produces.
func getOutputSchema(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rows": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
			},
		},
	}, nil
}

func main() {
	p, err := plugin.New(plugin.Descriptor{
		Name:        "acme.csv-lines",
		DisplayName: "CSV Lines",
		Version:     "1.0.0",
		ContentType: "text/csv",
		Methods:     []string{"transform", "getOutputSchema"},
	}, map[string]plugin.Handler{
		"transform":       transform,
		"getOutputSchema": getOutputSchema,
	})
	if err != nil {
		log.Fatalf("failed to build plugin: %v", err)
	}

	if err := p.Serve(context.Background()); err != nil {
		log.Fatalf("plugin terminated: %v", err)
	}
}
