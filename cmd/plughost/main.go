// ABOUTME: Main entry point for the plugin host CLI
// ABOUTME: Spawns the configured plugin, invokes one method, prints the result

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harper/plugkit/internal/config"
	"github.com/harper/plugkit/internal/db"
	"github.com/harper/plugkit/internal/host"
	"github.com/harper/plugkit/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	method := flag.String("method", "getMetadata", "plugin method to invoke")
	params := flag.String("params", "", "JSON params for the method")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger.SetVerbose(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var trafficDB *db.DB
	if cfg.Database.Path != "" {
		trafficDB, err = db.Open(cfg.Database.Path)
		if err != nil {
			log.Fatalf("failed to open traffic database: %v", err)
		}
		defer func() { _ = trafficDB.Close() }()
	}

	var rawParams any
	if *params != "" {
		var parsed json.RawMessage
		if err := json.Unmarshal([]byte(*params), &parsed); err != nil {
			log.Fatalf("invalid -params JSON: %v", err)
		}
		rawParams = parsed
	}

	ctx := context.Background()
	inst, err := host.Spawn(ctx, host.Options{
		Command:        cfg.Plugin.Command,
		Args:           cfg.Plugin.Args,
		Env:            cfg.Plugin.Env,
		WorkingDir:     cfg.Plugin.WorkingDir,
		StartupTimeout: time.Duration(cfg.Plugin.StartupTimeoutSeconds) * time.Second,
		CallTimeout:    time.Duration(cfg.Call.TimeoutSeconds) * time.Second,
		DB:             trafficDB,
	})
	if err != nil {
		log.Fatalf("failed to spawn plugin: %v", err)
	}
	defer func() { _ = inst.Close() }()

	result, err := inst.Call(ctx, *method, rawParams)
	if err != nil {
		log.Fatalf("call %s failed: %v", *method, err)
	}

	var pretty json.RawMessage = result
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		out = result
	}
	fmt.Fprintln(os.Stdout, string(out))
}
