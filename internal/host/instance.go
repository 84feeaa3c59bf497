// ABOUTME: Plugin instance management: spawn, stdio bridge, teardown
// ABOUTME: One subprocess per instance; plugin stderr is forwarded to the host log

package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harper/plugkit/internal/db"
	hosterrors "github.com/harper/plugkit/internal/errors"
	"github.com/harper/plugkit/internal/logger"
)

const (
	defaultStartupTimeout = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second

	// Response lines are JSON documents; 16MiB leaves generous headroom
	// for large transform results.
	maxResponseLine = 16 * 1024 * 1024

	// How long Close waits for a voluntary exit after stdin closes
	// before killing the process.
	closeGraceTimeout = 3 * time.Second
)

// Options configures a spawned plugin instance.
type Options struct {
	Command        string
	Args           []string
	Env            map[string]string
	WorkingDir     string
	StartupTimeout time.Duration
	CallTimeout    time.Duration
	DB             *db.DB // optional traffic log
}

// Instance is one running plugin subprocess (or, via Connect, an arbitrary
// pair of protocol streams). The host owns request-id assignment and
// response correlation; the protocol is strictly one request at a time.
type Instance struct {
	ID string

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	fromPlugin chan []byte

	ctx         context.Context
	cancel      context.CancelFunc
	db          *db.DB
	callTimeout time.Duration

	mu     sync.Mutex // serializes calls
	nextID int64

	closeOnce sync.Once
	closeErr  error
}

func newInstanceID() string {
	return "plug_" + uuid.New().String()[:8]
}

// Spawn starts the plugin subprocess, bridges its stdio, and waits for it to
// answer a readiness health check. A plugin that never becomes ready is torn
// down before Spawn returns.
func Spawn(ctx context.Context, opts Options) (*Instance, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("plugin command not configured")
	}

	startupTimeout := opts.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = defaultStartupTimeout
	}

	instCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(instCtx, opts.Command, opts.Args...)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}

	// Inherit parent env and add custom vars
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}

	inst := &Instance{
		ID:          newInstanceID(),
		cmd:         cmd,
		stdin:       stdin,
		fromPlugin:  make(chan []byte, 10),
		ctx:         instCtx,
		cancel:      cancel,
		db:          opts.DB,
		callTimeout: opts.CallTimeout,
	}
	if inst.callTimeout <= 0 {
		inst.callTimeout = defaultCallTimeout
	}

	if inst.db != nil {
		if err := inst.db.CreateInstance(inst.ID, opts.Command); err != nil {
			logger.Warn("[%s] failed to record instance: %v", inst.ID, err)
		}
	}

	inst.startBridge(stdout, stderr)

	// Readiness probe: the plugin is up once it answers a health check.
	probeCtx, probeCancel := context.WithTimeout(instCtx, startupTimeout)
	defer probeCancel()
	if _, err := inst.Health(probeCtx); err != nil {
		details := err.Error()
		_ = inst.Close()
		return nil, hosterrors.NewPluginSpawnError(opts.Command, int(startupTimeout.Milliseconds()), details)
	}

	// Record the descriptor name for the traffic log; failure here is not
	// fatal, the instance already proved itself alive.
	if meta, err := inst.Metadata(instCtx); err == nil && inst.db != nil {
		if meta.Name != "" {
			if err := inst.db.UpdateInstancePluginName(inst.ID, meta.Name); err != nil {
				logger.Warn("[%s] failed to record plugin name: %v", inst.ID, err)
			}
		}
	}

	logger.Info("[%s] plugin instance ready (command: %s)", inst.ID, opts.Command)
	return inst, nil
}

// Connect builds an instance over arbitrary protocol streams instead of a
// subprocess. In-process hosts and tests use this to exercise the wire
// protocol without spawning anything.
func Connect(in io.Reader, out io.WriteCloser, opts Options) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		ID:          newInstanceID(),
		stdin:       out,
		fromPlugin:  make(chan []byte, 10),
		ctx:         ctx,
		cancel:      cancel,
		db:          opts.DB,
		callTimeout: opts.CallTimeout,
	}
	if inst.callTimeout <= 0 {
		inst.callTimeout = defaultCallTimeout
	}
	inst.startBridge(in, nil)
	return inst
}

// startBridge starts the goroutines that pump plugin stdout into the
// response channel and forward plugin stderr to the host log.
func (i *Instance) startBridge(stdout, stderr io.Reader) {
	go func() {
		defer close(i.fromPlugin)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)
		for scanner.Scan() {
			line := scanner.Bytes()

			// Copy: the scanner reuses its buffer.
			msg := make([]byte, len(line))
			copy(msg, line)

			if i.db != nil {
				if err := i.db.LogMessage(i.ID, db.DirectionPluginToHost, msg); err != nil {
					logger.Warn("[%s] failed to log plugin->host message: %v", i.ID, err)
				}
			}

			select {
			case i.fromPlugin <- msg:
			case <-i.ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("[%s] error reading plugin stdout: %v", i.ID, err)
		}
	}()

	if stderr != nil {
		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				logger.Info("plugin stderr [%s]: %s", i.ID, scanner.Text())
			}
		}()
	}
}

// Close shuts the instance down by closing the plugin's stdin, which the
// plugin treats as an idle-stream shutdown, then waits for process exit.
// A process that ignores stdin closing is killed after a grace period, so
// Close never blocks on an unresponsive binary.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		if err := i.stdin.Close(); err != nil {
			logger.Debug("[%s] error closing plugin stdin: %v", i.ID, err)
		}

		if i.cmd != nil {
			waitDone := make(chan error, 1)
			go func() { waitDone <- i.cmd.Wait() }()

			select {
			case err := <-waitDone:
				i.closeErr = err
			case <-time.After(closeGraceTimeout):
				logger.Warn("[%s] plugin did not exit after stdin close; killing", i.ID)
				i.cancel()
				i.closeErr = <-waitDone
			}
		}
		i.cancel()

		if i.db != nil {
			if err := i.db.CloseInstance(i.ID); err != nil {
				logger.Warn("[%s] failed to record instance close: %v", i.ID, err)
			}
		}

		logger.Info("[%s] plugin instance closed", i.ID)
	})
	return i.closeErr
}
