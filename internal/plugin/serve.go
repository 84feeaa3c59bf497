// ABOUTME: Plugin lifecycle: ready notice, stdin read loop, shutdown triggers
// ABOUTME: Requests are processed one at a time, fully, in input order

package plugin

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/harper/plugkit/internal/logger"
)

// Serve runs the plugin's read loop until the input stream closes or a
// termination signal arrives. Both triggers are terminal and both return nil
// so the caller exits with status 0. A closed stream drains the in-flight
// line first; a signal shuts down immediately without draining.
func (p *Plugin) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("plugin %s ready", p.descriptor.Name)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go p.readLines(ctx, lines, readErr)

	for {
		select {
		case <-ctx.Done():
			logger.Info("plugin %s shutting down: termination signal", p.descriptor.Name)
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					logger.Error("input stream failed: %v", err)
				default:
				}
				logger.Info("plugin %s shutting down: input stream closed", p.descriptor.Name)
				return nil
			}
			if err := p.processLine(ctx, line); err != nil {
				return err
			}
		}
	}
}

// processLine dispatches one line and writes its single response. A panic in
// dispatch is caught here so the loop keeps accepting subsequent lines; only
// a write failure on the response stream ends the session.
func (p *Plugin) processLine(ctx context.Context, line []byte) error {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}

	resp := func() (resp []byte) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("line processing fault: %v", r)
				resp = nil
			}
		}()
		return p.HandleLine(ctx, line)
	}()
	if resp == nil {
		return nil
	}

	if _, err := p.out.Write(resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// readLines feeds input lines to the serve loop. bufio.Reader rather than a
// Scanner so there is no fixed line-length ceiling.
func (p *Plugin) readLines(ctx context.Context, lines chan<- []byte, readErr chan<- error) {
	defer close(lines)

	reader := bufio.NewReader(p.in)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr <- err
			}
			return
		}
	}
}
