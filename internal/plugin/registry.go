// ABOUTME: Method registry construction and the two protocol builtins
// ABOUTME: Registration happens once at startup; the registry is immutable after

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Builtin method names present in every plugin instance regardless of the
// author's handler map.
const (
	MethodGetMetadata = "getMetadata"
	MethodHealthCheck = "healthCheck"
)

// Handler is an author-supplied function implementing one plugin method.
// It receives the request's raw parameters object; the substrate performs no
// schema validation, so any parameter checking is the handler's own
// responsibility. The returned value must be JSON-serializable. Returning a
// *jsonrpc.Error sets the wire error code directly; any other error is
// classified as a server error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Plugin is one constructed plugin instance: descriptor, method registry,
// and lifecycle state. All process-wide state lives here; there are no
// package-level singletons.
type Plugin struct {
	descriptor Descriptor
	methods    map[string]Handler
	startTime  time.Time

	in  io.Reader
	out io.Writer
}

// New validates the descriptor and builds the method registry from the two
// protocol builtins plus the author's handler map, verbatim. Method names
// are matched exactly at call time; no case folding, no aliasing.
func New(desc Descriptor, handlers map[string]Handler) (*Plugin, error) {
	if err := validateName(desc.Name); err != nil {
		return nil, err
	}

	p := &Plugin{
		descriptor: desc,
		methods:    make(map[string]Handler, len(handlers)+2),
		startTime:  time.Now(),
		in:         os.Stdin,
		out:        os.Stdout,
	}

	p.methods[MethodGetMetadata] = p.getMetadata
	p.methods[MethodHealthCheck] = p.healthCheck

	for name, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("nil handler for method %q", name)
		}
		if _, exists := p.methods[name]; exists {
			return nil, fmt.Errorf("method %q collides with a protocol builtin", name)
		}
		p.methods[name] = h
	}

	return p, nil
}

// SetStreams overrides the process stdio streams. In-process hosts and tests
// use this to run the wire protocol over pipes instead of real stdio.
func (p *Plugin) SetStreams(in io.Reader, out io.Writer) {
	p.in = in
	p.out = out
}

// Descriptor returns the descriptor supplied at construction.
func (p *Plugin) Descriptor() Descriptor {
	return p.descriptor
}

// HealthStatus is the healthCheck builtin's result shape.
type HealthStatus struct {
	Healthy bool  `json:"healthy"`
	Uptime  int64 `json:"uptime"`
}

// getMetadata returns the descriptor exactly as supplied at construction.
func (p *Plugin) getMetadata(ctx context.Context, params json.RawMessage) (any, error) {
	return p.descriptor, nil
}

// healthCheck reports liveness and whole seconds of uptime since construction.
func (p *Plugin) healthCheck(ctx context.Context, params json.RawMessage) (any, error) {
	return HealthStatus{
		Healthy: true,
		Uptime:  int64(time.Since(p.startTime).Seconds()),
	}, nil
}
