// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/chatmcp/pkg/mcp/client"
	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// server is one live tool server owned by a Handle.
type server struct {
	name      string
	client    *client.Client
	transport *transport.StdioTransport
	tools     []protocol.Tool
	info      protocol.Implementation
	protocol  string
	logger    *zap.Logger
}

type route struct {
	server *server
	tool   protocol.Tool
}

// ServerStatus describes one server for diagnostics.
type ServerStatus struct {
	Name            string `json:"name"`
	PID             int    `json:"pid"`
	ServerName      string `json:"server_name"`
	ServerVersion   string `json:"server_version"`
	ProtocolVersion string `json:"protocol_version"`
	Tools           int    `json:"tools"`
	Alive           bool   `json:"alive"`
}

// Handle is the active pool. The routing table is fixed at Enter, so
// Invoke takes no lock beyond registering itself for the shutdown drain.
// A Handle must not be used after Exit.
type Handle struct {
	servers []*server
	routes  map[string]route
	specs   []toolset.ToolSpec
	opts    options
	logger  *zap.Logger

	invocations metric.Int64Counter
	latency     metric.Float64Histogram

	mu       sync.RWMutex
	closing  bool
	inflight sync.WaitGroup

	// abort is cancelled when the drain period ends, failing calls still
	// in flight.
	abort       context.Context
	abortCancel context.CancelFunc

	exitOnce sync.Once
	exitErr  error
}

var _ toolset.Provider = (*Handle)(nil)

func newHandle(servers []*server, opts options) (*Handle, error) {
	h := &Handle{
		servers: servers,
		routes:  make(map[string]route),
		opts:    opts,
		logger:  opts.logger,
	}
	for _, s := range servers {
		for _, t := range s.tools {
			name := s.name + Separator + t.Name
			if _, dup := h.routes[name]; dup {
				return nil, &LaunchFailure{Server: s.name, Err: fmt.Errorf("tool %q advertised twice", t.Name)}
			}
			h.routes[name] = route{server: s, tool: t}
			h.specs = append(h.specs, toolset.ToolSpec{
				Name:        name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}

	var err error
	h.invocations, err = opts.meter.Int64Counter("chatmcp.tool.invocations",
		metric.WithDescription("Number of tool invocations through the pool"))
	if err != nil {
		return nil, fmt.Errorf("create invocation counter: %w", err)
	}
	h.latency, err = opts.meter.Float64Histogram("chatmcp.tool.latency",
		metric.WithDescription("Tool invocation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	h.abort, h.abortCancel = context.WithCancel(context.Background())
	for _, s := range servers {
		go h.watch(s)
	}
	return h, nil
}

// exitReapWait bounds how long watch waits for an exit status.
const exitReapWait = time.Second

// watch logs a server that goes away while the pool is still serving.
func (h *Handle) watch(s *server) {
	<-s.client.Done()
	h.mu.RLock()
	closing := h.closing
	h.mu.RUnlock()
	if closing {
		return
	}
	// The pipe closes before the process is reaped.
	select {
	case <-s.transport.Exited():
	case <-time.After(exitReapWait):
	}
	s.logger.Error("Tool server exited unexpectedly; its tools will fail until restart",
		zap.Int("pid", s.transport.PID()),
		zap.NamedError("exit", s.transport.ExitErr()),
		zap.String("stderr", s.transport.StderrTail()),
	)
}

// ListTools returns every exposed tool, ordered by descriptor and then by
// the order each server advertised them.
func (h *Handle) ListTools(context.Context) ([]toolset.ToolSpec, error) {
	return append([]toolset.ToolSpec(nil), h.specs...), nil
}

// Invoke calls a qualified tool name such as "math.add". An unknown name
// fails with *UnknownToolError; every other failure is a
// *ToolInvocationError and leaves other calls and servers unaffected.
func (h *Handle) Invoke(ctx context.Context, name string, args map[string]any) (*toolset.Result, error) {
	r, ok := h.routes[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	h.mu.RLock()
	if h.closing {
		h.mu.RUnlock()
		return nil, &ToolInvocationError{Tool: name, Server: r.server.name, Err: ErrClosed}
	}
	h.inflight.Add(1)
	h.mu.RUnlock()
	defer h.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, h.opts.callTimeout)
	defer cancel()
	stop := context.AfterFunc(h.abort, cancel)
	defer stop()

	attrs := []attribute.KeyValue{
		attribute.String("mcp.server", r.server.name),
		attribute.String("mcp.tool", r.tool.Name),
	}
	ctx, span := h.opts.tracer.Start(ctx, "mcp.pool.invoke", trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	res, err := r.server.client.CallTool(ctx, r.tool.Name, args)
	elapsed := time.Since(start)

	if err != nil && h.abort.Err() != nil && !client.IsRemoteError(err) {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}

	h.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	h.invocations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("success", err == nil))...))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("Tool invocation failed",
			zap.String("tool", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, &ToolInvocationError{Tool: name, Server: r.server.name, Err: err}
	}

	span.SetStatus(codes.Ok, "")
	h.logger.Debug("Tool invoked", zap.String("tool", name), zap.Duration("elapsed", elapsed))
	return &toolset.Result{
		Content:    res.Text(),
		Structured: res.StructuredContent,
		Duration:   elapsed,
	}, nil
}

// Servers reports the state of every server in descriptor order.
func (h *Handle) Servers() []ServerStatus {
	out := make([]ServerStatus, 0, len(h.servers))
	for _, s := range h.servers {
		alive := true
		select {
		case <-s.client.Done():
			alive = false
		default:
		}
		out = append(out, ServerStatus{
			Name:            s.name,
			PID:             s.transport.PID(),
			ServerName:      s.info.Name,
			ServerVersion:   s.info.Version,
			ProtocolVersion: s.protocol,
			Tools:           len(s.tools),
			Alive:           alive,
		})
	}
	return out
}

// HealthCheck pings every server concurrently. A nil entry means healthy.
func (h *Handle) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(h.servers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, s := range h.servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.client.Ping(ctx)
			mu.Lock()
			results[s.name] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Exit stops accepting calls, waits up to the drain timeout for calls in
// flight and cancels the rest, then stops every server concurrently. Each
// server gets SIGTERM and is killed after the grace period, or sooner if
// ctx ends. Failures are logged and joined into the returned error, which is
// informational: every server has been dealt with by the time Exit returns.
// Later calls return the same result.
func (h *Handle) Exit(ctx context.Context) error {
	h.exitOnce.Do(func() {
		h.exitErr = h.exit(ctx)
	})
	return h.exitErr
}

func (h *Handle) exit(ctx context.Context) error {
	ctx, span := h.opts.tracer.Start(ctx, "mcp.pool.exit")
	defer span.End()

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.logger.Info("Stopping tool server pool", zap.Int("server_count", len(h.servers)))
	h.drain(ctx)

	errs := make([]error, len(h.servers))
	var wg sync.WaitGroup
	for i, s := range h.servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.client.Close(ctx); err != nil {
				s.logger.Warn("Tool server did not stop cleanly", zap.Error(err))
				errs[i] = fmt.Errorf("server %s: %w", s.name, err)
			}
		}()
	}
	wg.Wait()
	h.abortCancel()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("Tool server pool stopped with errors", zap.Error(err))
	} else {
		h.logger.Info("Tool server pool stopped")
	}
	return err
}

func (h *Handle) drain(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(drained)
	}()

	timer := time.NewTimer(h.opts.drainTimeout)
	defer timer.Stop()

	select {
	case <-drained:
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	h.logger.Warn("Drain period ended, cancelling in-flight tool calls")
	h.abortCancel()
	<-drained
}
