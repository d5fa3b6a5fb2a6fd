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
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/chatmcp/pkg/mcp/client"
	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool is an inert set of descriptors until Enter is called.
type Pool struct {
	descriptors []Descriptor
	opts        options

	mu      sync.Mutex
	entered bool
}

// New stores the descriptors. No process is started and nothing is
// validated until Enter.
func New(descriptors []Descriptor, opts ...Option) *Pool {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{
		descriptors: append([]Descriptor(nil), descriptors...),
		opts:        o,
	}
}

// Descriptors returns the configured descriptors in order.
func (p *Pool) Descriptors() []Descriptor {
	return append([]Descriptor(nil), p.descriptors...)
}

// Enter starts every server concurrently, performs the handshake and tool
// discovery with each, and returns the active handle. If any server fails,
// every server started by this call is stopped before the *LaunchFailure is
// returned. A pool can be entered once; a failed Enter may be retried.
func (p *Pool) Enter(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.entered {
		p.mu.Unlock()
		return nil, ErrAlreadyEntered
	}
	p.entered = true
	p.mu.Unlock()

	ctx, span := p.opts.tracer.Start(ctx, "mcp.pool.enter",
		trace.WithAttributes(attribute.Int("mcp.server_count", len(p.descriptors))))
	defer span.End()

	h, err := p.enter(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.mu.Lock()
		p.entered = false
		p.mu.Unlock()
		return nil, err
	}
	return h, nil
}

func (p *Pool) enter(ctx context.Context) (*Handle, error) {
	start := time.Now()
	p.opts.logger.Info("Starting tool server pool", zap.Int("server_count", len(p.descriptors)))

	if err := p.validate(); err != nil {
		return nil, err
	}

	servers := make([]*server, len(p.descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range p.descriptors {
		g.Go(func() error {
			s, err := p.start(gctx, d)
			if err != nil {
				return err
			}
			servers[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.rollback(servers)
		p.opts.logger.Error("Tool server pool failed to start", zap.Error(err))
		return nil, err
	}

	h, err := newHandle(servers, p.opts)
	if err != nil {
		p.rollback(servers)
		return nil, err
	}

	p.opts.logger.Info("Tool server pool started",
		zap.Int("server_count", len(servers)),
		zap.Int("tool_count", len(h.specs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return h, nil
}

func (p *Pool) validate() error {
	seen := make(map[string]bool, len(p.descriptors))
	for _, d := range p.descriptors {
		if err := d.Validate(); err != nil {
			return &LaunchFailure{Server: cmp.Or(d.Name(), d.String()), Err: err}
		}
		if seen[d.Name()] {
			return &LaunchFailure{Server: d.Name(), Err: errors.New("duplicate server name")}
		}
		seen[d.Name()] = true
	}
	return nil
}

// start launches one server. On error the process has already been stopped.
func (p *Pool) start(ctx context.Context, d Descriptor) (*server, error) {
	logger := p.opts.logger.With(zap.String("server", d.Name()))
	ctx, cancel := context.WithTimeout(ctx, p.opts.handshakeTimeout)
	defer cancel()

	tr, err := transport.NewStdioTransport(transport.StdioConfig{
		Command:     d.Command(),
		Args:        d.Args(),
		Env:         d.Env(),
		Dir:         d.Dir(),
		GracePeriod: p.opts.gracePeriod,
		Logger:      logger,
	})
	if err != nil {
		return nil, &LaunchFailure{Server: d.Name(), Err: err}
	}

	c := client.NewClient(client.Config{
		Transport:      tr,
		Logger:         logger,
		RequestTimeout: p.opts.callTimeout,
	})
	fail := func(err error) (*server, error) {
		stopCtx, stop := context.WithTimeout(context.Background(), p.opts.gracePeriod+2*time.Second)
		defer stop()
		if cerr := c.Close(stopCtx); cerr != nil {
			logger.Warn("Failed to stop tool server after launch failure", zap.Error(cerr))
		}
		return nil, &LaunchFailure{Server: d.Name(), Err: err, Stderr: tr.StderrTail()}
	}

	info, err := c.Initialize(ctx, p.opts.clientInfo)
	if err != nil {
		return fail(err)
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		return fail(fmt.Errorf("list tools: %w", err))
	}

	filter := d.Filter()
	exposed := make([]protocol.Tool, 0, len(tools))
	for _, t := range tools {
		if filter.Allows(t.Name) {
			exposed = append(exposed, t)
		}
	}

	logger.Info("Tool server ready",
		zap.Int("pid", tr.PID()),
		zap.String("server_name", info.ServerInfo.Name),
		zap.String("protocol_version", info.ProtocolVersion),
		zap.Int("tools", len(exposed)),
		zap.Int("filtered", len(tools)-len(exposed)),
	)
	return &server{
		name:      d.Name(),
		client:    c,
		transport: tr,
		tools:     exposed,
		info:      info.ServerInfo,
		protocol:  info.ProtocolVersion,
		logger:    logger,
	}, nil
}

// rollback stops every started server concurrently.
func (p *Pool) rollback(servers []*server) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.gracePeriod+2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.client.Close(ctx); err != nil {
				s.logger.Warn("Failed to stop tool server during rollback", zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// Run enters the pool, calls fn with the handle, and exits the pool on
// every return path including a panic in fn. Errors from fn and Exit are
// joined.
func Run(ctx context.Context, p *Pool, fn func(ctx context.Context, h *Handle) error) (err error) {
	h, err := p.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		exitErr := h.Exit(context.WithoutCancel(ctx))
		if r := recover(); r != nil {
			panic(r)
		}
		err = errors.Join(err, exitErr)
	}()
	return fn(ctx, h)
}
