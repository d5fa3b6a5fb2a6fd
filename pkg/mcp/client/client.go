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

// Package client implements the client side of MCP over a Transport:
// request multiplexing, the initialize handshake, and tool calls.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"go.uber.org/zap"
)

// DefaultRequestTimeout applies to requests whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrConnectionClosed is returned for requests that cannot complete
	// because the server went away or the client was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotInitialized is returned by tool calls made before Initialize.
	ErrNotInitialized = errors.New("client not initialized")
)

// Client is a connection to one MCP server. Requests may be issued
// concurrently; responses are matched to callers by id.
type Client struct {
	transport      transport.Transport
	logger         *zap.Logger
	requestTimeout time.Duration

	mu          sync.RWMutex
	initialized bool

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	toolsMu sync.RWMutex
	byName  map[string]protocol.Tool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	doneErr error

	closeOnce sync.Once
	closeErr  error
}

// Config configures the MCP client
type Config struct {
	Transport      transport.Transport
	Logger         *zap.Logger
	RequestTimeout time.Duration // Default: DefaultRequestTimeout
}

// NewClient wraps t and starts reading from it.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:      config.Transport,
		logger:         config.Logger,
		requestTimeout: config.RequestTimeout,
		pending:        make(map[string]chan *protocol.Response),
		byName:         make(map[string]protocol.Tool),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Initialize performs the initialize request and sends the initialized
// notification. The server may answer with any supported protocol revision.
func (c *Client) Initialize(ctx context.Context, clientInfo protocol.Implementation) (*protocol.InitializeResult, error) {
	c.mu.RLock()
	already := c.initialized
	c.mu.RUnlock()
	if already {
		return nil, errors.New("already initialized")
	}

	var result protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    protocol.ClientCapabilities{},
		ClientInfo:      clientInfo,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	if !protocol.IsSupportedVersion(result.ProtocolVersion) {
		return nil, fmt.Errorf("unsupported protocol version %q (client supports %v)",
			result.ProtocolVersion, protocol.SupportedVersions)
	}

	if err := c.notify(ctx, protocol.MethodInitialized); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Debug("MCP client initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion),
		zap.Bool("tools", result.Capabilities.Tools != nil),
	)
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, protocol.MethodPing, struct{}{}, nil)
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Done is closed when the connection can no longer serve requests.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

// Close closes the transport and fails any outstanding requests.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close(ctx)
		c.cancel()
		<-c.done
	})
	return c.closeErr
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	id := protocol.NumericID(c.nextID.Add(1))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	key := id.Key()
	respCh := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[key] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	select {
	case <-c.done:
		return c.doneErr
	default:
	}

	if err := c.transport.Send(ctx, data); err != nil {
		if c.Err() != nil {
			return c.doneErr
		}
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return c.doneErr
	case resp := <-respCh:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) notify(ctx context.Context, method string) error {
	req, err := protocol.NewRequest(nil, method, nil)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, data)
}

func (c *Client) receiveLoop() {
	var cause error
	defer func() {
		c.doneErr = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
		close(c.done)
	}()

	for {
		data, err := c.transport.Receive(c.ctx)
		if err != nil {
			cause = err
			if c.ctx.Err() == nil {
				c.logger.Debug("MCP connection ended", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err), zap.ByteString("data", data))
			continue
		}

		switch {
		case env.IsResponse():
			c.deliver(env.Response())
		case env.Method != "" && env.ID != nil:
			c.answer(&env)
		case env.Method != "":
			c.logger.Debug("server notification", zap.String("method", env.Method))
		default:
			c.logger.Warn("received unrecognized message", zap.ByteString("data", data))
		}
	}
}

func (c *Client) deliver(resp *protocol.Response) {
	key := resp.ID.Key()
	if err := protocol.ValidateResponse(resp); err != nil {
		c.logger.Warn("dropping invalid response", zap.String("id", key), zap.Error(err))
		if key == "" {
			return
		}
		// Fail the waiting caller now rather than at its timeout.
		resp = &protocol.Response{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      resp.ID,
			Error:   protocol.NewError(protocol.InternalError, "invalid response from server: "+err.Error(), nil),
		}
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("received response for unknown request", zap.String("id", key))
		return
	}
	ch <- resp
}

// answer replies to server-initiated requests. Only ping is supported; the
// client advertises no capabilities that would invite anything else.
func (c *Client) answer(env *protocol.Envelope) {
	resp := &protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: env.ID}
	if env.Method == protocol.MethodPing {
		resp.Result = json.RawMessage(`{}`)
	} else {
		resp.Error = protocol.NewError(protocol.MethodNotFound, "method not found: "+env.Method, nil)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.requestTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, data); err != nil {
		c.logger.Debug("failed to answer server request", zap.String("method", env.Method), zap.Error(err))
	}
}
