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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"go.uber.org/zap"
)

// handlerFunc answers one request. Returning nil result and nil error sends
// nothing, which lets a test hold a request open.
type handlerFunc func(req protocol.Request) (any, *protocol.Error)

// fakeTransport is an in-memory MCP server.
type fakeTransport struct {
	handler handlerFunc

	mu       sync.Mutex
	sent     []protocol.Request
	replies  []protocol.Response
	inbox    chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport(h handlerFunc) *fakeTransport {
	return &fakeTransport{handler: h, inbox: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) Send(_ context.Context, message []byte) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	default:
	}

	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return err
	}
	if env.Method == "" {
		f.mu.Lock()
		f.replies = append(f.replies, *env.Response())
		f.mu.Unlock()
		return nil
	}

	req := protocol.Request{JSONRPC: env.JSONRPC, ID: env.ID, Method: env.Method, Params: env.Params}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()

	if req.ID == nil {
		return nil
	}
	result, rpcErr := f.handler(req)
	if result == nil && rpcErr == nil {
		return nil
	}
	resp := protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resp.Result = raw
	}
	data, _ := json.Marshal(resp)
	f.inbox <- data
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-f.inbox:
		return data, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close(context.Context) error {
	f.hangUp()
	return nil
}

func (f *fakeTransport) hangUp() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeTransport) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, r := range f.sent {
		out = append(out, r.Method)
	}
	return out
}

func mathServer(version string) handlerFunc {
	return func(req protocol.Request) (any, *protocol.Error) {
		switch req.Method {
		case protocol.MethodInitialize:
			return protocol.InitializeResult{
				ProtocolVersion: version,
				Capabilities:    protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}},
				ServerInfo:      protocol.Implementation{Name: "math", Version: "1.0.0"},
			}, nil
		case protocol.MethodToolsList:
			return protocol.ToolListResult{Tools: []protocol.Tool{{
				Name: "add",
				InputSchema: map[string]any{
					"type":     "object",
					"required": []any{"a", "b"},
					"properties": map[string]any{
						"a": map[string]any{"type": "number"},
						"b": map[string]any{"type": "number"},
					},
				},
			}}}, nil
		case protocol.MethodToolsCall:
			var p protocol.CallToolParams
			_ = json.Unmarshal(req.Params, &p)
			if p.Name == "fail" {
				return protocol.CallToolResult{IsError: true, Content: []protocol.Content{protocol.TextContent("division by zero")}}, nil
			}
			if p.Name == "hang" {
				return nil, nil
			}
			sum := p.Arguments["a"].(float64) + p.Arguments["b"].(float64)
			raw, _ := json.Marshal(sum)
			return protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(string(raw))}}, nil
		case protocol.MethodPing:
			return struct{}{}, nil
		}
		return nil, protocol.NewError(protocol.MethodNotFound, "method not found", nil)
	}
}

func newTestClient(t *testing.T, h handlerFunc) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(h)
	c := NewClient(Config{Transport: ft, Logger: zap.NewNop(), RequestTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, ft
}

func TestClient_InitializeHandshake(t *testing.T) {
	c, ft := newTestClient(t, mathServer(protocol.ProtocolVersion))

	res, err := c.Initialize(context.Background(), protocol.Implementation{Name: "chatmcp", Version: "test"})
	require.NoError(t, err)
	assert.Equal(t, "math", res.ServerInfo.Name)
	assert.True(t, c.IsInitialized())
	assert.Equal(t, protocol.ProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, []string{protocol.MethodInitialize, protocol.MethodInitialized}, ft.methods())

	_, err = c.Initialize(context.Background(), protocol.Implementation{Name: "chatmcp"})
	assert.Error(t, err)
}

func TestClient_InitializeAcceptsOlderRevision(t *testing.T) {
	c, _ := newTestClient(t, mathServer("2024-11-05"))

	res, err := c.Initialize(context.Background(), protocol.Implementation{Name: "chatmcp"})
	require.NoError(t, err)
	assert.Equal(t, "2024-11-05", res.ProtocolVersion)
}

func TestClient_InitializeRejectsUnknownRevision(t *testing.T) {
	c, _ := newTestClient(t, mathServer("1999-01-01"))

	_, err := c.Initialize(context.Background(), protocol.Implementation{Name: "chatmcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol version")
	assert.False(t, c.IsInitialized())
}

func TestClient_ToolsRequireInitialize(t *testing.T) {
	c, _ := newTestClient(t, mathServer(protocol.ProtocolVersion))

	_, err := c.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.CallTool(context.Background(), "add", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func initialized(t *testing.T, h handlerFunc) (*Client, *fakeTransport) {
	t.Helper()
	c, ft := newTestClient(t, h)
	_, err := c.Initialize(context.Background(), protocol.Implementation{Name: "chatmcp"})
	require.NoError(t, err)
	return c, ft
}

func TestClient_ListAndCallTool(t *testing.T) {
	c, _ := initialized(t, mathServer(protocol.ProtocolVersion))
	ctx := context.Background()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)

	res, err := c.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Text())
}

func TestClient_CallToolValidatesArguments(t *testing.T) {
	c, ft := initialized(t, mathServer(protocol.ProtocolVersion))
	ctx := context.Background()
	_, err := c.ListTools(ctx)
	require.NoError(t, err)

	_, err = c.CallTool(ctx, "add", map[string]any{"a": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b is required")
	assert.NotContains(t, ft.methods(), protocol.MethodToolsCall)
}

func TestClient_CallToolIsError(t *testing.T) {
	c, _ := initialized(t, mathServer(protocol.ProtocolVersion))

	_, err := c.CallTool(context.Background(), "fail", nil)
	var toolErr *ToolResultError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "fail", toolErr.Tool)
	assert.Contains(t, err.Error(), "division by zero")
	assert.True(t, IsRemoteError(err))
}

func TestClient_RPCErrorIsReturned(t *testing.T) {
	c, _ := initialized(t, func(req protocol.Request) (any, *protocol.Error) {
		if req.Method == protocol.MethodInitialize {
			return mathServer(protocol.ProtocolVersion)(req)
		}
		return nil, protocol.NewError(protocol.InternalError, "backend unavailable", nil)
	})

	_, err := c.CallTool(context.Background(), "anything", nil)
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.InternalError, rpcErr.Code)
	assert.True(t, IsRemoteError(err))
}

func TestClient_InvalidResponseFailsCaller(t *testing.T) {
	var ft *fakeTransport
	math := mathServer(protocol.ProtocolVersion)
	c, ft := initialized(t, func(req protocol.Request) (any, *protocol.Error) {
		if req.Method != protocol.MethodPing {
			return math(req)
		}
		// Both result and error: not a valid JSON-RPC response.
		id, _ := json.Marshal(req.ID)
		ft.inbox <- []byte(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":{},"error":{"code":1,"message":"x"}}`)
		return nil, nil
	})

	start := time.Now()
	err := c.Ping(context.Background())
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.InternalError, rpcErr.Code)
	assert.Contains(t, err.Error(), "exactly one of result or error")
	assert.Less(t, time.Since(start), time.Second, "caller waited for its timeout")

	// The connection stays usable.
	_, err = c.ListTools(context.Background())
	assert.NoError(t, err)
}

func TestClient_CallTimesOut(t *testing.T) {
	c, _ := initialized(t, mathServer(protocol.ProtocolVersion))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CallTool(ctx, "hang", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsRemoteError(err))
}

func TestClient_PendingRequestsFailWhenServerExits(t *testing.T) {
	c, ft := initialized(t, mathServer(protocol.ProtocolVersion))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "hang", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ft.hangUp()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed after the server exited")
	}

	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrConnectionClosed)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrConnectionClosed)
}

func TestClient_ConcurrentCallsAreIndependent(t *testing.T) {
	c, _ := initialized(t, mathServer(protocol.ProtocolVersion))

	slowDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err := c.CallTool(ctx, "hang", nil)
		slowDone <- err
	}()

	start := time.Now()
	res, err := c.CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, "2", res.Text())
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	assert.True(t, errors.Is(<-slowDone, context.DeadlineExceeded))
}

func TestClient_AnswersServerPing(t *testing.T) {
	ft := newFakeTransport(mathServer(protocol.ProtocolVersion))
	ft.inbox <- []byte(`{"jsonrpc":"2.0","id":"srv-1","method":"ping"}`)

	c := NewClient(Config{Transport: ft, Logger: zap.NewNop()})
	defer func() { _ = c.Close(context.Background()) }()

	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.replies) == 1
	}, time.Second, 10*time.Millisecond)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	reply := ft.replies[0]
	assert.Equal(t, "srv-1", reply.ID.Key())
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `{}`, string(reply.Result))
}

func TestClient_RejectsUnknownServerRequest(t *testing.T) {
	ft := newFakeTransport(mathServer(protocol.ProtocolVersion))
	ft.inbox <- []byte(`{"jsonrpc":"2.0","id":7,"method":"sampling/createMessage","params":{}}`)

	c := NewClient(Config{Transport: ft, Logger: zap.NewNop()})
	defer func() { _ = c.Close(context.Background()) }()

	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.replies) == 1
	}, time.Second, 10*time.Millisecond)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.NotNil(t, ft.replies[0].Error)
	assert.Equal(t, protocol.MethodNotFound, ft.replies[0].Error.Code)
}
