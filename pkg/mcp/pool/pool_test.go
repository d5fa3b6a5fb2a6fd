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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/chatmcp/pkg/mcp/client"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// helper returns a descriptor that runs the test binary as a fake MCP
// server in the given mode.
func helper(name, mode string, env map[string]string) Descriptor {
	overlay := map[string]string{helperModeEnv: mode}
	for k, v := range env {
		overlay[k] = v
	}
	return NewDescriptor(os.Args[0], []string{"-test.run=^TestHelperProcess$", "--"},
		WithName(name), WithEnv(overlay))
}

func pidFile(t *testing.T, name string) (string, map[string]string) {
	path := filepath.Join(t.TempDir(), name+".pid")
	return path, map[string]string{helperPIDFileEnv: path}
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "helper never wrote its pid")
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return pid
}

func testPool(t *testing.T, descriptors []Descriptor, opts ...Option) *Pool {
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithHandshakeTimeout(10 * time.Second),
		WithGracePeriod(2 * time.Second),
		WithClientInfo("chatmcp-test", "test"),
	}
	return New(descriptors, append(base, opts...)...)
}

func enter(t *testing.T, p *Pool) *Handle {
	t.Helper()
	h, err := p.Enter(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Exit(context.Background()) })
	return h
}

func toolNames(t *testing.T, h *Handle) []string {
	t.Helper()
	specs, err := h.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

func TestPool_EchoAndMath(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{
		helper("echo-tool", "echo", nil),
		helper("math-tool", "math", nil),
	}))
	ctx := context.Background()

	assert.Equal(t, []string{
		"echo-tool.echo", "echo-tool.env", "echo-tool.crash",
		"math-tool.add", "math-tool.divide",
	}, toolNames(t, h))

	res, err := h.Invoke(ctx, "math-tool.add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", res.Content)

	_, err = h.Invoke(ctx, "echo-tool.nonexistent", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, toolset.ErrUnknownTool)
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "echo-tool.nonexistent", unknown.Name)

	res, err = h.Invoke(ctx, "echo-tool.echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
}

func TestPool_UnremappedRemoteNameIsUnknown(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{helper("math-tool", "math", nil)}))

	_, err := h.Invoke(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	assert.ErrorIs(t, err, toolset.ErrUnknownTool)
}

func TestPool_LaunchFailureRollsBack(t *testing.T) {
	goodPath, goodEnv := pidFile(t, "good")
	badPath, badEnv := pidFile(t, "bad")
	p := testPool(t, []Descriptor{
		helper("good-tool", "echo", goodEnv),
		helper("bad-tool", "bad", badEnv),
	})

	h, err := p.Enter(context.Background())
	require.Error(t, err)
	assert.Nil(t, h)

	var lf *LaunchFailure
	require.ErrorAs(t, err, &lf)
	assert.Equal(t, "bad-tool", lf.Server)
	assert.Contains(t, lf.Stderr, "missing APPSAMURAI_API_KEY")
	assert.ErrorIs(t, err, client.ErrConnectionClosed)

	assertGone(t, readPID(t, goodPath))
	assertGone(t, readPID(t, badPath))
}

func TestPool_HandshakeTimeoutIsLaunchFailure(t *testing.T) {
	hangPath, hangEnv := pidFile(t, "hang")
	p := testPool(t, []Descriptor{helper("hang-tool", "hang", hangEnv)},
		WithHandshakeTimeout(500*time.Millisecond))

	start := time.Now()
	_, err := p.Enter(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 8*time.Second)

	var lf *LaunchFailure
	require.ErrorAs(t, err, &lf)
	assert.Equal(t, "hang-tool", lf.Server)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assertGone(t, readPID(t, hangPath))
}

func TestPool_SlowHandshakeWithinTimeoutSucceeds(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{
		helper("math-tool", "math", map[string]string{helperInitDelayEnv: "200"}),
	}, WithHandshakeTimeout(5*time.Second)))

	assert.Len(t, toolNames(t, h), 2)
}

func TestPool_CommandNotFoundIsLaunchFailure(t *testing.T) {
	p := testPool(t, []Descriptor{
		helper("math-tool", "math", nil),
		NewDescriptor("definitely-not-a-real-binary-7f3a", nil),
	})

	_, err := p.Enter(context.Background())
	var lf *LaunchFailure
	require.ErrorAs(t, err, &lf)
	assert.Equal(t, "definitely-not-a-real-binary-7f3a", lf.Server)
}

func TestPool_InvalidDescriptorsFailBeforeSpawning(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		want        string
	}{
		{
			name:        "empty command",
			descriptors: []Descriptor{NewDescriptor("", nil, WithName("empty"))},
			want:        "command is required",
		},
		{
			name: "duplicate names",
			descriptors: []Descriptor{
				helper("same", "echo", nil),
				helper("same", "math", nil),
			},
			want: "duplicate server name",
		},
		{
			name:        "separator in name",
			descriptors: []Descriptor{helper("a.b", "echo", nil)},
			want:        "must not contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testPool(t, tt.descriptors).Enter(context.Background())
			var lf *LaunchFailure
			require.ErrorAs(t, err, &lf)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPool_EnterOnce(t *testing.T) {
	p := testPool(t, []Descriptor{helper("math-tool", "math", nil)})
	enter(t, p)

	_, err := p.Enter(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEntered)
}

func TestPool_FailedEnterCanBeRetried(t *testing.T) {
	p := testPool(t, []Descriptor{helper("hang-tool", "hang", nil)}, WithHandshakeTimeout(200*time.Millisecond))

	_, err := p.Enter(context.Background())
	require.Error(t, err)
	_, err = p.Enter(context.Background())
	var lf *LaunchFailure
	assert.ErrorAs(t, err, &lf, "second attempt should launch again rather than report ErrAlreadyEntered")
}

func TestPool_EmptyPool(t *testing.T) {
	h := enter(t, testPool(t, nil))
	assert.Empty(t, toolNames(t, h))
	assert.NoError(t, h.Exit(context.Background()))
}

func TestPool_ExitStopsEveryProcess(t *testing.T) {
	h, err := testPool(t, []Descriptor{
		helper("echo-tool", "echo", nil),
		helper("math-tool", "math", nil),
	}).Enter(context.Background())
	require.NoError(t, err)

	statuses := h.Servers()
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.True(t, s.Alive)
		assert.Greater(t, s.PID, 0)
		assertAlive(t, s.PID)
	}

	require.NoError(t, h.Exit(context.Background()))
	for _, s := range statuses {
		assertGone(t, s.PID)
	}
	assert.NoError(t, h.Exit(context.Background()))
}

func TestPool_ExitKillsStubbornServer(t *testing.T) {
	h, err := testPool(t, []Descriptor{
		helper("stubborn", "echo", map[string]string{helperStubbornEnv: "1"}),
		helper("math-tool", "math", nil),
	}, WithGracePeriod(300*time.Millisecond)).Enter(context.Background())
	require.NoError(t, err)
	statuses := h.Servers()

	start := time.Now()
	err = h.Exit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrKilled)
	assert.Contains(t, err.Error(), "server stubborn")
	assert.NotContains(t, err.Error(), "server math-tool")
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, s := range statuses {
		assertGone(t, s.PID)
	}
}

func TestPool_ConcurrentInvokesAreIndependent(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{
		helper("slow-tool", "slow", nil),
		helper("math-tool", "math", nil),
	}))
	ctx := context.Background()

	slowDone := make(chan error, 1)
	go func() {
		_, err := h.Invoke(ctx, "slow-tool.sleep", map[string]any{"ms": 1500})
		slowDone <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	res, err := h.Invoke(ctx, "math-tool.add", map[string]any{"a": 40, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Content)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-slowDone:
		t.Fatalf("slow call finished early: %v", err)
	default:
	}
	require.NoError(t, <-slowDone)
}

func TestPool_ManyConcurrentInvokes(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{helper("math-tool", "math", nil)}))

	var wg sync.WaitGroup
	errs := make([]error, 32)
	results := make([]string, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Invoke(context.Background(), "math-tool.add", map[string]any{"a": i, "b": 1})
			errs[i] = err
			if err == nil {
				results[i] = res.Content
			}
		}()
	}
	wg.Wait()

	for i := range 32 {
		require.NoError(t, errs[i])
		assert.Equal(t, strconv.Itoa(i+1), results[i])
	}
}

func TestPool_InvokeTimeout(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{helper("slow-tool", "slow", nil)}, WithCallTimeout(200*time.Millisecond)))

	_, err := h.Invoke(context.Background(), "slow-tool.sleep", map[string]any{"ms": 2000})
	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "slow-tool.sleep", invErr.Tool)
	assert.Equal(t, "slow-tool", invErr.Server)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, invErr.Remote())

	res, err := h.Invoke(context.Background(), "slow-tool.sleep", map[string]any{"ms": 1})
	require.NoError(t, err)
	assert.Equal(t, "slept", res.Content)
}

func TestPool_RemoteErrors(t *testing.T) {
	h := enter(t, testPool(t, []Descriptor{helper("math-tool", "math", nil)}))
	ctx := context.Background()

	_, err := h.Invoke(ctx, "math-tool.divide", map[string]any{"a": 1, "b": 0})
	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.True(t, invErr.Remote())
	assert.Contains(t, err.Error(), "division by zero")

	_, err = h.Invoke(ctx, "math-tool.add", map[string]any{"a": "two"})
	require.ErrorAs(t, err, &invErr)
	assert.Contains(t, err.Error(), "invalid arguments")

	res, err := h.Invoke(ctx, "math-tool.divide", map[string]any{"a": 9, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Content)
}

func TestPool_CrashedServerDoesNotAffectSiblings(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := enter(t, testPool(t, []Descriptor{
		helper("echo-tool", "echo", nil),
		helper("math-tool", "math", nil),
	}, WithLogger(zap.New(core))))
	ctx := context.Background()

	_, err := h.Invoke(ctx, "echo-tool.crash", nil)
	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.ErrorIs(t, err, client.ErrConnectionClosed)

	res, err := h.Invoke(ctx, "math-tool.add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Content)

	require.Eventually(t, func() bool { return !h.Servers()[0].Alive }, 5*time.Second, 20*time.Millisecond)
	assert.True(t, h.Servers()[1].Alive)

	health := h.HealthCheck(ctx)
	assert.Error(t, health["echo-tool"])
	assert.NoError(t, health["math-tool"])

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("exited unexpectedly").Len() > 0
	}, 5*time.Second, 20*time.Millisecond)
	fields := logs.FilterMessageSnippet("exited unexpectedly").All()[0].ContextMap()
	assert.Equal(t, "echo-tool", fields["server"])
	assert.Equal(t, "exit status 2", fields["exit"])
}

func TestPool_EnvOverlayAndFilter(t *testing.T) {
	t.Setenv("POOL_HELPER_SECRET", "from-parent")
	t.Setenv("POOL_HELPER_INHERITED", "inherited")
	d := NewDescriptor(os.Args[0], []string{"-test.run=^TestHelperProcess$", "--"},
		WithName("echo-tool"),
		WithEnv(map[string]string{helperModeEnv: "echo", "POOL_HELPER_SECRET": "from-overlay"}),
		WithToolFilter(ToolFilter{Exclude: []string{"crash"}}),
	)
	h := enter(t, testPool(t, []Descriptor{d}))
	ctx := context.Background()

	assert.Equal(t, []string{"echo-tool.echo", "echo-tool.env"}, toolNames(t, h))
	_, err := h.Invoke(ctx, "echo-tool.crash", nil)
	assert.ErrorIs(t, err, toolset.ErrUnknownTool)

	res, err := h.Invoke(ctx, "echo-tool.env", map[string]any{"key": "POOL_HELPER_SECRET"})
	require.NoError(t, err)
	assert.Equal(t, "from-overlay", res.Content)

	res, err = h.Invoke(ctx, "echo-tool.env", map[string]any{"key": "POOL_HELPER_INHERITED"})
	require.NoError(t, err)
	assert.Equal(t, "inherited", res.Content)
}

func TestPool_ExitDrainsInFlightCalls(t *testing.T) {
	h, err := testPool(t, []Descriptor{helper("slow-tool", "slow", nil)},
		WithDrainTimeout(5*time.Second)).Enter(context.Background())
	require.NoError(t, err)

	callDone := make(chan error, 1)
	go func() {
		_, err := h.Invoke(context.Background(), "slow-tool.sleep", map[string]any{"ms": 400})
		callDone <- err
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.Exit(context.Background()))
	select {
	case err := <-callDone:
		assert.NoError(t, err, "in-flight call should complete during the drain period")
	default:
		t.Fatal("Exit returned before the in-flight call finished")
	}

	_, err = h.Invoke(context.Background(), "slow-tool.sleep", map[string]any{"ms": 1})
	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_ExitCancelsCallsAfterDrainTimeout(t *testing.T) {
	h, err := testPool(t, []Descriptor{helper("slow-tool", "slow", nil)},
		WithDrainTimeout(100*time.Millisecond)).Enter(context.Background())
	require.NoError(t, err)

	callDone := make(chan error, 1)
	go func() {
		_, err := h.Invoke(context.Background(), "slow-tool.sleep", map[string]any{"ms": 10000})
		callDone <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_ = h.Exit(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	err = <-callDone
	var invErr *ToolInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_InvokeIsTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := enter(t, testPool(t, []Descriptor{helper("math-tool", "math", nil)}, WithTracerProvider(tp)))
	_, err := h.Invoke(context.Background(), "math-tool.add", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)

	var invoke *tracetest.SpanStub
	spans := exporter.GetSpans()
	for i := range spans {
		if spans[i].Name == "mcp.pool.invoke" {
			invoke = &spans[i]
		}
	}
	require.NotNil(t, invoke, "invoke span not recorded")

	attrs := map[string]string{}
	for _, kv := range invoke.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "math-tool", attrs["mcp.server"])
	assert.Equal(t, "add", attrs["mcp.tool"])
}

func TestPool_InvokeRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	h := enter(t, testPool(t, []Descriptor{helper("math-tool", "math", nil)}, WithMeterProvider(mp)))
	ctx := context.Background()
	_, err := h.Invoke(ctx, "math-tool.add", map[string]any{"a": 1, "b": 1})
	require.NoError(t, err)
	_, err = h.Invoke(ctx, "math-tool.divide", map[string]any{"a": 1, "b": 0})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m.Data
		}
	}
	require.Contains(t, found, "chatmcp.tool.latency")
	require.Contains(t, found, "chatmcp.tool.invocations")

	sum, ok := found["chatmcp.tool.invocations"].(metricdata.Sum[int64])
	require.True(t, ok)
	bySuccess := map[bool]int64{}
	for _, dp := range sum.DataPoints {
		v, ok := dp.Attributes.Value("success")
		require.True(t, ok)
		bySuccess[v.AsBool()] += dp.Value
	}
	assert.Equal(t, int64(1), bySuccess[true])
	assert.Equal(t, int64(1), bySuccess[false])
}

func TestRun_ExitsOnEveryPath(t *testing.T) {
	p := testPool(t, []Descriptor{helper("math-tool", "math", nil)})
	var pid int
	boom := errors.New("boom")

	err := Run(context.Background(), p, func(ctx context.Context, h *Handle) error {
		pid = h.Servers()[0].PID
		res, err := h.Invoke(ctx, "math-tool.add", map[string]any{"a": 1, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, "3", res.Content)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assertGone(t, pid)

	p = testPool(t, []Descriptor{helper("math-tool", "math", nil)})
	assert.Panics(t, func() {
		_ = Run(context.Background(), p, func(ctx context.Context, h *Handle) error {
			pid = h.Servers()[0].PID
			panic("handler exploded")
		})
	})
	assertGone(t, pid)
}

func TestRun_LaunchFailure(t *testing.T) {
	called := false
	err := Run(context.Background(), testPool(t, []Descriptor{helper("bad-tool", "bad", nil)}),
		func(context.Context, *Handle) error {
			called = true
			return nil
		})
	var lf *LaunchFailure
	assert.ErrorAs(t, err, &lf)
	assert.False(t, called)
}
