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

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestHelperProcess is not a real test. It is re-executed as the child
// process by the tests below.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("GO_WANT_TRANSPORT_HELPER")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	switch mode {
	case "echo":
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	case "env":
		fmt.Println(os.Getenv("TRANSPORT_HELPER_VALUE"))
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Println(wd)
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "stderr-exit":
		fmt.Fprintln(os.Stderr, "fatal: missing credentials")
		os.Exit(3)
	case "blank-lines":
		fmt.Print("\n\r\n{\"a\":1}\r\n")
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "ignore-term":
		ignoreTerm()
		fmt.Println("ready")
		time.Sleep(time.Hour)
	}
}

func helperConfig(t *testing.T, mode string, env map[string]string) StdioConfig {
	overlay := map[string]string{"GO_WANT_TRANSPORT_HELPER": mode}
	for k, v := range env {
		overlay[k] = v
	}
	return StdioConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess", "--"},
		Env:         overlay,
		GracePeriod: 2 * time.Second,
		Logger:      zaptest.NewLogger(t),
	}
}

func startHelper(t *testing.T, cfg StdioConfig) *StdioTransport {
	t.Helper()
	tr, err := NewStdioTransport(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestNewStdioTransport_RequiresCommand(t *testing.T) {
	_, err := NewStdioTransport(StdioConfig{Command: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestNewStdioTransport_CommandNotFound(t *testing.T) {
	_, err := NewStdioTransport(StdioConfig{Command: "definitely-not-a-real-binary-7f3a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestStdioTransport_SendReceive(t *testing.T) {
	tr := startHelper(t, helperConfig(t, "echo", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, tr.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	line, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(line))
	assert.Greater(t, tr.PID(), 0)
}

func TestStdioTransport_EnvOverlayWins(t *testing.T) {
	t.Setenv("TRANSPORT_HELPER_VALUE", "from-parent")
	tr := startHelper(t, helperConfig(t, "env", map[string]string{"TRANSPORT_HELPER_VALUE": "from-overlay"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	line, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-overlay", string(line))
}

func TestStdioTransport_InheritsParentEnv(t *testing.T) {
	t.Setenv("TRANSPORT_HELPER_VALUE", "from-parent")
	tr := startHelper(t, helperConfig(t, "env", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	line, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-parent", string(line))
}

func TestStdioTransport_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	cfg := helperConfig(t, "pwd", nil)
	cfg.Dir = dir
	tr := startHelper(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	line, err := tr.Receive(ctx)
	require.NoError(t, err)

	want, err := os.Stat(dir)
	require.NoError(t, err)
	got, err := os.Stat(string(line))
	require.NoError(t, err)
	assert.True(t, os.SameFile(want, got))
}

func TestStdioTransport_SkipsBlankLines(t *testing.T) {
	tr := startHelper(t, helperConfig(t, "blank-lines", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	line, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))
}

func TestStdioTransport_ProcessExitDetected(t *testing.T) {
	tr := startHelper(t, helperConfig(t, "stderr-exit", nil))

	select {
	case <-tr.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done should be closed once the process has exited")
	}

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, tr.StderrTail(), "missing credentials")

	var exitErr interface{ ExitCode() int }
	require.True(t, errors.As(tr.ExitErr(), &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestStdioTransport_ReceiveHonorsContext(t *testing.T) {
	tr := startHelper(t, helperConfig(t, "echo", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStdioTransport_CloseIsGracefulAndIdempotent(t *testing.T) {
	tr := startHelper(t, helperConfig(t, "echo", nil))

	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	select {
	case <-tr.Exited():
	default:
		t.Fatal("process should be reaped after Close")
	}

	err := tr.Send(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
}
