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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long Close waits after the termination signal
// before killing the process group.
const DefaultGracePeriod = 5 * time.Second

// reapTimeout bounds the wait for a killed process to be reaped.
const reapTimeout = 2 * time.Second

// stderrTailLines is how many trailing stderr lines are kept for diagnostics.
const stderrTailLines = 20

// ErrKilled is wrapped by Close when the process had to be killed.
var ErrKilled = errors.New("process killed after grace period")

// StdioConfig configures the stdio transport
type StdioConfig struct {
	Command     string            // Executable, resolved through PATH
	Args        []string          // Command arguments
	Env         map[string]string // Overlay on the parent environment
	Dir         string            // Working directory, empty for the parent's
	GracePeriod time.Duration     // Defaults to DefaultGracePeriod
	Logger      *zap.Logger       // Receives lifecycle and stderr lines
}

// StdioTransport speaks newline-delimited JSON-RPC to a child process over
// its stdin and stdout.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger
	grace  time.Duration

	writeMu sync.Mutex

	lines    chan []byte
	readDone chan struct{}
	readErr  error

	exited  chan struct{}
	waitErr error

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error

	tailMu sync.Mutex
	tail   []string
}

// NewStdioTransport starts the process and returns once it is running.
func NewStdioTransport(config StdioConfig) (*StdioTransport, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, errors.New("stdio transport: command is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}

	// #nosec G204 -- tool servers are launched from operator configuration
	cmd := exec.Command(config.Command, config.Args...)
	cmd.Dir = config.Dir
	cmd.Env = ProcessEnv(config.Env)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", config.Command, err)
	}

	s := &StdioTransport{
		cmd:      cmd,
		stdin:    stdin,
		logger:   config.Logger,
		grace:    config.GracePeriod,
		lines:    make(chan []byte),
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
		closing:  make(chan struct{}),
	}

	go s.readLoop(stdout)
	go s.waitLoop(stderr)

	s.logger.Info("tool server started",
		zap.String("command", config.Command),
		zap.Strings("args", config.Args),
		zap.String("dir", config.Dir),
		zap.Int("pid", cmd.Process.Pid),
	)
	return s, nil
}

// PID returns the operating system process id.
func (s *StdioTransport) PID() int {
	return s.cmd.Process.Pid
}

// Done is closed once stdout has reached EOF or failed.
func (s *StdioTransport) Done() <-chan struct{} {
	return s.readDone
}

// Exited is closed once the process has been reaped.
func (s *StdioTransport) Exited() <-chan struct{} {
	return s.exited
}

// ExitErr returns the process exit error after Exited is closed.
func (s *StdioTransport) ExitErr() error {
	select {
	case <-s.exited:
		return s.waitErr
	default:
		return nil
	}
}

// StderrTail returns the last lines the process wrote to stderr.
func (s *StdioTransport) StderrTail() string {
	s.tailMu.Lock()
	defer s.tailMu.Unlock()
	return strings.Join(s.tail, "\n")
}

func (s *StdioTransport) readLoop(stdout io.Reader) {
	defer close(s.readDone)

	// bufio.Reader rather than Scanner: tool results have no size bound.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case s.lines <- line:
			case <-s.closing:
				s.readErr = ErrClosed
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

func (s *StdioTransport) waitLoop(stderr io.Reader) {
	defer close(s.exited)

	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			s.recordStderr(line)
		}
		if err != nil {
			break
		}
	}

	// Wait closes the pipes, so both readers must be finished first.
	<-s.readDone
	s.waitErr = s.cmd.Wait()
	if s.waitErr != nil {
		s.logger.Debug("tool server exited", zap.Int("pid", s.PID()), zap.Error(s.waitErr))
	} else {
		s.logger.Debug("tool server exited", zap.Int("pid", s.PID()))
	}
}

func (s *StdioTransport) recordStderr(line string) {
	s.logger.Debug("tool server stderr", zap.Int("pid", s.PID()), zap.String("line", line))

	s.tailMu.Lock()
	defer s.tailMu.Unlock()
	s.tail = append(s.tail, line)
	if len(s.tail) > stderrTailLines {
		s.tail = s.tail[len(s.tail)-stderrTailLines:]
	}
}

// Send implements Transport by writing the message and a newline to stdin.
func (s *StdioTransport) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closing:
		return ErrClosed
	default:
	}

	frame := make([]byte, 0, len(message)+1)
	frame = append(frame, message...)
	frame = append(frame, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive implements Transport by returning the next non-empty stdout line.
func (s *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line := <-s.lines:
		return line, nil
	case <-s.readDone:
		if s.readErr == nil {
			return nil, io.EOF
		}
		return nil, s.readErr
	}
}

// Close stops the process: stdin is closed and the process group receives
// SIGTERM; if it is still running after the grace period, or ctx ends first,
// the group is killed. Close returns an error wrapping ErrKilled when the
// kill was needed.
func (s *StdioTransport) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.closeErr = s.stop(ctx)
	})
	return s.closeErr
}

func (s *StdioTransport) stop(ctx context.Context) error {
	pid := s.PID()
	_ = s.stdin.Close()

	select {
	case <-s.exited:
		return nil
	default:
	}

	s.logger.Info("stopping tool server", zap.Int("pid", pid), zap.Duration("grace_period", s.grace))
	if err := terminate(s.cmd); err != nil {
		s.logger.Warn("failed to signal tool server", zap.Int("pid", pid), zap.Error(err))
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-s.exited:
		s.logger.Info("tool server stopped", zap.Int("pid", pid))
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	s.logger.Warn("tool server did not stop in time, killing", zap.Int("pid", pid))
	if err := kill(s.cmd); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}

	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-s.exited:
		return fmt.Errorf("pid %d: %w", pid, ErrKilled)
	case <-reap.C:
		return fmt.Errorf("pid %d: not reaped %s after kill", pid, reapTimeout)
	}
}
