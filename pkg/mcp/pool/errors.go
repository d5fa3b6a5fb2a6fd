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
	"errors"
	"fmt"

	"github.com/teradata-labs/chatmcp/pkg/mcp/client"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

var (
	// ErrAlreadyEntered is returned by Enter on a pool that is active or
	// has already been exited.
	ErrAlreadyEntered = errors.New("pool already entered")

	// ErrClosed is wrapped by ToolInvocationError for calls made after
	// Exit has begun.
	ErrClosed = errors.New("pool is shutting down")
)

// LaunchFailure reports a server that could not be started or did not
// complete its handshake. When Enter returns it, no server from the pool is
// running.
type LaunchFailure struct {
	Server string
	Err    error
	Stderr string // trailing stderr of the failed process, if any
}

func (e *LaunchFailure) Error() string {
	msg := fmt.Sprintf("launch tool server %s: %v", e.Server, e.Err)
	if e.Stderr != "" {
		msg += "\nstderr:\n" + e.Stderr
	}
	return msg
}

func (e *LaunchFailure) Unwrap() error { return e.Err }

// UnknownToolError is returned by Invoke for a name no server advertises.
// It matches toolset.ErrUnknownTool.
type UnknownToolError = toolset.UnknownToolError

// ToolInvocationError reports a failed call to a known tool: a remote
// error, a rejected argument set, a timeout, or a lost connection.
type ToolInvocationError struct {
	Tool   string
	Server string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// Remote reports whether the server itself produced the failure, as
// opposed to a timeout or transport problem on our side.
func (e *ToolInvocationError) Remote() bool {
	return client.IsRemoteError(e.Err)
}
