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
	"errors"
	"fmt"

	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
)

// maxToolPages guards against servers that return a cursor forever.
const maxToolPages = 100

// ToolResultError is returned when a tool reports isError in its result.
type ToolResultError struct {
	Tool   string
	Result *protocol.CallToolResult
}

func (e *ToolResultError) Error() string {
	if text := e.Result.Text(); text != "" {
		return fmt.Sprintf("tool %s reported an error: %s", e.Tool, text)
	}
	return fmt.Sprintf("tool %s reported an error", e.Tool)
}

// ListTools fetches every page of tools/list and caches the result in the
// order the server returned it.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	if !c.IsInitialized() {
		return nil, ErrNotInitialized
	}

	var tools []protocol.Tool
	cursor := ""
	for page := 0; ; page++ {
		if page == maxToolPages {
			return nil, fmt.Errorf("tools/list did not finish after %d pages", maxToolPages)
		}
		var result protocol.ToolListResult
		if err := c.call(ctx, protocol.MethodToolsList, protocol.ListToolsParams{Cursor: cursor}, &result); err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	byName := make(map[string]protocol.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	c.toolsMu.Lock()
	c.byName = byName
	c.toolsMu.Unlock()

	return append([]protocol.Tool(nil), tools...), nil
}

// CallTool invokes a tool. Arguments are checked against the cached input
// schema first. A result with isError set is returned as *ToolResultError.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.CallToolResult, error) {
	if !c.IsInitialized() {
		return nil, ErrNotInitialized
	}

	c.toolsMu.RLock()
	tool, known := c.byName[name]
	c.toolsMu.RUnlock()
	if known {
		if err := protocol.ValidateToolArguments(tool, arguments); err != nil {
			return nil, err
		}
	}

	var result protocol.CallToolResult
	err := c.call(ctx, protocol.MethodToolsCall, protocol.CallToolParams{Name: name, Arguments: arguments}, &result)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, &ToolResultError{Tool: name, Result: &result}
	}
	return &result, nil
}

// IsRemoteError reports whether err came from the server itself, either as
// a JSON-RPC error or a tool result flagged isError.
func IsRemoteError(err error) bool {
	var rpcErr *protocol.Error
	var toolErr *ToolResultError
	return errors.As(err, &rpcErr) || errors.As(err, &toolErr)
}
