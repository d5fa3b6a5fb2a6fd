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

// Package toolset defines the capability surface agents see: a list of named
// tools with input schemas and a way to invoke them. Tool sources implement
// Provider and are composed with Compose.
package toolset

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownTool is matched (via errors.Is) by every error a provider
// returns for a name it does not advertise.
var ErrUnknownTool = errors.New("unknown tool")

// ToolSpec describes one callable tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Result is the outcome of a successful invocation.
type Result struct {
	Content    string         `json:"content"`
	Structured map[string]any `json:"structured,omitempty"`
	Duration   time.Duration  `json:"duration_ns"`
}

// Provider is a source of tools.
type Provider interface {
	// ListTools returns the provider's tools in a stable order.
	ListTools(ctx context.Context) ([]ToolSpec, error)

	// Invoke calls the named tool. Unknown names fail with an error
	// matching ErrUnknownTool.
	Invoke(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// UnknownToolError reports a tool name no provider advertises.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "unknown tool: " + e.Name
}

// Is lets errors.Is(err, ErrUnknownTool) match.
func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}
