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

// Package llm defines the model-client contract used by the agent: a
// conversation goes in with the tool specs the model may call, a Response
// with text and/or tool calls comes back.
package llm

import (
	"context"

	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its tool-result message.
	ID string `json:"id"`

	// Name is the tool name as advertised by the toolset, not the
	// provider-safe form sent over the wire.
	Name string `json:"name"`

	Input map[string]any `json:"input,omitempty"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolUseID and IsError are set on tool-result messages.
	ToolUseID string
	IsError   bool
}

// Usage tracks token usage for one Chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the model's answer to one Chat call.
type Response struct {
	// Content is the text part of the answer, possibly empty when the model
	// only requested tools.
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Provider is a chat model backend.
type Provider interface {
	// Chat sends the conversation and returns the model's next turn.
	Chat(ctx context.Context, messages []Message, tools []toolset.ToolSpec) (*Response, error)

	// Name returns the provider name, e.g. "anthropic".
	Name() string

	// Model returns the model identifier.
	Model() string
}
