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

// Package agent builds per-session chat agents that answer a message with a
// model, calling tools from a shared toolset along the way.
package agent

import (
	"time"

	"github.com/teradata-labs/chatmcp/pkg/llm"
)

// EventType classifies agent events.
type EventType string

const (
	// EventToolCall is emitted before a tool is invoked.
	EventToolCall EventType = "tool_call"
	// EventToolResult is emitted after a tool returned or failed.
	EventToolResult EventType = "tool_result"
	// EventReply is emitted with the final answer of a run.
	EventReply EventType = "reply"
	// EventError is emitted when a run fails.
	EventError EventType = "error"
)

// Event reports progress of a run to observers such as the SSE stream.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Time      time.Time      `json:"time"`
}

// ToolExecution records one tool call made during a run.
type ToolExecution struct {
	Tool     string         `json:"tool"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output"`
	IsError  bool           `json:"is_error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Response is the outcome of one Run.
type Response struct {
	SessionID      string          `json:"session_id"`
	RunID          string          `json:"run_id"`
	Content        string          `json:"content"`
	ToolExecutions []ToolExecution `json:"tool_executions,omitempty"`
	Turns          int             `json:"turns"`
	Usage          llm.Usage       `json:"usage"`
}
