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

// Package anthropic implements llm.Provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/teradata-labs/chatmcp/pkg/llm"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetries is how often the SDK retries 429 and 5xx responses.
	DefaultMaxRetries = 3
)

type messagesAPI interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	BaseURL     string // Default: SDK default
	Model       string // Default: claude-sonnet-4-5-20250929
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client implements llm.Provider for Claude.
type Client struct {
	messages    messagesAPI
	model       string
	maxTokens   int
	temperature *float64
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a new Anthropic client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropicsdk.NewClient(opts...)

	return &Client{
		messages:    &client.Messages,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "anthropic" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Claude and returns the response.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []toolset.ToolSpec) (*llm.Response, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	wire, nameMap := llm.BuildToolNameMap(names)
	toWire := make(map[string]string, len(wire))
	for i, w := range wire {
		toWire[names[i]] = w
	}

	system, apiMessages := convertMessages(messages, toWire)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  apiMessages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temperature != nil {
		params.Temperature = anthropicsdk.Float(*c.temperature)
	}
	if len(tools) > 0 {
		apiTools, err := convertTools(tools, wire)
		if err != nil {
			return nil, err
		}
		params.Tools = apiTools
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}
	return convertResponse(msg, nameMap), nil
}

// convertMessages splits out system prompts and groups consecutive tool
// results into one user turn, which the API requires after a tool_use turn.
func convertMessages(messages []llm.Message, toWire map[string]string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var system []anthropicsdk.TextBlockParam
	var out []anthropicsdk.MessageParam
	var results []anthropicsdk.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropicsdk.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range messages {
		if m.Role == llm.RoleTool {
			results = append(results, anthropicsdk.NewToolResultBlock(m.ToolUseID, m.Content, m.IsError))
			continue
		}
		flush()

		switch m.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
			}
		case llm.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				name, ok := toWire[tc.Name]
				if !ok {
					name = llm.SanitizeToolName(tc.Name)
				}
				input := tc.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicsdk.NewTextBlock("."))
			}
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
		default:
			content := m.Content
			if strings.TrimSpace(content) == "" {
				content = "."
			}
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(content)))
		}
	}
	flush()
	return system, out
}

func convertTools(tools []toolset.ToolSpec, wire []string) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for i, t := range tools {
		schema := map[string]any{"type": "object"}
		for k, v := range t.InputSchema {
			schema[k] = v
		}
		data, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		var inputSchema anthropicsdk.ToolInputSchemaParam
		if err := json.Unmarshal(data, &inputSchema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}

		tool := anthropicsdk.ToolParam{
			Name:        wire[i],
			InputSchema: inputSchema,
		}
		if t.Description != "" {
			tool.Description = anthropicsdk.String(t.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func convertResponse(msg *anthropicsdk.Message, nameMap llm.ToolNameMap) *llm.Response {
	resp := &llm.Response{
		StopReason: string(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					input = map[string]any{"raw": string(block.Input)}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  nameMap.Reverse(block.Name),
				Input: input,
			})
		}
	}
	resp.Content = strings.Join(text, "\n")
	return resp
}
