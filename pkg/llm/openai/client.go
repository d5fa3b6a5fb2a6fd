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

// Package openai implements llm.Provider for OpenAI-compatible chat
// completion APIs. DeepSeek, the default backend, speaks this protocol.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/teradata-labs/chatmcp/pkg/llm"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

const (
	// DefaultModel is the DeepSeek chat model.
	DefaultModel = "deepseek-chat"
	// DefaultBaseURL is the DeepSeek API endpoint.
	DefaultBaseURL = "https://api.deepseek.com"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetries is how often the SDK retries 429 and 5xx responses.
	DefaultMaxRetries = 3
)

type chatCompletions interface {
	New(ctx context.Context, params openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
}

// Config holds configuration for the client.
type Config struct {
	// Name is reported by Name(). Default: "openai".
	Name        string
	APIKey      string
	BaseURL     string // Default: https://api.deepseek.com
	Model       string // Default: deepseek-chat
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client implements llm.Provider on the chat completions endpoint.
type Client struct {
	completions chatCompletions
	name        string
	model       string
	maxTokens   int
	temperature *float64
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a client. An API key is required.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
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
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openaisdk.NewClient(opts...)

	return &Client{
		completions: &client.Chat.Completions,
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends the conversation to the chat completions endpoint.
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

	params := openaisdk.ChatCompletionNewParams{
		Model:     shared.ChatModel(c.model),
		Messages:  convertMessages(messages, toWire),
		MaxTokens: openaisdk.Int(int64(c.maxTokens)),
	}
	if c.temperature != nil {
		params.Temperature = openaisdk.Float(*c.temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools, wire)
	}

	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	return convertResponse(completion, nameMap), nil
}

func convertMessages(messages []llm.Message, toWire map[string]string) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openaisdk.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, assistantMessage(m, toWire))
		case llm.RoleTool:
			content := m.Content
			if m.IsError {
				content = "Error: " + content
			}
			out = append(out, openaisdk.ToolMessage(content, m.ToolUseID))
		default:
			out = append(out, openaisdk.UserMessage(m.Content))
		}
	}
	return out
}

func assistantMessage(m llm.Message, toWire map[string]string) openaisdk.ChatCompletionMessageParamUnion {
	p := openaisdk.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		p.Content = openaisdk.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openaisdk.String(m.Content),
		}
	}
	for _, tc := range m.ToolCalls {
		name, ok := toWire[tc.Name]
		if !ok {
			name = llm.SanitizeToolName(tc.Name)
		}
		args := []byte("{}")
		if tc.Input != nil {
			args, _ = json.Marshal(tc.Input)
		}
		p.ToolCalls = append(p.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      name,
				Arguments: string(args),
			},
		})
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

func convertTools(tools []toolset.ToolSpec, wire []string) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for i, t := range tools {
		params := shared.FunctionParameters{"type": "object"}
		for k, v := range t.InputSchema {
			params[k] = v
		}
		fn := shared.FunctionDefinitionParam{
			Name:       wire[i],
			Parameters: params,
		}
		if t.Description != "" {
			fn.Description = openaisdk.String(t.Description)
		}
		out = append(out, openaisdk.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func convertResponse(completion *openaisdk.ChatCompletion, nameMap llm.ToolNameMap) *llm.Response {
	resp := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}

	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	resp.StopReason = choice.FinishReason
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:    tc.ID,
			Name:  nameMap.Reverse(tc.Function.Name),
			Input: parseArguments(tc.Function.Arguments),
		})
	}
	return resp
}

// parseArguments decodes the JSON argument string of a tool call. Models
// occasionally emit invalid JSON; the raw text is kept so schema validation
// reports it back to the model.
func parseArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}
