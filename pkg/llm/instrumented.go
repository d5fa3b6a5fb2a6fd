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

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/chatmcp/pkg/toolset"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentedProvider wraps a Provider with a span and a log line per Chat
// call. It is transparent to callers.
type InstrumentedProvider struct {
	provider Provider
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewInstrumentedProvider wraps provider. A nil logger disables logging.
func NewInstrumentedProvider(provider Provider, tracer trace.Tracer, logger *zap.Logger) *InstrumentedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{provider: provider, tracer: tracer, logger: logger}
}

// Name returns the underlying provider name.
func (p *InstrumentedProvider) Name() string { return p.provider.Name() }

// Model returns the underlying model identifier.
func (p *InstrumentedProvider) Model() string { return p.provider.Model() }

// Chat forwards to the underlying provider and records the call.
func (p *InstrumentedProvider) Chat(ctx context.Context, messages []Message, tools []toolset.ToolSpec) (*Response, error) {
	ctx, span := p.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.provider", p.provider.Name()),
		attribute.String("llm.model", p.provider.Model()),
		attribute.Int("llm.messages.count", len(messages)),
		attribute.Int("llm.tools.count", len(tools)),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.provider.Chat(ctx, messages, tools)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.logger.Warn("LLM call failed",
			zap.String("provider", p.provider.Name()),
			zap.String("model", p.provider.Model()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	toolNames := make([]string, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		toolNames[i] = tc.Name
	}
	span.SetAttributes(
		attribute.Int("llm.tokens.input", resp.Usage.InputTokens),
		attribute.Int("llm.tokens.output", resp.Usage.OutputTokens),
		attribute.Int("llm.tokens.total", resp.Usage.TotalTokens),
		attribute.String("llm.stop_reason", resp.StopReason),
		attribute.StringSlice("llm.tool_calls", toolNames),
	)
	span.SetStatus(codes.Ok, "")

	p.logger.Debug("LLM call completed",
		zap.String("provider", p.provider.Name()),
		zap.String("model", p.provider.Model()),
		zap.Duration("duration", duration),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Strings("tool_calls", toolNames),
	)
	return resp, nil
}
