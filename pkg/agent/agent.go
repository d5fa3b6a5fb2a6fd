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

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teradata-labs/chatmcp/pkg/llm"
	"github.com/teradata-labs/chatmcp/pkg/session"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

const (
	// DefaultInstructions is the system prompt used when none is configured.
	DefaultInstructions = "You are an assistant that helps me."
	// DefaultHistoryRuns is how many previous runs are replayed to the model.
	DefaultHistoryRuns = 3
	// DefaultMaxTurns bounds model calls per run.
	DefaultMaxTurns = 10

	// EmptyReply is returned when the model produced no text.
	EmptyReply = "The model returned an empty response."
	// maxTurnsReply is returned when the final synthesis call fails too.
	maxTurnsReply = "I could not finish within the allowed number of steps. Please try a narrower request."
)

// Factory holds what every agent shares. It is safe for concurrent use once
// built; New is called per request.
type Factory struct {
	Provider llm.Provider

	// Tools is the capability set handed to every agent, typically a
	// toolset.Toolset over the published tool server pool and the built-ins.
	Tools toolset.Provider

	// Store persists history. Optional.
	Store *session.Store

	Instructions string
	HistoryRuns  int
	MaxTurns     int

	Logger *zap.Logger
	Tracer trace.Tracer

	// OnEvent observes tool calls and replies. Called synchronously.
	OnEvent func(Event)
}

// Agent answers messages for one session.
type Agent struct {
	f         *Factory
	sessionID string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New returns an agent bound to sessionID. An empty ID starts a new session.
func (f *Factory) New(sessionID string) *Agent {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := f.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/teradata-labs/chatmcp/pkg/agent")
	}
	return &Agent{
		f:         f,
		sessionID: sessionID,
		logger:    logger.With(zap.String("session_id", sessionID)),
		tracer:    tracer,
	}
}

// SessionID returns the session the agent is bound to.
func (a *Agent) SessionID() string { return a.sessionID }

// Run answers message. Tool failures are reported to the model as error
// results and never abort the run; model and storage failures do.
func (a *Agent) Run(ctx context.Context, message string) (resp *Response, err error) {
	runID := uuid.NewString()
	ctx = session.WithRunID(session.WithSessionID(ctx, a.sessionID), runID)
	logger := a.logger.With(zap.String("run_id", runID))

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.id", a.sessionID),
		attribute.String("run.id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.emit(Event{Type: EventError, RunID: runID, Content: err.Error()})
		}
		span.End()
	}()

	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is empty")
	}

	specs, err := a.f.Tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	history, err := a.history(ctx)
	if err != nil {
		return nil, err
	}

	instructions := a.f.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instructions})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})
	newFrom := len(messages) - 1

	maxTurns := a.f.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	resp = &Response{SessionID: a.sessionID, RunID: runID}
	for resp.Turns < maxTurns {
		resp.Turns++
		reply, err := a.f.Provider.Chat(ctx, messages, specs)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		addUsage(&resp.Usage, reply.Usage)

		if len(reply.ToolCalls) == 0 {
			resp.Content = reply.Content
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply.Content})
			return a.finish(ctx, logger, resp, messages[newFrom:])
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			exec := a.invoke(ctx, logger, runID, call)
			resp.ToolExecutions = append(resp.ToolExecutions, exec)
			messages = append(messages, llm.Message{
				Role:      llm.RoleTool,
				Content:   exec.Output,
				ToolUseID: call.ID,
				IsError:   exec.IsError,
			})
		}
	}

	// Out of turns: one more call without tools forces a written answer.
	logger.Warn("Max turns reached, asking the model to conclude", zap.Int("turns", resp.Turns))
	reply, err := a.f.Provider.Chat(ctx, messages, nil)
	if err != nil {
		logger.Warn("Final synthesis call failed", zap.Error(err))
		resp.Content = maxTurnsReply
	} else {
		addUsage(&resp.Usage, reply.Usage)
		resp.Content = reply.Content
	}
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	return a.finish(ctx, logger, resp, messages[newFrom:])
}

func (a *Agent) history(ctx context.Context) ([]llm.Message, error) {
	if a.f.Store == nil {
		return nil, nil
	}
	if err := a.f.Store.EnsureSession(ctx, a.sessionID); err != nil {
		return nil, err
	}
	runs := a.f.HistoryRuns
	if runs == 0 {
		runs = DefaultHistoryRuns
	}
	stored, err := a.f.Store.History(ctx, a.sessionID, runs)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, len(stored))
	for i, m := range stored {
		out[i] = m.Message
	}
	return out, nil
}

func (a *Agent) invoke(ctx context.Context, logger *zap.Logger, runID string, call llm.ToolCall) ToolExecution {
	a.emit(Event{Type: EventToolCall, RunID: runID, Tool: call.Name, Input: call.Input})

	start := time.Now()
	res, err := a.f.Tools.Invoke(ctx, call.Name, call.Input)
	exec := ToolExecution{Tool: call.Name, Input: call.Input, Duration: time.Since(start)}

	switch {
	case err != nil:
		exec.IsError = true
		exec.Output = "Error: " + err.Error()
		logger.Warn("Tool call failed", zap.String("tool", call.Name), zap.Error(err))
	case res.Content == "":
		exec.Output = "(no output)"
	default:
		exec.Output = res.Content
	}

	a.emit(Event{
		Type:     EventToolResult,
		RunID:    runID,
		Tool:     call.Name,
		Content:  exec.Output,
		IsError:  exec.IsError,
		Duration: exec.Duration,
	})
	return exec
}

func (a *Agent) finish(ctx context.Context, logger *zap.Logger, resp *Response, produced []llm.Message) (*Response, error) {
	if strings.TrimSpace(resp.Content) == "" {
		resp.Content = EmptyReply
		produced[len(produced)-1].Content = EmptyReply
	}

	if a.f.Store != nil {
		msgs := make([]*session.Message, len(produced))
		for i, m := range produced {
			msgs[i] = &session.Message{Message: m, SessionID: a.sessionID, RunID: resp.RunID}
		}
		if err := a.f.Store.Append(ctx, msgs...); err != nil {
			return nil, fmt.Errorf("persist run: %w", err)
		}
	}

	a.emit(Event{Type: EventReply, RunID: resp.RunID, Content: resp.Content})
	logger.Info("Agent run completed",
		zap.Int("turns", resp.Turns),
		zap.Int("tool_calls", len(resp.ToolExecutions)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (a *Agent) emit(e Event) {
	if a.f.OnEvent == nil {
		return
	}
	e.SessionID = a.sessionID
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	a.f.OnEvent(e)
}

func addUsage(total *llm.Usage, u llm.Usage) {
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
}
