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

package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BuiltinTool is a tool implemented in process.
type BuiltinTool struct {
	Spec ToolSpec
	Func func(ctx context.Context, args map[string]any) (string, error)
}

// Builtin serves a fixed set of in-process tools.
type Builtin struct {
	tools []BuiltinTool
	index map[string]int
}

// NewBuiltin returns a provider over tools. Duplicate names are rejected.
func NewBuiltin(tools ...BuiltinTool) (*Builtin, error) {
	b := &Builtin{index: make(map[string]int, len(tools))}
	for _, t := range tools {
		if t.Spec.Name == "" || t.Func == nil {
			return nil, fmt.Errorf("builtin tool requires a name and a function")
		}
		if _, dup := b.index[t.Spec.Name]; dup {
			return nil, fmt.Errorf("duplicate builtin tool %q", t.Spec.Name)
		}
		b.index[t.Spec.Name] = len(b.tools)
		b.tools = append(b.tools, t)
	}
	return b, nil
}

// ListTools implements Provider.
func (b *Builtin) ListTools(context.Context) ([]ToolSpec, error) {
	out := make([]ToolSpec, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t.Spec)
	}
	return out, nil
}

// Invoke implements Provider.
func (b *Builtin) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	i, ok := b.index[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	start := time.Now()
	out, err := b.tools[i].Func(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Result{Content: out, Duration: time.Since(start)}, nil
}

// CurrentTime reports the current time, optionally in an IANA time zone.
func CurrentTime(now func() time.Time) BuiltinTool {
	if now == nil {
		now = time.Now
	}
	return BuiltinTool{
		Spec: ToolSpec{
			Name:        "current_time",
			Description: "Returns the current date and time in RFC 3339 format.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA time zone name, for example Asia/Shanghai. Defaults to UTC.",
					},
				},
			},
		},
		Func: func(_ context.Context, args map[string]any) (string, error) {
			loc := time.UTC
			if tz, _ := args["timezone"].(string); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", tz)
				}
				loc = l
			}
			t := now().In(loc)
			out, err := json.Marshal(map[string]string{
				"time":     t.Format(time.RFC3339),
				"weekday":  t.Weekday().String(),
				"timezone": loc.String(),
			})
			return string(out), err
		},
	}
}
