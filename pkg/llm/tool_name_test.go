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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no change needed", "execute_sql", "execute_sql"},
		{"namespace separator", "math-tool.add", "math-tool_add"},
		{"multiple separators", "feedmob.reports.daily", "feedmob_reports_daily"},
		{"colon", "vantage-mcp:execute_sql", "vantage-mcp_execute_sql"},
		{"unicode", "météo.now", "m_t_o_now"},
		{"empty string", "", "_"},
		{"too long", strings.Repeat("a", 70), strings.Repeat("a", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeToolName(tt.input))
		})
	}
}

func TestBuildToolNameMap(t *testing.T) {
	names := []string{"math-tool.add", "echo-tool.echo", "simple_tool"}
	wire, m := BuildToolNameMap(names)

	assert.Equal(t, []string{"math-tool_add", "echo-tool_echo", "simple_tool"}, wire)
	assert.Equal(t, "math-tool.add", m.Reverse("math-tool_add"))
	assert.Equal(t, "echo-tool.echo", m.Reverse("echo-tool_echo"))
	assert.Equal(t, "simple_tool", m.Reverse("simple_tool"))
}

func TestBuildToolNameMap_Collisions(t *testing.T) {
	long := strings.Repeat("x", 64)
	wire, m := BuildToolNameMap([]string{"a.b", "a_b", "a:b", long + ".1", long + ".2"})

	assert.Equal(t, []string{"a_b", "a_b_2", "a_b_3", long, strings.Repeat("x", 62) + "_2"}, wire)
	assert.Equal(t, "a.b", m.Reverse("a_b"))
	assert.Equal(t, "a_b", m.Reverse("a_b_2"))
	assert.Equal(t, "a:b", m.Reverse("a_b_3"))
	assert.Equal(t, long+".2", m.Reverse(strings.Repeat("x", 62)+"_2"))
}

func TestToolNameMap_ReverseUnknown(t *testing.T) {
	var m ToolNameMap
	assert.Equal(t, "unknown_tool", m.Reverse("unknown_tool"))
}
