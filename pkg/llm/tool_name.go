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
	"strconv"
	"strings"
)

// maxToolNameLen is the longest tool name the hosted APIs accept.
const maxToolNameLen = 64

// SanitizeToolName converts a tool name to the ^[a-zA-Z0-9_-]{1,64}$ form
// required by the Anthropic and OpenAI APIs. Namespaced names such as
// "math.add" become "math_add".
func SanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxToolNameLen {
		s = s[:maxToolNameLen]
	}
	if s == "" {
		s = "_"
	}
	return s
}

// ToolNameMap maps sanitized names back to the original tool names.
type ToolNameMap map[string]string

// BuildToolNameMap sanitizes every name, suffixing collisions with _2, _3 and
// so on. It returns the wire names in input order alongside the reverse map.
func BuildToolNameMap(names []string) ([]string, ToolNameMap) {
	m := make(ToolNameMap, len(names))
	wire := make([]string, len(names))
	for i, name := range names {
		base := SanitizeToolName(name)
		s := base
		for n := 2; ; n++ {
			if _, taken := m[s]; !taken {
				break
			}
			suffix := "_" + strconv.Itoa(n)
			if len(base)+len(suffix) > maxToolNameLen {
				s = base[:maxToolNameLen-len(suffix)] + suffix
			} else {
				s = base + suffix
			}
		}
		m[s] = name
		wire[i] = s
	}
	return wire, m
}

// Reverse returns the original name for a sanitized one. Unknown names are
// returned unchanged.
func (m ToolNameMap) Reverse(sanitized string) string {
	if original, ok := m[sanitized]; ok {
		return original
	}
	return sanitized
}
