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

// Package pool supervises a fixed set of stdio MCP tool servers as one
// scoped resource. Enter starts every server or none; the returned Handle
// exposes the union of their tools under "<server>.<tool>" names and Exit
// stops every process it started.
package pool

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Separator joins a server name and a tool name into a qualified tool name.
const Separator = "."

// launchers are commands whose first non-flag argument names the real server.
var launchers = map[string]bool{
	"npx": true, "uvx": true, "uv": true, "bunx": true, "pnpx": true,
	"node": true, "python": true, "python3": true, "deno": true,
}

// Descriptor describes how to launch one tool server. It is immutable:
// accessors return copies.
type Descriptor struct {
	name    string
	command string
	args    []string
	env     map[string]string
	dir     string
	filter  ToolFilter
}

// ToolFilter limits which advertised tools are exposed. An empty filter
// exposes everything; Exclude applies after Include.
type ToolFilter struct {
	Include []string `mapstructure:"include" yaml:"include" json:"include,omitempty"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude" json:"exclude,omitempty"`
}

// Allows reports whether the tool passes the filter.
func (f ToolFilter) Allows(tool string) bool {
	if len(f.Include) > 0 && !slices.Contains(f.Include, tool) {
		return false
	}
	return !slices.Contains(f.Exclude, tool)
}

// DescriptorOption customizes a Descriptor at construction.
type DescriptorOption func(*Descriptor)

// WithName sets the namespace used for the server's tools.
func WithName(name string) DescriptorOption {
	return func(d *Descriptor) { d.name = name }
}

// WithEnv sets the environment overlay. Overlay values win over the host
// environment.
func WithEnv(env map[string]string) DescriptorOption {
	return func(d *Descriptor) {
		d.env = make(map[string]string, len(env))
		for k, v := range env {
			d.env[k] = v
		}
	}
}

// WithDir sets the working directory.
func WithDir(dir string) DescriptorOption {
	return func(d *Descriptor) { d.dir = dir }
}

// WithToolFilter restricts the exposed tools.
func WithToolFilter(f ToolFilter) DescriptorOption {
	return func(d *Descriptor) {
		d.filter = ToolFilter{Include: slices.Clone(f.Include), Exclude: slices.Clone(f.Exclude)}
	}
}

// NewDescriptor builds a descriptor. Nothing is validated here; Enter
// reports problems as launch failures.
func NewDescriptor(command string, args []string, opts ...DescriptorOption) Descriptor {
	d := Descriptor{command: command, args: slices.Clone(args)}
	for _, opt := range opts {
		opt(&d)
	}
	if d.name == "" {
		d.name = DeriveName(command, args)
	}
	return d
}

// Name returns the tool namespace.
func (d Descriptor) Name() string { return d.name }

// Command returns the executable.
func (d Descriptor) Command() string { return d.command }

// Args returns a copy of the arguments.
func (d Descriptor) Args() []string { return slices.Clone(d.args) }

// Dir returns the working directory, empty for the host's.
func (d Descriptor) Dir() string { return d.dir }

// Filter returns a copy of the tool filter.
func (d Descriptor) Filter() ToolFilter {
	return ToolFilter{Include: slices.Clone(d.filter.Include), Exclude: slices.Clone(d.filter.Exclude)}
}

// Env returns a copy of the environment overlay.
func (d Descriptor) Env() map[string]string {
	out := make(map[string]string, len(d.env))
	for k, v := range d.env {
		out[k] = v
	}
	return out
}

// Validate reports descriptor problems that make a launch pointless.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.command) == "" {
		return errors.New("command is required")
	}
	if d.name == "" {
		return errors.New("name is required")
	}
	if strings.Contains(d.name, Separator) {
		return fmt.Errorf("name %q must not contain %q", d.name, Separator)
	}
	return nil
}

// String renders the launch command line.
func (d Descriptor) String() string {
	return strings.TrimSpace(d.command + " " + strings.Join(d.args, " "))
}

// DeriveName picks a namespace from a command line: the base name of the
// command, or for launchers such as npx and uv the first argument that is
// not a flag or subcommand. Package scopes, versions and file extensions are
// dropped and dots become dashes.
func DeriveName(command string, args []string) string {
	base := filepath.Base(command)
	name := base
	if launchers[base] {
		for i := 0; i < len(args); i++ {
			a := args[i]
			if strings.HasPrefix(a, "-") {
				if a == "--directory" || a == "--from" || a == "--with" {
					i++
				}
				continue
			}
			if a == "run" || a == "exec" || a == "tool" {
				continue
			}
			name = a
			break
		}
	}

	name = filepath.Base(name)
	if at := strings.LastIndex(name, "@"); at > 0 {
		name = name[:at]
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, Separator, "-")
	if name == "" || name == "/" {
		return "server"
	}
	return name
}
