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
	"fmt"
)

// Toolset composes providers. Names are resolved in provider order, so an
// earlier provider shadows a later one that advertises the same name.
type Toolset struct {
	providers []Provider
}

// Compose returns a Toolset over the given providers. Nil entries are skipped.
func Compose(providers ...Provider) *Toolset {
	ts := &Toolset{}
	for _, p := range providers {
		if p != nil {
			ts.providers = append(ts.providers, p)
		}
	}
	return ts
}

// ListTools returns the union of all providers' tools, first occurrence wins.
func (t *Toolset) ListTools(ctx context.Context) ([]ToolSpec, error) {
	var out []ToolSpec
	seen := make(map[string]struct{})
	for _, p := range t.providers {
		specs, err := p.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range specs {
			if _, dup := seen[s.Name]; dup {
				continue
			}
			seen[s.Name] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// Invoke routes the call to the first provider that advertises name.
func (t *Toolset) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	for _, p := range t.providers {
		specs, err := p.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, s := range specs {
			if s.Name == name {
				return p.Invoke(ctx, name, args)
			}
		}
	}
	return nil, &UnknownToolError{Name: name}
}

// Lazy resolves its provider on every call, which lets an agent be built
// before the provider it depends on has been published.
func Lazy(resolve func() (Provider, error)) Provider {
	return lazy(resolve)
}

type lazy func() (Provider, error)

func (l lazy) ListTools(ctx context.Context) ([]ToolSpec, error) {
	p, err := l()
	if err != nil {
		return nil, err
	}
	return p.ListTools(ctx)
}

func (l lazy) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	p, err := l()
	if err != nil {
		return nil, err
	}
	return p.Invoke(ctx, name, args)
}
