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

// Package registry holds values that are published once during host startup
// and read by every request handler afterwards.
//
// A Slot replaces an ambient global: the host constructs one, publishes into
// it before serving, and passes it to the components that read it.
package registry

import (
	"errors"
	"sync/atomic"
)

// ErrNotInitialized is returned by Fetch before anything was published. It
// indicates a startup-ordering bug and should not be retried.
var ErrNotInitialized = errors.New("registry: value not published")

// Slot is a single-value container safe for concurrent Fetch calls.
// The zero value is an empty slot ready for use.
type Slot[T any] struct {
	name string
	v    atomic.Pointer[T]
}

// New returns an empty slot. The name only appears in error messages.
func New[T any](name string) *Slot[T] {
	return &Slot[T]{name: name}
}

// Publish stores v. It is meant to be called exactly once, before any
// reader runs; a second call replaces the value.
func (s *Slot[T]) Publish(v T) {
	s.v.Store(&v)
}

// Fetch returns the published value or ErrNotInitialized.
func (s *Slot[T]) Fetch() (T, error) {
	p := s.v.Load()
	if p == nil {
		var zero T
		if s.name != "" {
			return zero, &notInitializedError{name: s.name}
		}
		return zero, ErrNotInitialized
	}
	return *p, nil
}

// MustFetch is Fetch for callers that treat a missing value as fatal.
func (s *Slot[T]) MustFetch() T {
	v, err := s.Fetch()
	if err != nil {
		panic(err)
	}
	return v
}

// Published reports whether Publish has been called.
func (s *Slot[T]) Published() bool {
	return s.v.Load() != nil
}

type notInitializedError struct {
	name string
}

func (e *notInitializedError) Error() string {
	return "registry: " + e.name + " not published"
}

func (e *notInitializedError) Unwrap() error { return ErrNotInitialized }
