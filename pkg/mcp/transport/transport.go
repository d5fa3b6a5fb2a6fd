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

// Package transport moves newline-delimited JSON-RPC messages between the
// client and a tool server.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Receive once the transport is closed or
// the peer has gone away.
var ErrClosed = errors.New("transport closed")

// Transport is a bidirectional message pipe to one tool server.
type Transport interface {
	// Send writes one message. Implementations add the frame delimiter.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until the next message arrives, the peer goes away
	// (io.EOF or ErrClosed), or ctx is done.
	Receive(ctx context.Context) ([]byte, error)

	// Done is closed when the peer can no longer produce messages.
	Done() <-chan struct{}

	// Close releases the peer. It is idempotent and bounded by ctx.
	Close(ctx context.Context) error
}
