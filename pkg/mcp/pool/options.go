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

package pool

import (
	"time"

	"github.com/teradata-labs/chatmcp/pkg/mcp/protocol"
	"github.com/teradata-labs/chatmcp/pkg/mcp/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Defaults for pool timing.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultCallTimeout      = 60 * time.Second
	DefaultDrainTimeout     = 10 * time.Second
)

const instrumentationName = "github.com/teradata-labs/chatmcp/pkg/mcp/pool"

type options struct {
	logger           *zap.Logger
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	gracePeriod      time.Duration
	drainTimeout     time.Duration
	clientInfo       protocol.Implementation
	tracer           trace.Tracer
	meter            metric.Meter
}

func defaultOptions() options {
	return options{
		logger:           zap.NewNop(),
		handshakeTimeout: DefaultHandshakeTimeout,
		callTimeout:      DefaultCallTimeout,
		gracePeriod:      transport.DefaultGracePeriod,
		drainTimeout:     DefaultDrainTimeout,
		clientInfo:       protocol.Implementation{Name: "chatmcp", Version: "dev"},
		tracer:           otel.Tracer(instrumentationName),
		meter:            otel.Meter(instrumentationName),
	}
}

// Option configures a Pool.
type Option func(*options)

// WithLogger sets the logger. Each server logs with a "server" field.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHandshakeTimeout bounds start, initialize and tool discovery for each
// server during Enter.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithCallTimeout bounds each Invoke.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithGracePeriod sets how long a server has to exit after SIGTERM before it
// is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithDrainTimeout sets how long Exit waits for in-flight calls before
// cancelling them.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithClientInfo sets the implementation reported during initialize.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientInfo = protocol.Implementation{Name: name, Version: version}
	}
}

// WithTracerProvider sets the provider used for pool spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider used for invocation metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meter = mp.Meter(instrumentationName)
		}
	}
}
