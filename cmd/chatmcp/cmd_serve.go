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
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/teradata-labs/chatmcp/internal/telemetry"
	"github.com/teradata-labs/chatmcp/internal/version"
	"github.com/teradata-labs/chatmcp/pkg/agent"
	"github.com/teradata-labs/chatmcp/pkg/llm"
	"github.com/teradata-labs/chatmcp/pkg/llm/factory"
	"github.com/teradata-labs/chatmcp/pkg/mcp/pool"
	"github.com/teradata-labs/chatmcp/pkg/registry"
	"github.com/teradata-labs/chatmcp/pkg/server"
	"github.com/teradata-labs/chatmcp/pkg/session"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

var defaultInstructions = heredoc.Doc(`
	You are an assistant that helps me.
	Use the available tools when they can answer the question, and say which tool you used.
`)

const healthTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tool servers and the chat API",
	Long: heredoc.Doc(`
		Start every configured MCP server, then serve the chat API until
		SIGINT or SIGTERM. Startup fails if any server cannot be launched
		or does not complete its handshake.
	`),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), config)
	},
}

// poolOptions turns the pool section of the config into pool options.
func poolOptions(cfg *Config, logger *zap.Logger) []pool.Option {
	return []pool.Option{
		pool.WithLogger(logger),
		pool.WithHandshakeTimeout(cfg.MCP.HandshakeTimeout),
		pool.WithCallTimeout(cfg.MCP.CallTimeout),
		pool.WithGracePeriod(cfg.MCP.GracePeriod),
		pool.WithDrainTimeout(cfg.MCP.DrainTimeout),
		pool.WithClientInfo("chatmcp", version.Get()),
		pool.WithTracerProvider(otel.GetTracerProvider()),
		pool.WithMeterProvider(otel.GetMeterProvider()),
	}
}

func runServe(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting chatmcp", zap.String("version", version.Long()))
	if used := vp.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults and environment")
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, version.Get())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tool servers first: the API must not accept requests before the
	// pool is published.
	descriptors := cfg.Descriptors()
	logger.Info("Starting MCP servers", zap.Int("count", len(descriptors)))
	handle, err := pool.New(descriptors, poolOptions(cfg, logger)...).Enter(ctx)
	if err != nil {
		var lf *pool.LaunchFailure
		if errors.As(err, &lf) && lf.Stderr != "" {
			logger.Error("MCP server failed to start",
				zap.String("server", lf.Server),
				zap.String("stderr", lf.Stderr))
		}
		return fmt.Errorf("failed to start MCP servers: %w", err)
	}
	defer func() {
		ectx, cancel := context.WithTimeout(context.Background(), cfg.MCP.DrainTimeout+cfg.MCP.GracePeriod+cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := handle.Exit(ectx); err != nil {
			logger.Warn("MCP servers did not all stop cleanly", zap.Error(err))
		} else {
			logger.Info("MCP servers stopped")
		}
	}()

	slot := registry.New[*pool.Handle]("tool server pool")
	slot.Publish(handle)

	var storeOpts []session.Option
	if cfg.Database.EncryptionKey != "" {
		storeOpts = append(storeOpts, session.WithEncryptionKey(cfg.Database.EncryptionKey))
	}
	store, err := session.Open(ctx, cfg.Database.Path, logger, storeOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := factory.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	tracer := otel.Tracer("github.com/teradata-labs/chatmcp")
	provider = llm.NewInstrumentedProvider(provider, tracer, logger)
	logger.Info("LLM provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()))

	tools, err := buildToolset(cfg, slot)
	if err != nil {
		return err
	}
	agents := &agent.Factory{
		Provider:     provider,
		Tools:        tools,
		Store:        store,
		Instructions: cfg.Agent.Instructions,
		HistoryRuns:  cfg.Agent.HistoryRuns,
		MaxTurns:     cfg.Agent.MaxTurns,
		Logger:       logger,
		Tracer:       tracer,
	}

	scheduler, err := startHealthJob(cfg.MCP.HealthSchedule, slot, logger)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := server.New(server.Config{
		Addr:   cfg.Server.Addr,
		Pool:   server.PoolFromSlot(slot),
		Agents: agents,
		Store:  store,
		CORS:   cfg.Server.CORS,
		Logger: logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("Error stopping HTTP server", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped")
	}
	// Deferred: health job, tool servers, store, telemetry, logger.
	return nil
}

// buildToolset exposes the published pool plus the built-in tools.
func buildToolset(cfg *Config, slot *registry.Slot[*pool.Handle]) (toolset.Provider, error) {
	providers := []toolset.Provider{
		toolset.Lazy(func() (toolset.Provider, error) {
			h, err := slot.Fetch()
			if err != nil {
				return nil, err
			}
			return h, nil
		}),
	}
	if cfg.Agent.CurrentTime {
		builtin, err := toolset.NewBuiltin(toolset.CurrentTime(nil))
		if err != nil {
			return nil, fmt.Errorf("failed to build built-in tools: %w", err)
		}
		providers = append(providers, builtin)
	}
	return toolset.Compose(providers...), nil
}

// startHealthJob pings every server on schedule and logs the unhealthy
// ones. An empty schedule disables it.
func startHealthJob(schedule string, slot *registry.Slot[*pool.Handle], logger *zap.Logger) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() { checkHealth(slot, logger) })
	if err != nil {
		return nil, fmt.Errorf("invalid mcp.health_schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("MCP health check scheduled", zap.String("schedule", schedule))
	return c, nil
}

func checkHealth(slot *registry.Slot[*pool.Handle], logger *zap.Logger) {
	h, err := slot.Fetch()
	if err != nil {
		logger.Warn("Health check skipped", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	unhealthy := 0
	for name, err := range h.HealthCheck(ctx) {
		if err != nil {
			unhealthy++
			logger.Warn("MCP server unhealthy", zap.String("server", name), zap.Error(err))
		}
	}
	logger.Debug("MCP health check finished", zap.Int("unhealthy", unhealthy))
}
