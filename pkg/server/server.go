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

// Package server is the HTTP host in front of the chat agents: a chat
// endpoint, an SSE stream of agent events, and views of the tool server pool.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/chatmcp/pkg/agent"
	"github.com/teradata-labs/chatmcp/pkg/mcp/pool"
	"github.com/teradata-labs/chatmcp/pkg/registry"
	"github.com/teradata-labs/chatmcp/pkg/session"
	"github.com/teradata-labs/chatmcp/pkg/toolset"
)

// Pool is the part of a running tool server pool the host reports on.
type Pool interface {
	toolset.Provider
	Servers() []pool.ServerStatus
	HealthCheck(ctx context.Context) map[string]error
}

// Config wires the HTTP host.
type Config struct {
	Addr string

	// Pool returns the published pool. It fails with
	// registry.ErrNotInitialized until the host has entered it.
	Pool func() (Pool, error)

	// Agents builds the agent for each chat request. Its OnEvent is
	// chained so events also reach the SSE stream.
	Agents *agent.Factory

	// Store lists sessions. Optional.
	Store *session.Store

	CORS CORSConfig

	// HealthTimeout bounds the per-request ping of every server.
	HealthTimeout time.Duration

	Logger *zap.Logger
}

// HTTPServer serves the chat API.
type HTTPServer struct {
	cfg        Config
	agents     *agent.Factory
	events     *sse.Server
	httpServer *http.Server
	logger     *zap.Logger
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID      string                `json:"session_id"`
	RunID          string                `json:"run_id,omitempty"`
	Content        string                `json:"content"`
	Error          bool                  `json:"error,omitempty"`
	ToolExecutions []agent.ToolExecution `json:"tool_executions,omitempty"`
}

type healthResponse struct {
	Status  string                `json:"status"`
	Servers map[string]serverInfo `json:"servers,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type serverInfo struct {
	pool.ServerStatus
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// New builds the host. cfg.Agents is copied; the caller's factory is not
// modified.
func New(cfg Config) *HTTPServer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	events := sse.New()
	events.AutoStream = true
	events.AutoReplay = false

	h := &HTTPServer{
		cfg:    cfg,
		events: events,
		logger: cfg.Logger,
	}

	if cfg.Agents != nil {
		f := *cfg.Agents
		next := f.OnEvent
		f.OnEvent = func(e agent.Event) {
			if next != nil {
				next(e)
			}
			h.publish(e)
		}
		h.agents = &f
	}

	h.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // No timeout for SSE
		IdleTimeout:       120 * time.Second,
	}
	return h
}

// Handler returns the routed handler, CORS included when enabled.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/tools", h.handleTools)
	mux.HandleFunc("GET /api/servers", h.handleServers)
	mux.HandleFunc("GET /api/sessions", h.handleSessions)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.Handle("GET /api/events", h.events)

	if !h.cfg.CORS.Enabled {
		return mux
	}
	return h.corsMiddleware(mux)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server", zap.String("addr", h.httpServer.Addr))
	if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown closes event streams and waits for in-flight requests.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server")
	h.events.Close()
	return h.httpServer.Shutdown(ctx)
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World from chatmcp"})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	p, err := h.cfg.Pool()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HealthTimeout)
	defer cancel()
	results := p.HealthCheck(ctx)

	resp := healthResponse{Status: "healthy", Servers: make(map[string]serverInfo, len(results))}
	for _, st := range p.Servers() {
		info := serverInfo{ServerStatus: st, Healthy: true}
		if err := results[st.Name]; err != nil {
			info.Healthy = false
			info.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Servers[st.Name] = info
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPServer) handleTools(w http.ResponseWriter, r *http.Request) {
	p, err := h.cfg.Pool()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	tools, err := p.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}

func (h *HTTPServer) handleServers(w http.ResponseWriter, _ *http.Request) {
	p, err := h.cfg.Pool()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": p.Servers()})
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []session.Session{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	sessions, err := h.cfg.Store.Sessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.agents == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chat is not configured"))
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.agents.New(req.SessionID).Run(r.Context(), req.Message)
	if err != nil {
		// Failures are answered in the conversation, not as HTTP errors.
		h.logger.Warn("Chat run failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeJSON(w, http.StatusOK, chatResponse{
			SessionID: req.SessionID,
			Content:   "An error occurred while processing your message: " + err.Error(),
			Error:     true,
		})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:      resp.SessionID,
		RunID:          resp.RunID,
		Content:        resp.Content,
		ToolExecutions: resp.ToolExecutions,
	})
}

func (h *HTTPServer) publish(e agent.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("Failed to encode agent event", zap.Error(err))
		return
	}
	h.events.Publish(e.SessionID, &sse.Event{Event: []byte(e.Type), Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// PoolFromSlot adapts a registry slot holding a concrete pool type.
func PoolFromSlot[P Pool](slot *registry.Slot[P]) func() (Pool, error) {
	return func() (Pool, error) {
		p, err := slot.Fetch()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
