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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/chatmcp/internal/telemetry"
	chatconfig "github.com/teradata-labs/chatmcp/pkg/config"
	"github.com/teradata-labs/chatmcp/pkg/llm/factory"
	"github.com/teradata-labs/chatmcp/pkg/mcp/pool"
	"github.com/teradata-labs/chatmcp/pkg/server"
)

const (
	// ServiceName for keyring storage
	ServiceName = "chatmcp"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "chatmcp"
	// EnvPrefix prefixes environment overrides, e.g. CHATMCP_LLM_PROVIDER.
	EnvPrefix = "CHATMCP"
)

// Config holds all configuration for the chat host.
// Priority: CLI flags > env vars > config file > defaults
type Config struct {
	// DataDir is computed from CHATMCP_DATA_DIR and is not read from the
	// config file.
	DataDir string `mapstructure:"-"`

	Server    ServerConfig     `mapstructure:"server"`
	LLM       factory.Config   `mapstructure:"llm"`
	Agent     AgentConfig      `mapstructure:"agent"`
	Database  DatabaseConfig   `mapstructure:"database"`
	MCP       MCPConfig        `mapstructure:"mcp"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr            string            `mapstructure:"addr"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"`
	CORS            server.CORSConfig `mapstructure:"cors"`
}

// AgentConfig configures the per-session agents.
type AgentConfig struct {
	Instructions string `mapstructure:"instructions"`
	HistoryRuns  int    `mapstructure:"history_runs"`
	MaxTurns     int    `mapstructure:"max_turns"`

	// CurrentTime exposes the built-in current_time tool.
	CurrentTime bool `mapstructure:"current_time"`
}

// DatabaseConfig configures the session store.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"` // From env/keyring only
}

// MCPConfig lists the tool servers and the pool timing.
type MCPConfig struct {
	Servers          []MCPServerConfig `mapstructure:"servers"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	CallTimeout      time.Duration     `mapstructure:"call_timeout"`
	GracePeriod      time.Duration     `mapstructure:"grace_period"`
	DrainTimeout     time.Duration     `mapstructure:"drain_timeout"`

	// HealthSchedule is a cron spec for pinging every server; empty disables it.
	HealthSchedule string `mapstructure:"health_schedule"`
}

// MCPServerConfig describes one tool server. Command may hold a full
// command line when Args is empty.
type MCPServerConfig struct {
	Name     string            `mapstructure:"name" yaml:"name"`
	Command  string            `mapstructure:"command" yaml:"command"`
	Args     []string          `mapstructure:"args" yaml:"args"`
	Env      map[string]string `mapstructure:"env" yaml:"env"`
	Dir      string            `mapstructure:"dir" yaml:"dir"`
	Tools    pool.ToolFilter   `mapstructure:"tools" yaml:"tools"`
	Disabled bool              `mapstructure:"disabled" yaml:"disabled"`

	// Secrets are env values resolved from the keyring. They are passed
	// to the process verbatim, after template expansion of Env.
	Secrets map[string]string `mapstructure:"-" yaml:"-"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Environment variables
// 3. Config file
// 4. Defaults (lowest priority)
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	dataDir := chatconfig.GetDataDir()
	setDefaults(v, dataDir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// Search order: data dir, current directory, system-wide.
		v.AddConfigPath(dataDir)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chatmcp/")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = dataDir

	if used := v.ConfigFileUsed(); used != "" {
		if err := fixServerEnvCase(&config, used); err != nil {
			return nil, err
		}
	}

	// Keyring might not be available; secrets can still come from env.
	loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors.enabled", true)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors.allowed_headers", []string{"*"})
	v.SetDefault("server.cors.max_age", 86400)

	v.SetDefault("llm.provider", factory.ProviderDeepSeek)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("agent.instructions", defaultInstructions)
	v.SetDefault("agent.history_runs", 3)
	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.current_time", true)

	v.SetDefault("database.path", filepath.Join(dataDir, "data.db"))

	v.SetDefault("mcp.servers", defaultServers())
	v.SetDefault("mcp.handshake_timeout", pool.DefaultHandshakeTimeout)
	v.SetDefault("mcp.call_timeout", pool.DefaultCallTimeout)
	v.SetDefault("mcp.grace_period", 5*time.Second)
	v.SetDefault("mcp.drain_timeout", pool.DefaultDrainTimeout)
	v.SetDefault("mcp.health_schedule", "@every 1m")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "chatmcp")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("logging.level", "info")
}

// defaultServers mirrors the tool servers the chat host has always shipped
// with. Paths are relative to the working directory.
func defaultServers() []map[string]any {
	return []map[string]any{
		{
			"command": "npx",
			"args":    []string{"-y", "@modelcontextprotocol/server-sequential-thinking"},
		},
		{
			"command": "npx",
			"args":    []string{"-y", "@feedmob/appsamurai-reporting"},
			"env":     map[string]string{"APPSAMURAI_API_KEY": "${APPSAMURAI_API_KEY}"},
		},
		{
			"command": "uv",
			"args":    []string{"run", filepath.Join("mcp_servers", "math_server.py")},
		},
		{
			"command": "uv",
			"args":    []string{"--directory", filepath.Join("mcp_servers", "servers", "feedmob"), "run", "feedmob"},
			"env":     map[string]string{"POSTGRES_DATABASE": "${POSTGRES_DATABASE}"},
		},
	}
}

// Descriptors builds pool descriptors for the enabled servers. ${VAR}
// references in the command, arguments, directory and env values are
// expanded from the host environment; env entries that expand to nothing
// are left out so the server sees them as unset.
func (c *Config) Descriptors() []pool.Descriptor {
	var out []pool.Descriptor
	for _, s := range c.MCP.Servers {
		if s.Disabled {
			continue
		}
		command := os.ExpandEnv(s.Command)
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = os.ExpandEnv(a)
		}
		if len(args) == 0 {
			if fields := strings.Fields(command); len(fields) > 1 {
				command, args = fields[0], fields[1:]
			}
		}

		opts := []pool.DescriptorOption{pool.WithToolFilter(s.Tools)}
		if s.Name != "" {
			opts = append(opts, pool.WithName(s.Name))
		}
		if s.Dir != "" {
			opts = append(opts, pool.WithDir(os.ExpandEnv(s.Dir)))
		}
		if len(s.Env) > 0 || len(s.Secrets) > 0 {
			env := make(map[string]string, len(s.Env)+len(s.Secrets))
			for k, v := range s.Env {
				if expanded := os.ExpandEnv(v); expanded != "" {
					env[k] = expanded
				}
			}
			for k, v := range s.Secrets {
				env[k] = v
			}
			opts = append(opts, pool.WithEnv(env))
		}
		out = append(out, pool.NewDescriptor(command, args, opts...))
	}
	return out
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Agent.HistoryRuns < 0 {
		return fmt.Errorf("agent.history_runs must not be negative")
	}
	if c.MCP.HandshakeTimeout <= 0 || c.MCP.CallTimeout <= 0 {
		return fmt.Errorf("mcp timeouts must be positive")
	}
	return nil
}

// fixServerEnvCase restores the case of env keys, which viper lowercases,
// by re-reading the servers from the YAML file. Keys not found in the file
// are kept as they are.
func fixServerEnvCase(config *Config, path string) error {
	if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw struct {
		MCP struct {
			Servers []MCPServerConfig `yaml:"servers"`
		} `yaml:"mcp"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(raw.MCP.Servers) != len(config.MCP.Servers) {
		// Servers came from somewhere else (defaults or env).
		return nil
	}
	for i, s := range raw.MCP.Servers {
		env := config.MCP.Servers[i].Env
		for key := range s.Env {
			lower := strings.ToLower(key)
			if lower == key {
				continue
			}
			if v, ok := env[lower]; ok {
				delete(env, lower)
				env[key] = v
			}
		}
	}
	return nil
}

// SecretMapping defines how to load a secret from keyring into the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// GetSecretMappings returns all secrets the host can read from the keyring.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "deepseek_api_key",
			Setter:     setLLMKey(factory.ProviderDeepSeek),
			IsSet:      llmKeySet(factory.ProviderDeepSeek),
		},
		{
			KeyringKey: "openai_api_key",
			Setter:     setLLMKey(factory.ProviderOpenAI),
			IsSet:      llmKeySet(factory.ProviderOpenAI),
		},
		{
			KeyringKey: "anthropic_api_key",
			Setter:     setLLMKey(factory.ProviderAnthropic),
			IsSet:      llmKeySet(factory.ProviderAnthropic),
		},
		{
			KeyringKey: "database_encryption_key",
			Setter:     func(c *Config, val string) { c.Database.EncryptionKey = val },
			IsSet:      func(c *Config) bool { return c.Database.EncryptionKey != "" },
		},
		{
			KeyringKey: "appsamurai_api_key",
			Setter:     func(c *Config, val string) { injectServerEnvSecret(c, "APPSAMURAI_API_KEY", val) },
			IsSet:      func(c *Config) bool { return os.Getenv("APPSAMURAI_API_KEY") != "" },
		},
	}
}

// setLLMKey applies a provider key only when that provider is selected.
func setLLMKey(provider string) func(*Config, string) {
	return func(c *Config, val string) {
		if selectedProvider(c) == provider {
			c.LLM.APIKey = val
		}
	}
}

func llmKeySet(provider string) func(*Config) bool {
	return func(c *Config) bool {
		return selectedProvider(c) != provider || c.LLM.APIKey != "" || os.Getenv(factory.APIKeyEnv(provider)) != ""
	}
}

func selectedProvider(c *Config) string {
	p := strings.ToLower(c.LLM.Provider)
	if p == "" {
		return factory.ProviderDeepSeek
	}
	return p
}

// injectServerEnvSecret supplies key to every server whose env references
// it. The value bypasses template expansion, so a "$" in it survives.
func injectServerEnvSecret(c *Config, key, value string) {
	for i := range c.MCP.Servers {
		s := &c.MCP.Servers[i]
		if _, ok := s.Env[key]; !ok {
			continue
		}
		if s.Secrets == nil {
			s.Secrets = make(map[string]string)
		}
		s.Secrets[key] = value
	}
}

// loadSecretsFromKeyring loads secrets that were not provided otherwise.
func loadSecretsFromKeyring(config *Config) {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known keyring keys.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.KeyringKey
	}
	return keys
}

// buildLogger creates the production logger, stack traces only for ERROR.
func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
