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

// Package factory builds an llm.Provider from configuration.
package factory

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teradata-labs/chatmcp/pkg/llm"
	"github.com/teradata-labs/chatmcp/pkg/llm/anthropic"
	"github.com/teradata-labs/chatmcp/pkg/llm/openai"
)

// Supported provider names.
const (
	ProviderDeepSeek  = "deepseek"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and configures the model backend.
type Config struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature *float64      `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// APIKeyEnv returns the environment variable consulted for the provider's
// API key when none is configured.
func APIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "DEEPSEEK_API_KEY"
	}
}

// New creates the provider named by cfg.Provider, defaulting to DeepSeek.
// Empty API keys and base URLs fall back to the provider's environment
// variables.
func New(cfg Config) (llm.Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderDeepSeek
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnv(provider))
	}

	switch provider {
	case ProviderDeepSeek:
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("DEEPSEEK_API_BASE_URL")
		}
		return openai.NewClient(openai.Config{
			Name:        ProviderDeepSeek,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
		return openai.NewClient(openai.Config{
			Name:        ProviderOpenAI,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderAnthropic:
		if cfg.Model == "" {
			cfg.Model = os.Getenv("ANTHROPIC_DEFAULT_MODEL")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
