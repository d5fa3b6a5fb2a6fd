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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/chatmcp/internal/version"
)

var (
	cfgFile string
	config  *Config
	vp      = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatmcp",
	Short: "Chat host that supervises MCP tool servers",
	Long: heredoc.Doc(`
		chatmcp runs a chat API backed by an LLM agent whose tools come from a
		pool of MCP servers launched as subprocesses over stdio.

		Every server is started and handshaken before the API accepts requests,
		and every server is stopped when the host exits.
	`),
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		var err error
		config, err = LoadConfig(vp, cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}
Config is read from $CHATMCP_DATA_DIR/chatmcp.yaml, ./chatmcp.yaml or
/etc/chatmcp/chatmcp.yaml. Every key can be overridden with CHATMCP_<KEY>,
for example CHATMCP_LLM_PROVIDER=anthropic.
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $CHATMCP_DATA_DIR/chatmcp.yaml)")

	flags.String("addr", ":8000", "HTTP listen address")

	flags.String("llm-provider", "deepseek", "LLM provider (deepseek, openai, anthropic)")
	flags.String("llm-model", "", "LLM model (provider default when empty)")
	flags.String("llm-base-url", "", "LLM API base URL")

	flags.String("db", "", "SQLite database path (default: $CHATMCP_DATA_DIR/data.db)")

	flags.Duration("handshake-timeout", 0, "per-server MCP handshake timeout")
	flags.Duration("call-timeout", 0, "per-call tool timeout")

	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Log file (default: stderr)")

	bind := map[string]string{
		"server.addr":           "addr",
		"llm.provider":          "llm-provider",
		"llm.model":             "llm-model",
		"llm.base_url":          "llm-base-url",
		"database.path":         "db",
		"mcp.handshake_timeout": "handshake-timeout",
		"mcp.call_timeout":      "call-timeout",
		"logging.level":         "log-level",
		"logging.file":          "log-file",
	}
	for key, flag := range bind {
		_ = vp.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(serveCmd, toolsCmd, callCmd, secretsCmd, versionCmd)
}
