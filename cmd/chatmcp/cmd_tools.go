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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/chatmcp/pkg/mcp/pool"
)

var (
	callArgs   string
	toolsJSON  bool
	toolsWidth int
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Start the tool servers, list their tools, and stop them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPool(cmd.Context(), config, func(ctx context.Context, h *pool.Handle) error {
			return printTools(ctx, cmd.OutOrStdout(), h)
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call <server.tool>",
	Short: "Invoke one tool and print its result",
	Example: heredoc.Doc(`
		chatmcp call math_server.add --args '{"a": 2, "b": 3}'
		chatmcp call server-sequential-thinking.sequentialthinking --args @input.json
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := parseCallArgs(callArgs)
		if err != nil {
			return err
		}
		return withPool(cmd.Context(), config, func(ctx context.Context, h *pool.Handle) error {
			res, err := h.Invoke(ctx, args[0], input)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			return err
		})
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the tool specs as JSON")
	toolsCmd.Flags().IntVar(&toolsWidth, "width", 80, "truncate descriptions to this many characters (0 = no limit)")
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object, or @file")
}

// withPool enters the configured pool, runs fn, and always exits the pool.
func withPool(ctx context.Context, cfg *Config, fn func(ctx context.Context, h *pool.Handle) error) error {
	// One-shot commands keep stderr quiet unless debugging.
	level := "warn"
	if cfg.Logging.Level == "debug" {
		level = "debug"
	}
	logger, err := buildLogger(LoggingConfig{Level: level, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return pool.Run(ctx, pool.New(cfg.Descriptors(), poolOptions(cfg, logger)...), fn)
}

func printTools(ctx context.Context, out io.Writer, h *pool.Handle) error {
	tools, err := h.ListTools(ctx)
	if err != nil {
		return err
	}
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, truncate(firstLine(t.Description), toolsWidth))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SERVER\tPID\tTOOLS\tVERSION")
	for _, s := range h.Servers() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s %s\n", s.Name, s.PID, s.Tools, s.ServerName, s.ServerVersion)
	}
	return tw.Flush()
}

// parseCallArgs reads a JSON object from s, or from a file when s starts
// with "@".
func parseCallArgs(s string) (map[string]any, error) {
	data := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read arguments: %w", err)
		}
		data = b
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
