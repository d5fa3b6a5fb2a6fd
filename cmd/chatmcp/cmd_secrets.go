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
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var noConfig = map[string]string{"skipConfig": "true"}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage secrets in the system keyring",
	Long: heredoc.Doc(`
		Secrets are stored in your system's credential storage (Keychain on
		macOS, Credential Manager on Windows, Secret Service on Linux) and
		are used when the matching environment variable is not set.
	`),
	Annotations: noConfig,
}

var secretsSetCmd = &cobra.Command{
	Use:         "set <key>",
	Short:       "Save a secret (read from the terminal without echo, or from stdin)",
	Args:        cobra.ExactArgs(1),
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if err := validSecretKey(key); err != nil {
			return err
		}
		secret, err := readSecret(cmd.OutOrStdout(), cmd.InOrStdin(), key)
		if err != nil {
			return err
		}
		if secret == "" {
			return fmt.Errorf("secret cannot be empty")
		}
		if err := SaveSecretToKeyring(key, secret); err != nil {
			return fmt.Errorf("error saving to keyring: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to system keyring\n", key)
		return nil
	},
}

var secretsGetCmd = &cobra.Command{
	Use:         "get <key>",
	Short:       "Show a secret, partially masked",
	Args:        cobra.ExactArgs(1),
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := GetSecretFromKeyring(args[0])
		if err != nil {
			return fmt.Errorf("key not found in keyring, set it with 'chatmcp secrets set %s': %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], maskSecret(secret))
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:         "delete <key>",
	Short:       "Delete a secret",
	Args:        cobra.ExactArgs(1),
	Annotations: noConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := DeleteSecretFromKeyring(args[0]); err != nil {
			return fmt.Errorf("error deleting key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from system keyring\n", args[0])
		return nil
	},
}

var secretsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List the secret keys chatmcp reads",
	Annotations: noConfig,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, k := range ListAvailableSecretKeys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
	},
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd, secretsGetCmd, secretsDeleteCmd, secretsListCmd)
}

func validSecretKey(key string) error {
	keys := ListAvailableSecretKeys()
	if slices.Contains(keys, key) {
		return nil
	}
	return fmt.Errorf("invalid key name %q, available keys: %s", key, strings.Join(keys, ", "))
}

// readSecret prompts without echo on a terminal and reads one line
// otherwise, so secrets can be piped in.
func readSecret(out io.Writer, in io.Reader, key string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(out, "Enter %s (input hidden): ", key)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("error reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
