// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package secrets implements the toolbridge secret commands.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/secrets"
)

// NewCommand creates the secret command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secret",
		Aliases: []string{"secrets"},
		Short:   "Manage secrets in the OS keychain",
		Long: `Manage secrets stored in the OS keychain (macOS Keychain, Linux Secret
Service, Windows Credential Manager).

A provider reads a secret at start time when one of its environment values
is keyring:<name>.

Commands:
  set       Store a secret
  get       Show a stored secret (masked)
  delete    Remove a secret`,
		Example: `  echo "github_pat_..." | toolbridge secret set github
  toolbridge add gh --command npx --args -y --args @modelcontextprotocol/server-github \
    --env GITHUB_PERSONAL_ACCESS_TOKEN=keyring:github`,
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret",
		Long: `Store a secret in the keychain. The value is read from standard input
when it is piped, and prompted for with hidden input otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := secrets.ValidateName(name); err != nil {
				return shared.NewUsageError("invalid secret name", err)
			}

			value, err := readSecretValue(cmd)
			if err != nil {
				return fmt.Errorf("failed to read secret value: %w", err)
			}
			if value == "" {
				return shared.NewUsageError("secret value cannot be empty", nil)
			}

			if err := secrets.Set(name, value); err != nil {
				return keychainError(err)
			}

			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Stored secret "+name))
				fmt.Fprintf(cmd.OutOrStdout(), "Reference it as: keyring:%s\n", name)
			}
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	var unmask bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored secret",
		Long:  `Show a stored secret. The value is masked unless --unmask is given.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secrets.Get(args[0])
			if err != nil {
				return keychainError(err)
			}
			if !unmask {
				value = maskSecret(value)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unmask, "unmask", false, "Print the full value")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a secret",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := secrets.Delete(args[0]); err != nil {
				return keychainError(err)
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Deleted secret "+args[0]))
			}
			return nil
		},
	}
}

func keychainError(err error) error {
	switch {
	case errors.Is(err, secrets.ErrSecretNotFound):
		return &shared.ExitError{Code: shared.ExitNotFound, Message: "secret not found", Cause: err}
	case errors.Is(err, secrets.ErrInvalidName):
		return shared.NewUsageError("invalid secret name", err)
	case errors.Is(err, secrets.ErrBackendUnavailable):
		return &shared.ExitError{
			Code:    shared.ExitConfig,
			Message: "keychain unavailable (is it unlocked and is a Secret Service running?)",
			Cause:   err,
		}
	default:
		return err
	}
}

// readSecretValue reads piped input, or prompts with hidden input on a terminal.
func readSecretValue(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()

	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Enter secret value (hidden): ")
	bytePassword, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}

	return string(bytePassword), nil
}

// maskSecret masks a secret value for display.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	// Show first 4 and last 4 characters
	return value[:4] + "..." + value[len(value)-4:]
}
