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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/completion"
	"github.com/tombee/toolbridge/internal/commands/mcp"
	"github.com/tombee/toolbridge/internal/commands/secrets"
	"github.com/tombee/toolbridge/internal/commands/shared"
	"github.com/tombee/toolbridge/internal/commands/version"
)

// Command groups shown in help output.
const (
	GroupProviders = "providers"
	GroupTools     = "tools"
	GroupRuntime   = "runtime"
)

var commandGroups = map[string]string{
	"list":     GroupProviders,
	"status":   GroupProviders,
	"add":      GroupProviders,
	"remove":   GroupProviders,
	"update":   GroupProviders,
	"import":   GroupProviders,
	"export":   GroupProviders,
	"catalog":  GroupProviders,
	"secret":   GroupProviders,
	"tools":    GroupTools,
	"call":     GroupTools,
	"resource": GroupTools,
	"prompt":   GroupTools,
	"run":      GroupRuntime,
	"serve":    GroupRuntime,
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for toolbridge
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolbridge",
		Short: "toolbridge - supervise MCP tool providers",
		Long: `toolbridge registers Model Context Protocol tool providers, supervises
them as local subprocesses and exposes their tools as OpenAI-style
function descriptors named {service}_{tool}.

Registered providers are never started automatically. Run 'toolbridge add'
to register one, 'toolbridge tools' to list what it offers and
'toolbridge serve' to expose every tool as a single MCP server.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to registry file (default: ~/.config/toolbridge/services.json)")

	cmd.AddGroup(
		&cobra.Group{ID: GroupProviders, Title: "Provider Commands:"},
		&cobra.Group{ID: GroupTools, Title: "Tool Commands:"},
		&cobra.Group{ID: GroupRuntime, Title: "Runtime Commands:"},
	)

	cmd.AddCommand(mcp.NewCommands()...)
	cmd.AddCommand(secrets.NewCommand())
	cmd.AddCommand(completion.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())
	for _, sub := range cmd.Commands() {
		if group, ok := commandGroups[sub.Name()]; ok {
			sub.GroupID = group
		}
	}

	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
