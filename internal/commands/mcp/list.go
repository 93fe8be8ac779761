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
package mcp

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/toolbridge/internal/commands/shared"
	bridge "github.com/tombee/toolbridge/internal/mcp"
)

type serviceEntry struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd,omitempty"`
}

type listResponse struct {
	shared.JSONResponse
	Store    string         `json:"store"`
	Services []serviceEntry `json:"services"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tool providers",
		Long: `List every registered tool provider with its command line.

Sensitive environment values are redacted.

See also: toolbridge add, toolbridge status`,
		Example: `  # List registered providers
  toolbridge list

  # Extract provider names for scripting
  toolbridge list --json | jq -r '.services[].name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			return runList(cmd.OutOrStdout(), rt)
		},
	}

	return cmd
}

func runList(out io.Writer, rt *runtime) error {
	instances := rt.registry.List()

	entries := make([]serviceEntry, 0, len(instances))
	for _, inst := range instances {
		entries = append(entries, serviceEntry{
			Name:    inst.Name,
			Command: inst.Config.Command,
			Args:    inst.Config.Args,
			Env:     bridge.RedactEnv(inst.Config.Env),
			Cwd:     inst.Config.Cwd,
		})
	}

	if shared.GetJSON() {
		return shared.EmitJSONTo(out, listResponse{
			JSONResponse: shared.NewJSONResponse("list"),
			Store:        rt.store.Location(),
			Services:     entries,
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No tool providers registered.")
		fmt.Fprintln(out, "\nTo add one:")
		fmt.Fprintln(out, "  toolbridge add <name> --command <cmd>")
		fmt.Fprintln(out, "  toolbridge catalog")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-12s %s\n", "NAME", "COMMAND", "ARGS")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, e := range entries {
		fmt.Fprintf(out, "%-20s %-12s %s\n",
			shared.Truncate(e.Name, 20),
			shared.Truncate(e.Command, 12),
			shared.Truncate(strings.Join(e.Args, " "), 36),
		)
	}
	return nil
}
